// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/KshitijBhardwaj18/automation1/pkg/configrepo"
	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
	"github.com/KshitijBhardwaj18/automation1/pkg/telemetry"
)

// Service is the orchestrator surface served by the router.
type Service interface {
	Submit(ctx context.Context, req *deployment.OnboardRequest) (*deployment.Job, error)
	Update(ctx context.Context, req *deployment.OnboardRequest) (*deployment.Job, error)
	GetStatus(ctx context.Context, customerID, environment string) (*deployment.Job, error)
	Destroy(ctx context.Context, customerID, environment string, confirm bool) (*deployment.Job, error)
	List(ctx context.Context, customerID string) ([]*deployment.Job, error)
	Events(ctx context.Context, customerID, environment string) ([]*deployment.Event, error)
	Configuration(ctx context.Context, customerID, environment string) (*configrepo.Record, error)
	HealthCheck(ctx context.Context) error
}

// RequestIDHeader carries the request id in requests and responses.
const RequestIDHeader = "X-Request-ID"

type handler struct {
	svc    Service
	tel    *telemetry.Telemetry
	logger *telemetry.Logger
}

// NewRouter builds the gin engine serving the deployment API.
func NewRouter(svc Service, tel *telemetry.Telemetry) *gin.Engine {
	if tel == nil {
		tel = telemetry.NewNopTelemetry()
	}
	h := &handler{
		svc:    svc,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("api"),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(h.requestContext())

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(tel.Metrics.Handler()))

	deployments := r.Group("/deployments")
	deployments.POST("", h.submit)
	deployments.PUT("", h.update)
	deployments.GET("/:customerId", h.list)
	deployments.GET("/:customerId/:environment", h.status)
	deployments.GET("/:customerId/:environment/events", h.events)
	deployments.GET("/:customerId/:environment/config", h.configuration)
	deployments.POST("/:customerId/:environment/destroy", h.destroy)

	return r
}

// requestContext assigns a request id, opens a span and logs the request.
func (h *handler) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)

		ctx, span := h.tel.Tracer.StartSpan(c.Request.Context(), "http "+c.Request.Method,
			attribute.String("http.request_id", requestID),
			attribute.String("http.target", c.Request.URL.Path),
		)
		defer span.End()

		logger := h.logger.WithField("request_id", requestID)
		c.Request = c.Request.WithContext(logger.WithContext(ctx))

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		entry := logger.WithFields(map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   status,
			"duration": time.Since(start).String(),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("Request failed")
		} else {
			entry.Debug("Request handled")
		}
	}
}
