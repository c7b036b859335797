package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
)

// deploymentResponse is a job plus a human-readable message.
type deploymentResponse struct {
	*deployment.Job
	Message string `json:"message,omitempty"`
}

type destroyRequest struct {
	Confirm bool `json:"confirm"`
}

func (h *handler) health(c *gin.Context) {
	if err := h.svc.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *handler) submit(c *gin.Context) {
	var req deployment.OnboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	job, err := h.svc.Submit(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, deploymentResponse{Job: job, Message: "deployment started"})
}

func (h *handler) update(c *gin.Context) {
	var req deployment.OnboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	job, err := h.svc.Update(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, deploymentResponse{Job: job, Message: "update started"})
}

func (h *handler) list(c *gin.Context) {
	jobs, err := h.svc.List(c.Request.Context(), c.Param("customerId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customer_id": c.Param("customerId"), "deployments": jobs})
}

func (h *handler) status(c *gin.Context) {
	job, err := h.svc.GetStatus(c.Request.Context(), c.Param("customerId"), c.Param("environment"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, deploymentResponse{Job: job})
}

func (h *handler) events(c *gin.Context) {
	events, err := h.svc.Events(c.Request.Context(), c.Param("customerId"), c.Param("environment"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_key": deployment.JobKey(c.Param("customerId"), c.Param("environment")),
		"events":  events,
	})
}

func (h *handler) configuration(c *gin.Context) {
	rec, err := h.svc.Configuration(c.Request.Context(), c.Param("customerId"), c.Param("environment"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handler) destroy(c *gin.Context) {
	var req destroyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
	}

	job, err := h.svc.Destroy(c.Request.Context(), c.Param("customerId"), c.Param("environment"), req.Confirm)
	if err != nil {
		if !req.Confirm && deployment.IsCode(err, deployment.ErrCodeValidation) {
			c.JSON(http.StatusBadRequest, errorBody(err))
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, deploymentResponse{Job: job, Message: "destroy started"})
}
