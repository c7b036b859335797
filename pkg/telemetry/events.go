package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one job lifecycle occurrence delivered to subscribers.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	JobKey    string                 `json:"job_key,omitempty"`
	Attempt   int                    `json:"attempt,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

const (
	EventTypeJobSubmitted   = "job.submitted"
	EventTypeJobTransition  = "job.transition"
	EventTypeJobTriggered   = "job.triggered"
	EventTypeJobFailed      = "job.failed"
	EventTypeJobReconciled  = "job.reconciled"
	EventTypeJobRecovered   = "job.recovered"
	EventTypeRemoteDegraded = "remote.degraded"
)

const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var (
	errPublisherStopped = errors.New("event publisher stopped")
	errBufferFull       = errors.New("event buffer full, event dropped")
)

// EventSubscriber receives delivered events. Subscribers run on the
// publishing goroutine, or on the delivery goroutine in async mode.
type EventSubscriber func(Event)

// EventFilter reports whether a subscriber wants an event.
type EventFilter func(Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans lifecycle events out to in-process subscribers.
// A disabled publisher accepts and discards everything.
type EventPublisher struct {
	cfg EventsConfig

	mu   sync.RWMutex
	subs []subscription

	queue chan Event
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewEventPublisher starts the delivery goroutine when cfg.EnableAsync is set.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{cfg: cfg}
	if !cfg.Enabled || !cfg.EnableAsync {
		return ep, nil
	}
	if ep.cfg.MaxBatchSize <= 0 {
		ep.cfg.MaxBatchSize = 1
	}
	ep.queue = make(chan Event, cfg.BufferSize)
	ep.stop = make(chan struct{})
	ep.done = make(chan struct{})
	go ep.run()
	return ep, nil
}

// Subscribe registers fn. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
	ep.mu.Unlock()
}

// Publish stamps e and delivers it. In async mode a full buffer drops the
// event and returns an error; callers treat that as best effort.
func (ep *EventPublisher) Publish(e Event) error {
	if ep == nil || !ep.cfg.Enabled {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	if ep.queue == nil {
		ep.deliver(e)
		return nil
	}
	select {
	case <-ep.stop:
		return errPublisherStopped
	default:
	}
	select {
	case ep.queue <- e:
		return nil
	default:
		return errBufferFull
	}
}

func (ep *EventPublisher) PublishJobSubmitted(jobKey string, attempt int, kind string) error {
	return ep.Publish(Event{
		Type:    EventTypeJobSubmitted,
		Source:  "orchestrator",
		JobKey:  jobKey,
		Attempt: attempt,
		Level:   EventLevelInfo,
		Message: fmt.Sprintf("job %s accepted (%s, attempt %d)", jobKey, kind, attempt),
		Data:    map[string]interface{}{"kind": kind},
	})
}

// PublishJobTransition records a status change. Transitions into failed are
// published as error-level job.failed events.
func (ep *EventPublisher) PublishJobTransition(jobKey string, attempt int, from, to, message string) error {
	e := Event{
		Type:    EventTypeJobTransition,
		Source:  "orchestrator",
		JobKey:  jobKey,
		Attempt: attempt,
		Level:   EventLevelInfo,
		Message: message,
		Data:    map[string]interface{}{"from": from, "to": to},
	}
	if to == "failed" {
		e.Type, e.Level = EventTypeJobFailed, EventLevelError
	}
	return ep.Publish(e)
}

func (ep *EventPublisher) PublishJobTriggered(jobKey string, attempt int, operation, remoteJobID string) error {
	return ep.Publish(Event{
		Type:    EventTypeJobTriggered,
		Source:  "orchestrator",
		JobKey:  jobKey,
		Attempt: attempt,
		Level:   EventLevelInfo,
		Message: fmt.Sprintf("remote %s %s triggered", operation, remoteJobID),
		Data:    map[string]interface{}{"operation": operation, "remote_job_id": remoteJobID},
	})
}

func (ep *EventPublisher) PublishJobReconciled(jobKey string, attempt int, status string) error {
	return ep.Publish(Event{
		Type:    EventTypeJobReconciled,
		Source:  "reconciler",
		JobKey:  jobKey,
		Attempt: attempt,
		Level:   EventLevelInfo,
		Message: "reconciled to " + status,
		Data:    map[string]interface{}{"status": status},
	})
}

func (ep *EventPublisher) PublishJobRecovered(jobKey string, attempt int, action string) error {
	return ep.Publish(Event{
		Type:    EventTypeJobRecovered,
		Source:  "recovery",
		JobKey:  jobKey,
		Attempt: attempt,
		Level:   EventLevelWarning,
		Message: "recovered: " + action,
		Data:    map[string]interface{}{"action": action},
	})
}

// PublishRemoteDegraded records a remote failure swallowed by a read path.
func (ep *EventPublisher) PublishRemoteDegraded(jobKey, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRemoteDegraded,
		Source:  "reconciler",
		JobKey:  jobKey,
		Level:   EventLevelWarning,
		Message: "reconciliation skipped: " + reason,
		Data:    map[string]interface{}{"reason": reason},
	})
}

func (ep *EventPublisher) run() {
	defer close(ep.done)

	var tick <-chan time.Time
	if ep.cfg.FlushInterval > 0 {
		t := time.NewTicker(ep.cfg.FlushInterval)
		defer t.Stop()
		tick = t.C
	}

	batch := make([]Event, 0, ep.cfg.MaxBatchSize)
	flush := func() {
		for _, e := range batch {
			ep.deliver(e)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-ep.queue:
			batch = append(batch, e)
			if len(batch) >= ep.cfg.MaxBatchSize {
				flush()
			}
		case <-tick:
			flush()
		case <-ep.stop:
			for {
				select {
				case e := <-ep.queue:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(e Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, s := range ep.subs {
		if s.filter == nil || s.filter(e) {
			s.fn(e)
		}
	}
}

// Shutdown delivers buffered events and stops the delivery goroutine.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || ep.queue == nil {
		return nil
	}
	ep.once.Do(func() { close(ep.stop) })
	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// FilterByType matches events of any of the given types.
func FilterByType(types ...string) EventFilter {
	want := make(map[string]struct{}, len(types))
	for _, t := range types {
		want[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := want[e.Type]
		return ok
	}
}

// FilterByJob matches events of one job.
func FilterByJob(jobKey string) EventFilter {
	return func(e Event) bool { return e.JobKey == jobKey }
}

// LogSubscriber mirrors events to logger at a level matching the event.
func LogSubscriber(logger *Logger) EventSubscriber {
	return func(e Event) {
		l := logger.WithField("event_type", e.Type)
		if e.JobKey != "" {
			l = l.WithJob(e.JobKey)
		}
		switch e.Level {
		case EventLevelError:
			l.Error(e.Message)
		case EventLevelWarning:
			l.Warn(e.Message)
		default:
			l.Info(e.Message)
		}
	}
}
