package orchestrator

import (
	"context"
	"fmt"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
	"github.com/KshitijBhardwaj18/automation1/pkg/queue"
	"github.com/KshitijBhardwaj18/automation1/pkg/remote"
	"github.com/KshitijBhardwaj18/automation1/pkg/telemetry"
)

// runTask executes the trigger sequence for one job attempt:
// ensure project, apply configuration, trigger. It never retries; a failing
// step leaves the job failed with the step recorded.
func (o *Orchestrator) runTask(ctx context.Context, task queue.Task) (err error) {
	ic := o.tel.StartJobOperation(ctx, "trigger_sequence", task.Key)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx
	logger := ic.Logger.WithField("attempt", task.Attempt)

	job, err := o.store.Get(ctx, task.Key)
	if err != nil {
		return err
	}
	if job.Attempt != task.Attempt || job.Status != deployment.StatusPending {
		logger.WithField("status", string(job.Status)).Debug("Dropping stale task")
		return nil
	}

	job, err = o.store.UpdateStatus(ctx, job.Key, deployment.StatusInProgress, deployment.StatusUpdate{
		ExpectStatus: []deployment.Status{deployment.StatusPending},
	})
	if err != nil {
		if deployment.IsCode(err, deployment.ErrCodeInvalidTransition) {
			logger.Debug("Task lost the race to start the sequence")
			return nil
		}
		return err
	}
	o.recordTransition(ctx, job, deployment.StatusPending, "trigger sequence started")

	timer := telemetry.NewTimer()
	o.tel.Metrics.RecordSequenceStarted()

	stack := job.StackName()
	steps := []struct {
		name string
		run  func() error
	}{
		{"ensure project", func() error { return o.engine.EnsureRemoteProject(ctx, stack) }},
		{"apply configuration", func() error { return o.engine.ApplyConfiguration(ctx, stack, task.Parameters) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			o.failJob(ctx, job, step.name, err, deployment.StatusInProgress)
			o.tel.Metrics.RecordSequenceCompleted(string(deployment.StatusFailed), timer.Duration())
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	op := task.Operation
	if op == "" {
		op = deployment.OperationUpdate
	}
	remoteID, err := o.engine.Trigger(ctx, stack, op)
	if err != nil {
		o.failJob(ctx, job, "trigger", err, deployment.StatusInProgress)
		o.tel.Metrics.RecordSequenceCompleted(string(deployment.StatusFailed), timer.Duration())
		return fmt.Errorf("trigger: %w", err)
	}

	job, err = o.store.UpdateStatus(ctx, job.Key, deployment.StatusInProgress, deployment.StatusUpdate{
		RemoteJobID:  deployment.Some(remoteID),
		Operation:    deployment.Some(op),
		ExpectStatus: []deployment.Status{deployment.StatusInProgress},
	})
	if err != nil {
		logger.WithRemoteJob(remoteID).WithError(err).Error("Remote job triggered but its id could not be recorded")
		o.failJob(ctx, &deployment.Job{Key: task.Key, Attempt: task.Attempt, Status: deployment.StatusInProgress},
			"record remote job", err, deployment.StatusInProgress)
		o.tel.Metrics.RecordSequenceCompleted(string(deployment.StatusFailed), timer.Duration())
		return err
	}

	o.tel.Metrics.RecordSequenceCompleted("triggered", timer.Duration())
	o.tel.Events.PublishJobTriggered(job.Key, job.Attempt, string(op), remoteID)
	logger.WithRemoteJob(remoteID).Info("Remote job triggered")
	return nil
}

// reconcile polls the remote engine once for a job with a remote job in
// flight and persists a terminal outcome. Any failure leaves the stored
// record unchanged and returns it. Ids issued for an earlier attempt or
// operation are never polled.
func (o *Orchestrator) reconcile(ctx context.Context, job *deployment.Job) *deployment.Job {
	if !job.Status.NeedsReconcile() {
		return job
	}
	remoteID, ok := job.CurrentRemoteJobID()
	if !ok {
		return job
	}

	logger := o.logger.WithJob(job.Key).WithRemoteJob(remoteID)
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ReconcileTimeout)
	defer cancel()

	res, err := o.engine.PollStatus(ctx, job.StackName(), remoteID)
	if err != nil {
		logger.WithError(err).Warn("Remote status poll failed; returning stored record")
		o.tel.Metrics.RecordReconcile("poll_error")
		o.tel.Events.PublishRemoteDegraded(job.Key, err.Error())
		return job
	}

	var (
		next   deployment.Status
		update = deployment.StatusUpdate{ExpectStatus: []deployment.Status{job.Status}}
		msg    string
	)
	switch {
	case res.State == remote.JobStateRunning:
		o.tel.Metrics.RecordReconcile("running")
		return job

	case res.State == remote.JobStateFailed:
		next = deployment.StatusFailed
		msg = fmt.Sprintf("remote %s job %s %s", job.Operation, remoteID, res.RawStatus)
		if res.Message != "" {
			msg += ": " + res.Message
		}
		update.ErrorDetail = deployment.Some(msg)

	case job.Status == deployment.StatusDestroying:
		next = deployment.StatusDestroyed
		msg = "remote destroy completed"

	default:
		outputs, err := o.engine.FetchOutputs(ctx, job.StackName())
		if err != nil {
			logger.WithError(err).Warn("Fetching stack outputs failed; returning stored record")
			o.tel.Metrics.RecordReconcile("outputs_error")
			o.tel.Events.PublishRemoteDegraded(job.Key, err.Error())
			return job
		}
		next = deployment.StatusSucceeded
		msg = "remote update completed"
		update.Outputs = deployment.Some(outputs)
	}

	updated, err := o.store.UpdateStatus(ctx, job.Key, next, update)
	if err != nil {
		if deployment.IsCode(err, deployment.ErrCodeInvalidTransition) {
			// A concurrent reader already recorded the outcome.
			if current, getErr := o.store.Get(ctx, job.Key); getErr == nil {
				return current
			}
		}
		logger.WithError(err).Warn("Persisting reconciled status failed; returning stored record")
		o.tel.Metrics.RecordReconcile("persist_error")
		return job
	}

	o.tel.Metrics.RecordReconcile(string(next))
	o.recordTransition(ctx, updated, job.Status, msg)
	o.tel.Events.PublishJobReconciled(updated.Key, updated.Attempt, string(next))
	logger.WithField("status", string(next)).Info("Job reconciled")

	if next == deployment.StatusDestroyed && o.cfg.RemoveStackOnDestroy {
		if err := o.engine.TearDown(ctx, job.StackName(), false); err != nil {
			logger.WithError(err).Warn("Removing destroyed stack failed")
		}
	}
	return updated
}
