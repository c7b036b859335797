package orchestrator

import (
	"context"
	"errors"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
	"github.com/KshitijBhardwaj18/automation1/pkg/queue"
)

var errInterrupted = errors.New("interrupted before the remote job was triggered")

// RecoveryReport summarizes a startup sweep.
type RecoveryReport struct {
	// Requeued counts pending jobs whose task was queued again.
	Requeued int `json:"requeued"`

	// Failed counts jobs marked failed because their sequence was interrupted.
	Failed int `json:"failed"`

	// Reconcilable counts jobs with a remote job in flight, left for reconciliation.
	Reconcilable int `json:"reconcilable"`
}

// Recover repairs jobs whose background sequence was lost with a previous
// process. Pending jobs are queued again from their parameter snapshot, and
// in-progress jobs that never recorded a remote job are marked failed.
// Duplicate tasks are harmless: a worker only starts a sequence for a job
// that is still pending on the same attempt.
func (o *Orchestrator) Recover(ctx context.Context) (*RecoveryReport, error) {
	report := &RecoveryReport{}

	pending, err := o.store.ListByStatus(ctx, deployment.StatusPending)
	if err != nil {
		return nil, err
	}
	for _, job := range pending {
		rec, err := o.configs.Get(ctx, job.Key)
		if err != nil {
			o.failJob(ctx, job, "recover", err, deployment.StatusPending)
			o.tel.Metrics.RecordRecovery("failed")
			report.Failed++
			continue
		}
		task := queue.NewTask(job.Key, job.Attempt, job.Operation, rec.Parameters)
		if err := o.queue.Enqueue(ctx, task); err != nil {
			return report, err
		}
		o.tel.Metrics.RecordRecovery("requeued")
		o.tel.Events.PublishJobRecovered(job.Key, job.Attempt, "requeued")
		report.Requeued++
	}

	active, err := o.store.ListByStatus(ctx, deployment.StatusInProgress, deployment.StatusDestroying)
	if err != nil {
		return report, err
	}
	for _, job := range active {
		if _, ok := job.CurrentRemoteJobID(); ok {
			report.Reconcilable++
			continue
		}
		o.failJob(ctx, job, "recover", errInterrupted, job.Status)
		o.tel.Metrics.RecordRecovery("failed")
		o.tel.Events.PublishJobRecovered(job.Key, job.Attempt, "interrupted")
		report.Failed++
	}

	o.logger.WithFields(map[string]interface{}{
		"requeued":     report.Requeued,
		"failed":       report.Failed,
		"reconcilable": report.Reconcilable,
	}).Info("Recovery sweep complete")
	return report, nil
}

// ReconcileAll polls every job with a remote job in flight and returns the
// jobs after reconciliation.
func (o *Orchestrator) ReconcileAll(ctx context.Context) ([]*deployment.Job, error) {
	jobs, err := o.store.ListByStatus(ctx, deployment.StatusInProgress, deployment.StatusDestroying)
	if err != nil {
		return nil, err
	}

	result := make([]*deployment.Job, 0, len(jobs))
	for _, job := range jobs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result = append(result, o.reconcile(ctx, job))
	}
	return result, nil
}
