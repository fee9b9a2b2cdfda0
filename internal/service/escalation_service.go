package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/metrics"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/pkg/logger"
)

// EscalationService periodically sweeps overdue step executions and forces
// them along their on_escalate transition. One sweep runs at a time; each
// execution is escalated in its own transaction so a long backlog cannot
// hold locks across the whole batch.
type EscalationService struct {
	instanceRepo    *repository.InstanceRepository
	workflowService *WorkflowService
	interval        time.Duration
	batchSize       int
	metrics         *metrics.Metrics
	log             *logger.Logger
}

// NewEscalationService creates a new EscalationService.
func NewEscalationService(
	instanceRepo *repository.InstanceRepository,
	workflowService *WorkflowService,
	interval time.Duration,
	batchSize int,
	m *metrics.Metrics,
	log *logger.Logger,
) *EscalationService {
	return &EscalationService{
		instanceRepo:    instanceRepo,
		workflowService: workflowService,
		interval:        interval,
		batchSize:       batchSize,
		metrics:         m,
		log:             log,
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (s *EscalationService) Run(ctx context.Context) {
	s.log.Info().
		Dur("interval", s.interval).
		Int("batch_size", s.batchSize).
		Msg("Escalation scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Escalation scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, time.Now()); err != nil {
				s.log.Error().Err(err).Msg("Escalation sweep failed")
			}
		}
	}
}

// Sweep escalates up to batchSize overdue executions and returns how many
// were actually escalated. Executions completed by a user action between
// the listing and the per-row lock are skipped, so repeated sweeps over the
// same rows are no-ops.
func (s *EscalationService) Sweep(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()

	overdue, err := s.instanceRepo.ListOverdue(ctx, now, s.batchSize)
	if err != nil {
		return 0, err
	}

	escalated := 0
	for _, exec := range overdue {
		ok, err := s.workflowService.EscalateExecution(ctx, exec.ID, now)
		if err != nil {
			// One bad execution must not stall the rest of the batch.
			s.log.Error().Err(err).
				Str("execution_id", exec.ID).
				Str("instance_id", exec.InstanceID).
				Msg("Failed to escalate execution")
			continue
		}
		if ok {
			escalated++
		}
	}

	s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	s.metrics.SweepBatchSize.Observe(float64(len(overdue)))

	if len(overdue) > 0 {
		s.log.Info().
			Int("overdue", len(overdue)).
			Int("escalated", escalated).
			Dur("took", time.Since(start)).
			Msg("Escalation sweep completed")
	}
	return escalated, nil
}
