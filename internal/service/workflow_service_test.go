package service

import (
	"testing"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

func TestExecutionDueAt(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	limit := 24

	tests := []struct {
		name    string
		step    *repository.WorkflowStep
		actors  []string
		wantDue *time.Time
	}{
		{
			name:    "time limit sets the due time",
			step:    &repository.WorkflowStep{TimeLimitHours: &limit},
			actors:  []string{"u1"},
			wantDue: timeptr(now.Add(24 * time.Hour)),
		},
		{
			name:    "no time limit and actors means never due",
			step:    &repository.WorkflowStep{},
			actors:  []string{"u1"},
			wantDue: nil,
		},
		{
			name:    "empty actor set is due immediately",
			step:    &repository.WorkflowStep{},
			actors:  nil,
			wantDue: &now,
		},
		{
			name:    "empty actor set overrides the time limit",
			step:    &repository.WorkflowStep{TimeLimitHours: &limit},
			actors:  nil,
			wantDue: &now,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := executionDueAt(tt.step, tt.actors, now)
			switch {
			case tt.wantDue == nil && got != nil:
				t.Errorf("executionDueAt() = %v, want nil", got)
			case tt.wantDue != nil && (got == nil || !got.Equal(*tt.wantDue)):
				t.Errorf("executionDueAt() = %v, want %v", got, tt.wantDue)
			}
		})
	}
}
