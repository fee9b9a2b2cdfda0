package repository

import (
	"strings"
	"testing"
)

// Cancelled and recalled instances keep their last execution pending for
// audit. The overdue query must filter on the instance status, or those
// rows permanently occupy the sweep's fixed batch.
func TestListOverdueQueryExcludesTerminatedInstances(t *testing.T) {
	if !strings.Contains(listOverdueQuery, "JOIN workflow_instances") {
		t.Error("overdue query does not join workflow_instances")
	}
	if !strings.Contains(listOverdueQuery, "i.status IN ('pending', 'in_progress')") {
		t.Error("overdue query does not restrict to active instance statuses")
	}
	if !strings.Contains(listOverdueQuery, "e.is_escalated = false") {
		t.Error("overdue query does not exclude already-escalated executions")
	}
	if !strings.Contains(listOverdueQuery, "LIMIT $2") {
		t.Error("overdue query is not batch-bounded")
	}
}
