package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/deusflow/cbnews/internal/domain"
)

func TestRecordRun(t *testing.T) {
	m := New()

	m.RecordRun(domain.JobStats{Fetched: 10, Inserted: 2, Deduped: 3, Skipped: 5}, 2*time.Second, nil)
	m.RecordRun(domain.JobStats{Fetched: 4, Errors: 1}, 4*time.Second, errors.New("job timed out"))

	stats := m.GetStats()
	if stats["articles_fetched"] != int64(14) || stats["articles_inserted"] != int64(2) || stats["article_errors"] != int64(1) {
		t.Fatalf("stats = %v", stats)
	}
	if stats["runs_completed"] != int64(1) || stats["runs_failed"] != int64(1) {
		t.Fatalf("run counts = %v / %v", stats["runs_completed"], stats["runs_failed"])
	}
	if stats["average_run_time_ms"] != int64(3000) {
		t.Fatalf("average = %v", stats["average_run_time_ms"])
	}
	if m.Healthy() || stats["last_error"] != "job timed out" {
		t.Fatalf("expected unhealthy after failed run")
	}

	m.RecordRun(domain.JobStats{}, time.Second, nil)
	if !m.Healthy() {
		t.Fatalf("a clean run should restore health")
	}
}

func TestRecordResolutionCopiesMap(t *testing.T) {
	m := New()
	m.RecordResolution("batchexecute")
	m.RecordResolution("batchexecute")
	m.RecordResolution("fallback")

	resolved := m.GetStats()["resolved_by"].(map[string]int64)
	resolved["batchexecute"] = 100
	if m.GetStats()["resolved_by"].(map[string]int64)["batchexecute"] != 2 {
		t.Fatalf("GetStats leaked the internal map")
	}
}
