package observability_test

import (
	"testing"
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/infra/observability"
)

func TestMetrics_Snapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrEmission(observability.ModeOnline, observability.OutcomeSuccess)
	m.IncrEmission(observability.ModeOnline, observability.OutcomeSuccess)
	m.IncrEmission(observability.ModeContingency, observability.OutcomeSuccess)
	m.IncrEmission(observability.ModeOnline, observability.OutcomeFailure)
	m.IncrEmission(observability.ModeContingency, observability.OutcomeFailure)
	m.IncrAuthorityError("timeout")
	m.IncrAuthorityError("rejected")
	m.AddContingencyReplayed(3)
	m.SetContingencyPending(4)
	m.IncrCacheHit("status")
	m.IncrCacheHit("status")
	m.IncrCacheHit("status")
	m.IncrCacheMiss("status")
	m.RecordAuthorityDuration("submit", 120*time.Millisecond)
	m.RecordOperationDuration("emit", 130*time.Millisecond)

	s := m.Snapshot()

	if s.EmittedOnline != 2 {
		t.Errorf("expected 2 online emissions, got %d", s.EmittedOnline)
	}
	if s.EmittedContingency != 1 {
		t.Errorf("expected 1 contingency emission, got %d", s.EmittedContingency)
	}
	if s.EmissionFailures != 2 {
		t.Errorf("expected 2 failures, got %d", s.EmissionFailures)
	}
	if s.AuthorityErrors != 2 {
		t.Errorf("expected 2 authority errors, got %d", s.AuthorityErrors)
	}
	if s.ContingencyReplayed != 3 {
		t.Errorf("expected 3 replayed, got %d", s.ContingencyReplayed)
	}
	if s.ContingencyPending != 4 {
		t.Errorf("expected 4 pending, got %d", s.ContingencyPending)
	}
	if s.StatusCacheHitRate != 0.75 {
		t.Errorf("expected hit rate 0.75, got %f", s.StatusCacheHitRate)
	}
}

func TestMetrics_EmptySnapshot(t *testing.T) {
	s := observability.NewMetrics().Snapshot()

	if s.EmittedOnline != 0 || s.StatusCacheHitRate != 0 {
		t.Errorf("expected zero snapshot, got %+v", s)
	}
}

func TestNewLogger_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "bogus"} {
		if l := observability.NewLogger(level); l == nil {
			t.Errorf("expected logger for level %q", level)
		}
	}
}
