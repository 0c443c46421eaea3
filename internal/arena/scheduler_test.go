package arena

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arena-engine/internal/agent"
)

func TestScheduler_PrimaryTimeoutDefaultsToTenMinutes(t *testing.T) {
	s := &Scheduler{}
	assert.Equal(t, 10*time.Minute, s.primaryTimeout())
}

func TestScheduler_PrimaryTimeoutUsesConfiguredValue(t *testing.T) {
	s := &Scheduler{PrimaryTimeout: 90 * time.Second}
	assert.Equal(t, 90*time.Second, s.primaryTimeout())
}

func TestScheduler_GraceTimeoutDefaultsToFiveMinutes(t *testing.T) {
	s := &Scheduler{}
	assert.Equal(t, 5*time.Minute, s.graceTimeout())
}

func TestScheduler_GraceTimeoutUsesConfiguredValue(t *testing.T) {
	s := &Scheduler{GraceTimeout: 30 * time.Second}
	assert.Equal(t, 30*time.Second, s.graceTimeout())
}

func TestScheduler_DrainUntil_CollectsEveryOutcomeBeforeDeadline(t *testing.T) {
	s := &Scheduler{}
	outcomes := make(chan agentOutcome, 2)
	agentA := &AgentHandle{Name: "alpha"}
	agentB := &AgentHandle{Name: "beta"}
	outcomes <- agentOutcome{agent: agentA, result: agent.Result{}}
	outcomes <- agentOutcome{agent: agentB, result: agent.Result{}}

	results := make(map[string]agent.Result)
	remaining := s.drainUntil(outcomes, results, 2, time.After(time.Second))

	assert.Equal(t, 0, remaining)
	assert.Contains(t, results, "alpha")
	assert.Contains(t, results, "beta")
}

func TestScheduler_DrainUntil_ReturnsRemainingCountAtDeadline(t *testing.T) {
	s := &Scheduler{}
	outcomes := make(chan agentOutcome, 2)
	agentA := &AgentHandle{Name: "alpha"}
	outcomes <- agentOutcome{agent: agentA, result: agent.Result{}}
	// beta never reports before the deadline fires.

	results := make(map[string]agent.Result)
	remaining := s.drainUntil(outcomes, results, 2, time.After(10*time.Millisecond))

	assert.Equal(t, 1, remaining)
	assert.Contains(t, results, "alpha")
	assert.NotContains(t, results, "beta")
}

func TestScheduler_DrainUntil_ZeroRemainingReturnsImmediately(t *testing.T) {
	s := &Scheduler{}
	outcomes := make(chan agentOutcome)

	results := make(map[string]agent.Result)
	remaining := s.drainUntil(outcomes, results, 0, time.After(time.Second))

	assert.Equal(t, 0, remaining)
}

func TestScheduler_RunDay_SkipsAgentStillRunningFromPriorDate(t *testing.T) {
	s := &Scheduler{Log: zerolog.Nop()}
	a := &AgentHandle{Name: "alpha"}
	s.Agents = []*AgentHandle{a}
	s.running.Store(a.Name, struct{}{})

	results := s.runDay(context.Background(), "20260102", 0, 1)

	require.Contains(t, results, "alpha")
	assert.Error(t, results["alpha"].Err)
	_, stillBusy := s.running.Load(a.Name)
	assert.True(t, stillBusy, "a skipped date must not clear the busy flag set by the still-running goroutine")
}
