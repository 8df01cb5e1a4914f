package metrics

import "time"

// Outcome labels for engine evaluations.
const (
	OutcomeTransition = "transition"
	OutcomeNoMatch    = "no_match"
	OutcomeDeclined   = "declined"
	OutcomeUnsafe     = "unsafe"
	OutcomeError      = "error"
)

// Recorder defines observability hooks for the attendance engine and the
// sync orchestrator. The NoopRecorder is used when metrics are not configured.
type Recorder interface {
	IncTransition(from, to string)
	IncEvaluation(outcome string)
	ObserveEvaluationDuration(d time.Duration)
	IncDebounced()
	IncReconcileError()
	ObserveReconcileDuration(d time.Duration)
	SetActiveUsers(n int)
	IncPromptAnswer(kind string, confirmed bool)
}

type NoopRecorder struct{}

func (NoopRecorder) IncTransition(string, string)            {}
func (NoopRecorder) IncEvaluation(string)                    {}
func (NoopRecorder) ObserveEvaluationDuration(time.Duration) {}
func (NoopRecorder) IncDebounced()                           {}
func (NoopRecorder) IncReconcileError()                      {}
func (NoopRecorder) ObserveReconcileDuration(time.Duration)  {}
func (NoopRecorder) SetActiveUsers(int)                      {}
func (NoopRecorder) IncPromptAnswer(string, bool)            {}
