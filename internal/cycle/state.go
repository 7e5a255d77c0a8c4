package cycle

import (
	"errors"
	"time"
)

// State is the observable stage of an inference cycle.
type State string

const (
	StateIdle           State = "idle"
	StateLoadingModel   State = "loading_model"
	StateTranslatingIn  State = "translating_in"
	StateReasoning      State = "reasoning"
	StateTranslatingOut State = "translating_out"
	StateComplete       State = "complete"
	StateError          State = "error"
)

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateIdle:           {StateLoadingModel},
	StateLoadingModel:   {StateTranslatingIn, StateReasoning, StateError},
	StateTranslatingIn:  {StateReasoning, StateError},
	StateReasoning:      {StateTranslatingOut, StateComplete, StateError},
	StateTranslatingOut: {StateComplete, StateError},
	StateComplete:       {StateIdle},
	StateError:          {StateIdle},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Event is delivered to subscribers on every state change and on each load
// progress tick. Progress is in [0,1] while loading; it reaches 1 only once
// the model is resident.
type Event struct {
	RunID    string
	From     State
	To       State
	Progress float64
	At       time.Time
}

// IsProgress reports whether the event is a load progress tick rather than
// a state change.
func (e Event) IsProgress() bool {
	return e.From == StateLoadingModel && e.To == StateLoadingModel
}

// Transition is one entry of the cycle's history.
type Transition struct {
	RunID string
	From  State
	To    State
	At    time.Time
}

// Kind classifies how a run ended.
type Kind string

const (
	KindCompleted            Kind = "completed"
	KindTooHot               Kind = "too_hot"
	KindConnectivityRequired Kind = "connectivity_required"
	KindInsufficientMemory   Kind = "insufficient_memory"
	KindModelUnavailable     Kind = "model_unavailable"
	KindUnsafeOutput         Kind = "unsafe_output"
	KindFailed               Kind = "failed"
	KindBusy                 Kind = "busy"
)

// Message returns the fixed user-facing text for a kind.
func (k Kind) Message() string {
	switch k {
	case KindCompleted:
		return ""
	case KindTooHot:
		return "Device is too hot. Let it cool down before running an assessment."
	case KindConnectivityRequired:
		return "Translation requires an internet connection. Connect and try again, or continue in English."
	case KindInsufficientMemory:
		return "Not enough memory to load the reasoning model. Close other apps and try again."
	case KindModelUnavailable:
		return "The reasoning model is not available on this device."
	case KindUnsafeOutput:
		return "The model response failed safety checks and was discarded."
	case KindBusy:
		return "An assessment is already running."
	case KindFailed:
		return "The assessment could not be completed."
	}
	return "The assessment could not be completed."
}

// ErrBusy is set on the Result of a Run that overlapped another.
var ErrBusy = errors.New("inference cycle already running")

// Result is the terminal outcome of a Run.
type Result struct {
	Kind Kind
	// Text is the validated English model output for KindCompleted and the
	// kind's fixed message otherwise.
	Text string
	// Localized is Text in the request's source language. If translating the
	// output back fails it holds the English text.
	Localized string
	Prompt    string
	RunID     string
	Err       error
}

// OK reports whether the run produced model output.
func (r Result) OK() bool { return r.Kind == KindCompleted }

func failure(runID string, kind Kind, err error) Result {
	msg := kind.Message()
	return Result{Kind: kind, Text: msg, Localized: msg, RunID: runID, Err: err}
}
