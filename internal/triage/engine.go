package triage

import (
	"context"

	"nku/internal/cycle"
	"nku/internal/logging"
	"nku/internal/modelstore"
	"nku/internal/types"
)

// Runner runs one inference cycle. *cycle.Cycle satisfies it.
type Runner interface {
	Run(ctx context.Context, req cycle.Request) cycle.Result
}

// EngineOptions names the model the engine asks the cycle for.
type EngineOptions struct {
	ModelName  string
	Descriptor *modelstore.Descriptor
}

// Engine composes the reasoner with the inference cycle.
type Engine struct {
	reasoner *Reasoner
	runner   Runner
	opts     EngineOptions
}

// NewEngine builds an Engine. A nil runner makes every assessment rule-based.
func NewEngine(r *Reasoner, runner Runner, opts EngineOptions) *Engine {
	return &Engine{reasoner: r, runner: runner, opts: opts}
}

// Reasoner returns the engine's reasoner.
func (e *Engine) Reasoner() *Reasoner { return e.reasoner }

// Assess returns an assessment for every input. Any failure on the model
// path ends in the rule-based result, with Notice set when the cycle
// reported a fixed message.
func (e *Engine) Assess(ctx context.Context, s types.VitalsSnapshot, sourceLanguage string) (out types.ClinicalAssessment) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.TriageWarn("assessment panicked, using rules: %v", rec)
			out = e.reasoner.RuleBased(s)
		}
	}()

	if e.runner == nil {
		return e.reasoner.RuleBased(s)
	}

	segments := make([]string, 0, len(s.Symptoms()))
	for _, sym := range s.Symptoms() {
		segments = append(segments, e.reasoner.guard.Sanitize(sym))
	}

	res := e.runner.Run(ctx, cycle.Request{
		ModelName:      e.opts.ModelName,
		Descriptor:     e.opts.Descriptor,
		SourceLanguage: sourceLanguage,
		Segments:       segments,
		Compose: func(english []string) string {
			return e.reasoner.buildPrompt(s, english)
		},
	})

	if !res.OK() {
		logging.Triage("model path unavailable (%s), using rules", res.Kind)
		a := e.reasoner.RuleBased(s)
		a.Notice = res.Kind.Message()
		return a
	}

	a := e.reasoner.ParseModelOutput(res.Text, s)
	if a.Source != types.SourceModel {
		logging.TriageDebug("model reply did not match the response format")
		return a
	}
	a.Prompt = res.Prompt
	if res.Localized != res.Text {
		a.Localized = res.Localized
	}
	return a
}
