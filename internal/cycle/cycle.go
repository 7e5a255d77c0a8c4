// Package cycle runs one load, translate, reason, translate, unload pass
// over the reasoning model.
//
// A Cycle holds at most one resident model. Unload runs exactly once per
// Run on every path, before the cycle reports its terminal state, so the
// next Run can never overlap a previous model in memory.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"nku/internal/guard"
	"nku/internal/logging"
	"nku/internal/modelstore"
	"nku/internal/runtime"
	"nku/internal/translate"
)

// ModelSource locates or fetches the model artifact.
type ModelSource interface {
	Resolve(ctx context.Context, name string) (string, error)
	Download(ctx context.Context, d modelstore.Descriptor) (string, error)
}

// ThermalGate decides whether the device may run the model.
type ThermalGate interface {
	CanRun() bool
}

// Options tunes a Cycle.
type Options struct {
	MaxLoadAttempts int
	// Backoff[i] is slept after failed attempt i+1.
	Backoff      []time.Duration
	DisplayDelay time.Duration

	ProgressInterval time.Duration
	// ProgressTau is the time constant of the load progress estimate.
	ProgressTau time.Duration
}

// DefaultOptions returns three attempts with 500ms, 1s, 2s backoff.
func DefaultOptions() Options {
	return Options{
		MaxLoadAttempts:  3,
		Backoff:          []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second},
		DisplayDelay:     1500 * time.Millisecond,
		ProgressInterval: 200 * time.Millisecond,
		ProgressTau:      8 * time.Second,
	}
}

// Deps are the collaborators of a Cycle.
type Deps struct {
	Models     ModelSource
	Runtime    runtime.Runtime
	Gate       ThermalGate
	Translator translate.Translator
	Guard      *guard.Guard
}

// Request describes one run.
type Request struct {
	ModelName string
	// Descriptor enables the download fallback when it carries a URL.
	Descriptor     *modelstore.Descriptor
	SourceLanguage string
	// Segments are the free-text pieces to translate into the working language.
	Segments []string
	// Compose builds the prompt from the translated segments. Nil joins them
	// with newlines.
	Compose func(english []string) string
}

// Cycle is the inference orchestrator. Runs never overlap.
type Cycle struct {
	deps Deps
	opts Options

	sleep func(time.Duration)
	now   func() time.Time

	running atomic.Bool

	mu        sync.Mutex
	state     State
	history   []Transition
	subs      map[int]func(Event)
	nextSub   int
	idleTimer *time.Timer
	model     runtime.Model
}

// New builds a Cycle. A nil Translator means translate.Offline and a nil
// Guard means guard.New().
func New(deps Deps, opts Options) *Cycle {
	def := DefaultOptions()
	if opts.MaxLoadAttempts <= 0 {
		opts.MaxLoadAttempts = def.MaxLoadAttempts
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = def.Backoff
	}
	if opts.DisplayDelay < 0 {
		opts.DisplayDelay = 0
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = def.ProgressInterval
	}
	if opts.ProgressTau <= 0 {
		opts.ProgressTau = def.ProgressTau
	}
	if deps.Translator == nil {
		deps.Translator = translate.Offline{}
	}
	if deps.Guard == nil {
		deps.Guard = guard.New()
	}
	return &Cycle{
		deps:  deps,
		opts:  opts,
		sleep: time.Sleep,
		now:   time.Now,
		state: StateIdle,
		subs:  make(map[int]func(Event)),
	}
}

// State returns the current state.
func (c *Cycle) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns a copy of the recorded transitions.
func (c *Cycle) History() []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transition(nil), c.history...)
}

// Subscribe registers fn for every event. fn runs on the cycle's goroutines
// and must not block.
func (c *Cycle) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Stop cancels a pending return to idle. It does not affect a running cycle.
func (c *Cycle) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

// Run executes one cycle to a terminal state. It ignores cancellation of ctx
// once started; the only aborts are the thermal gate, load exhaustion and
// internal failures. A Run that overlaps another returns KindBusy at once.
func (c *Cycle) Run(ctx context.Context, req Request) Result {
	if !c.running.CompareAndSwap(false, true) {
		logging.CycleWarn("run rejected: cycle busy")
		return failure("", KindBusy, ErrBusy)
	}
	defer c.running.Store(false)

	ctx = context.WithoutCancel(ctx)
	runID := uuid.NewString()
	log := logging.Get(logging.CategoryCycle).With("run_id", runID)
	c.settle()

	lang, err := translate.NormalizeLanguage(req.SourceLanguage)
	if err != nil {
		log.Warn("rejecting run: %v", err)
		return failure(runID, KindFailed, err)
	}

	if !c.deps.Gate.CanRun() {
		log.Info("thermal gate closed before load")
		return failure(runID, KindTooHot, nil)
	}

	timer := logging.StartTimer(logging.CategoryCycle, "inference cycle")
	c.transition(runID, StateLoadingModel, 0)

	res := func() (res Result) {
		defer c.Unload()
		defer func() {
			if r := recover(); r != nil {
				log.Error("cycle panic: %v", r)
				res = failure(runID, KindFailed, fmt.Errorf("panic: %v", r))
			}
		}()
		return c.execute(ctx, runID, lang, req)
	}()
	timer.Stop()

	if res.OK() {
		c.transition(runID, StateComplete, 1)
		c.scheduleIdle(runID)
		log.Info("cycle complete")
	} else {
		c.transition(runID, StateError, 0)
		c.transition(runID, StateIdle, 0)
		log.Warn("cycle ended: %s (%v)", res.Kind, res.Err)
	}
	return res
}

func (c *Cycle) execute(ctx context.Context, runID, lang string, req Request) Result {
	path, kind, err := c.acquire(ctx, req)
	if err != nil {
		return failure(runID, kind, err)
	}

	model, err := c.LoadModel(ctx, runID, path)
	if err != nil {
		if errors.Is(err, runtime.ErrOutOfMemory) {
			return failure(runID, KindInsufficientMemory, err)
		}
		return failure(runID, KindFailed, err)
	}

	english := req.Segments
	translating := lang != translate.WorkingLanguage
	if translating {
		c.transition(runID, StateTranslatingIn, 0)
		english = make([]string, len(req.Segments))
		for i, seg := range req.Segments {
			out, err := c.deps.Translator.Translate(ctx, seg, lang, translate.WorkingLanguage)
			if err != nil {
				if errors.Is(err, translate.ErrConnectivityRequired) {
					return failure(runID, KindConnectivityRequired, err)
				}
				return failure(runID, KindFailed, fmt.Errorf("translate in: %w", err))
			}
			english[i] = out
		}
	}

	if !c.deps.Gate.CanRun() {
		logging.CycleWarn("thermal gate closed before reasoning [run_id=%s]", runID)
		return failure(runID, KindTooHot, nil)
	}

	c.transition(runID, StateReasoning, 0)
	prompt := compose(req, english)
	raw, err := model.Generate(ctx, prompt)
	if err != nil {
		res := failure(runID, KindFailed, fmt.Errorf("generate: %w", err))
		res.Prompt = prompt
		return res
	}
	if !c.deps.Guard.ValidateOutput(raw) {
		res := failure(runID, KindUnsafeOutput, nil)
		res.Prompt = prompt
		return res
	}
	text := c.deps.Guard.SanitizeOutput(raw)

	localized := text
	if translating {
		c.transition(runID, StateTranslatingOut, 0)
		out, err := c.deps.Translator.Translate(ctx, text, translate.WorkingLanguage, lang)
		if err != nil {
			logging.CycleWarn("translate out failed, keeping English [run_id=%s]: %v", runID, err)
		} else {
			localized = out
		}
	}

	return Result{Kind: KindCompleted, Text: text, Localized: localized, Prompt: prompt, RunID: runID}
}

// acquire resolves the artifact, falling back to a download when the request
// carries a URL.
func (c *Cycle) acquire(ctx context.Context, req Request) (string, Kind, error) {
	path, err := c.deps.Models.Resolve(ctx, req.ModelName)
	if err == nil {
		return path, "", nil
	}
	if !errors.Is(err, modelstore.ErrNotFound) {
		return "", KindFailed, err
	}
	if req.Descriptor == nil || req.Descriptor.URL == "" {
		return "", KindModelUnavailable, err
	}
	d := *req.Descriptor
	if d.Name == "" {
		d.Name = req.ModelName
	}
	logging.Cycle("model %s not found locally, downloading", d.Name)
	path, err = c.deps.Models.Download(ctx, d)
	if err != nil {
		return "", KindModelUnavailable, err
	}
	return path, "", nil
}

func compose(req Request, english []string) string {
	if req.Compose != nil {
		return req.Compose(english)
	}
	return strings.Join(english, "\n")
}

// transition moves to next and notifies subscribers. An illegal move is
// logged and forced to StateError.
func (c *Cycle) transition(runID string, next State, progress float64) {
	c.mu.Lock()
	ev, subs := c.applyLocked(runID, next, progress)
	c.mu.Unlock()
	emit(subs, ev)
}

func (c *Cycle) applyLocked(runID string, next State, progress float64) (Event, []func(Event)) {
	from := c.state
	if !canTransition(from, next) {
		logging.CycleError("illegal transition %s -> %s [run_id=%s]", from, next, runID)
		next = StateError
	}
	now := c.now()
	c.state = next
	c.history = append(c.history, Transition{RunID: runID, From: from, To: next, At: now})
	logging.CycleDebug("%s -> %s [run_id=%s]", from, next, runID)
	return Event{RunID: runID, From: from, To: next, Progress: progress, At: now}, c.snapshotSubsLocked()
}

func (c *Cycle) progress(runID string, p float64) {
	c.mu.Lock()
	subs := c.snapshotSubsLocked()
	now := c.now()
	c.mu.Unlock()
	emit(subs, Event{RunID: runID, From: StateLoadingModel, To: StateLoadingModel, Progress: p, At: now})
}

func (c *Cycle) snapshotSubsLocked() []func(Event) {
	subs := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	return subs
}

func emit(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}

// scheduleIdle returns a completed cycle to idle after the display delay.
func (c *Cycle) scheduleIdle(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idleTimer = time.AfterFunc(c.opts.DisplayDelay, func() {
		c.mu.Lock()
		if c.state != StateComplete {
			c.mu.Unlock()
			return
		}
		c.idleTimer = nil
		ev, subs := c.applyLocked(runID, StateIdle, 0)
		c.mu.Unlock()
		emit(subs, ev)
	})
}

// settle cancels a pending display delay so a new run starts from idle.
func (c *Cycle) settle() {
	c.mu.Lock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	if c.state != StateComplete {
		c.mu.Unlock()
		return
	}
	ev, subs := c.applyLocked("", StateIdle, 0)
	c.mu.Unlock()
	emit(subs, ev)
}
