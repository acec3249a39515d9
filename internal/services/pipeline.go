package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"beyondink/internal/models"
	"beyondink/internal/repositories"
	"beyondink/internal/validation"
)

// State is a step of the submission state machine.
type State string

const (
	StateIdle                 State = "idle"
	StateValidating           State = "validating"
	StateAwaitingVerification State = "awaiting_verification"
	StatePersisting           State = "persisting"
	StateSucceeded            State = "succeeded"
	StateFailed               State = "failed"
)

// Terminal reports whether an attempt has finished in s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Validator checks a draft without suspending.
type Validator interface {
	Validate(draft models.Draft) validation.FieldErrors
}

// Verifier round-trips a challenge token to the bot-verification collaborator.
type Verifier interface {
	Verify(ctx context.Context, token string) (*models.VerificationVerdict, error)
}

// Notifier hands a stored record to the notification collaborator.
type Notifier interface {
	Notify(ctx context.Context, eventKind string, record any) error
}

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// PipelineDeps are the collaborators shared by every pipeline instance.
type PipelineDeps struct {
	Validator      Validator
	Verifier       Verifier
	Repository     repositories.SubmissionRepository
	Notifier       Notifier
	References     *ReferenceGenerator
	MinScore       float64
	VerifyTimeout  time.Duration
	PersistTimeout time.Duration
	AfterFunc      AfterFunc
	Logger         *slog.Logger
}

// Result is the outcome of one Submit call.
type Result struct {
	State      State
	Generation uint64
	Record     any
	Err        error
	// Stale is set when a newer attempt or a reset superseded this one before it
	// finished. None of its transitions were applied.
	Stale bool
}

// Snapshot is a point-in-time view of a pipeline.
type Snapshot struct {
	Kind             models.FormKind   `json:"kind"`
	State            State             `json:"state"`
	Generation       uint64            `json:"generation"`
	Errors           map[string]string `json:"errors,omitempty"`
	Record           any               `json:"record,omitempty"`
	PendingReference string            `json:"pending_reference,omitempty"`
}

// Pipeline runs validation, verification, persistence and notification for
// one form instance. Each Submit starts a new attempt generation; responses
// belonging to an older generation are discarded.
type Pipeline struct {
	spec FormSpec
	deps PipelineDeps
	log  *slog.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	record     any
	failure    error
	pendingRef string
	// refOwner is the generation holding pendingRef while it persists.
	refOwner   uint64
	stopReset  func() bool
	onReset    []func()
}

// NewPipeline creates an idle pipeline for spec.
func NewPipeline(spec FormSpec, deps PipelineDeps) *Pipeline {
	if deps.AfterFunc == nil {
		deps.AfterFunc = timeAfterFunc
	}
	if deps.References == nil {
		deps.References = NewReferenceGenerator("")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{
		spec:  spec,
		deps:  deps,
		log:   deps.Logger.With("form", string(spec.Kind)),
		state: StateIdle,
	}
}

// OnReset registers fn to run whenever the pipeline returns to Idle.
func (p *Pipeline) OnReset(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReset = append(p.onReset, fn)
}

// Submit runs a full attempt for draft. It always returns; failures are
// reported through Result.Err and never panic out of the pipeline.
func (p *Pipeline) Submit(ctx context.Context, draft models.Draft, token string) Result {
	gen := p.begin()

	if draft == nil || draft.FormKind() != p.spec.Kind {
		return p.fail(gen, validation.FieldErrors{"form": "Invalid submission"})
	}
	if errs := p.deps.Validator.Validate(draft); len(errs) > 0 {
		return p.fail(gen, errs)
	}

	if !p.advance(gen, StateAwaitingVerification) {
		return p.stale(gen)
	}
	if err := p.verify(ctx, token); err != nil {
		return p.fail(gen, err)
	}

	if !p.advance(gen, StatePersisting) {
		return p.stale(gen)
	}
	ref, ok := p.reference(gen)
	if !ok {
		return p.stale(gen)
	}
	record, err := buildRecord(draft, ref)
	if err != nil {
		return p.fail(gen, validation.FieldErrors{"form": "Invalid submission"})
	}
	if err := p.persist(ctx, record); err != nil {
		return p.fail(gen, err)
	}

	// The row exists now, so the notification goes out whether or not this
	// attempt is still current.
	p.dispatch(record)
	return p.succeed(gen, ref, record)
}

// Reset returns the pipeline to Idle, clearing the last attempt and any
// pending booking reference. An in-flight attempt becomes stale.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	hooks := p.resetLocked()
	p.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Snapshot returns the current state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Kind:             p.spec.Kind,
		State:            p.state,
		Generation:       p.generation,
		Errors:           ErrorFields(p.failure),
		Record:           p.record,
		PendingReference: p.pendingRef,
	}
}

func (p *Pipeline) begin() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelResetLocked()
	p.generation++
	p.state = StateValidating
	p.record = nil
	p.failure = nil
	return p.generation
}

// advance moves to next if gen is still the current attempt.
func (p *Pipeline) advance(gen uint64, next State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		return false
	}
	p.state = next
	return true
}

func (p *Pipeline) fail(gen uint64, err error) Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseReferenceLocked(gen)
	if gen != p.generation {
		return Result{State: StateFailed, Generation: gen, Err: err, Stale: true}
	}
	p.state = StateFailed
	p.failure = err
	p.log.Info("submission failed", "generation", gen, "error", err)
	return Result{State: StateFailed, Generation: gen, Err: err}
}

func (p *Pipeline) stale(gen uint64) Result {
	p.mu.Lock()
	current, state := p.generation, p.state
	p.mu.Unlock()
	p.log.Debug("discarding stale attempt", "generation", gen, "current", current)
	return Result{State: state, Generation: gen, Stale: true}
}

func (p *Pipeline) succeed(gen uint64, ref string, record any) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.releaseReferenceLocked(gen)
	if ref != "" && p.pendingRef == ref {
		p.pendingRef = ""
	}
	if gen != p.generation {
		p.log.Debug("insert succeeded for a superseded attempt", "generation", gen, "current", p.generation)
		return Result{State: StateSucceeded, Generation: gen, Record: record, Stale: true}
	}

	p.state = StateSucceeded
	p.record = record
	p.log.Info("submission succeeded", "generation", gen, "collection", p.spec.Collection)

	if p.spec.ResetDelay > 0 {
		p.stopReset = p.deps.AfterFunc(p.spec.ResetDelay, func() { p.autoReset(gen) })
	}
	return Result{State: StateSucceeded, Generation: gen, Record: record}
}

// autoReset clears a success after the display delay unless something newer
// has happened since.
func (p *Pipeline) autoReset(gen uint64) {
	p.mu.Lock()
	if gen != p.generation || p.state != StateSucceeded {
		p.mu.Unlock()
		return
	}
	hooks := p.resetLocked()
	p.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func (p *Pipeline) resetLocked() []func() {
	p.cancelResetLocked()
	p.generation++
	p.state = StateIdle
	p.record = nil
	p.failure = nil
	p.pendingRef = ""
	p.refOwner = 0
	return append([]func(){}, p.onReset...)
}

func (p *Pipeline) cancelResetLocked() {
	if p.stopReset != nil {
		p.stopReset()
		p.stopReset = nil
	}
}

// reference returns the booking reference for this attempt. A reference is
// created on the first persisting attempt and reused by retries until a
// success or reset clears it. A reference whose insert is still in flight is
// never shared; the new attempt gets a fresh one.
func (p *Pipeline) reference(gen uint64) (string, bool) {
	if !p.spec.needsReference() {
		return "", true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		return "", false
	}
	if p.pendingRef == "" || p.refOwner != 0 {
		p.pendingRef = p.deps.References.Generate()
	}
	p.refOwner = gen
	return p.pendingRef, true
}

// releaseReferenceLocked marks the pending reference free for a retry once the
// attempt holding it has finished.
func (p *Pipeline) releaseReferenceLocked(gen uint64) {
	if p.refOwner == gen {
		p.refOwner = 0
	}
}

func (p *Pipeline) verify(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return &VerificationError{Field: "recaptcha", Message: validation.TokenMissingMessage}
	}
	if p.spec.Verification != VerifyRemote {
		return nil
	}
	if p.deps.Verifier == nil {
		return &VerificationError{Field: "submit", Message: verificationFailedMessage, Err: errors.New("no verifier configured")}
	}

	vctx := ctx
	if p.deps.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, p.deps.VerifyTimeout)
		defer cancel()
	}

	verdict, err := p.deps.Verifier.Verify(vctx, token)
	if err != nil {
		return &VerificationError{Field: "submit", Message: verificationFailedMessage, Err: err}
	}
	if !verdict.Acceptable(p.deps.MinScore) {
		return &VerificationError{
			Field:   "submit",
			Message: verificationFailedMessage,
			Err:     fmt.Errorf("%w: %s", ErrVerdictRejected, describeVerdict(verdict)),
		}
	}
	return nil
}

func describeVerdict(v *models.VerificationVerdict) string {
	if v == nil {
		return "no verdict"
	}
	score := "none"
	if v.Score != nil {
		score = fmt.Sprintf("%.2f", *v.Score)
	}
	return fmt.Sprintf("success=%t score=%s codes=%v", v.Success, score, v.ErrorCodes)
}

func (p *Pipeline) persist(ctx context.Context, record any) error {
	pctx := ctx
	if p.deps.PersistTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, p.deps.PersistTimeout)
		defer cancel()
	}
	if err := p.deps.Repository.Insert(pctx, p.spec.Collection, record); err != nil {
		return &PersistenceError{Collection: p.spec.Collection, Message: p.spec.failureMessage(), Err: err}
	}
	return nil
}

// dispatch fires the notification without waiting for it. Its outcome only
// ever reaches the log.
func (p *Pipeline) dispatch(record any) {
	if p.deps.Notifier == nil || p.spec.EventKind == "" {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("notification panicked", "event", p.spec.EventKind, "panic", r)
			}
		}()
		if err := p.deps.Notifier.Notify(context.Background(), p.spec.EventKind, record); err != nil {
			p.log.Warn("notification failed", "event", p.spec.EventKind, "error", err)
		}
	}()
}
