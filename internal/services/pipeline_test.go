package services_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"beyondink/internal/models"
	"beyondink/internal/services"
	"beyondink/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSubmissionRepository is a mock implementation of repositories.SubmissionRepository
type MockSubmissionRepository struct {
	mock.Mock
}

func (m *MockSubmissionRepository) Insert(ctx context.Context, collection string, record any) error {
	args := m.Called(ctx, collection, record)
	return args.Error(0)
}

// MockVerifier is a mock implementation of services.Verifier
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, token string) (*models.VerificationVerdict, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VerificationVerdict), args.Error(1)
}

// MockNotifier is a mock implementation of services.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, eventKind string, record any) error {
	args := m.Called(ctx, eventKind, record)
	return args.Error(0)
}

// fakeTimers records scheduled resets instead of waiting for them.
type fakeTimers struct {
	mu      sync.Mutex
	delays  []time.Duration
	fns     []func()
	stopped int
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) func() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	f.fns = append(f.fns, fn)
	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.stopped++
		return true
	}
}

func (f *fakeTimers) fire(i int) {
	f.mu.Lock()
	fn := f.fns[i]
	f.mu.Unlock()
	fn()
}

// blockingRepository holds every insert until its context ends.
type blockingRepository struct{}

func (blockingRepository) Insert(ctx context.Context, _ string, _ any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
		return errors.New("insert context was never cancelled")
	}
}

// blockingVerifier holds every verification until its context ends.
type blockingVerifier struct{}

func (blockingVerifier) Verify(ctx context.Context, _ string) (*models.VerificationVerdict, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(2 * time.Second):
		return nil, errors.New("verify context was never cancelled")
	}
}

var referencePattern = regexp.MustCompile(`^BI-\d{8}-[0-9A-Z]{4}$`)

type fixture struct {
	repo     *MockSubmissionRepository
	verifier *MockVerifier
	notifier *MockNotifier
	timers   *fakeTimers
	deps     services.PipelineDeps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	v, err := validation.New()
	require.NoError(t, err)

	f := &fixture{
		repo:     new(MockSubmissionRepository),
		verifier: new(MockVerifier),
		notifier: new(MockNotifier),
		timers:   &fakeTimers{},
	}
	f.deps = services.PipelineDeps{
		Validator:      v,
		Verifier:       f.verifier,
		Repository:     f.repo,
		Notifier:       f.notifier,
		References:     services.NewReferenceGenerator("BI"),
		MinScore:       0.5,
		VerifyTimeout:  time.Second,
		PersistTimeout: time.Second,
	}
	f.deps.AfterFunc = f.timers.AfterFunc
	return f
}

func bookingSpec() services.FormSpec {
	return services.FormSpec{
		Kind:           models.FormBooking,
		Collection:     "bookings",
		Verification:   services.VerifyRemote,
		EventKind:      models.EventBookingCreated,
		FailureMessage: "Failed to submit booking. Please try again.",
	}
}

func contactSpec() services.FormSpec {
	return services.FormSpec{
		Kind:         models.FormContact,
		Collection:   "contact_messages",
		Verification: services.VerifyPresence,
		EventKind:    models.EventContactCreated,
		ResetDelay:   5 * time.Second,
	}
}

func mailingSpec() services.FormSpec {
	return services.FormSpec{
		Kind:         models.FormMailingList,
		Collection:   "mailing_list",
		Verification: services.VerifyPresence,
		EventKind:    models.EventSubscriberCreated,
		ResetDelay:   3 * time.Second,
	}
}

func validBookingDraft() *models.BookingDraft {
	return &models.BookingDraft{
		FullName:         "Sam Carter",
		Email:            "sam@example.com",
		Phone:            "07541 511489",
		TattooIdea:       "Blackwork peony wrapping around the calf",
		Placement:        "Calf",
		Budget:           "300-500",
		ConsentMarketing: true,
	}
}

func score(v float64) *float64 { return &v }

// notified returns a channel closed once Notify has been called.
func notified(n *MockNotifier, kind string, err error) <-chan struct{} {
	done := make(chan struct{})
	n.On("Notify", mock.Anything, kind, mock.Anything).Return(err).Run(func(mock.Arguments) {
		close(done)
	}).Once()
	return done
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestPipeline_BookingSucceedsWithAcceptableVerdict(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(bookingSpec(), f.deps)

	f.verifier.On("Verify", mock.Anything, "tok").Return(&models.VerificationVerdict{Success: true, Score: score(0.9)}, nil).Once()
	f.repo.On("Insert", mock.Anything, "bookings", mock.AnythingOfType("*models.BookingRequest")).Return(nil).Once()
	done := notified(f.notifier, models.EventBookingCreated, nil)

	res := p.Submit(context.Background(), validBookingDraft(), "tok")

	require.NoError(t, res.Err)
	assert.Equal(t, services.StateSucceeded, res.State)
	assert.False(t, res.Stale)

	booking, ok := res.Record.(*models.BookingRequest)
	require.True(t, ok)
	assert.Regexp(t, referencePattern, booking.BookingReference)
	assert.Equal(t, "+447541511489", booking.Phone)
	assert.True(t, booking.ConsentMarketing)

	f.repo.AssertNumberOfCalls(t, "Insert", 1)
	waitFor(t, done)
	f.verifier.AssertExpectations(t)
	f.notifier.AssertExpectations(t)

	snap := p.Snapshot()
	assert.Equal(t, services.StateSucceeded, snap.State)
	assert.Empty(t, snap.PendingReference)
	assert.Empty(t, f.timers.delays, "booking only resets on explicit action")
}

func TestPipeline_LowScoreBlocksPersistence(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(bookingSpec(), f.deps)

	f.verifier.On("Verify", mock.Anything, "tok").Return(&models.VerificationVerdict{Success: true, Score: score(0.3)}, nil).Once()

	res := p.Submit(context.Background(), validBookingDraft(), "tok")

	assert.Equal(t, services.StateFailed, res.State)
	var verr *services.VerificationError
	require.ErrorAs(t, res.Err, &verr)
	assert.ErrorIs(t, res.Err, services.ErrVerdictRejected)
	assert.Equal(t, "submit", verr.Field)
	f.repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_VerdictWithoutScoreIsAcceptable(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(bookingSpec(), f.deps)

	f.verifier.On("Verify", mock.Anything, "tok").Return(&models.VerificationVerdict{Success: true}, nil).Once()
	f.repo.On("Insert", mock.Anything, "bookings", mock.Anything).Return(nil).Once()
	done := notified(f.notifier, models.EventBookingCreated, nil)

	res := p.Submit(context.Background(), validBookingDraft(), "tok")
	assert.Equal(t, services.StateSucceeded, res.State)
	waitFor(t, done)
}

func TestPipeline_VerifierUnreachable(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(bookingSpec(), f.deps)

	f.verifier.On("Verify", mock.Anything, "tok").Return(nil, context.DeadlineExceeded).Once()

	res := p.Submit(context.Background(), validBookingDraft(), "tok")

	var verr *services.VerificationError
	require.ErrorAs(t, res.Err, &verr)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, map[string]string{"submit": "reCAPTCHA failed, please retry"}, services.ErrorFields(res.Err))
	f.repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_MissingTokenFailsBeforeNetwork(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(bookingSpec(), f.deps)

	res := p.Submit(context.Background(), validBookingDraft(), "  ")

	assert.Equal(t, services.StateFailed, res.State)
	assert.Equal(t, map[string]string{"recaptcha": "Please complete the reCAPTCHA"}, services.ErrorFields(res.Err))
	f.verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_FieldErrorsStopAtValidation(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(bookingSpec(), f.deps)

	draft := validBookingDraft()
	draft.TattooIdea = "too short"
	draft.ConsentMarketing = false

	res := p.Submit(context.Background(), draft, "tok")

	assert.Equal(t, services.StateFailed, res.State)
	var ferrs validation.FieldErrors
	require.ErrorAs(t, res.Err, &ferrs)
	assert.Len(t, ferrs, 2)
	assert.Contains(t, ferrs, "tattooIdea")
	assert.Contains(t, ferrs, "consentMarketing")
	assert.Equal(t, map[string]string(ferrs), p.Snapshot().Errors)
	f.verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestPipeline_WrongDraftKindIsRejected(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(bookingSpec(), f.deps)

	res := p.Submit(context.Background(), &models.ContactDraft{Name: "A", Email: "a@b.c", Message: "long enough"}, "tok")
	assert.Equal(t, map[string]string{"form": "Invalid submission"}, services.ErrorFields(res.Err))
}

func TestPipeline_PersistenceFailureSkipsNotification(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(bookingSpec(), f.deps)

	f.verifier.On("Verify", mock.Anything, "tok").Return(&models.VerificationVerdict{Success: true, Score: score(0.9)}, nil).Once()
	f.repo.On("Insert", mock.Anything, "bookings", mock.Anything).Return(errors.New("duplicate key")).Once()

	res := p.Submit(context.Background(), validBookingDraft(), "tok")

	assert.Equal(t, services.StateFailed, res.State)
	var perr *services.PersistenceError
	require.ErrorAs(t, res.Err, &perr)
	assert.Equal(t, "bookings", perr.Collection)
	assert.Equal(t, map[string]string{"submit": "Failed to submit booking. Please try again."}, services.ErrorFields(res.Err))
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_NotificationFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(contactSpec(), f.deps)

	f.repo.On("Insert", mock.Anything, "contact_messages", mock.AnythingOfType("*models.ContactMessage")).Return(nil).Once()
	done := notified(f.notifier, models.EventContactCreated, errors.New("email api down"))

	res := p.Submit(context.Background(), &models.ContactDraft{
		Name:    "  Riley  ",
		Email:   "riley@example.com",
		Message: "Do you have any flash left?",
	}, "tok")

	require.NoError(t, res.Err)
	assert.Equal(t, services.StateSucceeded, res.State)
	waitFor(t, done)
	assert.Equal(t, services.StateSucceeded, p.Snapshot().State)

	msg := res.Record.(*models.ContactMessage)
	assert.Equal(t, "Riley", msg.Name)
	f.verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestPipeline_MailingListDoesNotDeduplicate(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(mailingSpec(), f.deps)

	f.repo.On("Insert", mock.Anything, "mailing_list", mock.AnythingOfType("*models.MailingListSubscriber")).Return(nil).Twice()
	first := notified(f.notifier, models.EventSubscriberCreated, nil)
	second := notified(f.notifier, models.EventSubscriberCreated, nil)

	draft := &models.SubscriberDraft{Email: "fan@example.com", Consent: true}
	for i := 0; i < 2; i++ {
		res := p.Submit(context.Background(), draft, "tok")
		require.NoError(t, res.Err)
	}

	f.repo.AssertNumberOfCalls(t, "Insert", 2)
	waitFor(t, first)
	waitFor(t, second)

	sub := f.repo.Calls[0].Arguments.Get(2).(*models.MailingListSubscriber)
	assert.True(t, sub.GDPRConsent)
	assert.Equal(t, models.ConsentText, sub.GDPRConsentText)
	assert.Equal(t, "site-form", sub.Source)
}

func TestPipeline_BookingReferenceSurvivesRetryUntilSuccess(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(bookingSpec(), f.deps)

	f.verifier.On("Verify", mock.Anything, "tok").Return(&models.VerificationVerdict{Success: true, Score: score(0.8)}, nil)
	f.repo.On("Insert", mock.Anything, "bookings", mock.Anything).Return(errors.New("connection reset")).Once()
	f.repo.On("Insert", mock.Anything, "bookings", mock.Anything).Return(nil).Once()
	f.repo.On("Insert", mock.Anything, "bookings", mock.Anything).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, models.EventBookingCreated, mock.Anything).Return(nil)

	failed := p.Submit(context.Background(), validBookingDraft(), "tok")
	require.Error(t, failed.Err)
	pending := p.Snapshot().PendingReference
	assert.Regexp(t, referencePattern, pending)

	retried := p.Submit(context.Background(), validBookingDraft(), "tok")
	require.NoError(t, retried.Err)
	assert.Equal(t, pending, retried.Record.(*models.BookingRequest).BookingReference)
	assert.Empty(t, p.Snapshot().PendingReference)

	p.Reset()
	again := p.Submit(context.Background(), validBookingDraft(), "tok")
	require.NoError(t, again.Err)
	assert.Regexp(t, referencePattern, again.Record.(*models.BookingRequest).BookingReference)
}

func TestPipeline_StaleResponseIsIgnored(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(bookingSpec(), f.deps)

	started := make(chan struct{})
	release := make(chan struct{})
	f.verifier.On("Verify", mock.Anything, "slow").Return(&models.VerificationVerdict{Success: true, Score: score(0.9)}, nil).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Once()

	results := make(chan services.Result, 1)
	go func() {
		results <- p.Submit(context.Background(), validBookingDraft(), "slow")
	}()

	<-started
	p.Reset()
	close(release)
	res := <-results

	assert.True(t, res.Stale)
	snap := p.Snapshot()
	assert.Equal(t, services.StateIdle, snap.State)
	assert.Greater(t, snap.Generation, res.Generation)
	f.repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_UnlistedBudgetIsStoredAsGiven(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(bookingSpec(), f.deps)

	f.verifier.On("Verify", mock.Anything, "tok").Return(&models.VerificationVerdict{Success: true, Score: score(0.9)}, nil).Once()
	f.repo.On("Insert", mock.Anything, "bookings", mock.Anything).Return(nil).Once()
	done := notified(f.notifier, models.EventBookingCreated, nil)

	draft := validBookingDraft()
	draft.Budget = " 1000+ "
	res := p.Submit(context.Background(), draft, "tok")
	require.NoError(t, res.Err)
	assert.Equal(t, "1000+", res.Record.(*models.BookingRequest).Budget)
	waitFor(t, done)
}

func TestPipeline_ConcurrentAttemptsGetDistinctReferences(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(bookingSpec(), f.deps)

	started := make(chan struct{})
	release := make(chan struct{})
	var inserts atomic.Int32
	f.verifier.On("Verify", mock.Anything, "tok").Return(&models.VerificationVerdict{Success: true, Score: score(0.9)}, nil)
	f.repo.On("Insert", mock.Anything, "bookings", mock.Anything).Return(nil).Run(func(mock.Arguments) {
		if inserts.Add(1) == 1 {
			close(started)
			<-release
		}
	})
	sent := make(chan struct{}, 2)
	f.notifier.On("Notify", mock.Anything, models.EventBookingCreated, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		sent <- struct{}{}
	})

	first := make(chan services.Result, 1)
	go func() {
		first <- p.Submit(context.Background(), validBookingDraft(), "tok")
	}()
	<-started

	second := p.Submit(context.Background(), validBookingDraft(), "tok")
	require.NoError(t, second.Err)
	assert.False(t, second.Stale)

	close(release)
	stale := <-first
	assert.True(t, stale.Stale)
	assert.Equal(t, services.StateSucceeded, stale.State)

	firstRef := stale.Record.(*models.BookingRequest).BookingReference
	secondRef := second.Record.(*models.BookingRequest).BookingReference
	assert.Regexp(t, referencePattern, firstRef)
	assert.Regexp(t, referencePattern, secondRef)
	assert.NotEqual(t, firstRef, secondRef)
	assert.Empty(t, p.Snapshot().PendingReference)

	waitFor(t, sent)
	waitFor(t, sent)
}

func TestPipeline_PersistTimeoutFailsAttempt(t *testing.T) {
	f := newFixture(t)
	deps := f.deps
	deps.PersistTimeout = 20 * time.Millisecond
	deps.Repository = blockingRepository{}
	p := services.NewPipeline(bookingSpec(), deps)

	f.verifier.On("Verify", mock.Anything, "tok").Return(&models.VerificationVerdict{Success: true, Score: score(0.9)}, nil).Once()

	res := p.Submit(context.Background(), validBookingDraft(), "tok")

	assert.Equal(t, services.StateFailed, res.State)
	var perr *services.PersistenceError
	require.ErrorAs(t, res.Err, &perr)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, map[string]string{"submit": "Failed to submit booking. Please try again."}, services.ErrorFields(res.Err))
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_VerifyTimeoutFailsAttempt(t *testing.T) {
	f := newFixture(t)
	deps := f.deps
	deps.VerifyTimeout = 20 * time.Millisecond
	deps.Verifier = blockingVerifier{}
	p := services.NewPipeline(bookingSpec(), deps)

	res := p.Submit(context.Background(), validBookingDraft(), "tok")

	assert.Equal(t, services.StateFailed, res.State)
	var verr *services.VerificationError
	require.ErrorAs(t, res.Err, &verr)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, map[string]string{"submit": "reCAPTCHA failed, please retry"}, services.ErrorFields(res.Err))
	f.repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_AutoResetAfterDisplayDelay(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(contactSpec(), f.deps)

	var hookCalls int
	p.OnReset(func() { hookCalls++ })

	f.repo.On("Insert", mock.Anything, "contact_messages", mock.Anything).Return(nil)
	f.notifier.On("Notify", mock.Anything, models.EventContactCreated, mock.Anything).Return(nil)

	draft := &models.ContactDraft{Name: "Riley", Email: "riley@example.com", Message: "Hello, any availability?"}
	require.NoError(t, p.Submit(context.Background(), draft, "tok").Err)
	require.Equal(t, []time.Duration{5 * time.Second}, f.timers.delays)

	f.timers.fire(0)
	snap := p.Snapshot()
	assert.Equal(t, services.StateIdle, snap.State)
	assert.Nil(t, snap.Record)
	assert.Equal(t, 1, hookCalls)

	// A timer from an earlier success must not clear a newer attempt.
	require.NoError(t, p.Submit(context.Background(), draft, "tok").Err)
	f.timers.fire(0)
	assert.Equal(t, services.StateSucceeded, p.Snapshot().State)
	assert.Equal(t, 1, hookCalls)
}

func TestPipeline_NewSubmitCancelsPendingReset(t *testing.T) {
	f := newFixture(t)
	p := services.NewPipeline(mailingSpec(), f.deps)

	f.repo.On("Insert", mock.Anything, "mailing_list", mock.Anything).Return(nil)
	f.notifier.On("Notify", mock.Anything, models.EventSubscriberCreated, mock.Anything).Return(nil)

	draft := &models.SubscriberDraft{Email: "fan@example.com", Consent: true}
	require.NoError(t, p.Submit(context.Background(), draft, "tok").Err)
	assert.Equal(t, []time.Duration{3 * time.Second}, f.timers.delays)

	require.NoError(t, p.Submit(context.Background(), draft, "tok").Err)
	assert.Equal(t, 1, f.timers.stopped)
}

func TestState_Terminal(t *testing.T) {
	assert.True(t, services.StateSucceeded.Terminal())
	assert.True(t, services.StateFailed.Terminal())
	assert.False(t, services.StatePersisting.Terminal())
	assert.False(t, services.StateIdle.Terminal())
}
