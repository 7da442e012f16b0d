package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cybercyphers/cyphbeta/internal/auth"
	"github.com/cybercyphers/cyphbeta/internal/backend"
	"github.com/cybercyphers/cyphbeta/internal/backoff"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	events chan backend.Event

	mu         sync.Mutex
	pairings   int
	pairingErr error
	presences  []backend.Presence
	texts      []string
	closed     bool
}

func newFakeSession(evs ...backend.Event) *fakeSession {
	s := &fakeSession{events: make(chan backend.Event, 16)}
	for _, ev := range evs {
		s.events <- ev
	}
	return s
}

func closeWith(code int) backend.Event {
	return backend.Event{Kind: backend.EventClose, StatusCode: code}
}

func (s *fakeSession) Events() <-chan backend.Event { return s.events }

func (s *fakeSession) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairings++
	if s.pairingErr != nil {
		return "", s.pairingErr
	}
	return "ABCD-1234", nil
}

func (s *fakeSession) SendText(ctx context.Context, chat, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return "remote", nil
}

func (s *fakeSession) SendPresence(ctx context.Context, p backend.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presences = append(s.presences, p)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) snapshot() (pairings int, presences []backend.Presence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairings, append([]backend.Presence(nil), s.presences...)
}

type dialResult struct {
	sess *fakeSession
	err  error
}

// scriptDialer hands out results in order and stops the controller when the
// script runs out.
type scriptDialer struct {
	mu     sync.Mutex
	script []dialResult
	cancel context.CancelFunc

	ctrl           *Controller
	attemptsAtDial []int
	credsAtDial    []auth.Credentials
}

func (d *scriptDialer) Dial(ctx context.Context, creds auth.Credentials) (backend.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctrl != nil {
		d.attemptsAtDial = append(d.attemptsAtDial, d.ctrl.Attempts())
	}
	d.credsAtDial = append(d.credsAtDial, creds)

	if len(d.script) == 0 {
		d.cancel()
		return nil, context.Canceled
	}
	next := d.script[0]
	d.script = d.script[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.sess, nil
}

type fakeCreds struct {
	mu        sync.Mutex
	creds     auth.Credentials
	loadErr   error
	discarded int
}

func (f *fakeCreds) Load(ctx context.Context) (auth.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds, f.loadErr
}

func (f *fakeCreds) Discard(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded++
	f.creds = auth.Credentials{}
	return nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) all() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type harness struct {
	ctrl   *Controller
	dialer *scriptDialer
	creds  *fakeCreds
	sleeps *sleepRecorder
	ctx    context.Context
}

func newHarness(t *testing.T, creds auth.Credentials, script []dialResult, mutate func(*Options)) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		dialer: &scriptDialer{script: script, cancel: cancel},
		creds:  &fakeCreds{creds: creds},
		sleeps: &sleepRecorder{},
		ctx:    ctx,
	}
	opts := Options{
		Phone:             "+233 200 000 000",
		Policy:            backoff.DefaultPolicy(),
		PairingDelay:      time.Millisecond,
		PairingRetryDelay: 15 * time.Second,
		PresenceDelay:     time.Millisecond,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sleep:             h.sleeps.Sleep,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.ctrl = New(h.dialer, h.creds, opts)
	h.dialer.ctrl = h.ctrl
	return h
}

func (h *harness) run(t *testing.T) error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(h.ctx) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("controller did not stop")
		return nil
	}
}

var registered = auth.Credentials{Registered: true, Me: auth.Identity{ID: "233244000000:4@s.whatsapp.net"}}

func TestController_TransientClosesBackOff(t *testing.T) {
	script := []dialResult{
		{sess: newFakeSession(closeWith(500))},
		{sess: newFakeSession(closeWith(408))},
		{sess: newFakeSession(closeWith(0))},
	}
	h := newHarness(t, registered, script, nil)

	require.NoError(t, h.run(t))

	assert.Equal(t, []time.Duration{0, 3 * time.Second, 4 * time.Second, 5 * time.Second, 0}, h.sleeps.all())
	assert.Equal(t, []int{0, 1, 2, 3}, h.dialer.attemptsAtDial)
	assert.Equal(t, 0, h.creds.discarded)
}

// Scenario: five transient closes, then a logout.
func TestController_UnauthorizedDiscardsCredentialsAndResetsAttempts(t *testing.T) {
	var script []dialResult
	for i := 0; i < 5; i++ {
		script = append(script, dialResult{sess: newFakeSession(closeWith(503))})
	}
	script = append(script, dialResult{sess: newFakeSession(closeWith(401))})
	script = append(script, dialResult{sess: newFakeSession(backend.Event{Kind: backend.EventOpen}, closeWith(500))})

	h := newHarness(t, registered, script, nil)
	require.NoError(t, h.run(t))

	assert.Equal(t, 1, h.creds.discarded)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 0, 1}, h.dialer.attemptsAtDial)

	sleeps := h.sleeps.all()
	require.GreaterOrEqual(t, len(sleeps), 7)
	assert.Equal(t, 7*time.Second, sleeps[5], "fifth transient close uses Delay(5)")
	assert.Equal(t, 3*time.Second, sleeps[6], "logout restarts after the re-auth grace")

	assert.Equal(t, auth.Credentials{}, h.dialer.credsAtDial[6], "fresh establishment after logout carries no credentials")
}

// Scenario: the budget is exhausted but the controller keeps going.
func TestController_RetriesForeverPastBudget(t *testing.T) {
	var script []dialResult
	for i := 0; i < 21; i++ {
		script = append(script, dialResult{sess: newFakeSession(closeWith(500))})
	}
	script = append(script, dialResult{sess: newFakeSession(closeWith(500))})

	h := newHarness(t, registered, script, nil)
	require.NoError(t, h.run(t))

	sleeps := h.sleeps.all()
	require.GreaterOrEqual(t, len(sleeps), 23)
	assert.Equal(t, 15*time.Second, sleeps[20], "20th close is capped")
	assert.Equal(t, 5*time.Second, sleeps[21], "21st close falls back")
	assert.Len(t, h.dialer.attemptsAtDial, 23, "a 22nd establishment (and more) happens")
}

func TestController_ForbiddenIsFatal(t *testing.T) {
	for _, code := range []int{403, 419} {
		script := []dialResult{
			{sess: newFakeSession(closeWith(code))},
			{sess: newFakeSession(closeWith(500))},
		}
		h := newHarness(t, registered, script, nil)

		err := h.run(t)
		var fe *FatalError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, code, fe.StatusCode)
		assert.Equal(t, StateFatal, h.ctrl.State())
		assert.Len(t, h.dialer.attemptsAtDial, 1, "no establishment after a fatal close")
	}
}

func TestController_DialRejectedWithStatusIsClassified(t *testing.T) {
	script := []dialResult{
		{err: &backend.StatusError{StatusCode: 401}},
		{err: &backend.StatusError{StatusCode: 403}},
	}
	h := newHarness(t, registered, script, nil)

	err := h.run(t)
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, h.creds.discarded)
}

func TestController_StartupErrorsUseStartupDelay(t *testing.T) {
	script := []dialResult{
		{err: context.DeadlineExceeded},
		{err: errors.New("connection refused")},
	}
	h := newHarness(t, registered, script, nil)
	require.NoError(t, h.run(t))

	assert.Equal(t, []time.Duration{0, 10 * time.Second, 8 * time.Second, 0}, h.sleeps.all())
	assert.Equal(t, []int{0, 0, 0}, h.dialer.attemptsAtDial, "startup failures do not count as attempts")
}

func TestController_CredentialLoadFailureRetries(t *testing.T) {
	h := newHarness(t, registered, nil, nil)
	h.creds.loadErr = errors.New("permission denied")

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	h.ctrl.opts.Sleep = func(c context.Context, d time.Duration) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return ctx.Err()
	}
	h.ctx = ctx

	require.NoError(t, h.run(t))
	assert.Empty(t, h.dialer.attemptsAtDial)
}

func TestController_OpenResetsAttemptsAnnouncesPresenceAndRoutesMessages(t *testing.T) {
	open := newFakeSession(
		backend.Event{Kind: backend.EventConnecting},
		backend.Event{Kind: backend.EventOpen},
		backend.Event{Kind: backend.EventMessage, Message: backend.Message{ID: "m1", Chat: "c", Text: ".online"}},
	)
	script := []dialResult{
		{sess: newFakeSession(closeWith(500))},
		{sess: open},
	}

	var (
		mu       sync.Mutex
		opened   int
		received []backend.Message
	)
	gotMessage := make(chan struct{})

	h := newHarness(t, registered, script, func(o *Options) {
		o.Online = func() bool { return false }
		o.OnOpen = func(context.Context) {
			mu.Lock()
			opened++
			mu.Unlock()
		}
		o.OnMessage = func(ctx context.Context, msg backend.Message) {
			mu.Lock()
			received = append(received, msg)
			mu.Unlock()
			close(gotMessage)
		}
	})

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(h.ctx) }()

	select {
	case <-gotMessage:
	case <-time.After(2 * time.Second):
		t.Fatalf("message was not routed")
	}

	require.Eventually(t, func() bool {
		_, p := open.snapshot()
		return len(p) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, presences := open.snapshot()
	assert.Equal(t, []backend.Presence{backend.PresenceUnavailable}, presences)
	assert.Equal(t, StateOpen, h.ctrl.State())
	assert.Equal(t, 0, h.ctrl.Attempts())
	assert.Equal(t, "233244000000", h.ctrl.Owner())

	id, err := h.ctrl.SendText(context.Background(), "c", "hello")
	require.NoError(t, err)
	assert.Equal(t, "remote", id)

	open.events <- closeWith(403)
	var fe *FatalError
	require.ErrorAs(t, <-done, &fe)

	_, err = h.ctrl.SendText(context.Background(), "c", "late")
	assert.ErrorIs(t, err, ErrNotConnected)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, opened)
	assert.Len(t, received, 1)
}

func TestController_PairingRequestedOnceThenRestartsOnFailure(t *testing.T) {
	failing := newFakeSession(
		backend.Event{Kind: backend.EventConnecting},
		backend.Event{Kind: backend.EventConnecting},
	)
	failing.pairingErr = errors.New("rate limited")

	h := newHarness(t, auth.Credentials{}, []dialResult{{sess: failing}}, nil)
	require.NoError(t, h.run(t))

	pairings, _ := failing.snapshot()
	assert.Equal(t, 1, pairings, "repeated connecting events request one code")
	assert.Equal(t, []time.Duration{0, 15 * time.Second, 0}, h.sleeps.all())
	assert.True(t, failing.closed)
}

func TestController_RegisteredCredentialsSkipPairing(t *testing.T) {
	sess := newFakeSession(backend.Event{Kind: backend.EventConnecting}, backend.Event{Kind: backend.EventOpen})
	h := newHarness(t, registered, []dialResult{{sess: sess}}, nil)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(h.ctx) }()

	require.Eventually(t, func() bool { return h.ctrl.State() == StateOpen }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	sess.events <- closeWith(403)
	<-done

	pairings, _ := sess.snapshot()
	assert.Zero(t, pairings)
}

func TestController_EndedStreamIsTransient(t *testing.T) {
	ended := newFakeSession()
	close(ended.events)

	h := newHarness(t, registered, []dialResult{{sess: ended}}, nil)
	require.NoError(t, h.run(t))

	assert.Equal(t, []time.Duration{0, 3 * time.Second, 0}, h.sleeps.all())
}

func TestController_OwnerFallsBackToPhone(t *testing.T) {
	h := newHarness(t, auth.Credentials{}, nil, nil)
	assert.Equal(t, "233200000000", h.ctrl.Owner())
	_, err := h.ctrl.SendText(context.Background(), "c", "x")
	assert.ErrorIs(t, err, ErrNotConnected)
}
