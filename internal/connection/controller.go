package connection

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cybercyphers/cyphbeta/internal/auth"
	"github.com/cybercyphers/cyphbeta/internal/backend"
	"github.com/cybercyphers/cyphbeta/internal/backoff"
	"github.com/cybercyphers/cyphbeta/internal/observability"
)

var ErrNotConnected = errors.New("not connected")

type CredentialStore interface {
	Load(ctx context.Context) (auth.Credentials, error)
	Discard(ctx context.Context) error
}

type Options struct {
	// Phone is used for pairing and as the owner when the credentials carry none.
	Phone  string
	Policy backoff.Policy

	PairingDelay      time.Duration
	PairingRetryDelay time.Duration
	PresenceDelay     time.Duration

	Online    func() bool
	OnOpen    func(ctx context.Context)
	OnMessage func(ctx context.Context, msg backend.Message)

	Logger *slog.Logger
	Sleep  func(ctx context.Context, d time.Duration) error
}

func DefaultOptions() Options {
	return Options{
		Policy:            backoff.DefaultPolicy(),
		PairingDelay:      3 * time.Second,
		PairingRetryDelay: 15 * time.Second,
		PresenceDelay:     time.Second,
	}
}

// Controller keeps exactly one backend session alive and recovers from closes
// according to the backoff policy.
type Controller struct {
	dialer backend.Dialer
	creds  CredentialStore
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	state    State
	attempts int
	owner    string
	current  backend.Session

	pairing atomic.Bool
	inbound chan backend.Message
}

func New(dialer backend.Dialer, creds CredentialStore, opts Options) *Controller {
	def := DefaultOptions()
	if opts.Policy == (backoff.Policy{}) {
		opts.Policy = def.Policy
	}
	if opts.PairingDelay <= 0 {
		opts.PairingDelay = def.PairingDelay
	}
	if opts.PairingRetryDelay <= 0 {
		opts.PairingRetryDelay = def.PairingRetryDelay
	}
	if opts.PresenceDelay <= 0 {
		opts.PresenceDelay = def.PresenceDelay
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		dialer: dialer,
		creds:  creds,
		opts:   opts,
		logger: opts.Logger.With("component", "connection"),
		owner:  digits(opts.Phone),
	}
}

// Run establishes sessions until ctx is done or the backend rejects the
// session for good, in which case it returns a *FatalError.
func (c *Controller) Run(ctx context.Context) error {
	c.inbound = make(chan backend.Message, 64)
	workerDone := make(chan struct{})
	go c.dispatchInbound(ctx, workerDone)
	defer func() {
		close(c.inbound)
		<-workerDone
	}()

	var delay time.Duration
	for {
		if err := c.opts.Sleep(ctx, delay); err != nil {
			c.logger.Info("connection_stopped")
			return nil
		}
		next, err := c.establish(ctx)
		if err != nil {
			return err
		}
		delay = next
	}
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) Attempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts
}

func (c *Controller) Snapshot() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Session{State: c.state, Attempts: c.attempts}
}

// Owner is the bare phone number of the account the bot runs as.
func (c *Controller) Owner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner
}

func (c *Controller) SendText(ctx context.Context, chat, text string) (string, error) {
	sess, err := c.openSession()
	if err != nil {
		return "", err
	}
	return sess.SendText(ctx, chat, text)
}

func (c *Controller) SendPresence(ctx context.Context, p backend.Presence) error {
	sess, err := c.openSession()
	if err != nil {
		return err
	}
	return sess.SendPresence(ctx, p)
}

func (c *Controller) openSession() (backend.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateOpen || c.current == nil {
		return nil, ErrNotConnected
	}
	return c.current, nil
}

func (c *Controller) establish(ctx context.Context) (time.Duration, error) {
	c.setState(StateInitializing)

	creds, err := c.creds.Load(ctx)
	if err != nil {
		return c.startupFailed(ctx, "load_credentials", err), nil
	}
	if owner := creds.OwnerNumber(); owner != "" {
		c.mu.Lock()
		c.owner = owner
		c.mu.Unlock()
	}

	sess, err := c.dialer.Dial(ctx, creds)
	if err != nil {
		var se *backend.StatusError
		if errors.As(err, &se) {
			return c.closed(ctx, se.StatusCode, err)
		}
		return c.startupFailed(ctx, "dial", err), nil
	}

	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()
	c.setState(StateConnecting)

	defer func() {
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
		_ = sess.Close()
	}()

	return c.serve(ctx, sess, creds)
}

func (c *Controller) serve(ctx context.Context, sess backend.Session, creds auth.Credentials) (time.Duration, error) {
	var wg sync.WaitGroup
	defer wg.Wait()
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var pairingDue, presenceDue <-chan time.Time
	pairingScheduled := false
	pairingFailed := make(chan error, 1)
	events := sess.Events()

	for {
		select {
		case <-ctx.Done():
			return 0, nil

		case ev, ok := <-events:
			if !ok {
				return c.closed(ctx, 0, errors.New("event stream ended"))
			}
			switch ev.Kind {
			case backend.EventConnecting:
				c.setState(StateConnecting)
				if creds.NeedsPairing() && !pairingScheduled {
					pairingScheduled = true
					pairingDue = time.After(c.opts.PairingDelay)
				}
			case backend.EventOpen:
				c.opened()
				presenceDue = time.After(c.opts.PresenceDelay)
				if c.opts.OnOpen != nil {
					c.opts.OnOpen(ctx)
				}
			case backend.EventClose:
				return c.closed(ctx, ev.StatusCode, ev.Err)
			case backend.EventMessage:
				select {
				case c.inbound <- ev.Message:
				case <-ctx.Done():
					return 0, nil
				}
			}

		case <-pairingDue:
			pairingDue = nil
			c.requestPairing(sctx, &wg, sess, pairingFailed)

		case err := <-pairingFailed:
			c.logger.Error("pairing_failed", "error", err.Error(), "retry_in", c.opts.PairingRetryDelay.String())
			return c.opts.PairingRetryDelay, nil

		case <-presenceDue:
			presenceDue = nil
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.announcePresence(sctx, sess)
			}()
		}
	}
}

func (c *Controller) requestPairing(ctx context.Context, wg *sync.WaitGroup, sess backend.Session, failed chan<- error) {
	if !c.pairing.CompareAndSwap(false, true) {
		c.logger.Warn("pairing_in_flight")
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.pairing.Store(false)

		code, err := sess.RequestPairingCode(ctx, c.opts.Phone)
		if err != nil {
			if ctx.Err() == nil {
				failed <- err
			}
			return
		}
		c.logger.Info("pairing_code", "code", code, "phone", c.opts.Phone)
	}()
}

func (c *Controller) announcePresence(ctx context.Context, sess backend.Session) {
	p := backend.PresenceAvailable
	if c.opts.Online != nil && !c.opts.Online() {
		p = backend.PresenceUnavailable
	}
	if err := sess.SendPresence(ctx, p); err != nil {
		c.logger.Warn("presence_failed", "presence", string(p), "error", err.Error())
		return
	}
	c.logger.Info("presence_announced", "presence", string(p))
}

func (c *Controller) opened() {
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
	c.setState(StateOpen)
	c.logger.Info("connection_open", "owner", c.Owner())
}

func (c *Controller) closed(ctx context.Context, statusCode int, cause error) (time.Duration, error) {
	c.setState(StateClosed)

	class := backoff.Classify(statusCode)
	observability.Reconnects.WithLabelValues(class.String()).Inc()

	c.mu.Lock()
	if class == backoff.ClassTransient {
		c.attempts++
	}
	attempts := c.attempts
	c.mu.Unlock()

	d := c.opts.Policy.Next(attempts, class)
	attrs := []any{"status", statusCode, "class", class.String(), "attempts", attempts}
	if cause != nil {
		attrs = append(attrs, "error", cause.Error())
	}

	switch d.Action {
	case backoff.ActionFatal:
		c.setState(StateFatal)
		c.logger.Error("connection_rejected", attrs...)
		return 0, &FatalError{StatusCode: statusCode}

	case backoff.ActionReauthenticate:
		c.logger.Warn("connection_logged_out", append(attrs, "retry_in", d.Delay.String())...)
		if err := c.creds.Discard(ctx); err != nil {
			c.logger.Error("credentials_discard_failed", "error", err.Error())
		}
		c.mu.Lock()
		c.attempts = 0
		c.mu.Unlock()
		return d.Delay, nil

	default:
		c.logger.Warn("connection_closed", append(attrs, "retry_in", d.Delay.String())...)
		return d.Delay, nil
	}
}

func (c *Controller) startupFailed(ctx context.Context, stage string, err error) time.Duration {
	if ctx.Err() != nil {
		return 0
	}
	d := c.opts.Policy.StartupDelay(err)
	c.logger.Error("connection_start_failed", "stage", stage, "error", err.Error(), "retry_in", d.String())
	return d
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	observability.ConnectionState.Set(float64(s))
}

func (c *Controller) dispatchInbound(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for msg := range c.inbound {
		if c.opts.OnMessage == nil {
			continue
		}
		c.opts.OnMessage(ctx, msg)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
