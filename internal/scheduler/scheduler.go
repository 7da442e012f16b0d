package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cybercyphers/cyphbeta/internal/observability"
)

var (
	ErrInvalidFormat = errors.New("invalid time format, use HH:MM:SS (24-hour)")
	ErrAlreadyPassed = errors.New("scheduled time has already passed")
	ErrEmptyMessage  = errors.New("message must not be empty")
	ErrEmptyTarget   = errors.New("target channel must not be empty")
)

// Deliverer sends text to a channel and returns the backend message id.
type Deliverer interface {
	Deliver(ctx context.Context, chat, text string) (string, error)
}

// Receipts remembers which records were already handed to the backend.
type Receipts interface {
	StoreSent(ctx context.Context, scheduleID, remoteMessageID string, sentAt time.Time) error
	LookupSent(ctx context.Context, scheduleID string) (bool, error)
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithReceipts(r Receipts) Option {
	return func(s *Scheduler) { s.receipts = r }
}

func WithIDs(newID func(time.Time) string) Option {
	return func(s *Scheduler) { s.newID = newID }
}

type armed struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler owns one timer per pending record and fires it at the record's time.
type Scheduler struct {
	store    Store
	deliver  Deliverer
	receipts Receipts
	now      func() time.Time
	newID    func(time.Time) string
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timers map[string]armed
	gen    uint64
	closed bool
	fires  sync.WaitGroup
}

func New(store Store, deliver Deliverer, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:   store,
		deliver: deliver,
		now:     time.Now,
		newID:   newULID,
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
		timers:  make(map[string]armed),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newULID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// Create stores a Pending record for target and arms it.
func (s *Scheduler) Create(ctx context.Context, target, payload string, fireAt time.Time) (Record, error) {
	now := s.now()
	if !fireAt.After(now) {
		observability.ScheduleOps.WithLabelValues("create", "rejected").Inc()
		return Record{}, ErrAlreadyPassed
	}
	return s.create(ctx, now, Record{
		Target:   target,
		Payload:  payload,
		FireAtMs: fireAt.UnixMilli(),
	})
}

// Set schedules text for the next occurrence of timeOfDay: today if it is
// still ahead, tomorrow otherwise.
func (s *Scheduler) Set(ctx context.Context, channel, timeOfDay, text string) (Record, error) {
	tod, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		observability.ScheduleOps.WithLabelValues("set", "rejected").Inc()
		return Record{}, err
	}
	now := s.now()
	return s.create(ctx, now, Record{
		TimeOfDay: tod.String(),
		Target:    channel,
		Payload:   text,
		FireAtMs:  tod.Next(now).UnixMilli(),
	})
}

func (s *Scheduler) create(ctx context.Context, now time.Time, rec Record) (Record, error) {
	if strings.TrimSpace(rec.Target) == "" {
		return Record{}, ErrEmptyTarget
	}
	if strings.TrimSpace(rec.Payload) == "" {
		return Record{}, ErrEmptyMessage
	}
	rec.ID = s.newID(now)
	rec.Status = Pending

	if err := s.store.Append(ctx, rec); err != nil {
		observability.ScheduleOps.WithLabelValues("create", "error").Inc()
		return Record{}, fmt.Errorf("persist schedule: %w", err)
	}
	s.arm(rec)

	observability.ScheduleOps.WithLabelValues("create", "ok").Inc()
	s.logger.Info("schedule_created",
		"id", rec.ID,
		"target", rec.Target,
		"fire_at", rec.FireAt().Format(time.RFC3339),
	)
	return rec, nil
}

// List returns Pending records for channel ordered by fire time. An empty
// channel lists every channel.
func (s *Scheduler) List(ctx context.Context, channel string) ([]Record, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if !r.IsPending() {
			continue
		}
		if channel != "" && r.Target != channel {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FireAtMs < out[j].FireAtMs })
	return out, nil
}

// Cancel removes the record only when it belongs to channel.
func (s *Scheduler) Cancel(ctx context.Context, id, channel string) (bool, error) {
	removed, err := s.store.Remove(ctx, id, channel)
	if err != nil {
		observability.ScheduleOps.WithLabelValues("cancel", "error").Inc()
		return false, err
	}
	if !removed {
		observability.ScheduleOps.WithLabelValues("cancel", "not_found").Inc()
		return false, nil
	}
	s.disarm(id)

	observability.ScheduleOps.WithLabelValues("cancel", "ok").Inc()
	s.logger.Info("schedule_cancelled", "id", id, "target", channel)
	return true, nil
}

// LoadAndArm arms every Pending record in the store. Overdue records fire on
// the next timer tick.
func (s *Scheduler) LoadAndArm(ctx context.Context) (future, overdue int, err error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load schedules: %w", err)
	}
	now := s.now()
	for _, r := range recs {
		if !r.IsPending() {
			continue
		}
		if r.FireAt().After(now) {
			future++
		} else {
			overdue++
		}
		s.arm(r)
	}
	s.logger.Info("schedules_loaded", "future", future, "overdue", overdue)
	return future, overdue, nil
}

// Fire delivers the record now and drops its timer. On failure the record
// stays Pending.
func (s *Scheduler) Fire(ctx context.Context, id string) error {
	defer s.disarm(id)
	return s.fire(ctx, id)
}

// Cleanup removes Sent records delivered more than horizon ago.
func (s *Scheduler) Cleanup(ctx context.Context, horizon time.Duration) (int, error) {
	n, err := s.store.Prune(ctx, s.now().Add(-horizon))
	if err != nil {
		observability.ScheduleOps.WithLabelValues("cleanup", "error").Inc()
		return 0, err
	}
	observability.ScheduleOps.WithLabelValues("cleanup", "ok").Inc()
	if n > 0 {
		s.logger.Info("schedules_pruned", "removed", n, "horizon", horizon.String())
	}
	return n, nil
}

// Armed reports whether id currently holds a timer.
func (s *Scheduler) Armed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// Close disarms every timer and waits for in-flight deliveries without
// canceling them. The wait is bounded by the deliverer: behind the delivery
// sender that is the rate limiter's queue plus one gateway request, which the
// HTTP client caps at GATEWAY_DIAL_TIMEOUT (30s by default).
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.fires.Wait()
	s.cancel()
}

func (s *Scheduler) arm(rec Record) {
	delay := rec.FireAt().Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if cur, ok := s.timers[rec.ID]; ok {
		cur.timer.Stop()
	}
	s.gen++
	gen, id := s.gen, rec.ID
	s.timers[id] = armed{
		gen:   gen,
		timer: time.AfterFunc(delay, func() { s.onTimer(id, gen) }),
	}
}

func (s *Scheduler) disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.timers[id]; ok {
		cur.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) onTimer(id string, gen uint64) {
	s.mu.Lock()
	cur, ok := s.timers[id]
	if !ok || cur.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.fires.Add(1)
	s.mu.Unlock()
	defer s.fires.Done()

	_ = s.fire(s.ctx, id)

	s.mu.Lock()
	if cur, ok := s.timers[id]; ok && cur.gen == gen {
		delete(s.timers, id)
	}
	s.mu.Unlock()
}

func (s *Scheduler) fire(ctx context.Context, id string) error {
	rec, ok, err := s.find(ctx, id)
	if err != nil {
		observability.ScheduleFires.WithLabelValues("error").Inc()
		s.logger.Error("schedule_fire_load_failed", "id", id, "error", err.Error())
		return err
	}
	if !ok || !rec.IsPending() {
		observability.ScheduleFires.WithLabelValues("skipped").Inc()
		return nil
	}

	if s.receipts != nil {
		seen, err := s.receipts.LookupSent(ctx, id)
		switch {
		case err != nil:
			s.logger.Warn("schedule_receipt_lookup_failed", "id", id, "error", err.Error())
		case seen:
			s.logger.Info("schedule_receipt_found", "id", id)
			return s.markSent(ctx, rec, s.now())
		}
	}

	remoteID, err := s.deliver.Deliver(ctx, rec.Target, FormatDelivery(rec))
	if err != nil {
		observability.ScheduleFires.WithLabelValues("failed").Inc()
		s.logger.Warn("schedule_fire_failed", "id", id, "target", rec.Target, "error", err.Error())
		return fmt.Errorf("deliver %s: %w", id, err)
	}

	sentAt := s.now()
	if s.receipts != nil {
		if err := s.receipts.StoreSent(ctx, id, remoteID, sentAt); err != nil {
			s.logger.Warn("schedule_receipt_store_failed", "id", id, "error", err.Error())
		}
	}
	return s.markSent(ctx, rec, sentAt)
}

func (s *Scheduler) markSent(ctx context.Context, rec Record, sentAt time.Time) error {
	if _, err := s.store.MarkSent(ctx, rec.ID, sentAt); err != nil {
		observability.ScheduleFires.WithLabelValues("error").Inc()
		s.logger.Error("schedule_mark_sent_failed", "id", rec.ID, "error", err.Error())
		return fmt.Errorf("mark %s sent: %w", rec.ID, err)
	}
	observability.ScheduleFires.WithLabelValues("sent").Inc()
	s.logger.Info("schedule_sent", "id", rec.ID, "target", rec.Target)
	return nil
}

func (s *Scheduler) find(ctx context.Context, id string) (Record, bool, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range recs {
		if r.ID == id {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

// FormatDelivery is the text a fired record produces.
func FormatDelivery(rec Record) string {
	label := rec.TimeOfDay
	if label == "" {
		label = rec.FireAt().Format("15:04:05")
	}
	return fmt.Sprintf("⏰ Scheduled Message (%s):\n%s", label, rec.Payload)
}
