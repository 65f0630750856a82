package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"vipgate-bot/internal/membership"
	"vipgate-bot/internal/metrics"
	"vipgate-bot/internal/models"
)

type Store interface {
	ListLapsed(ctx context.Context, now time.Time) ([]models.Subscriber, error)
	ListExpiring(ctx context.Context, from, to time.Time) ([]models.Subscriber, error)
	Deactivate(ctx context.Context, id int64, now time.Time) (bool, error)
}

// Notifier delivers sweep results to subscribers. Failures never stop a sweep.
type Notifier interface {
	OnAccessRevoked(ctx context.Context, ev membership.AccessRevoked) error
	OnExpiryReminder(ctx context.Context, sub models.Subscriber) error
}

type Options struct {
	Interval     time.Duration
	InitialDelay time.Duration
	// ReminderLead is how far ahead of window end a reminder goes out; zero disables reminders.
	ReminderLead time.Duration
}

// Sweeper deactivates lapsed subscribers and reminds those about to lapse.
type Sweeper struct {
	store    Store
	notifier Notifier
	redis    *redis.Client
	opts     Options
	log      *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

func NewSweeper(store Store, notifier Notifier, rdb *redis.Client, opts Options, log *slog.Logger) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	return &Sweeper{
		store:    store,
		notifier: notifier,
		redis:    rdb,
		opts:     opts,
		log:      log.With("component", "sweeper"),
		now:      time.Now,
	}
}

// Report summarises one sweep.
type Report struct {
	Lapsed   int
	Revoked  int
	Reminded int
}

// Start runs Sweep after the initial delay and then on every interval until
// ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	s.log.Info("Background expiry sweeper started",
		"initial_delay", s.opts.InitialDelay, "interval", s.opts.Interval)

	delay := time.NewTimer(s.opts.InitialDelay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-delay.C:
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx, s.now()); err != nil {
			s.log.Error("Expiry sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep deactivates every subscriber still flagged active whose window ended
// before now. Each deactivation re-checks the window in its own predicate, so
// a renewal committed after the listing wins.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.log.Info("Running expiry sweep", "now", now)

	lapsed, err := s.store.ListLapsed(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list lapsed subscribers: %w", err)
	}

	report := &Report{Lapsed: len(lapsed)}
	var errs []error
	for _, sub := range lapsed {
		revoked, err := s.store.Deactivate(ctx, sub.ID, now)
		if err != nil {
			s.log.Error("Failed to deactivate subscriber", "subscriber_id", sub.ID, "err", err)
			errs = append(errs, err)
			continue
		}
		if !revoked {
			s.log.Info("Subscriber renewed during sweep, keeping access", "subscriber_id", sub.ID)
			continue
		}

		report.Revoked++
		metrics.RevocationsTotal.Inc()
		s.log.Info("Access revoked", "subscriber_id", sub.ID, "window_end", sub.WindowEnd)

		ev := membership.AccessRevoked{SubscriberID: sub.ID, WindowEnd: sub.WindowEnd}
		if err := s.notifier.OnAccessRevoked(ctx, ev); err != nil {
			s.log.Warn("Failed to deliver revocation", "subscriber_id", sub.ID, "err", err)
		}
	}

	report.Reminded = s.remind(ctx, now)

	if err := errors.Join(errs...); err != nil {
		return report, err
	}
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	metrics.SweepLastSuccess.SetToCurrentTime()
	s.log.Info("Expiry sweep finished",
		"lapsed", report.Lapsed, "revoked", report.Revoked, "reminded", report.Reminded)
	return report, nil
}

// remind messages subscribers whose window ends within the lead, once per
// window end.
func (s *Sweeper) remind(ctx context.Context, now time.Time) int {
	if s.opts.ReminderLead <= 0 || s.redis == nil {
		return 0
	}

	expiring, err := s.store.ListExpiring(ctx, now, now.Add(s.opts.ReminderLead))
	if err != nil {
		s.log.Error("Failed to list expiring subscribers", "err", err)
		return 0
	}

	sent := 0
	for _, sub := range expiring {
		key := reminderKey(sub)
		ttl := sub.WindowEnd.Sub(now) + 24*time.Hour
		fresh, err := s.redis.SetNX(ctx, key, "1", ttl).Result()
		if err != nil {
			s.log.Warn("Failed to claim reminder", "subscriber_id", sub.ID, "err", err)
			continue
		}
		if !fresh {
			continue
		}

		if err := s.notifier.OnExpiryReminder(ctx, sub); err != nil {
			s.log.Warn("Failed to send expiry reminder", "subscriber_id", sub.ID, "err", err)
			// Release the claim so the next sweep tries again.
			s.redis.Del(ctx, key)
			continue
		}
		sent++
		metrics.RemindersTotal.Inc()
		s.log.Info("Sent expiry reminder", "subscriber_id", sub.ID, "window_end", sub.WindowEnd)
	}
	return sent
}

func reminderKey(sub models.Subscriber) string {
	return "expiry_reminder:" + strconv.FormatInt(sub.ID, 10) + ":" + strconv.FormatInt(sub.WindowEnd.Unix(), 10)
}
