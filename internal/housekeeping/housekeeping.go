// Package housekeeping reclaims abandoned shared records: match records past
// their retention window and invite mailbox entries past their TTL. The
// lifecycle engine never depends on this; a stale record is a cosmetic leak,
// not a correctness problem.
package housekeeping

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/riftzone/riftzone/internal/game"
	"github.com/riftzone/riftzone/internal/invite"
	"github.com/riftzone/riftzone/internal/store"
)

type Sweeper struct {
	store     store.Store
	log       *slog.Logger
	retention time.Duration
	inviteTTL time.Duration
	sched     gocron.Scheduler
	clock     func() time.Time
}

func New(st store.Store, log *slog.Logger, retention, inviteTTL time.Duration) *Sweeper {
	return &Sweeper{
		store:     st,
		log:       log,
		retention: retention,
		inviteTTL: inviteTTL,
		clock:     time.Now,
	}
}

// Start schedules the sweep at the given interval until Stop.
func (s *Sweeper) Start(interval time.Duration) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			s.Sweep(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("scheduling sweep: %w", err)
	}
	s.sched = sched
	sched.Start()
	return nil
}

func (s *Sweeper) Stop() error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Shutdown()
}

// Sweep runs one pass over matches and mailboxes.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweepMatches(ctx)
	s.sweepMailboxes(ctx)
}

func (s *Sweeper) sweepMatches(ctx context.Context) {
	ids, err := s.store.List(ctx, game.MatchesCollection)
	if err != nil {
		s.log.Warn("listing matches failed", "error", err)
		return
	}
	cutoff := game.ToMillis(s.clock().Add(-s.retention))
	removed := 0
	for _, id := range ids {
		var m game.Match
		if err := s.store.Read(ctx, game.MatchPath(id), &m); err != nil {
			continue
		}
		if m.CreatedAt >= cutoff {
			continue
		}
		if err := s.store.Delete(ctx, game.MatchPath(id)); err != nil {
			s.log.Warn("deleting stale match failed", "match", id, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("stale matches removed", "count", removed)
	}
}

func (s *Sweeper) sweepMailboxes(ctx context.Context) {
	ids, err := s.store.List(ctx, "mailboxes")
	if err != nil {
		s.log.Warn("listing mailboxes failed", "error", err)
		return
	}
	cutoff := game.ToMillis(s.clock().Add(-s.inviteTTL))
	removed := 0
	for _, uid := range ids {
		path := invite.MailboxPath(uid)
		var box map[string]json.RawMessage
		if err := s.store.Read(ctx, path, &box); err != nil {
			continue
		}
		expired := make(map[string]any)
		for invID, raw := range box {
			var entry struct {
				Timestamp game.Millis `json:"timestamp"`
			}
			if err := json.Unmarshal(raw, &entry); err != nil || entry.Timestamp < cutoff {
				expired[invID] = nil
			}
		}
		if len(expired) == 0 {
			continue
		}
		if err := s.store.Merge(ctx, path, expired); err != nil {
			s.log.Warn("reaping mailbox failed", "mailbox", uid, "error", err)
			continue
		}
		removed += len(expired)
	}
	if removed > 0 {
		s.log.Info("expired invites removed", "count", removed)
	}
}
