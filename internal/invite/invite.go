// Package invite orchestrates duel invitations: it creates the pending match
// record, publishes the invite into the recipient's mailbox, and reconciles
// accept, decline, and expiry into match state transitions.
//
// Each user owns one mailbox record (mailboxes/<uid>) holding invite-id →
// invite. An invite is written into both the sender's and the recipient's
// mailbox: in the trust model used, each side may only write its own copy, so
// resolution updates both. Stale entries are reaped lazily by whichever side
// observes them, each from its own mailbox.
package invite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riftzone/riftzone/internal/game"
	"github.com/riftzone/riftzone/internal/store"
)

// DefaultTTL is how long an unanswered invite stays valid.
const DefaultTTL = 30 * time.Minute

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
)

// Invite is one mailbox entry linking to a pending match.
type Invite struct {
	From      string      `json:"from"`
	FromName  string      `json:"fromName"`
	To        string      `json:"to"`
	GameID    string      `json:"gameId"`
	QuizID    string      `json:"quizId"`
	QuizTitle string      `json:"quizTitle"`
	Status    Status      `json:"status"`
	Timestamp game.Millis `json:"timestamp"`
}

// Outcome is what a sent invite resolved to.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeDeclined Outcome = "declined"
	OutcomeExpired  Outcome = "expired"
)

// MailboxPath returns the record path of a user's invite mailbox.
func MailboxPath(userID string) string { return "mailboxes/" + userID }

// Config wires an Orchestrator for one local user.
type Config struct {
	Store  store.Store
	Logger *slog.Logger
	Self   game.Participant
	// TTL defaults to DefaultTTL.
	TTL time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Orchestrator struct {
	store store.Store
	log   *slog.Logger
	self  game.Participant
	ttl   time.Duration
	clock func() time.Time
}

func New(cfg Config) *Orchestrator {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Orchestrator{
		store: cfg.Store,
		log:   cfg.Logger.With("user", cfg.Self.ID),
		self:  cfg.Self,
		ttl:   ttl,
		clock: clock,
	}
}

// Quiz names the content an invite is for.
type Quiz struct {
	ID        string
	Title     string
	Questions []game.Question
}

// Send creates a pending match, drops the invite into both mailboxes, and
// watches for resolution. onResolved fires exactly once: on accept the match
// has already moved to starting and the caller should open its session; on
// decline or expiry the orphaned match record has been deleted. One invite
// per call, no retries; outstanding invites to the same recipient are
// independent.
func (o *Orchestrator) Send(ctx context.Context, target game.Participant, quiz Quiz, onResolved func(Outcome, string)) (inviteID, gameID string, err error) {
	gameID, err = game.CreateDuel(ctx, o.store, o.self, target, quiz.Questions, o.clock())
	if err != nil {
		return "", "", fmt.Errorf("creating match: %w", err)
	}

	inviteID = uuid.NewString()
	inv := Invite{
		From:      o.self.ID,
		FromName:  o.self.Name,
		To:        target.ID,
		GameID:    gameID,
		QuizID:    quiz.ID,
		QuizTitle: quiz.Title,
		Status:    StatusPending,
		Timestamp: game.ToMillis(o.clock()),
	}
	for _, box := range []string{MailboxPath(target.ID), MailboxPath(o.self.ID)} {
		if err := o.store.Merge(ctx, box, map[string]any{inviteID: inv}); err != nil {
			return "", "", fmt.Errorf("publishing invite: %w", err)
		}
	}

	go o.watchSent(ctx, inviteID, gameID, onResolved)
	return inviteID, gameID, nil
}

// watchSent follows the sender's own copy until the invite resolves.
func (o *Orchestrator) watchSent(ctx context.Context, inviteID, gameID string, onResolved func(Outcome, string)) {
	var once sync.Once
	resolve := func(out Outcome) {
		once.Do(func() {
			if out != OutcomeAccepted {
				o.abandon(gameID, inviteID)
			}
			o.log.Info("invite resolved", "invite", inviteID, "outcome", out)
			if onResolved != nil {
				onResolved(out, gameID)
			}
		})
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop, err := o.store.Subscribe(watchCtx, MailboxPath(o.self.ID), func(raw []byte) {
		inv, ok := decodeEntry(raw, inviteID)
		if !ok {
			resolve(OutcomeDeclined)
			cancel()
			return
		}
		switch {
		case inv.Status == StatusAccepted:
			if err := o.store.Merge(context.Background(), game.MatchPath(gameID), map[string]any{
				// State only. The combat deadline belongs to the host's
				// combat-entry write and must not be touched here.
				"state": game.StateStarting,
			}); err != nil {
				o.log.Warn("starting transition failed", "game", gameID, "error", err)
			}
			resolve(OutcomeAccepted)
			cancel()
		case inv.Status == StatusDeclined:
			resolve(OutcomeDeclined)
			cancel()
		case o.expired(inv):
			resolve(OutcomeExpired)
			cancel()
		}
	})
	if err != nil {
		o.log.Warn("watching sent invite failed", "invite", inviteID, "error", err)
		resolve(OutcomeExpired)
		return
	}
	defer stop()
	<-watchCtx.Done()
}

// Cancel withdraws an outstanding invite: both mailbox copies and the pending
// match record go away.
func (o *Orchestrator) Cancel(ctx context.Context, inviteID, targetID, gameID string) error {
	for _, box := range []string{MailboxPath(o.self.ID), MailboxPath(targetID)} {
		if err := o.store.Merge(ctx, box, map[string]any{inviteID: nil}); err != nil {
			return fmt.Errorf("removing invite: %w", err)
		}
	}
	return o.store.Delete(ctx, game.MatchPath(gameID))
}

// Watch streams pending invites addressed to the local user. Expired entries
// observed along the way are reaped from the local mailbox instead of being
// delivered — cooperative garbage collection with no single owner.
func (o *Orchestrator) Watch(ctx context.Context, onInvite func(id string, inv Invite)) (stop func(), err error) {
	seen := make(map[string]bool)
	var mu sync.Mutex

	return o.store.Subscribe(ctx, MailboxPath(o.self.ID), func(raw []byte) {
		if raw == nil {
			return
		}
		var box map[string]Invite
		if err := json.Unmarshal(raw, &box); err != nil {
			o.log.Warn("undecodable mailbox", "error", err)
			return
		}
		for id, inv := range box {
			if o.expired(inv) {
				o.reap(id)
				continue
			}
			if inv.Status != StatusPending || inv.To != o.self.ID {
				continue
			}
			mu.Lock()
			dup := seen[id]
			seen[id] = true
			mu.Unlock()
			if !dup {
				onInvite(id, inv)
			}
		}
	})
}

// Accept resolves an invite in the recipient's favor: both mailbox copies
// flip to accepted, the recipient joins the match record as a connected
// player, and the match moves to starting. The caller then opens its session.
func (o *Orchestrator) Accept(ctx context.Context, inviteID string, inv Invite) error {
	for _, box := range []string{MailboxPath(o.self.ID), MailboxPath(inv.From)} {
		if err := o.store.Merge(ctx, box, map[string]any{inviteID + "/status": StatusAccepted}); err != nil {
			return fmt.Errorf("accepting invite: %w", err)
		}
	}
	entry := game.PlayerEntry{
		Name:      o.self.Name,
		Avatar:    o.self.Avatar,
		Connected: true,
	}
	return o.store.Merge(ctx, game.MatchPath(inv.GameID), map[string]any{
		"players/" + o.self.ID: entry,
		"state":                game.StateStarting,
	})
}

// Decline resolves an invite against the sender: the recipient's copy is
// removed and the sender's copy flips to declined, which makes the sender's
// watcher delete the orphaned match.
func (o *Orchestrator) Decline(ctx context.Context, inviteID string, inv Invite) error {
	if err := o.store.Merge(ctx, MailboxPath(o.self.ID), map[string]any{inviteID: nil}); err != nil {
		return fmt.Errorf("removing invite: %w", err)
	}
	return o.store.Merge(ctx, MailboxPath(inv.From), map[string]any{inviteID + "/status": StatusDeclined})
}

func (o *Orchestrator) expired(inv Invite) bool {
	return o.clock().Sub(inv.Timestamp.Time()) > o.ttl
}

func (o *Orchestrator) abandon(gameID, inviteID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.Delete(ctx, game.MatchPath(gameID)); err != nil {
		o.log.Warn("deleting orphaned match failed", "game", gameID, "error", err)
	}
	if err := o.store.Merge(ctx, MailboxPath(o.self.ID), map[string]any{inviteID: nil}); err != nil {
		o.log.Warn("removing resolved invite failed", "invite", inviteID, "error", err)
	}
}

func (o *Orchestrator) reap(inviteID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.Merge(ctx, MailboxPath(o.self.ID), map[string]any{inviteID: nil}); err != nil {
		o.log.Warn("reaping expired invite failed", "invite", inviteID, "error", err)
	}
	o.log.Info("reaped expired invite", "invite", inviteID)
}

func decodeEntry(raw []byte, inviteID string) (Invite, bool) {
	if raw == nil {
		return Invite{}, false
	}
	var box map[string]Invite
	if err := json.Unmarshal(raw, &box); err != nil {
		return Invite{}, false
	}
	inv, ok := box[inviteID]
	return inv, ok
}
