// Package bot is the headless practice opponent: it watches its own invite
// mailbox, accepts duels, and plays them through a normal game session with a
// configured accuracy and pace. From the other player's point of view it is
// just another client of the shared store.
package bot

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/riftzone/riftzone/internal/game"
	"github.com/riftzone/riftzone/internal/invite"
	"github.com/riftzone/riftzone/internal/store"
)

// Strategy tunes how the bot plays.
type Strategy struct {
	// Accuracy is the probability of choosing the correct option.
	Accuracy float64
	// AnswerDelay is the average think time per question; actual delays
	// jitter around it so the pace never trips the anti-spam heuristic.
	AnswerDelay time.Duration
}

type Bot struct {
	store  store.Store
	log    *slog.Logger
	self   game.Participant
	policy game.Policy
	strat  Strategy
	orch   *invite.Orchestrator
}

func New(st store.Store, log *slog.Logger, self game.Participant, policy game.Policy, strat Strategy, ttl time.Duration) *Bot {
	return &Bot{
		store:  st,
		log:    log.With("bot", self.ID),
		self:   self,
		policy: policy,
		strat:  strat,
		orch: invite.New(invite.Config{
			Store:  st,
			Logger: log,
			Self:   self,
			TTL:    ttl,
		}),
	}
}

// Run accepts and plays incoming duels until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	stop, err := b.orch.Watch(ctx, func(id string, inv invite.Invite) {
		go b.play(ctx, id, inv)
	})
	if err != nil {
		return err
	}
	defer stop()

	b.log.Info("accepting duel invites")
	<-ctx.Done()
	return nil
}

func (b *Bot) play(ctx context.Context, inviteID string, inv invite.Invite) {
	log := b.log.With("match", inv.GameID, "from", inv.From)

	if err := b.orch.Accept(ctx, inviteID, inv); err != nil {
		log.Warn("accepting invite failed", "error", err)
		return
	}

	sess := game.NewSession(game.SessionConfig{
		Store:   b.store,
		Logger:  b.log,
		MatchID: inv.GameID,
		Self:    b.self,
		Policy:  b.policy,
	})
	if err := sess.Start(ctx); err != nil {
		log.Warn("joining match failed", "error", err)
		return
	}
	defer sess.Close()

	log.Info("duel accepted", "quiz", inv.QuizTitle)

	var answering context.CancelFunc
	defer func() {
		if answering != nil {
			answering()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-sess.Updates():
			switch u.Notice {
			case game.NoticeCombat:
				if answering == nil && u.Match != nil {
					actx, cancel := context.WithCancel(ctx)
					answering = cancel
					go b.answerAll(actx, sess, u.Match.Questions)
				}
			case game.NoticeKillMode:
				sess.ConfirmKill()
			case game.NoticeFinished:
				if u.Match != nil {
					log.Info("duel finished", "winner", u.Match.Winner, "reason", u.Match.Reason)
				}
				return
			case game.NoticeGone:
				log.Info("match record disappeared")
				return
			}
		}
	}
}

func (b *Bot) answerAll(ctx context.Context, sess *game.Session, questions []game.Question) {
	for i, q := range questions {
		delay := jitter(b.strat.AnswerDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		sess.SubmitAnswer(i, b.pick(q))
	}
}

func (b *Bot) pick(q game.Question) string {
	if rand.Float64() < b.strat.Accuracy {
		return q.CorrectAnswer
	}
	wrong := make([]string, 0, len(q.Options)-1)
	for _, o := range q.Options {
		if o != q.CorrectAnswer {
			wrong = append(wrong, o)
		}
	}
	if len(wrong) == 0 {
		return q.CorrectAnswer
	}
	return wrong[rand.IntN(len(wrong))]
}

// jitter spreads d over ±30%.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	f := 0.7 + 0.6*rand.Float64()
	return time.Duration(float64(d) * f)
}
