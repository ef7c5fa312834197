package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/riftzone/riftzone/internal/store"
)

// NoticeTick is emitted once per display-countdown tick during the starting
// phase. Never persisted; every client runs its own.
const NoticeTick Notice = "tick"

// Update is what the session surfaces to its presentation layer.
type Update struct {
	Notice Notice
	// Tick is the remaining tick count, set for NoticeTick only.
	Tick int
	// Match is the snapshot current at emission; nil for NoticeGone.
	Match *Match
}

// SessionConfig wires one participant into one match.
type SessionConfig struct {
	Store   store.Store
	Logger  *slog.Logger
	MatchID string
	Self    Participant
	Policy  Policy
	// Clock defaults to time.Now. Tests inject their own.
	Clock func() time.Time
}

// Session drives one participant's side of a match. Every connected
// participant runs the same logic against the same shared record; the host is
// additionally responsible for the combat-entry and timeout transitions. The
// session is the impure shell around Machine: it owns the store subscription,
// the timers, and the outbox, and forwards everything as events.
type Session struct {
	store  store.Store
	log    *slog.Logger
	clock  func() time.Time
	policy Policy

	matchID string
	self    Participant

	mu      sync.Mutex
	machine Machine
	st      MachineState
	cur     *Match
	started bool

	outbox  *outbox
	updates chan Update

	ctx     context.Context
	cancel  context.CancelFunc
	stopSub func()
	timers  []*time.Timer
}

func NewSession(cfg SessionConfig) *Session {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		store:   cfg.Store,
		log:     cfg.Logger.With("match", cfg.MatchID, "player", cfg.Self.ID),
		clock:   clock,
		policy:  cfg.Policy,
		matchID: cfg.MatchID,
		self:    cfg.Self,
		st:      NewMachineState(),
		outbox:  newOutbox(cfg.Logger),
		updates: make(chan Update, 32),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start joins the match: marks this participant connected, registers the
// disconnect will, and begins consuming snapshots. Joining is the one
// load-bearing write, so unlike everything after it, failure is returned.
func (s *Session) Start(ctx context.Context) error {
	path := MatchPath(s.matchID)

	var m Match
	if err := s.store.Read(ctx, path, &m); err != nil {
		return fmt.Errorf("reading match %s: %w", s.matchID, err)
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.started = true
	s.machine = Machine{SelfID: s.self.ID, Host: m.HostID == s.self.ID, Policy: s.policy}
	s.mu.Unlock()

	if err := s.store.Merge(ctx, path, map[string]any{
		PlayerField(s.self.ID, "connected"): true,
	}); err != nil {
		return fmt.Errorf("marking connected: %w", err)
	}
	if err := s.store.RegisterOnDisconnect(ctx, path, map[string]any{
		PlayerField(s.self.ID, "connected"): false,
	}); err != nil {
		return fmt.Errorf("registering disconnect will: %w", err)
	}

	stop, err := s.store.Subscribe(s.ctx, path, s.onRaw)
	if err != nil {
		return fmt.Errorf("subscribing to match: %w", err)
	}
	s.mu.Lock()
	s.stopSub = stop
	s.mu.Unlock()
	return nil
}

func (s *Session) onRaw(raw []byte) {
	if raw == nil {
		s.dispatch(EvSnapshot{})
		return
	}
	var m Match
	if err := json.Unmarshal(raw, &m); err != nil {
		s.log.Warn("undecodable match snapshot", "error", err)
		return
	}
	s.dispatch(EvSnapshot{Match: &m})
}

// SubmitAnswer records the player's option for a question. Valid only during
// combat; anything else is silently ignored, matching the read-driven design.
func (s *Session) SubmitAnswer(index int, option string) {
	s.dispatch(EvAnswer{Index: index, Option: option, At: s.clock()})
}

// ConfirmKill finalizes a duel from kill mode. No-op in any other phase.
func (s *Session) ConfirmKill() {
	s.dispatch(EvConfirmKill{})
}

// Phase reports the local engine phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Phase
}

// Snapshot returns the latest observed record, nil before the first snapshot
// or after the record disappeared.
func (s *Session) Snapshot() *Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Remaining derives the combat countdown from the absolute deadline, so a
// client that joins late computes the same value as everyone else.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	m := s.cur
	s.mu.Unlock()
	if m == nil || m.EndTime == 0 {
		return 0
	}
	if left := m.EndTime.Time().Sub(s.clock()); left > 0 {
		return left
	}
	return 0
}

// Updates is the stream of user-facing transitions. Slow consumers lose
// updates rather than stalling the engine.
func (s *Session) Updates() <-chan Update { return s.updates }

// Close leaves the match. Leaving is a plain navigation-away: no state
// transition is written, housekeeping reclaims abandoned records later.
func (s *Session) Close() error {
	s.cancel()
	s.mu.Lock()
	stop := s.stopSub
	s.stopSub = nil
	timers := s.timers
	s.timers = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, t := range timers {
		t.Stop()
	}
	s.outbox.close()
	return nil
}

func (s *Session) dispatch(ev Event) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	if snap, ok := ev.(EvSnapshot); ok {
		s.cur = snap.Match
	}
	st, fx := s.machine.Step(s.st, s.cur, ev)
	s.st = st
	cur := s.cur
	s.mu.Unlock()

	for _, f := range fx {
		s.applyEffect(f, cur)
	}
}

func (s *Session) applyEffect(f Effect, cur *Match) {
	path := MatchPath(s.matchID)
	switch fx := f.(type) {
	case FxMergeSelf:
		s.outbox.enqueue("answer", func(ctx context.Context) error {
			return s.store.Merge(ctx, path, fx.Fields)
		})

	case FxEnterCombat:
		end := ToMillis(s.clock().Add(s.policy.CombatDuration))
		s.outbox.enqueue("combat-entry", func(ctx context.Context) error {
			_, err := s.store.MergeIfAbsent(ctx, path, "endTime", map[string]any{
				"state":   StateCombat,
				"endTime": end,
			})
			return err
		})

	case FxFinalize:
		fields := map[string]any{
			"state":  StateFinished,
			"winner": fx.Winner,
			"reason": fx.Reason,
		}
		if fx.SoloScore != nil {
			fields["soloScore"] = *fx.SoloScore
		}
		s.log.Info("finalizing match", "winner", fx.Winner, "reason", fx.Reason)
		s.outbox.enqueue("finalize", func(ctx context.Context) error {
			applied, err := s.store.MergeIfAbsent(ctx, path, "winner", fields)
			if err == nil && !applied {
				s.log.Info("lost finalizing race, keeping peer outcome")
			}
			return err
		})

	case FxScheduleEntry:
		s.afterFunc(fx.After, func() { s.dispatch(EvCombatEntryDue{}) })

	case FxScheduleDeadline:
		s.afterFunc(fx.At.Time().Sub(s.clock()), func() { s.dispatch(EvDeadlineReached{}) })

	case FxStartCountdown:
		go s.runCountdown(fx.Ticks)

	case FxSettleXP:
		delta := s.policy.XPDelta(fx.Match, s.self.ID)
		if delta == 0 {
			return
		}
		userPath := UserPath(s.self.ID)
		s.outbox.enqueue("xp-settle", func(ctx context.Context) error {
			var user struct {
				XP int `json:"xp"`
			}
			if err := s.store.Read(ctx, userPath, &user); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			return s.store.Merge(ctx, userPath, map[string]any{"xp": user.XP + delta})
		})

	case FxNotify:
		s.emit(Update{Notice: fx.Kind, Match: cur})
	}
}

func (s *Session) afterFunc(d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}
	t := time.AfterFunc(d, func() {
		select {
		case <-s.ctx.Done():
		default:
			fn()
		}
	})
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
}

// runCountdown emits the display-only ticks at one-second cadence.
func (s *Session) runCountdown(ticks int) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for left := ticks; left > 0; left-- {
		s.emit(Update{Notice: NoticeTick, Tick: left, Match: s.Snapshot()})
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Session) emit(u Update) {
	select {
	case s.updates <- u:
	default:
		s.log.Debug("update dropped, slow consumer", "notice", u.Notice)
	}
}

// CreateDuel writes a fresh pending duel record and returns its id. Used by
// invite orchestration; the record stays pending until the invite resolves.
func CreateDuel(ctx context.Context, st store.Store, host, guest Participant, questions []Question, now time.Time) (string, error) {
	m, err := NewDuelMatch(host, guest, questions, now)
	if err != nil {
		return "", err
	}
	return st.Create(ctx, MatchesCollection, m)
}

// StartSolo creates a solo match and opens a running session on it.
func StartSolo(ctx context.Context, st store.Store, log *slog.Logger, self Participant, questions []Question, pol Policy) (*Session, string, error) {
	m, err := NewSoloMatch(self, questions, time.Now())
	if err != nil {
		return nil, "", err
	}
	id, err := st.Create(ctx, MatchesCollection, m)
	if err != nil {
		return nil, "", fmt.Errorf("creating solo match: %w", err)
	}
	sess := NewSession(SessionConfig{
		Store:   st,
		Logger:  log,
		MatchID: id,
		Self:    self,
		Policy:  pol,
	})
	if err := sess.Start(ctx); err != nil {
		sess.Close()
		return nil, "", err
	}
	return sess, id, nil
}
