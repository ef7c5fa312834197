package game

import (
	"errors"
	"strconv"
	"time"
)

// The lifecycle logic is a pure transition function: (machine state, event) ->
// (machine state, effects). The session owns timers and the store; the
// machine owns every decision. Kill mode, "already concluded", and "xp
// settled" are explicit phases and flags rather than scattered booleans.

// Phase is the local engine phase, derived from snapshots and local intents.
type Phase string

const (
	// PhaseLoading blocks until the record carries both players and questions.
	PhaseLoading Phase = "loading"
	// PhasePending waits for the invited opponent.
	PhasePending Phase = "pending"
	// PhaseCountdown is the display-only countdown while state=starting.
	PhaseCountdown Phase = "countdown"
	PhaseCombat    Phase = "combat"
	// PhaseKillMode is the duel-only confirmation sub-state after the last
	// answer, before the finishing write.
	PhaseKillMode Phase = "killmode"
	// PhaseConcluded means this client has either issued a finishing write or
	// observed one; no further finishing trigger may fire.
	PhaseConcluded Phase = "concluded"
	// PhaseGone means the record disappeared; the session is over.
	PhaseGone Phase = "gone"
)

var ErrWrongPhase = errors.New("action not valid in current phase")

// MachineState is everything the transition function carries between events.
// Answers and Stamps are this participant's own copy, authoritative over the
// snapshot: own writes are fire-and-forget, so the snapshot may lag them.
type MachineState struct {
	Phase   Phase
	Answers map[int]string
	Stamps  map[int]Millis
	Settled bool
}

func NewMachineState() MachineState {
	return MachineState{
		Phase:   PhaseLoading,
		Answers: make(map[int]string),
		Stamps:  make(map[int]Millis),
	}
}

// Event is an input to the machine: a store snapshot, a timer firing, or a
// local player intent.
type Event interface{ isEvent() }

// EvSnapshot carries the latest record state. A nil Match means the record is
// gone (deleted, expired, or never created).
type EvSnapshot struct{ Match *Match }

// EvCombatEntryDue fires on the host once the entry delay after starting has
// elapsed.
type EvCombatEntryDue struct{}

// EvDeadlineReached fires on the host when the combat countdown hits zero.
type EvDeadlineReached struct{}

// EvAnswer is the local player selecting an option for a question.
type EvAnswer struct {
	Index  int
	Option string
	At     time.Time
}

// EvConfirmKill is the explicit confirmation that finalizes a duel after all
// questions are answered.
type EvConfirmKill struct{}

func (EvSnapshot) isEvent()       {}
func (EvCombatEntryDue) isEvent() {}
func (EvDeadlineReached) isEvent() {}
func (EvAnswer) isEvent()         {}
func (EvConfirmKill) isEvent()    {}

// Effect is an output of the machine, executed by the session.
type Effect interface{ isEffect() }

// FxMergeSelf merges fields into this participant's own record subtrees.
type FxMergeSelf struct{ Fields map[string]any }

// FxEnterCombat asks the host to write {state: combat, endTime} guarded on
// endTime being absent, so a double-fire cannot restamp the deadline. The
// session stamps the deadline because it owns the clock.
type FxEnterCombat struct{}

// FxFinalize issues the finishing write, guarded on winner being absent.
type FxFinalize struct {
	Winner    string
	Reason    Reason
	SoloScore *int
}

// FxScheduleEntry arms the host's combat-entry timer.
type FxScheduleEntry struct{ After time.Duration }

// FxScheduleDeadline arms the host's timeout timer against the absolute
// deadline from the record.
type FxScheduleDeadline struct{ At Millis }

// FxStartCountdown starts the display-only starting countdown.
type FxStartCountdown struct{ Ticks int }

// FxSettleXP credits this participant's own user record, exactly once.
type FxSettleXP struct{ Match *Match }

// FxNotify surfaces a user-facing transition.
type FxNotify struct{ Kind Notice }

type Notice string

const (
	NoticePending  Notice = "pending"
	NoticeStarting Notice = "starting"
	NoticeCombat   Notice = "combat"
	NoticeKillMode Notice = "killmode"
	NoticeFinished Notice = "finished"
	NoticeGone     Notice = "gone"
)

func (FxMergeSelf) isEffect()        {}
func (FxEnterCombat) isEffect()      {}
func (FxFinalize) isEffect()         {}
func (FxScheduleEntry) isEffect()    {}
func (FxScheduleDeadline) isEffect() {}
func (FxStartCountdown) isEffect()   {}
func (FxSettleXP) isEffect()         {}
func (FxNotify) isEffect()           {}

// Machine evaluates events for one participant of one match.
type Machine struct {
	SelfID string
	Host   bool
	Policy Policy
}

// Step is the transition function. It never touches the store or the clock
// beyond the instants its events carry, which is what makes the lifecycle
// testable from both participants' perspectives.
func (mc *Machine) Step(st MachineState, m *Match, ev Event) (MachineState, []Effect) {
	switch e := ev.(type) {
	case EvSnapshot:
		return mc.onSnapshot(st, e.Match)
	case EvCombatEntryDue:
		if st.Phase != PhaseCountdown || !mc.Host {
			return st, nil
		}
		// The endTime guard makes a double-fire harmless and closes the
		// cross-client race.
		return st, []Effect{FxEnterCombat{}}
	case EvDeadlineReached:
		if st.Phase != PhaseCombat && st.Phase != PhaseKillMode {
			return st, nil
		}
		if !mc.Host || m == nil || m.IsSolo {
			return st, nil
		}
		st.Phase = PhaseConcluded
		return st, []Effect{FxFinalize{Winner: mc.winnerFrom(m, st), Reason: ReasonTimeout}}
	case EvAnswer:
		return mc.onAnswer(st, m, e)
	case EvConfirmKill:
		if st.Phase != PhaseKillMode || m == nil {
			return st, nil
		}
		reason := ReasonKill
		if _, opp, ok := m.Opponent(mc.SelfID); ok && len(opp.Answers) == len(m.Questions) {
			reason = ReasonNormalFinish
		}
		st.Phase = PhaseConcluded
		return st, []Effect{FxFinalize{Winner: mc.winnerFrom(m, st), Reason: reason}}
	default:
		return st, nil
	}
}

func (mc *Machine) onSnapshot(st MachineState, m *Match) (MachineState, []Effect) {
	if m == nil {
		if st.Phase == PhaseGone {
			return st, nil
		}
		st.Phase = PhaseGone
		return st, []Effect{FxNotify{NoticeGone}}
	}

	if m.State == StateFinished {
		var fx []Effect
		if !st.Settled {
			st.Settled = true
			fx = append(fx, FxSettleXP{Match: m}, FxNotify{NoticeFinished})
		}
		st.Phase = PhaseConcluded
		return st, fx
	}

	if st.Phase == PhaseConcluded {
		// Locally concluded, finishing write still in flight. Everything
		// below is a live-match transition; none may fire twice.
		return st, nil
	}

	if !m.Complete() {
		st.Phase = PhaseLoading
		return st, nil
	}

	// Rejoin: adopt own persisted answers when the local copy is empty.
	if self, ok := m.Players[mc.SelfID]; ok && len(st.Answers) == 0 && len(self.Answers) > 0 {
		st.Answers = cloneMap(self.Answers)
		st.Stamps = cloneMap(self.AnswerTimestamps)
	}

	switch m.State {
	case StatePending:
		if st.Phase == PhasePending {
			return st, nil
		}
		st.Phase = PhasePending
		return st, []Effect{FxNotify{NoticePending}}

	case StateStarting:
		if st.Phase == PhaseCountdown {
			return st, nil
		}
		st.Phase = PhaseCountdown
		fx := []Effect{
			FxNotify{NoticeStarting},
			FxStartCountdown{Ticks: mc.Policy.CountdownTicks},
		}
		if mc.Host {
			fx = append(fx, FxScheduleEntry{After: mc.Policy.CombatEntryDelay})
		}
		return st, fx

	case StateCombat:
		var fx []Effect
		if st.Phase != PhaseCombat && st.Phase != PhaseKillMode {
			st.Phase = PhaseCombat
			fx = append(fx, FxNotify{NoticeCombat})
			if mc.Host && !m.IsSolo && m.EndTime != 0 {
				fx = append(fx, FxScheduleDeadline{At: m.EndTime})
			}
		}
		// Opponent dropped while the fight is live: finish in our favor.
		if !m.IsSolo {
			if _, opp, ok := m.Opponent(mc.SelfID); ok && !opp.Connected && opp.Name != PlaceholderName {
				st.Phase = PhaseConcluded
				fx = append(fx, FxFinalize{Winner: mc.SelfID, Reason: ReasonDisconnect})
			}
		}
		return st, fx
	}
	return st, nil
}

func (mc *Machine) onAnswer(st MachineState, m *Match, e EvAnswer) (MachineState, []Effect) {
	if st.Phase != PhaseCombat || m == nil {
		return st, nil
	}
	if e.Index < 0 || e.Index >= len(m.Questions) {
		return st, nil
	}
	if _, done := st.Answers[e.Index]; done {
		return st, nil
	}

	st.Answers = cloneMap(st.Answers)
	st.Stamps = cloneMap(st.Stamps)
	st.Answers[e.Index] = e.Option
	st.Stamps[e.Index] = ToMillis(e.At)

	// Answer, timestamp, and recomputed progress land in one merge so the
	// two maps can never carry different key sets.
	idx := strconv.Itoa(e.Index)
	fx := []Effect{FxMergeSelf{Fields: map[string]any{
		PlayerField(mc.SelfID, "answers/"+idx):          e.Option,
		PlayerField(mc.SelfID, "answerTimestamps/"+idx): ToMillis(e.At),
		PlayerField(mc.SelfID, "progress"):              ProgressPercent(len(st.Answers), len(m.Questions)),
	}}}

	if !m.IsSolo && mc.Policy.SpamBurst(m.Questions, st.Answers, st.Stamps) {
		oppID, _, ok := m.Opponent(mc.SelfID)
		if ok {
			st.Phase = PhaseConcluded
			return st, append(fx, FxFinalize{Winner: oppID, Reason: ReasonSpamDetected})
		}
	}

	if len(st.Answers) == len(m.Questions) {
		if m.IsSolo {
			score := CorrectCount(m.Questions, st.Answers)
			st.Phase = PhaseConcluded
			return st, append(fx, FxFinalize{
				Winner:    mc.SelfID,
				Reason:    ReasonSoloComplete,
				SoloScore: &score,
			})
		}
		st.Phase = PhaseKillMode
		return st, append(fx, FxNotify{NoticeKillMode})
	}
	return st, fx
}

// winnerFrom scores the match with the local answer copy standing in for this
// participant's possibly-lagging persisted subtree.
func (mc *Machine) winnerFrom(m *Match, st MachineState) string {
	merged := *m
	merged.Players = make(map[string]PlayerEntry, len(m.Players))
	for id, p := range m.Players {
		if id == mc.SelfID && len(st.Answers) >= len(p.Answers) {
			p.Answers = st.Answers
			p.AnswerTimestamps = st.Stamps
		}
		merged.Players[id] = p
	}
	return DetermineWinner(&merged)
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

