package game

import (
	"testing"
	"time"
)

func duelMatch(t *testing.T, n int) *Match {
	t.Helper()
	m, err := NewDuelMatch(
		Participant{ID: "host", Name: "Alice"},
		Participant{ID: "guest", Name: "Bob"},
		questionSet(n),
		time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("building duel: %v", err)
	}
	// Both joined and fighting.
	guest := m.Players["guest"]
	guest.Name = "Bob"
	guest.Connected = true
	m.Players["guest"] = guest
	m.State = StateCombat
	m.EndTime = ToMillis(time.Date(2025, 6, 1, 12, 3, 0, 0, time.UTC))
	return m
}

func stepInto(t *testing.T, mc *Machine, m *Match) MachineState {
	t.Helper()
	st, _ := mc.Step(NewMachineState(), m, EvSnapshot{Match: m})
	if st.Phase != PhaseCombat {
		t.Fatalf("phase after combat snapshot = %s, want combat", st.Phase)
	}
	return st
}

func findFinalize(fx []Effect) (FxFinalize, bool) {
	for _, f := range fx {
		if fin, ok := f.(FxFinalize); ok {
			return fin, true
		}
	}
	return FxFinalize{}, false
}

func answerAll(t *testing.T, mc *Machine, st MachineState, m *Match, correct int) (MachineState, []Effect) {
	t.Helper()
	at := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	var fx []Effect
	for i := range m.Questions {
		opt := "right"
		if i >= correct {
			opt = "wrong1"
		}
		// Spaced a minute apart so the spam heuristic stays quiet.
		st, fx = mc.Step(st, m, EvAnswer{Index: i, Option: opt, At: at.Add(time.Duration(i) * time.Minute)})
	}
	return st, fx
}

func TestDuelCompletionEntersKillMode(t *testing.T) {
	m := duelMatch(t, 5)
	mc := &Machine{SelfID: "host", Host: true, Policy: DefaultPolicy()}
	st := stepInto(t, mc, m)

	st, fx := answerAll(t, mc, st, m, 4)

	if st.Phase != PhaseKillMode {
		t.Fatalf("phase = %s, want killmode", st.Phase)
	}
	if _, ok := findFinalize(fx); ok {
		t.Fatal("duel finalized without confirmation")
	}

	// Explicit confirmation triggers the finishing write.
	st, fx = mc.Step(st, m, EvConfirmKill{})
	fin, ok := findFinalize(fx)
	if !ok {
		t.Fatal("no finalize after confirmation")
	}
	if fin.Winner != "host" || fin.Reason != ReasonKill {
		t.Errorf("finalize = %+v, want host/kill", fin)
	}
	if st.Phase != PhaseConcluded {
		t.Errorf("phase = %s, want concluded", st.Phase)
	}
}

func TestSoloCompletionFinishesImmediately(t *testing.T) {
	m, err := NewSoloMatch(Participant{ID: "solo", Name: "Ada"}, questionSet(5), time.Now())
	if err != nil {
		t.Fatalf("building solo: %v", err)
	}
	mc := &Machine{SelfID: "solo", Host: true, Policy: DefaultPolicy()}
	st := stepInto(t, mc, m)

	st, fx := answerAll(t, mc, st, m, 3)

	fin, ok := findFinalize(fx)
	if !ok {
		t.Fatal("solo completion did not finalize")
	}
	if fin.Reason != ReasonSoloComplete || fin.Winner != "solo" {
		t.Errorf("finalize = %+v, want solo/solo_complete", fin)
	}
	if fin.SoloScore == nil || *fin.SoloScore != 3 {
		t.Errorf("soloScore = %v, want 3", fin.SoloScore)
	}
	if st.Phase != PhaseConcluded {
		t.Errorf("phase = %s, want concluded", st.Phase)
	}
}

// The same answer stream must branch on isSolo and nothing else: duel waits
// for confirmation, solo does not.
func TestSoloVersusDuelBranching(t *testing.T) {
	duel := duelMatch(t, 5)
	mcDuel := &Machine{SelfID: "host", Host: true, Policy: DefaultPolicy()}
	stDuel, fxDuel := answerAll(t, mcDuel, stepInto(t, mcDuel, duel), duel, 5)

	solo, _ := NewSoloMatch(Participant{ID: "host", Name: "Alice"}, duel.Questions, time.Now())
	mcSolo := &Machine{SelfID: "host", Host: true, Policy: DefaultPolicy()}
	stSolo, fxSolo := answerAll(t, mcSolo, stepInto(t, mcSolo, solo), solo, 5)

	if _, ok := findFinalize(fxDuel); ok || stDuel.Phase != PhaseKillMode {
		t.Error("duel should stop in killmode awaiting confirmation")
	}
	if _, ok := findFinalize(fxSolo); !ok || stSolo.Phase != PhaseConcluded {
		t.Error("solo should finalize without confirmation")
	}
}

func TestConfirmKillReasonReflectsOpponentCompletion(t *testing.T) {
	m := duelMatch(t, 3)
	opp := m.Players["guest"]
	opp.Answers = answersFrom([]bool{true, true, false})
	m.Players["guest"] = opp

	mc := &Machine{SelfID: "host", Host: true, Policy: DefaultPolicy()}
	st := stepInto(t, mc, m)
	st, _ = answerAll(t, mc, st, m, 3)

	_, fx := mc.Step(st, m, EvConfirmKill{})
	fin, ok := findFinalize(fx)
	if !ok {
		t.Fatal("no finalize")
	}
	if fin.Reason != ReasonNormalFinish {
		t.Errorf("reason = %s, want normal_finish when the opponent also completed", fin.Reason)
	}
}

// A terminal trigger may fire once per client, however often the inputs
// repeat.
func TestTerminalTriggersAreLocallyIdempotent(t *testing.T) {
	m := duelMatch(t, 5)
	mc := &Machine{SelfID: "host", Host: true, Policy: DefaultPolicy()}
	st := stepInto(t, mc, m)
	st, _ = answerAll(t, mc, st, m, 5)

	st, fx := mc.Step(st, m, EvConfirmKill{})
	if _, ok := findFinalize(fx); !ok {
		t.Fatal("first confirmation did not finalize")
	}

	st, fx = mc.Step(st, m, EvConfirmKill{})
	if _, ok := findFinalize(fx); ok {
		t.Fatal("second confirmation finalized again")
	}
	_, fx = mc.Step(st, m, EvDeadlineReached{})
	if _, ok := findFinalize(fx); ok {
		t.Fatal("deadline after conclusion finalized again")
	}
}

func TestHostTimeoutFinalizes(t *testing.T) {
	m := duelMatch(t, 5)
	host := m.Players["host"]
	host.Answers = answersFrom([]bool{true, true, true, false, false})
	m.Players["host"] = host
	guest := m.Players["guest"]
	guest.Answers = answersFrom([]bool{true, false, false, false, false})
	m.Players["guest"] = guest

	mc := &Machine{SelfID: "host", Host: true, Policy: DefaultPolicy()}
	st := stepInto(t, mc, m)

	_, fx := mc.Step(st, m, EvDeadlineReached{})
	fin, ok := findFinalize(fx)
	if !ok {
		t.Fatal("deadline did not finalize")
	}
	if fin.Winner != "host" || fin.Reason != ReasonTimeout {
		t.Errorf("finalize = %+v, want host/timeout", fin)
	}

	// Non-hosts never act on the deadline; the host is the timeout authority.
	mcGuest := &Machine{SelfID: "guest", Host: false, Policy: DefaultPolicy()}
	stGuest := stepInto(t, mcGuest, m)
	_, fx = mcGuest.Step(stGuest, m, EvDeadlineReached{})
	if _, ok := findFinalize(fx); ok {
		t.Error("non-host finalized on timeout")
	}
}

func TestOpponentDisconnectFinalizes(t *testing.T) {
	m := duelMatch(t, 5)
	guest := m.Players["guest"]
	guest.Connected = false
	m.Players["guest"] = guest

	mc := &Machine{SelfID: "host", Host: true, Policy: DefaultPolicy()}
	_, fx := mc.Step(NewMachineState(), m, EvSnapshot{Match: m})
	fin, ok := findFinalize(fx)
	if !ok {
		t.Fatal("disconnect did not finalize")
	}
	if fin.Winner != "host" || fin.Reason != ReasonDisconnect {
		t.Errorf("finalize = %+v, want host/disconnect", fin)
	}
}

func TestSpamBurstFinalizesForOpponent(t *testing.T) {
	m := duelMatch(t, 8)
	mc := &Machine{SelfID: "host", Host: true, Policy: DefaultPolicy()}
	st := stepInto(t, mc, m)

	// Five wrong answers inside ten seconds.
	at := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	var fx []Effect
	for i := 0; i < 5; i++ {
		st, fx = mc.Step(st, m, EvAnswer{Index: i, Option: "wrong1", At: at.Add(time.Duration(i*2) * time.Second)})
	}

	fin, ok := findFinalize(fx)
	if !ok {
		t.Fatal("spam burst did not finalize")
	}
	if fin.Winner != "guest" || fin.Reason != ReasonSpamDetected {
		t.Errorf("finalize = %+v, want guest/spam_detected", fin)
	}
	if st.Phase != PhaseConcluded {
		t.Errorf("phase = %s, want concluded", st.Phase)
	}
}

func TestAnswersIgnoredOutsideCombat(t *testing.T) {
	m := duelMatch(t, 5)
	m.State = StateStarting
	m.EndTime = 0

	mc := &Machine{SelfID: "host", Host: true, Policy: DefaultPolicy()}
	st, _ := mc.Step(NewMachineState(), m, EvSnapshot{Match: m})
	if st.Phase != PhaseCountdown {
		t.Fatalf("phase = %s, want countdown", st.Phase)
	}

	st, fx := mc.Step(st, m, EvAnswer{Index: 0, Option: "right", At: time.Now()})
	if len(fx) != 0 || len(st.Answers) != 0 {
		t.Error("answer accepted before combat")
	}
}

func TestDuplicateAnswerIgnored(t *testing.T) {
	m := duelMatch(t, 5)
	mc := &Machine{SelfID: "host", Host: true, Policy: DefaultPolicy()}
	st := stepInto(t, mc, m)

	st, _ = mc.Step(st, m, EvAnswer{Index: 0, Option: "right", At: time.Now()})
	st, fx := mc.Step(st, m, EvAnswer{Index: 0, Option: "wrong1", At: time.Now()})

	if len(fx) != 0 {
		t.Error("second answer for the same question produced effects")
	}
	if st.Answers[0] != "right" {
		t.Errorf("answer 0 = %q, want the first submission kept", st.Answers[0])
	}
}

func TestSnapshotGone(t *testing.T) {
	mc := &Machine{SelfID: "host", Policy: DefaultPolicy()}
	st, fx := mc.Step(NewMachineState(), nil, EvSnapshot{})
	if st.Phase != PhaseGone {
		t.Errorf("phase = %s, want gone", st.Phase)
	}
	if len(fx) != 1 {
		t.Fatalf("effects = %v, want single notify", fx)
	}
	if n, ok := fx[0].(FxNotify); !ok || n.Kind != NoticeGone {
		t.Errorf("effect = %+v, want gone notice", fx[0])
	}
}

func TestFinishedSnapshotSettlesOnce(t *testing.T) {
	m := duelMatch(t, 5)
	m.State = StateFinished
	m.Winner = "guest"
	m.Reason = ReasonKill

	mc := &Machine{SelfID: "host", Policy: DefaultPolicy()}
	st, fx := mc.Step(NewMachineState(), m, EvSnapshot{Match: m})

	settles := 0
	for _, f := range fx {
		if _, ok := f.(FxSettleXP); ok {
			settles++
		}
	}
	if settles != 1 {
		t.Fatalf("settle effects on first finished snapshot = %d, want 1", settles)
	}

	// Re-delivered finished snapshots must not settle again.
	_, fx = mc.Step(st, m, EvSnapshot{Match: m})
	for _, f := range fx {
		if _, ok := f.(FxSettleXP); ok {
			t.Fatal("second finished snapshot settled again")
		}
	}
}

func TestIncompleteRecordBlocksInLoading(t *testing.T) {
	m := duelMatch(t, 5)
	m.Questions = nil

	mc := &Machine{SelfID: "host", Policy: DefaultPolicy()}
	st, fx := mc.Step(NewMachineState(), m, EvSnapshot{Match: m})
	if st.Phase != PhaseLoading {
		t.Errorf("phase = %s, want loading", st.Phase)
	}
	if len(fx) != 0 {
		t.Errorf("effects on incomplete record: %v", fx)
	}
}
