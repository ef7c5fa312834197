package game

import (
	"testing"
	"time"
)

// questionSet builds n questions whose correct answer is always "right".
func questionSet(n int) []Question {
	qs := make([]Question, n)
	for i := range qs {
		qs[i] = Question{
			Question:      "q",
			Options:       []string{"right", "wrong1", "wrong2", "wrong3"},
			CorrectAnswer: "right",
		}
	}
	return qs
}

// answersFrom maps a correctness pattern onto an answer set.
func answersFrom(pattern []bool) map[int]string {
	out := make(map[int]string, len(pattern))
	for i, ok := range pattern {
		if ok {
			out[i] = "right"
		} else {
			out[i] = "wrong1"
		}
	}
	return out
}

func TestDetermineWinner(t *testing.T) {
	tests := []struct {
		name string
		a, b []bool
		want string
	}{
		{"a ahead", []bool{true, true, true, false, false}, []bool{true, false, false, false, false}, "a"},
		{"b ahead", []bool{false, false, false, false, false}, []bool{true, true, false, false, false}, "b"},
		// The concrete draw scenario: 3/5 against 3/5 with different patterns.
		{"draw", []bool{true, true, false, false, true}, []bool{true, false, true, true, false}, WinnerDraw},
		{"all unanswered", nil, nil, WinnerDraw},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Match{
				Questions: questionSet(5),
				Players: map[string]PlayerEntry{
					"a": {Answers: answersFrom(tt.a)},
					"b": {Answers: answersFrom(tt.b)},
				},
			}
			if got := DetermineWinner(m); got != tt.want {
				t.Errorf("winner = %q, want %q", got, tt.want)
			}
		})
	}
}

// Win determination has no "perspective": both participants compute it from
// the same record and must always agree.
func TestDetermineWinnerPerspectiveIndependent(t *testing.T) {
	m := &Match{
		Questions: questionSet(5),
		Players: map[string]PlayerEntry{
			"a": {Answers: answersFrom([]bool{true, true, false, false, true})},
			"b": {Answers: answersFrom([]bool{true, false, true, false, false})},
		},
	}
	for _, viewer := range []string{"a", "b"} {
		mc := &Machine{SelfID: viewer, Policy: DefaultPolicy()}
		if got := mc.winnerFrom(m, NewMachineState()); got != "a" {
			t.Errorf("winner from %s's side = %q, want a", viewer, got)
		}
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		answered, total, want int
	}{
		{0, 8, 0},
		{1, 8, 12},
		{3, 8, 37},
		{8, 8, 100},
		{2, 3, 66},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := ProgressPercent(tt.answered, tt.total); got != tt.want {
			t.Errorf("ProgressPercent(%d, %d) = %d, want %d", tt.answered, tt.total, got, tt.want)
		}
	}
}

// Progress must be non-decreasing however the answer indices arrive.
func TestProgressMonotonic(t *testing.T) {
	total := 7
	order := []int{4, 0, 6, 2, 1, 5, 3}
	prev := 0
	for n := range order {
		got := ProgressPercent(n+1, total)
		if got < prev {
			t.Fatalf("progress dropped from %d to %d after %d answers", prev, got, n+1)
		}
		if want := (n + 1) * 100 / total; got != want {
			t.Fatalf("progress after %d answers = %d, want %d", n+1, got, want)
		}
		prev = got
	}
}

func TestSpamBurst(t *testing.T) {
	pol := DefaultPolicy()
	qs := questionSet(10)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// build lays out answers at evenly spaced instants covering span.
	build := func(wrong int, span time.Duration, count int) (map[int]string, map[int]Millis) {
		answers := make(map[int]string)
		stamps := make(map[int]Millis)
		step := span / time.Duration(count-1)
		for i := 0; i < count; i++ {
			if i < wrong {
				answers[i] = "wrong1"
			} else {
				answers[i] = "right"
			}
			stamps[i] = ToMillis(base.Add(time.Duration(i) * step))
		}
		return answers, stamps
	}

	tests := []struct {
		name  string
		wrong int
		span  time.Duration
		count int
		want  bool
	}{
		{"fast and wrong", 4, 40 * time.Second, 5, true},
		{"slow and wrong", 4, 50 * time.Second, 5, false},
		{"fast but accurate enough", 3, 30 * time.Second, 5, false},
		{"too few answers", 4, 10 * time.Second, 4, false},
		{"all wrong instantly", 5, 0, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answers, stamps := build(tt.wrong, tt.span, tt.count)
			if got := pol.SpamBurst(qs, answers, stamps); got != tt.want {
				t.Errorf("SpamBurst = %v, want %v", got, tt.want)
			}
		})
	}
}

// Only the five most recent answers count: a slow, wrong early game followed
// by an accurate finish is not spam.
func TestSpamBurstUsesMostRecentOnly(t *testing.T) {
	pol := DefaultPolicy()
	qs := questionSet(10)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	answers := make(map[int]string)
	stamps := make(map[int]Millis)
	// Five wrong answers spread over ten minutes.
	for i := 0; i < 5; i++ {
		answers[i] = "wrong1"
		stamps[i] = ToMillis(base.Add(time.Duration(i) * 2 * time.Minute))
	}
	// Then five correct answers inside ten seconds.
	for i := 5; i < 10; i++ {
		answers[i] = "right"
		stamps[i] = ToMillis(base.Add(20*time.Minute + time.Duration(i)*time.Second))
	}
	if pol.SpamBurst(qs, answers, stamps) {
		t.Error("accurate recent burst flagged as spam")
	}
}

func TestXPDelta(t *testing.T) {
	pol := DefaultPolicy()
	score := 6

	tests := []struct {
		name string
		m    Match
		want int
	}{
		{"win", Match{Winner: "me"}, pol.XPWin},
		{"loss", Match{Winner: "them"}, pol.XPLoss},
		{"draw", Match{Winner: WinnerDraw}, pol.XPDraw},
		{"solo", Match{IsSolo: true, SoloScore: &score}, 6 * pol.XPSolo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pol.XPDelta(&tt.m, "me"); got != tt.want {
				t.Errorf("XPDelta = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValidateQuestions(t *testing.T) {
	good := questionSet(1)
	if err := ValidateQuestions(good); err != nil {
		t.Fatalf("valid set rejected: %v", err)
	}

	bad := []struct {
		name string
		q    Question
	}{
		{"three options", Question{Options: []string{"a", "b", "c"}, CorrectAnswer: "a"}},
		{"duplicate option", Question{Options: []string{"a", "a", "b", "c"}, CorrectAnswer: "a"}},
		{"empty option", Question{Options: []string{"a", "", "b", "c"}, CorrectAnswer: "a"}},
		{"correct not listed", Question{Options: []string{"a", "b", "c", "d"}, CorrectAnswer: "e"}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateQuestions([]Question{tt.q}); err == nil {
				t.Error("invalid question accepted")
			}
		})
	}
	if err := ValidateQuestions(nil); err == nil {
		t.Error("empty set accepted")
	}
}
