package game

import "time"

// Policy carries the tunable match constants. The anti-spam numbers are a
// heuristic, not a contract; they are configuration, with these defaults.
type Policy struct {
	// CombatDuration is the length of the combat phase; the host stamps
	// endTime = now + CombatDuration when combat begins.
	CombatDuration time.Duration

	// CombatEntryDelay is how long after starting begins the host flips the
	// match into combat. Sized to let the entrance animation finish.
	CombatEntryDelay time.Duration

	// CountdownTicks is the number of display-only one-second ticks during the
	// starting phase.
	CountdownTicks int

	// SpamSample, SpamWindow, SpamWrongMin: once a player has answered at
	// least SpamSample questions, look at the SpamSample most recent answers;
	// if they span less than SpamWindow and at least SpamWrongMin of them are
	// wrong, the burst counts as spam and the opponent wins.
	SpamSample   int
	SpamWindow   time.Duration
	SpamWrongMin int

	// XP settlement, applied by each client to its own user record.
	XPWin  int
	XPDraw int
	XPLoss int
	XPSolo int
}

// DefaultPolicy returns the stock constants.
func DefaultPolicy() Policy {
	return Policy{
		CombatDuration:   180 * time.Second,
		CombatEntryDelay: 5500 * time.Millisecond,
		CountdownTicks:   4,
		SpamSample:       5,
		SpamWindow:       45 * time.Second,
		SpamWrongMin:     4,
		XPWin:            100,
		XPDraw:           50,
		XPLoss:           25,
		XPSolo:           10,
	}
}

// CorrectCount scores one player's answers against the question set.
func CorrectCount(questions []Question, answers map[int]string) int {
	n := 0
	for idx, ans := range answers {
		if idx >= 0 && idx < len(questions) && questions[idx].CorrectAnswer == ans {
			n++
		}
	}
	return n
}

// ProgressPercent is answered/total scaled to a whole percentage, floored.
// Recomputed by the answering participant after every answer.
func ProgressPercent(answered, total int) int {
	if total == 0 {
		return 0
	}
	return answered * 100 / total
}

// DetermineWinner scores both players and returns the winner's id, or
// WinnerDraw on equal counts. Every client computes this independently from
// the same shared answers, so it must be a pure function of the record.
func DetermineWinner(m *Match) string {
	type scored struct {
		id    string
		count int
	}
	var best, other scored
	first := true
	for id, p := range m.Players {
		s := scored{id: id, count: CorrectCount(m.Questions, p.Answers)}
		if first {
			best, first = s, false
			continue
		}
		other = s
		if other.count > best.count {
			best, other = other, best
		}
	}
	if !first && best.count == other.count {
		return WinnerDraw
	}
	return best.id
}

// SpamBurst reports whether the player's own just-updated answer set looks
// like rapid-fire guessing under the policy: the most recent sample answers
// landed inside the window with almost all of them wrong. False positives are
// possible for genuinely fast, unlucky guessers.
func (p Policy) SpamBurst(questions []Question, answers map[int]string, stamps map[int]Millis) bool {
	if len(answers) < p.SpamSample {
		return false
	}

	type stamped struct {
		idx int
		at  Millis
	}
	recent := make([]stamped, 0, len(stamps))
	for idx, at := range stamps {
		recent = append(recent, stamped{idx, at})
	}
	// Selection of the SpamSample most recent by timestamp.
	for i := 0; i < p.SpamSample; i++ {
		for j := i + 1; j < len(recent); j++ {
			if recent[j].at > recent[i].at {
				recent[i], recent[j] = recent[j], recent[i]
			}
		}
	}
	recent = recent[:p.SpamSample]

	lo, hi := recent[0].at, recent[0].at
	wrong := 0
	for _, s := range recent {
		if s.at < lo {
			lo = s.at
		}
		if s.at > hi {
			hi = s.at
		}
		ans := answers[s.idx]
		if s.idx >= len(questions) || questions[s.idx].CorrectAnswer != ans {
			wrong++
		}
	}
	span := time.Duration(hi-lo) * time.Millisecond
	return span < p.SpamWindow && wrong >= p.SpamWrongMin
}

// XPDelta is the settlement amount for one participant given the finished
// record. Solo completions pay per correct answer.
func (p Policy) XPDelta(m *Match, selfID string) int {
	if m.IsSolo {
		if m.SoloScore != nil {
			return *m.SoloScore * p.XPSolo
		}
		return 0
	}
	switch m.Winner {
	case WinnerDraw:
		return p.XPDraw
	case selfID:
		return p.XPWin
	default:
		return p.XPLoss
	}
}
