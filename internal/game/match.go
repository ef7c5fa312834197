// Package game implements the match lifecycle: the shared record layout, the
// pure scoring and anti-spam rules, and the per-participant session that
// drives a match from pending to finished against the shared store.
package game

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// MatchesCollection is where match records live in the store.
const MatchesCollection = "matches"

// UsersCollection holds per-user records (display data, xp).
const UsersCollection = "users"

// State is the persisted phase of a match record.
type State string

const (
	StatePending  State = "pending"
	StateStarting State = "starting"
	StateCombat   State = "combat"
	StateFinished State = "finished"
)

// Reason describes why a match ended.
type Reason string

const (
	ReasonKill         Reason = "kill"
	ReasonTimeout      Reason = "timeout"
	ReasonDisconnect   Reason = "disconnect"
	ReasonSpamDetected Reason = "spam_detected"
	ReasonSoloComplete Reason = "solo_complete"
	ReasonNormalFinish Reason = "normal_finish"
)

// WinnerDraw is the sentinel stored in the winner field for a tied match.
const WinnerDraw = "DRAW"

// PlaceholderName is shown for the invited opponent until they join.
const PlaceholderName = "Waiting..."

// Question is one multiple-choice question. Options always holds exactly four
// distinct non-empty strings and CorrectAnswer equals one of them.
type Question struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
}

// PlayerEntry is one participant's subtree of the match record. Only its
// owner writes it; answer and timestamp maps are keyed by question index and
// always share the same key set because they are written in one merge.
type PlayerEntry struct {
	Name             string           `json:"name"`
	Avatar           string           `json:"avatar,omitempty"`
	Progress         int              `json:"progress"`
	Answers          map[int]string   `json:"answers,omitempty"`
	AnswerTimestamps map[int]Millis   `json:"answerTimestamps,omitempty"`
	IsHost           bool             `json:"isHost"`
	Connected        bool             `json:"connected"`
}

// Match is the single shared mutable record per duel or solo session.
type Match struct {
	Players   map[string]PlayerEntry `json:"players"`
	Questions []Question             `json:"questions"`
	State     State                  `json:"state"`
	EndTime   Millis                 `json:"endTime,omitempty"`
	CreatedAt Millis                 `json:"createdAt"`
	HostID    string                 `json:"hostId"`
	Winner    string                 `json:"winner,omitempty"`
	Reason    Reason                 `json:"reason,omitempty"`
	IsSolo    bool                   `json:"isSolo"`
	SoloScore *int                   `json:"soloScore,omitempty"`
}

// Millis is an absolute instant as Unix milliseconds. Absolute instants are
// what let a late-joining client derive the same combat deadline as everyone
// else.
type Millis int64

func ToMillis(t time.Time) Millis { return Millis(t.UnixMilli()) }

func (m Millis) Time() time.Time { return time.UnixMilli(int64(m)) }

// Participant identifies one player as known to the auth provider.
type Participant struct {
	ID     string
	Name   string
	Avatar string
}

// MatchPath returns the record path for a match id.
func MatchPath(id string) string { return MatchesCollection + "/" + id }

// UserPath returns the record path for a user id.
func UserPath(id string) string { return UsersCollection + "/" + id }

// PlayerField addresses a field inside one player's subtree for merges.
func PlayerField(playerID, field string) string {
	return "players/" + playerID + "/" + field
}

// Opponent returns the other participant's id and entry. ok is false for solo
// matches. On a pending duel the entry is still the placeholder; callers that
// care check the name.
func (m *Match) Opponent(selfID string) (string, PlayerEntry, bool) {
	for id, p := range m.Players {
		if id != selfID {
			return id, p, true
		}
	}
	return "", PlayerEntry{}, false
}

// Complete reports whether the record carries everything a client needs to
// render and play: two player entries and a question set. Anything less stays
// a blocking loading state, never a partial render.
func (m *Match) Complete() bool {
	return len(m.Questions) > 0 && (m.IsSolo || len(m.Players) == 2)
}

// ValidateQuestions checks the question-set shape at match creation.
func ValidateQuestions(qs []Question) error {
	if len(qs) == 0 {
		return fmt.Errorf("question set is empty")
	}
	for i, q := range qs {
		if len(q.Options) != 4 {
			return fmt.Errorf("question %d: want 4 options, got %d", i, len(q.Options))
		}
		seen := make(map[string]bool, 4)
		correctOK := false
		for _, o := range q.Options {
			if o == "" {
				return fmt.Errorf("question %d: empty option", i)
			}
			if seen[o] {
				return fmt.Errorf("question %d: duplicate option %q", i, o)
			}
			seen[o] = true
			if o == q.CorrectAnswer {
				correctOK = true
			}
		}
		if !correctOK {
			return fmt.Errorf("question %d: correct answer not among options", i)
		}
	}
	return nil
}

// NewDuelMatch builds a pending duel record: the host as a full entry and the
// invited opponent as a disconnected placeholder. The question order is
// shuffled here, once; every participant plays the same shuffled copy.
func NewDuelMatch(host, guest Participant, questions []Question, now time.Time) (*Match, error) {
	if err := ValidateQuestions(questions); err != nil {
		return nil, err
	}
	return &Match{
		Players: map[string]PlayerEntry{
			host.ID: {
				Name:      host.Name,
				Avatar:    host.Avatar,
				IsHost:    true,
				Connected: true,
			},
			guest.ID: {
				Name:      PlaceholderName,
				Connected: false,
			},
		},
		Questions: shuffled(questions),
		State:     StatePending,
		CreatedAt: ToMillis(now),
		HostID:    host.ID,
	}, nil
}

// NewSoloMatch builds a solo record. Solo skips pending entirely and starts
// in combat with no deadline and none of the opponent-facing machinery.
func NewSoloMatch(player Participant, questions []Question, now time.Time) (*Match, error) {
	if err := ValidateQuestions(questions); err != nil {
		return nil, err
	}
	return &Match{
		Players: map[string]PlayerEntry{
			player.ID: {
				Name:      player.Name,
				Avatar:    player.Avatar,
				IsHost:    true,
				Connected: true,
			},
		},
		Questions: shuffled(questions),
		State:     StateCombat,
		CreatedAt: ToMillis(now),
		HostID:    player.ID,
		IsSolo:    true,
	}, nil
}

func shuffled(qs []Question) []Question {
	out := make([]Question, len(qs))
	copy(out, qs)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
