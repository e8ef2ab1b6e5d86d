package duel

import (
	"errors"
	"time"

	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/codeforces"
)

// Phase is a duel session's position in its lifecycle. Terminal outcomes
// (win, draw, cancellation) remove the session instead of adding a phase:
// an absent session is the idle state.
type Phase string

const (
	PhasePendingAcceptance Phase = "pending_acceptance"
	PhaseSelectingProblem  Phase = "selecting_problem"
	PhaseSolving           Phase = "solving"
)

// Acceptance reaction emojis.
const (
	EmojiAccept  = "✅"
	EmojiDecline = "❌"
)

// Rating bounds for a challenge.
const (
	MinRating = 800
	MaxRating = 3500
)

// Session tracks one duel through the state machine. Problem and StartedAt
// are set together, only on the transition into PhaseSolving; StartedAt then
// doubles as the identity marker the timeout supervisor compares against.
type Session struct {
	ID               string
	Room             string
	ChallengerID     string
	ChallengerHandle string
	OpponentID       string
	OpponentHandle   string
	Rating           int
	Phase            Phase
	Problem          *codeforces.ProblemRef
	StartedAt        time.Time
}

// IsParticipant reports whether memberID is one of the two duelists.
func (s *Session) IsParticipant(memberID string) bool {
	return memberID == s.ChallengerID || memberID == s.OpponentID
}

// Outcome labels for archived results.
const (
	OutcomeWin  = "win"
	OutcomeDraw = "draw"
)

// Result is the archived record of a finished duel.
type Result struct {
	SessionID    string
	Room         string
	ChallengerID string
	OpponentID   string
	Rating       int
	ContestID    int
	Index        string
	ProblemName  string
	Outcome      string
	WinnerID     string
	Points       int
	StartedAt    time.Time
	EndedAt      time.Time
}

var (
	ErrInvalidRating      = errors.New("rating must be 800-3500 in steps of 100")
	ErrSelfChallenge      = errors.New("cannot challenge yourself")
	ErrOpponentIneligible = errors.New("opponent cannot take part in duels")
	ErrSessionActive      = errors.New("a duel or challenge is already active in this room")
	ErrNoSession          = errors.New("no duel in progress")
	ErrNotParticipant     = errors.New("member is not a duel participant")
	ErrNoAccepted         = errors.New("no accepted submission for the duel problem")
)

// ValidRating reports whether r is inside the challenge bounds and on the
// 100-point grid.
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating && r%100 == 0
}

// Points returns the award for a win at the given rating: 5 at 800, one more
// per 100 rating points, 32 at 3500.
func Points(rating int) int {
	return 5 + (rating-MinRating)/100
}
