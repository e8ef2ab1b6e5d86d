package duel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/codeforces"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/msgcat"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/obslog"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/problems"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/registry"
)

// Messenger is the outbound slice of the chat gateway the manager needs.
type Messenger interface {
	SendMessage(ctx context.Context, room, text string) (string, error)
	AddReaction(ctx context.Context, messageID, emoji string) error
}

// Acks resolves deadline-bounded reaction waits.
type Acks interface {
	Await(ctx context.Context, messageID, userID string, emojis []string, window time.Duration) (string, error)
}

// SubmissionSource fetches a participant's recent submissions for solve
// claim checking.
type SubmissionSource interface {
	UserStatus(ctx context.Context, handle string, from, count int) ([]codeforces.Submission, error)
}

// ProblemSource picks the duel problem.
type ProblemSource interface {
	Select(ctx context.Context, challengerHandle, opponentHandle string, rating int) (*codeforces.ProblemRef, error)
}

// ResultArchiver persists terminal duel outcomes.
type ResultArchiver interface {
	SaveResult(ctx context.Context, res *Result) error
}

type Options struct {
	AcceptWindow  time.Duration
	SolveWindow   time.Duration
	RecentChecked int
}

func (o Options) withDefaults() Options {
	if o.AcceptWindow <= 0 {
		o.AcceptWindow = 5 * time.Minute
	}
	if o.SolveWindow <= 0 {
		o.SolveWindow = 15 * time.Minute
	}
	if o.RecentChecked <= 0 {
		o.RecentChecked = 10
	}
	return o
}

// Manager is the duel session registry and state machine. Sessions are keyed
// by room: at most one non-idle session exists per room, and all map
// mutations go through the manager mutex. Win and draw resolution both
// re-check presence and the StartedAt marker under the mutex before acting,
// so exactly one terminal outcome applies.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	users    *registry.Registry
	selector ProblemSource
	subs     SubmissionSource
	out      Messenger
	acks     Acks
	cat      *msgcat.Catalog
	repo     ResultArchiver
	opts     Options
}

func NewManager(users *registry.Registry, selector ProblemSource, subs SubmissionSource, out Messenger, acks Acks, cat *msgcat.Catalog, opts Options) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		users:    users,
		selector: selector,
		subs:     subs,
		out:      out,
		acks:     acks,
		cat:      cat,
		opts:     opts.withDefaults(),
	}
}

// AttachArchive wires a repository for persisting final duel results.
func (m *Manager) AttachArchive(r ResultArchiver) {
	if m != nil {
		m.repo = r
	}
}

// Active reports whether the room currently has a non-idle session.
func (m *Manager) Active(room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[room] != nil
}

// Challenge runs the full challenge flow: guards, acceptance wait, problem
// selection, and the transition into the solving phase. Guard violations
// come back as sentinel errors; outcomes past the guards (decline, expiry,
// cancellation, duel start) are announced to the room and return nil.
func (m *Manager) Challenge(ctx context.Context, room, challengerID, opponentID string, opponentIsBot bool, rating int) error {
	if !ValidRating(rating) {
		return ErrInvalidRating
	}
	if challengerID == opponentID {
		return ErrSelfChallenge
	}
	if opponentIsBot {
		return ErrOpponentIneligible
	}
	chRec, err := m.users.Get(ctx, room, challengerID)
	if err != nil {
		return err
	}
	opRec, err := m.users.Get(ctx, room, opponentID)
	if err != nil {
		return err
	}

	s := &Session{
		ID:               uuid.NewString(),
		Room:             room,
		ChallengerID:     challengerID,
		ChallengerHandle: chRec.Handle,
		OpponentID:       opponentID,
		OpponentHandle:   opRec.Handle,
		Rating:           rating,
		Phase:            PhasePendingAcceptance,
	}

	m.mu.Lock()
	if m.sessions[room] != nil {
		m.mu.Unlock()
		return ErrSessionActive
	}
	m.sessions[room] = s
	m.mu.Unlock()

	obslog.L().Info("duel_challenge",
		zap.String("session_id", s.ID),
		zap.String("room", room),
		zap.String("challenger", challengerID),
		zap.String("opponent", opponentID),
		zap.Int("rating", rating),
	)

	msgID, err := m.out.SendMessage(ctx, room, m.cat.MustRender("duel.challenge", map[string]any{
		"Opponent":   opRec.Handle,
		"Challenger": chRec.Handle,
		"Rating":     rating,
		"Accept":     EmojiAccept,
		"Decline":    EmojiDecline,
		"Minutes":    int(m.opts.AcceptWindow / time.Minute),
	}))
	if err != nil {
		m.removeSession(s)
		return fmt.Errorf("announce challenge: %w", err)
	}
	if err := m.out.AddReaction(ctx, msgID, EmojiAccept); err != nil {
		obslog.L().Warn("duel_reaction_seed_failed", zap.String("session_id", s.ID), zap.Error(err))
	}
	if err := m.out.AddReaction(ctx, msgID, EmojiDecline); err != nil {
		obslog.L().Warn("duel_reaction_seed_failed", zap.String("session_id", s.ID), zap.Error(err))
	}

	emoji, err := m.acks.Await(ctx, msgID, opponentID, []string{EmojiAccept, EmojiDecline}, m.opts.AcceptWindow)
	if err != nil {
		m.removeSession(s)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.announce(room, "duel.expired", map[string]any{"Opponent": opRec.Handle})
		obslog.L().Info("duel_expired", zap.String("session_id", s.ID), zap.String("room", room))
		return nil
	}
	if emoji == EmojiDecline {
		m.removeSession(s)
		m.announce(room, "duel.declined", map[string]any{"Opponent": opRec.Handle})
		obslog.L().Info("duel_declined", zap.String("session_id", s.ID), zap.String("room", room))
		return nil
	}

	m.setPhase(s, PhaseSelectingProblem)
	m.announce(room, "duel.accepted", map[string]any{"Opponent": opRec.Handle})

	problem, err := m.selector.Select(ctx, chRec.Handle, opRec.Handle, rating)
	if err != nil {
		m.removeSession(s)
		if errors.Is(err, problems.ErrNoEligible) {
			m.announce(room, "duel.cancelled_none", map[string]any{"Rating": rating})
			obslog.L().Info("duel_cancelled_no_problem", zap.String("session_id", s.ID), zap.Int("rating", rating))
			return nil
		}
		m.announce(room, "duel.cancelled_provider", nil)
		obslog.L().Error("duel_cancelled_provider", zap.String("session_id", s.ID), zap.Error(err))
		return nil
	}

	m.mu.Lock()
	s.Problem = problem
	s.StartedAt = time.Now().UTC()
	s.Phase = PhaseSolving
	started := s.StartedAt
	m.mu.Unlock()

	obslog.L().Info("duel_start",
		zap.String("session_id", s.ID),
		zap.String("room", room),
		zap.String("problem", problem.Key()),
		zap.Int("rating", rating),
	)
	m.announce(room, "duel.start", map[string]any{
		"Name":       problem.Name,
		"Rating":     rating,
		"URL":        problem.URL(),
		"Challenger": chRec.Handle,
		"Opponent":   opRec.Handle,
		"Minutes":    int(m.opts.SolveWindow / time.Minute),
		"Points":     Points(rating),
	})

	go m.superviseTimeout(room, started)
	return nil
}

// Solved checks a participant's claim against their recent submissions and
// resolves the duel as a win when one matches. Provider failures and missing
// matches leave the session untouched.
func (m *Manager) Solved(ctx context.Context, room, memberID string) error {
	m.mu.Lock()
	s := m.sessions[room]
	if s == nil || s.Phase != PhaseSolving {
		m.mu.Unlock()
		return ErrNoSession
	}
	if !s.IsParticipant(memberID) {
		m.mu.Unlock()
		return ErrNotParticipant
	}
	handle := s.ChallengerHandle
	if memberID == s.OpponentID {
		handle = s.OpponentHandle
	}
	problem := *s.Problem
	started := s.StartedAt
	rating := s.Rating
	m.mu.Unlock()

	m.announce(room, "duel.checking", map[string]any{"Name": handle})

	subs, err := m.subs.UserStatus(ctx, handle, 1, m.opts.RecentChecked)
	if err != nil {
		return fmt.Errorf("check submissions: %w", err)
	}

	var match *codeforces.Submission
	for i := range subs {
		sub := &subs[i]
		if sub.Problem.ContestID != problem.ContestID || sub.Problem.Index != problem.Index {
			continue
		}
		if sub.Verdict != codeforces.VerdictOK {
			continue
		}
		if !time.Unix(sub.CreationTimeSeconds, 0).After(started) {
			continue
		}
		match = sub
		break
	}
	if match == nil {
		return ErrNoAccepted
	}

	won := m.takeIfMarked(room, started)
	if won == nil {
		// the supervisor (or a rival claim) resolved this session first
		return ErrNoSession
	}

	pts := Points(rating)
	total, err := m.users.Award(ctx, room, memberID, pts)
	if err != nil {
		// the win was not recorded; put the session back so the claim can
		// be retried
		m.restoreSession(won)
		return fmt.Errorf("award points: %w", err)
	}

	obslog.L().Info("duel_win",
		zap.String("session_id", won.ID),
		zap.String("room", room),
		zap.String("winner", memberID),
		zap.Int64("submission_id", match.ID),
		zap.Int("points", pts),
		zap.Int("total", total),
	)
	m.announce(room, "duel.win", map[string]any{
		"Name":   handle,
		"Points": pts,
		"Total":  total,
	})
	m.archive(won, OutcomeWin, memberID, pts)
	return nil
}

// superviseTimeout is the per-session timer task. It holds no reference into
// the live map; after sleeping it re-reads the slot and only acts when the
// StartedAt marker still matches the one captured at spawn.
func (m *Manager) superviseTimeout(room string, started time.Time) {
	t := time.NewTimer(m.opts.SolveWindow)
	defer t.Stop()
	<-t.C

	s := m.takeIfMarked(room, started)
	if s == nil {
		// resolved or superseded; nothing to do
		return
	}

	obslog.L().Info("duel_draw",
		zap.String("session_id", s.ID),
		zap.String("room", room),
		zap.Int("rating", s.Rating),
	)
	m.announce(room, "duel.draw", map[string]any{
		"Challenger": s.ChallengerHandle,
		"Opponent":   s.OpponentHandle,
	})
	m.archive(s, OutcomeDraw, "", 0)
}

// takeIfMarked removes and returns the room's session iff it is solving and
// its StartedAt equals marker. Returning nil means another resolution path
// already won the race or the slot was reused.
func (m *Manager) takeIfMarked(room string, marker time.Time) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[room]
	if s == nil || s.Phase != PhaseSolving || !s.StartedAt.Equal(marker) {
		return nil
	}
	delete(m.sessions, room)
	return s
}

func (m *Manager) removeSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.Room] == s {
		delete(m.sessions, s.Room)
	}
}

func (m *Manager) restoreSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.Room] == nil {
		m.sessions[s.Room] = s
	}
}

func (m *Manager) setPhase(s *Session, p Phase) {
	m.mu.Lock()
	s.Phase = p
	m.mu.Unlock()
}

func (m *Manager) announce(room, key string, data map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := m.out.SendMessage(ctx, room, m.cat.MustRender(key, data)); err != nil {
		obslog.L().Warn("duel_announce_failed", zap.String("room", room), zap.String("key", key), zap.Error(err))
	}
}

func (m *Manager) archive(s *Session, outcome, winnerID string, points int) {
	if m.repo == nil {
		return
	}
	res := &Result{
		SessionID:    s.ID,
		Room:         s.Room,
		ChallengerID: s.ChallengerID,
		OpponentID:   s.OpponentID,
		Rating:       s.Rating,
		Outcome:      outcome,
		WinnerID:     winnerID,
		Points:       points,
		StartedAt:    s.StartedAt,
		EndedAt:      time.Now().UTC(),
	}
	if s.Problem != nil {
		res.ContestID = s.Problem.ContestID
		res.Index = s.Problem.Index
		res.ProblemName = s.Problem.Name
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.repo.SaveResult(ctx, res); err != nil {
		obslog.L().Error("duel_result_persist_error",
			zap.String("session_id", s.ID),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
	}
}
