package problems

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/codeforces"
	"github.com/Kaizer-13/Codeforces-Duel-Bot/internal/obslog"
	"go.uber.org/zap"
)

// ErrNoEligible means the filtered catalog is empty: every problem at the
// requested rating was already solved by a participant. This is an expected
// outcome, not a provider failure.
var ErrNoEligible = errors.New("no eligible problem at requested rating")

// Source is the slice of the contest API the selector needs.
type Source interface {
	UserStatus(ctx context.Context, handle string, from, count int) ([]codeforces.Submission, error)
	Problems(ctx context.Context) ([]codeforces.ProblemRef, error)
}

// Selector computes the eligible problem set for a duel and picks one
// uniformly at random.
type Selector struct {
	api Source
}

func New(api Source) *Selector {
	return &Selector{api: api}
}

// Select returns a problem at exactly rating that neither participant has an
// accepted submission for. Any fetch failure aborts without partial effects.
func (s *Selector) Select(ctx context.Context, challengerHandle, opponentHandle string, rating int) (*codeforces.ProblemRef, error) {
	chSubs, err := s.api.UserStatus(ctx, challengerHandle, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch %s history: %w", challengerHandle, err)
	}
	opSubs, err := s.api.UserStatus(ctx, opponentHandle, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch %s history: %w", opponentHandle, err)
	}
	catalog, err := s.api.Problems(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch problem catalog: %w", err)
	}

	solved := solvedSet(chSubs)
	for k := range solvedSet(opSubs) {
		solved[k] = struct{}{}
	}

	eligible := make([]codeforces.ProblemRef, 0, 64)
	for _, p := range catalog {
		// the catalog is not guaranteed well-formed either
		if p.ContestID == 0 || p.Index == "" {
			continue
		}
		if p.Rating != rating {
			continue
		}
		if _, done := solved[p.Key()]; done {
			continue
		}
		eligible = append(eligible, p)
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligible
	}

	pick, err := randIndex(len(eligible))
	if err != nil {
		return nil, err
	}
	p := eligible[pick]
	obslog.L().Info("problem_selected",
		zap.String("key", p.Key()),
		zap.String("name", p.Name),
		zap.Int("rating", p.Rating),
		zap.Int("eligible", len(eligible)),
	)
	return &p, nil
}

// solvedSet collects accepted problem identifiers, skipping malformed
// entries defensively.
func solvedSet(subs []codeforces.Submission) map[string]struct{} {
	out := make(map[string]struct{}, len(subs))
	for _, sub := range subs {
		if sub.Verdict != codeforces.VerdictOK {
			continue
		}
		if sub.Problem.ContestID == 0 || sub.Problem.Index == "" {
			continue
		}
		out[sub.Problem.Key()] = struct{}{}
	}
	return out
}

func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random pick: %w", err)
	}
	return int(v.Int64()), nil
}
