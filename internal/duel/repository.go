package duel

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Repository archives finished duels in Postgres. It is optional wiring: the
// manager works without it, and persistence failures are logged upstream
// rather than surfaced to chat.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts a final duel result keyed by session id, so a retried
// write after a transient failure cannot produce duplicates.
func (r *Repository) SaveResult(ctx context.Context, res *Result) error {
	if r == nil || r.db == nil || res == nil {
		return nil
	}

	duration := res.EndedAt.Sub(res.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO duel_results (
	    session_id, room, challenger_id, opponent_id,
	    rating, contest_id, problem_index, problem_name,
	    outcome, winner_id, points,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
	  ) ON CONFLICT (session_id) DO UPDATE SET
	    room=EXCLUDED.room,
	    challenger_id=EXCLUDED.challenger_id,
	    opponent_id=EXCLUDED.opponent_id,
	    rating=EXCLUDED.rating,
	    contest_id=EXCLUDED.contest_id,
	    problem_index=EXCLUDED.problem_index,
	    problem_name=EXCLUDED.problem_name,
	    outcome=EXCLUDED.outcome,
	    winner_id=EXCLUDED.winner_id,
	    points=EXCLUDED.points,
	    started_at=EXCLUDED.started_at,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		res.SessionID, res.Room, res.ChallengerID, res.OpponentID,
		res.Rating, res.ContestID, res.Index, res.ProblemName,
		res.Outcome, res.WinnerID, res.Points,
		res.StartedAt, res.EndedAt, duration,
	)
	return err
}
