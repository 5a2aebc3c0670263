// Package analytics persists final standings to Postgres when a session
// finishes, feeding the organizer's results dashboard. The realtime store
// stays authoritative during a run; Postgres only keeps the durable history
// a reset would otherwise wipe.
package analytics

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/musudik/iquiz/internal/domain"
	"github.com/musudik/iquiz/internal/event"
	"github.com/musudik/iquiz/internal/leaderboard"
	"github.com/musudik/iquiz/internal/store"
)

type Config struct {
	DB       *pgxpool.Pool
	Store    store.Client
	EventBus *event.Bus
}

type Service struct {
	db    *pgxpool.Pool
	store store.Client
}

func NewService(c Config) *Service {
	s := &Service{db: c.DB, store: c.Store}

	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
			return s.PersistResults(ctx, e.(domain.EventSessionFinished).QuizID)
		})
	}
	return s
}

// EnsureSchema creates the results table when missing.
func (s *Service) EnsureSchema(ctx context.Context) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS quiz_results (
	quiz_id         TEXT        NOT NULL,
	registration_id TEXT        NOT NULL,
	name            TEXT        NOT NULL,
	email           TEXT        NOT NULL,
	rank            INT         NOT NULL,
	score           INT         NOT NULL,
	correct_answers INT         NOT NULL,
	avg_answer_secs BIGINT      NOT NULL,
	finished_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (quiz_id, registration_id)
);`

	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("analytics: ensure schema: %w", err)
	}
	return nil
}

// PersistResults snapshots the quiz's final standings into Postgres. A
// re-finished quiz (after a reset) overwrites its previous rows.
func (s *Service) PersistResults(ctx context.Context, quizID string) (err error) {
	var quiz domain.Quiz
	if err := s.store.Get(ctx, store.Join("quizzes", quizID), &quiz); err != nil {
		return fmt.Errorf("analytics: load quiz %s: %w", quizID, err)
	}

	finishedAt := time.Now()
	lb := leaderboard.Rank(quizID, quiz.Registrations, finishedAt)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("analytics: begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM quiz_results WHERE quiz_id = $1`, quizID); err != nil {
		return fmt.Errorf("analytics: clear previous results: %w", err)
	}

	const insStmt = `
INSERT INTO quiz_results (quiz_id, registration_id, name, email, rank, score, correct_answers, avg_answer_secs, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

	for _, entry := range lb.Entries {
		email := quiz.Registrations[entry.RegistrationID].Email
		if _, err = tx.Exec(ctx, insStmt,
			quizID, entry.RegistrationID, entry.Name, email,
			entry.Rank, entry.Score, entry.CorrectAnswers, entry.AvgAnswerSeconds, finishedAt,
		); err != nil {
			return fmt.Errorf("analytics: insert result: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("analytics: commit results: %w", err)
	}

	slog.InfoContext(ctx, "analytics: results persisted", "quiz", quizID, "rows", len(lb.Entries))
	return nil
}

// Result is one persisted standings row.
type Result struct {
	QuizID           string    `json:"quizId"`
	RegistrationID   string    `json:"registrationId"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Rank             int       `json:"rank"`
	Score            int       `json:"score"`
	CorrectAnswers   int       `json:"correctAnswers"`
	AvgAnswerSeconds int64     `json:"avgAnswerSeconds"`
	FinishedAt       time.Time `json:"finishedAt"`
}

// ListResults returns the persisted standings for a quiz in rank order.
func (s *Service) ListResults(ctx context.Context, quizID string) ([]Result, error) {
	const stmt = `
SELECT quiz_id, registration_id, name, email, rank, score, correct_answers, avg_answer_secs, finished_at
FROM quiz_results
WHERE quiz_id = $1
ORDER BY rank;`

	rows, err := s.db.Query(ctx, stmt, quizID)
	if err != nil {
		return nil, fmt.Errorf("analytics: list results: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Result, error) {
		var res Result
		err := r.Scan(&res.QuizID, &res.RegistrationID, &res.Name, &res.Email,
			&res.Rank, &res.Score, &res.CorrectAnswers, &res.AvgAnswerSeconds, &res.FinishedAt)
		return res, err
	})
	if err != nil {
		return nil, fmt.Errorf("analytics: scan results: %w", err)
	}
	return results, nil
}
