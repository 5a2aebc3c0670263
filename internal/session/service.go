// Package session is the organizer half of the quiz-session protocol: it owns
// every write to the quizzes/{id}/status subtree. Participant clients only
// ever read status; by convention there is one controller per quiz at a time.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/musudik/iquiz/internal/domain"
	"github.com/musudik/iquiz/internal/event"
	"github.com/musudik/iquiz/internal/store"
)

type Config struct {
	Store    store.Client
	EventBus *event.Bus
}

type Service struct {
	store store.Client
	eb    *event.Bus
}

func NewService(c Config) *Service {
	return &Service{store: c.Store, eb: c.EventBus}
}

// Action is a session state machine input.
type Action int

const (
	ActionStart Action = iota
	ActionAdvance
	ActionReset
)

// Transition is the single transition function of the session state machine.
// It validates the action against the current status and returns the target
// status. Timestamp fields in the result are placeholders: the caller stamps
// them with the store's clock at commit time.
func Transition(cur domain.Status, a Action, questionCount int) (domain.Status, error) {
	switch a {
	case ActionStart:
		if questionCount < 1 {
			return cur, domain.ErrNoQuestions
		}
		if cur.State == domain.StateActive {
			return cur, domain.ErrAlreadyActive
		}
		return domain.Status{State: domain.StateActive, CurrentQuestion: 0}, nil

	case ActionAdvance:
		if cur.State != domain.StateActive {
			return cur, domain.ErrNotActive
		}
		if cur.CurrentQuestion+1 < questionCount {
			next := cur
			next.CurrentQuestion++
			return next, nil
		}
		next := cur
		next.State = domain.StateFinished
		return next, nil

	case ActionReset:
		return domain.Status{State: domain.StateWaiting, CurrentQuestion: 0}, nil
	}

	return cur, fmt.Errorf("session: unknown action %d", a)
}

// Start moves a waiting or finished quiz to active on its first question,
// stamping startTime and questionStartTime with the store clock in one batch.
func (s *Service) Start(ctx context.Context, quizID string) (domain.Status, error) {
	quiz, err := s.getQuiz(ctx, quizID)
	if err != nil {
		return domain.Status{}, err
	}

	next, err := Transition(quiz.Status, ActionStart, len(quiz.Questions))
	if err != nil {
		return domain.Status{}, err
	}

	ms, err := s.store.Apply(ctx, store.Set(statusPath(quizID), map[string]any{
		"state":             next.State,
		"currentQuestion":   0,
		"questionStartTime": store.ServerTimestamp(),
		"startTime":         store.ServerTimestamp(),
	}))
	if err != nil {
		return domain.Status{}, fmt.Errorf("session: start %s: %w", quizID, err)
	}

	next.StartTime = &ms
	next.QuestionStartTime = &ms
	slog.InfoContext(ctx, "session: started", "quiz", quizID, "questions", len(quiz.Questions))

	s.publish(ctx, domain.EventSessionStarted{QuizID: quizID, Status: next})
	return next, nil
}

// Advance moves an active quiz to its next question, restamping
// questionStartTime, or finishes the quiz when the last question is current.
// Advancing is always organizer-initiated; timer expiry on clients only gates
// their answer buttons.
func (s *Service) Advance(ctx context.Context, quizID string) (domain.Status, error) {
	quiz, err := s.getQuiz(ctx, quizID)
	if err != nil {
		return domain.Status{}, err
	}

	next, err := Transition(quiz.Status, ActionAdvance, len(quiz.Questions))
	if err != nil {
		return domain.Status{}, err
	}

	if next.State == domain.StateFinished {
		if _, err := s.store.Apply(ctx, store.Merge(statusPath(quizID), map[string]any{
			"state": domain.StateFinished,
		})); err != nil {
			return domain.Status{}, fmt.Errorf("session: finish %s: %w", quizID, err)
		}
		slog.InfoContext(ctx, "session: finished", "quiz", quizID)
		s.publish(ctx, domain.EventSessionFinished{QuizID: quizID, Status: next})
		return next, nil
	}

	ms, err := s.store.Apply(ctx, store.Merge(statusPath(quizID), map[string]any{
		"currentQuestion":   next.CurrentQuestion,
		"questionStartTime": store.ServerTimestamp(),
	}))
	if err != nil {
		return domain.Status{}, fmt.Errorf("session: advance %s: %w", quizID, err)
	}

	next.QuestionStartTime = &ms
	slog.InfoContext(ctx, "session: advanced", "quiz", quizID, "question", next.CurrentQuestion)

	s.publish(ctx, domain.EventQuestionAdvanced{QuizID: quizID, Status: next})
	return next, nil
}

// Reset returns the quiz to waiting and zeroes every registration's score and
// answers. The whole reset is one atomic batch, so no watcher can observe a
// reset status alongside stale scores or the other way around.
func (s *Service) Reset(ctx context.Context, quizID string) (domain.Status, error) {
	quiz, err := s.getQuiz(ctx, quizID)
	if err != nil {
		return domain.Status{}, err
	}

	next, err := Transition(quiz.Status, ActionReset, len(quiz.Questions))
	if err != nil {
		return domain.Status{}, err
	}

	writes := []store.Write{
		store.Set(statusPath(quizID), map[string]any{
			"state":             domain.StateWaiting,
			"currentQuestion":   0,
			"questionStartTime": nil,
			"startTime":         nil,
		}),
	}
	for regID := range quiz.Registrations {
		base := store.Join("quizzes", quizID, "registrations", regID)
		writes = append(writes,
			store.Set(base+"/score", 0),
			store.Delete(base+"/answers"),
		)
	}

	if _, err := s.store.Apply(ctx, writes...); err != nil {
		return domain.Status{}, fmt.Errorf("session: reset %s: %w", quizID, err)
	}
	slog.InfoContext(ctx, "session: reset", "quiz", quizID, "registrations", len(quiz.Registrations))

	s.publish(ctx, domain.EventSessionReset{QuizID: quizID})
	return next, nil
}

func (s *Service) getQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := s.store.Get(ctx, store.Join("quizzes", quizID), &quiz)
	if store.IsNotFound(err) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("session: load quiz %s: %w", quizID, err)
	}
	quiz.ID = quizID
	return quiz, nil
}

func (s *Service) publish(ctx context.Context, e event.Event) {
	if s.eb != nil {
		s.eb.Publish(ctx, e)
	}
}

func statusPath(quizID string) string {
	return store.Join("quizzes", quizID, "status")
}
