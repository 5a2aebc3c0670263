// Package quizdef manages quiz metadata and question banks under
// quizzes/{id}. Edits overwrite in place; quizzes are never versioned.
// Editing questions after a session started is undefined and not guarded.
package quizdef

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/musudik/iquiz/internal/domain"
	"github.com/musudik/iquiz/internal/errors"
	"github.com/musudik/iquiz/internal/store"
)

const (
	minOptions = 2
	maxOptions = 4

	defaultQuestionDuration = 20
)

type Config struct {
	Store store.Client
}

type Service struct {
	store store.Client
}

func NewService(c Config) *Service {
	return &Service{store: c.Store}
}

type QuizRequest struct {
	Title            string          `json:"title"`
	Date             string          `json:"date"`
	MaxParticipants  int             `json:"maxParticipants"`
	EntryFee         decimal.Decimal `json:"entryFee"`
	QuestionDuration int             `json:"questionDuration"`
}

// Create writes a new quiz document with a waiting status and no questions.
func (s *Service) Create(ctx context.Context, req QuizRequest) (domain.Quiz, error) {
	if err := validateQuiz(req); err != nil {
		return domain.Quiz{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("quizdef: generate id: %w", err)
	}
	quizID := id.String()

	duration := req.QuestionDuration
	if duration <= 0 {
		duration = defaultQuestionDuration
	}

	ms, err := s.store.Apply(ctx, store.Set(store.Join("quizzes", quizID), map[string]any{
		"title":            req.Title,
		"date":             req.Date,
		"maxParticipants":  req.MaxParticipants,
		"entryFee":         req.EntryFee,
		"questionDuration": duration,
		"createdAt":        store.ServerTimestamp(),
		"updatedAt":        store.ServerTimestamp(),
		"status": map[string]any{
			"state":             domain.StateWaiting,
			"currentQuestion":   0,
			"questionStartTime": nil,
			"startTime":         nil,
		},
	}))
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("quizdef: create quiz: %w", err)
	}

	return domain.Quiz{
		ID:               quizID,
		Title:            req.Title,
		Date:             req.Date,
		MaxParticipants:  req.MaxParticipants,
		EntryFee:         req.EntryFee,
		QuestionDuration: duration,
		CreatedAt:        &ms,
		UpdatedAt:        &ms,
		Status:           domain.Status{State: domain.StateWaiting},
	}, nil
}

// Update overwrites the quiz's metadata fields, leaving questions, status and
// registrations untouched.
func (s *Service) Update(ctx context.Context, quizID string, req QuizRequest) (domain.Quiz, error) {
	if err := validateQuiz(req); err != nil {
		return domain.Quiz{}, err
	}
	if _, err := s.Get(ctx, quizID); err != nil {
		return domain.Quiz{}, err
	}

	duration := req.QuestionDuration
	if duration <= 0 {
		duration = defaultQuestionDuration
	}

	if _, err := s.store.Apply(ctx, store.Merge(store.Join("quizzes", quizID), map[string]any{
		"title":            req.Title,
		"date":             req.Date,
		"maxParticipants":  req.MaxParticipants,
		"entryFee":         req.EntryFee,
		"questionDuration": duration,
		"updatedAt":        store.ServerTimestamp(),
	})); err != nil {
		return domain.Quiz{}, fmt.Errorf("quizdef: update quiz %s: %w", quizID, err)
	}

	return s.Get(ctx, quizID)
}

// SetQuestions replaces the quiz's whole question list.
func (s *Service) SetQuestions(ctx context.Context, quizID string, questions []domain.Question) error {
	for i, q := range questions {
		if err := validateQuestion(i, q); err != nil {
			return err
		}
	}
	if _, err := s.Get(ctx, quizID); err != nil {
		return err
	}

	if _, err := s.store.Apply(ctx,
		store.Set(store.Join("quizzes", quizID, "questions"), questions),
		store.Merge(store.Join("quizzes", quizID), map[string]any{
			"updatedAt": store.ServerTimestamp(),
		}),
	); err != nil {
		return fmt.Errorf("quizdef: set questions %s: %w", quizID, err)
	}
	return nil
}

// Get loads one quiz document.
func (s *Service) Get(ctx context.Context, quizID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := s.store.Get(ctx, store.Join("quizzes", quizID), &quiz)
	if store.IsNotFound(err) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("quizdef: load quiz %s: %w", quizID, err)
	}
	quiz.ID = quizID
	return quiz, nil
}

// List returns all quizzes, newest first.
func (s *Service) List(ctx context.Context) ([]domain.Quiz, error) {
	quizzes := map[string]domain.Quiz{}
	err := s.store.Get(ctx, "quizzes", &quizzes)
	if err != nil && !store.IsNotFound(err) {
		return nil, fmt.Errorf("quizdef: list quizzes: %w", err)
	}

	out := make([]domain.Quiz, 0, len(quizzes))
	for id, quiz := range quizzes {
		quiz.ID = id
		out = append(out, quiz)
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i].CreatedAt, out[j].CreatedAt
		if ci != nil && cj != nil && *ci != *cj {
			return *ci > *cj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete removes the quiz document with everything under it.
func (s *Service) Delete(ctx context.Context, quizID string) error {
	if _, err := s.Get(ctx, quizID); err != nil {
		return err
	}
	if _, err := s.store.Apply(ctx, store.Delete(store.Join("quizzes", quizID))); err != nil {
		return fmt.Errorf("quizdef: delete quiz %s: %w", quizID, err)
	}
	return nil
}

func validateQuiz(req QuizRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("quiz title is required"))
	}
	if req.EntryFee.IsNegative() {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("entry fee cannot be negative"))
	}
	if req.MaxParticipants < 0 {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("max participants cannot be negative"))
	}
	return nil
}

func validateQuestion(i int, q domain.Question) error {
	if strings.TrimSpace(q.Text) == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("question %d: text is required", i+1))
	}
	if len(q.Options) < minOptions || len(q.Options) > maxOptions {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question %d: needs between %d and %d options", i+1, minOptions, maxOptions))
	}
	for j, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("question %d: option %d is empty", i+1, j+1))
		}
	}
	if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("question %d: correct answer index out of range", i+1))
	}
	if q.TimeLimit < 0 {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("question %d: time limit cannot be negative", i+1))
	}
	return nil
}
