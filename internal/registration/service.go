// Package registration handles the participant sign-up flow: identity
// validation, the per-quiz participant cap, the registration record, and the
// join link that re-identifies the participant later without a login system.
package registration

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/musudik/iquiz/internal/domain"
	"github.com/musudik/iquiz/internal/errors"
	"github.com/musudik/iquiz/internal/event"
	"github.com/musudik/iquiz/internal/store"
	"github.com/musudik/iquiz/internal/token"
)

var (
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	mobilePattern = regexp.MustCompile(`^\+?[\d\s-]{10,}$`)
)

type Config struct {
	Store    store.Client
	EventBus *event.Bus
	// BaseURL is the public origin join links point at.
	BaseURL string
}

type Service struct {
	store   store.Client
	eb      *event.Bus
	baseURL string
}

func NewService(c Config) *Service {
	return &Service{
		store:   c.Store,
		eb:      c.EventBus,
		baseURL: strings.TrimRight(c.BaseURL, "/"),
	}
}

type RegisterRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Mobile        string `json:"mobile"`
	PaymentMethod string `json:"paymentMethod"`
}

type RegisterResponse struct {
	Registration domain.Registration
	JoinLink     string
}

// Register creates the participant's record under the quiz and returns the
// join link. The payment itself happens out of band; the record carries only
// the chosen method and a completed status, matching what the payment
// provider callback would leave behind.
func (s *Service) Register(ctx context.Context, quizID string, req RegisterRequest) (*RegisterResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var quiz domain.Quiz
	err := s.store.Get(ctx, store.Join("quizzes", quizID), &quiz)
	if store.IsNotFound(err) {
		return nil, domain.ErrQuizNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registration: load quiz %s: %w", quizID, err)
	}

	if quiz.MaxParticipants > 0 && len(quiz.Registrations) >= quiz.MaxParticipants {
		return nil, domain.ErrQuizFull
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("registration: generate id: %w", err)
	}
	regID := id.String()

	link := s.JoinLink(quizID, req.Email, req.Name)
	ms, err := s.store.Apply(ctx, store.Set(
		store.Join("quizzes", quizID, "registrations", regID),
		map[string]any{
			"name":          req.Name,
			"email":         req.Email,
			"mobile":        req.Mobile,
			"registeredAt":  store.ServerTimestamp(),
			"paymentMethod": req.PaymentMethod,
			"paymentStatus": "completed",
			"score":         0,
		},
	))
	if err != nil {
		return nil, fmt.Errorf("registration: create %s: %w", regID, err)
	}

	reg := domain.Registration{
		ID:            regID,
		Name:          req.Name,
		Email:         req.Email,
		Mobile:        req.Mobile,
		RegisteredAt:  &ms,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: "completed",
	}
	slog.InfoContext(ctx, "registration: created", "quiz", quizID, "registration", regID)

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventRegistrationCreated{
			QuizID:       quizID,
			QuizTitle:    quiz.Title,
			QuizDate:     quiz.Date,
			EntryFee:     quiz.EntryFee.String(),
			Registration: reg,
			JoinLink:     link,
		})
	}

	return &RegisterResponse{Registration: reg, JoinLink: link}, nil
}

// List returns the quiz's registrations, most recent first.
func (s *Service) List(ctx context.Context, quizID string) ([]domain.Registration, error) {
	var quiz domain.Quiz
	err := s.store.Get(ctx, store.Join("quizzes", quizID), &quiz)
	if store.IsNotFound(err) {
		return nil, domain.ErrQuizNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registration: load quiz %s: %w", quizID, err)
	}

	regs := make([]domain.Registration, 0, len(quiz.Registrations))
	for id, reg := range quiz.Registrations {
		reg.ID = id
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool {
		ri, rj := regs[i].RegisteredAt, regs[j].RegisteredAt
		if ri == nil || rj == nil {
			return rj == nil && ri != nil
		}
		if *ri != *rj {
			return *ri > *rj
		}
		return regs[i].ID < regs[j].ID
	})
	return regs, nil
}

// Delete removes a registration from the organizer console.
func (s *Service) Delete(ctx context.Context, quizID, regID string) error {
	var reg domain.Registration
	err := s.store.Get(ctx, store.Join("quizzes", quizID, "registrations", regID), &reg)
	if store.IsNotFound(err) {
		return domain.ErrRegistrationNotFound
	}
	if err != nil {
		return fmt.Errorf("registration: load %s: %w", regID, err)
	}

	if _, err := s.store.Apply(ctx, store.Delete(store.Join("quizzes", quizID, "registrations", regID))); err != nil {
		return fmt.Errorf("registration: delete %s: %w", regID, err)
	}
	return nil
}

// JoinLink builds the participant's quiz URL with the identity token embedded
// as the participant query parameter.
func (s *Service) JoinLink(quizID, email, name string) string {
	return fmt.Sprintf("%s/quiz/%s?participant=%s", s.baseURL, quizID, token.Encode(email, name))
}

func validate(req RegisterRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("please enter your name"))
	}
	if !emailPattern.MatchString(req.Email) {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("please enter a valid email address"))
	}
	if !mobilePattern.MatchString(req.Mobile) {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("please enter a valid mobile number"))
	}
	return nil
}
