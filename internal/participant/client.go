// Package participant implements the reader/answer-writer half of the
// quiz-session protocol: one Client per joined participant, driven entirely by
// store watch events and a local one-second tick. Every derived value is
// recomputed from the latest store snapshot, so a late-joining or backgrounded
// client self-corrects instead of drifting.
package participant

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/musudik/iquiz/internal/domain"
	"github.com/musudik/iquiz/internal/event"
	"github.com/musudik/iquiz/internal/store"
	"github.com/musudik/iquiz/internal/token"
)

const (
	// PointsPerCorrect is the fixed award per correct answer. No time bonus.
	PointsPerCorrect = 10

	// DefaultQuestionSeconds applies when neither the question nor the quiz
	// carries a time limit.
	DefaultQuestionSeconds = 20

	tickInterval = time.Second
)

type Config struct {
	Store    store.Client
	EventBus *event.Bus
	// Now overrides the local clock, for tests.
	Now func() time.Time
}

// Client is one participant's session against one quiz. Its only client-local
// state not mirrored to the store is the selected-answer marker, which resets
// whenever the observed question index changes.
type Client struct {
	store  store.Client
	eb     *event.Bus
	now    func() time.Time
	quizID string

	reg domain.Registration

	mu           sync.Mutex
	lastQuestion int
	selected     *int
}

// Join validates a participant link token against the quiz's registrations and
// returns a session client for the matching registration. All identity
// failures are terminal and typed: domain.ErrInvalidLink,
// domain.ErrQuizNotFound, domain.ErrInvalidRegistration.
func Join(ctx context.Context, c Config, quizID, linkToken string) (*Client, error) {
	email, name, err := token.Decode(linkToken)
	if err != nil {
		return nil, err
	}

	var quiz domain.Quiz
	err = c.Store.Get(ctx, store.Join("quizzes", quizID), &quiz)
	if store.IsNotFound(err) {
		return nil, domain.ErrQuizNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("participant: load quiz %s: %w", quizID, err)
	}

	var reg domain.Registration
	found := false
	for id, r := range quiz.Registrations {
		if r.Email == email && r.Name == name {
			reg = r
			reg.ID = id
			found = true
			break
		}
	}
	if !found {
		return nil, domain.ErrInvalidRegistration
	}

	now := c.Now
	if now == nil {
		now = time.Now
	}

	slog.InfoContext(ctx, "participant: joined", "quiz", quizID, "registration", reg.ID)
	return &Client{
		store:        c.Store,
		eb:           c.EventBus,
		now:          now,
		quizID:       quizID,
		reg:          reg,
		lastQuestion: -1,
	}, nil
}

// Registration returns the joined registration's identity snapshot.
func (c *Client) Registration() domain.Registration { return c.reg }

// Run watches the quiz subtree and emits a refreshed View on every store
// change and every second. The channel closes when ctx ends; slow consumers
// lose intermediate views, never the latest one.
func (c *Client) Run(ctx context.Context) (<-chan View, error) {
	events, cancel, err := c.store.Watch(ctx, store.Join("quizzes", c.quizID))
	if err != nil {
		return nil, fmt.Errorf("participant: watch quiz %s: %w", c.quizID, err)
	}

	views := make(chan View, 4)

	go func() {
		defer close(views)
		defer cancel()

		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		emit := func() {
			v := c.View(ctx)
			select {
			case views <- v:
			default:
				select {
				case <-views:
				default:
				}
				views <- v
			}
		}

		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				emit()
			case <-ticker.C:
				emit()
			}
		}
	}()

	return views, nil
}

// View derives the participant's current screen from a fresh store snapshot.
// A missing or partially-delivered subtree renders as loading, not an error.
func (c *Client) View(ctx context.Context) View {
	var quiz domain.Quiz
	if err := c.store.Get(ctx, store.Join("quizzes", c.quizID), &quiz); err != nil {
		if !store.IsNotFound(err) {
			slog.WarnContext(ctx, "participant: snapshot failed", "quiz", c.quizID, "error", err)
		}
		return View{Phase: PhaseLoading}
	}
	return c.reconcile(quiz)
}

// Submit records the selected option for the quiz's current question. The
// authoritative question index is re-read from the store, never trusted from
// the last rendered view, so a submission racing an advance lands on the
// question the organizer actually has open. The answer record and the updated
// score commit as one atomic batch.
//
// Submissions after the question timer reached zero are rejected with
// domain.ErrTimeExpired. Resubmission within the window overwrites the
// previous answer and the score counts only the latest one.
func (c *Client) Submit(ctx context.Context, selected int) (domain.Answer, error) {
	var quiz domain.Quiz
	err := c.store.Get(ctx, store.Join("quizzes", c.quizID), &quiz)
	if store.IsNotFound(err) {
		return domain.Answer{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Answer{}, fmt.Errorf("participant: load quiz %s: %w", c.quizID, err)
	}

	status := quiz.Status
	if status.State != domain.StateActive {
		return domain.Answer{}, domain.ErrNotActive
	}
	idx := status.CurrentQuestion
	if idx < 0 || idx >= len(quiz.Questions) {
		return domain.Answer{}, domain.ErrQuestionNotFound
	}
	q := quiz.Questions[idx]
	if selected < 0 || selected >= len(q.Options) {
		return domain.Answer{}, domain.ErrInvalidOption
	}

	start, ok := status.QuestionStart()
	if !ok {
		return domain.Answer{}, domain.ErrNotActive
	}
	elapsed := c.now().Sub(start)
	if elapsed > QuestionDuration(quiz, idx) {
		return domain.Answer{}, domain.ErrTimeExpired
	}
	if elapsed < 0 {
		elapsed = 0
	}

	reg, ok := quiz.Registrations[c.reg.ID]
	if !ok {
		return domain.Answer{}, domain.ErrRegistrationNotFound
	}

	key := strconv.Itoa(idx)
	correct := selected == q.CorrectAnswer

	// Overwrite semantics: back out a previously counted correct answer for
	// this index before counting the new submission.
	score := reg.Score
	if prev, resubmitted := reg.Answers[key]; resubmitted && prev.IsCorrect {
		score -= PointsPerCorrect
	}
	if correct {
		score += PointsPerCorrect
	}

	base := store.Join("quizzes", c.quizID, "registrations", c.reg.ID)
	ms, err := c.store.Apply(ctx,
		store.Set(base+"/answers/"+key, map[string]any{
			"selectedAnswer": selected,
			"isCorrect":      correct,
			"timeToAnswer":   elapsed.Milliseconds(),
			"answeredAt":     store.ServerTimestamp(),
		}),
		store.Set(base+"/score", score),
	)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("participant: submit answer: %w", err)
	}

	c.mu.Lock()
	c.lastQuestion = idx
	c.selected = &selected
	c.mu.Unlock()

	if c.eb != nil {
		c.eb.Publish(ctx, domain.EventScoreUpdated{
			QuizID:          c.quizID,
			RegistrationID:  c.reg.ID,
			ParticipantName: c.reg.Name,
			Score:           score,
			UpdateTime:      time.UnixMilli(ms),
		})
	}

	return domain.Answer{
		SelectedAnswer: selected,
		IsCorrect:      correct,
		TimeToAnswer:   elapsed.Milliseconds(),
		AnsweredAt:     ms,
	}, nil
}
