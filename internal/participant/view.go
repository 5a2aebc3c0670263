package participant

import (
	"time"

	"github.com/musudik/iquiz/internal/domain"
)

// Phase is the participant screen's top-level state.
type Phase string

const (
	// PhaseLoading covers "not ready yet": the store delivered a partial
	// subtree, e.g. status flipped active before the questions arrived.
	PhaseLoading  Phase = "loading"
	PhaseWaiting  Phase = "waiting"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
)

// QuestionView is the question as shown to a participant. The correct answer
// index never leaves the server.
type QuestionView struct {
	Text    string   `json:"question"`
	Options []string `json:"options"`
}

// View is one rendered participant frame.
type View struct {
	Phase            Phase         `json:"phase"`
	QuizTitle        string        `json:"quizTitle,omitempty"`
	QuestionIndex    int           `json:"questionIndex"`
	TotalQuestions   int           `json:"totalQuestions"`
	Question         *QuestionView `json:"currentQuestion,omitempty"`
	RemainingSeconds int           `json:"remainingSeconds"`
	Score            int           `json:"score"`
	SelectedAnswer   *int          `json:"selectedAnswer,omitempty"`
	Answered         bool          `json:"answered"`
}

// reconcile derives the view from a quiz snapshot. Remaining time is
// recomputed from the server-stamped question start on every call rather than
// decremented locally.
func (c *Client) reconcile(quiz domain.Quiz) View {
	reg := quiz.Registrations[c.reg.ID]

	v := View{
		Phase:          PhaseWaiting,
		QuizTitle:      quiz.Title,
		TotalQuestions: len(quiz.Questions),
		Score:          reg.Score,
	}

	switch quiz.Status.State {
	case domain.StateFinished:
		v.Phase = PhaseFinished
		return v

	case domain.StateActive:
		idx := quiz.Status.CurrentQuestion
		start, started := quiz.Status.QuestionStart()
		if idx < 0 || idx >= len(quiz.Questions) || !started {
			v.Phase = PhaseLoading
			return v
		}

		c.mu.Lock()
		if idx != c.lastQuestion {
			c.lastQuestion = idx
			c.selected = nil
		}
		selected := c.selected
		c.mu.Unlock()

		q := quiz.Questions[idx]
		v.Phase = PhaseActive
		v.QuestionIndex = idx
		v.Question = &QuestionView{Text: q.Text, Options: q.Options}
		v.RemainingSeconds = RemainingSeconds(start, QuestionDuration(quiz, idx), c.now())
		v.SelectedAnswer = selected
		v.Answered = selected != nil
		return v
	}

	return v
}

// QuestionDuration resolves how long a question stays open: per-question override,
// else the quiz-level default, else DefaultQuestionSeconds.
func QuestionDuration(quiz domain.Quiz, idx int) time.Duration {
	if idx >= 0 && idx < len(quiz.Questions) && quiz.Questions[idx].TimeLimit > 0 {
		return time.Duration(quiz.Questions[idx].TimeLimit) * time.Second
	}
	if quiz.QuestionDuration > 0 {
		return time.Duration(quiz.QuestionDuration) * time.Second
	}
	return DefaultQuestionSeconds * time.Second
}

// RemainingSeconds computes the timer from absolute instants: the
// server-stamped question start and the local now. Never negative.
func RemainingSeconds(start time.Time, d time.Duration, now time.Time) int {
	rem := d - now.Sub(start)
	if rem <= 0 {
		return 0
	}
	return int(rem / time.Second)
}
