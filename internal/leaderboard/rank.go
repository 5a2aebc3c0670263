package leaderboard

import (
	"sort"
	"time"

	"github.com/musudik/iquiz/internal/domain"
)

// Rank orders a registrations snapshot into standings: score descending,
// ties broken by average answer time ascending (the faster average wins),
// then by name for a stable order. Rank is the 1-based position after the
// sort. A participant with no answers ranks with zeroed stats, never errors.
func Rank(quizID string, regs map[string]domain.Registration, now time.Time) domain.Leaderboard {
	entries := make([]domain.Standing, 0, len(regs))
	for id, reg := range regs {
		entries = append(entries, domain.Standing{
			RegistrationID:   id,
			Name:             reg.Name,
			Score:            reg.Score,
			CorrectAnswers:   correctCount(reg.Answers),
			AvgAnswerSeconds: avgAnswerSeconds(reg.Answers),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].AvgAnswerSeconds != entries[j].AvgAnswerSeconds {
			return entries[i].AvgAnswerSeconds < entries[j].AvgAnswerSeconds
		}
		return entries[i].Name < entries[j].Name
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	return domain.Leaderboard{
		QuizID:    quizID,
		Entries:   entries,
		UpdatedAt: now,
	}
}

func correctCount(answers map[string]domain.Answer) int {
	n := 0
	for _, a := range answers {
		if a.IsCorrect {
			n++
		}
	}
	return n
}

// avgAnswerSeconds is the mean stored time-to-answer across answered
// questions, in whole seconds; zero when nothing was answered.
func avgAnswerSeconds(answers map[string]domain.Answer) int64 {
	if len(answers) == 0 {
		return 0
	}
	var totalMs int64
	for _, a := range answers {
		totalMs += a.TimeToAnswer
	}
	return totalMs / int64(len(answers)) / 1000
}
