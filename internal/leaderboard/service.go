// Package leaderboard ranks registrations into standings and keeps a Redis
// ZSET mirror of live scores for cheap reads while a session runs. The store
// remains the source of truth; the mirror only feeds the quick live view and
// the throttled update notifications.
package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/musudik/iquiz/internal/domain"
	"github.com/musudik/iquiz/internal/errors"
	"github.com/musudik/iquiz/internal/event"
	"github.com/musudik/iquiz/internal/store"
)

const (
	// publishInterval throttles leaderboard.updated publications: many scores
	// land in a short burst while a question is open, one notification per
	// interval is enough.
	publishInterval = 200 * time.Millisecond
)

type Config struct {
	EventBus *event.Bus
	Store    store.Client
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	store  store.Client
	redis  redis.UniversalClient
	prefix string

	// reads collapses concurrent snapshot ranks for the same quiz: monitor
	// streams and API polls all ask for the same standings.
	reads singleflight.Group
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		store:  c.Store,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateMirror(ctx, e.(domain.EventScoreUpdated))
	})
	s.eb.Subscribe(domain.EventNameSessionReset, func(ctx context.Context, e event.Event) error {
		return s.ClearMirror(ctx, e.(domain.EventSessionReset).QuizID)
	})

	return s
}

type GetLeaderboardRequest struct {
	QuizID string
}

// GetLeaderboard returns the authoritative standings, ranked from the current
// registrations snapshot in the store.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	v, err, _ := s.reads.Do(req.QuizID, func() (any, error) {
		var quiz domain.Quiz
		err := s.store.Get(ctx, store.Join("quizzes", req.QuizID), &quiz)
		if store.IsNotFound(err) {
			return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("quiz not found: %s", req.QuizID))
		}
		if err != nil {
			return nil, fmt.Errorf("get leaderboard: %w", err)
		}

		lb := Rank(req.QuizID, quiz.Registrations, time.Now())
		return &lb, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Leaderboard), nil
}

// Live reads the ZSET mirror: name/score pairs in score order, no tie-break
// stats. Cheap enough to poll while a question is open.
func (s *Service) Live(ctx context.Context, quizID string) ([]domain.Standing, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.mirrorKey(quizID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("live leaderboard: %w", err)
	}

	entries := make([]domain.Standing, 0, len(res))
	for i, z := range res {
		entries = append(entries, domain.Standing{
			Rank:           i + 1,
			RegistrationID: z.Member.(string),
			Score:          int(z.Score),
		})
	}
	return entries, nil
}

// UpdateMirror overwrites the participant's score in the ZSET and schedules a
// throttled leaderboard.updated publication.
func (s *Service) UpdateMirror(ctx context.Context, e domain.EventScoreUpdated) error {
	if err := s.redis.ZAdd(ctx, s.mirrorKey(e.QuizID), redis.Z{
		Score:  float64(e.Score),
		Member: e.RegistrationID,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard mirror: %w", err)
	}

	return s.schedulePublish(ctx, e)
}

// ClearMirror drops the ZSET after a session reset; scores restart from zero.
func (s *Service) ClearMirror(ctx context.Context, quizID string) error {
	if err := s.redis.Del(ctx, s.mirrorKey(quizID), s.gateKey(quizID)).Err(); err != nil {
		return fmt.Errorf("clear leaderboard mirror: %w", err)
	}
	return nil
}

// schedulePublish gates publications with SetNX so a burst of score updates
// within publishInterval produces a single leaderboard.updated event, also
// across multiple service instances sharing the Redis.
func (s *Service) schedulePublish(ctx context.Context, e domain.EventScoreUpdated) error {
	ok, err := s.redis.SetNX(ctx, s.gateKey(e.QuizID), e.UpdateTime.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil
	}

	lb, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{QuizID: e.QuizID})
	if err != nil {
		return fmt.Errorf("publish leaderboard: quiz=%s: %w", e.QuizID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{Leaderboard: *lb})
	return nil
}

func (s *Service) mirrorKey(quizID string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, quizID)
}

func (s *Service) gateKey(quizID string) string {
	return fmt.Sprintf("%s:%s:leaderboard:gate", s.prefix, quizID)
}
