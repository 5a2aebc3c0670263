package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/musudik/iquiz/internal/domain"
)

const maxConcurrent = 100

// Notification is the envelope pushed to a participant's personal Redis
// channel; mobile and mail gateways subscribe there.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// PublishLeaderboardUpdated fans the refreshed standings out to every ranked
// participant's channel.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	if a.redis == nil {
		return nil
	}
	l := e.Leaderboard

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range l.Entries {
		entry := entry
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.RegistrationID, e.Name(), l)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, registrationID, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, registrationID), b).Err()
}
