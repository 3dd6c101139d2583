// Package ingest subscribes to the order subsystem's event channel and
// turns newly created tasks into realtime fan-out.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"dispatchd/broadcast"
	"dispatchd/domain"
)

const TaskCreated = "task-created"

// Event is the envelope the order subsystem publishes.
type Event struct {
	Type string      `json:"type"`
	Task domain.Task `json:"task"`
}

// Run consumes events until the context is cancelled, reconnecting when
// the pub/sub channel closes. Tasks with a location are announced to
// contractors within radiusKm of it; tasks without one go to contractors
// whose skills match the task type.
func Run(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, router *broadcast.Router, radiusKm float64) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				handle(logger, router, channel, msg.Payload, radiusKm)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("event channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}

func handle(logger *log.Logger, router *broadcast.Router, channel, payload string, radiusKm float64) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		logger.WithError(err).Error("unable to parse dispatch event")
		return
	}
	if ev.Type != TaskCreated {
		logger.Warnf("ignoring unknown event type %q on %s", ev.Type, channel)
		return
	}
	t := ev.Task

	body := map[string]any{
		"taskId":   t.ID,
		"orderRef": t.OrderRef,
		"type":     string(t.Type),
		"priority": string(t.Priority),
		"payment":  t.PaymentAmount,
	}
	target := broadcast.Target{Skills: []string{string(t.Type)}}
	if t.Location != nil {
		body["location"] = map[string]any{"lat": t.Location.Lat, "lng": t.Location.Lng}
		target = broadcast.Target{
			Location: &domain.GeoQuery{Lat: t.Location.Lat, Lng: t.Location.Lng, RadiusKm: radiusKm},
			Skills:   []string{string(t.Type)},
		}
	}
	router.Broadcast(domain.EventTaskNew, body, target)
}
