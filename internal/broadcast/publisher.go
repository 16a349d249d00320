// Package broadcast pushes engine snapshots to in-mosque displays over MQTT.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opentaqwa/opentaqwa/internal/engine"
	"github.com/opentaqwa/opentaqwa/internal/location"
	"github.com/opentaqwa/opentaqwa/internal/prayer"
)

// Broker publishes a payload to a topic.
type Broker interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// Topic suffixes under the configured prefix.
const (
	TopicSchedule  = "schedule"
	TopicNext      = "next"
	TopicCountdown = "countdown"
)

// SchedulePayload is published retained whenever a new schedule is committed.
type SchedulePayload struct {
	Date       string              `json:"date"`
	Place      location.PlaceName  `json:"place"`
	Coordinate location.Coordinate `json:"coordinate"`
	Events     []prayer.Event      `json:"events"`
	Status     engine.Status       `json:"status"`
	Error      string              `json:"error,omitempty"`
}

// NextPayload is published retained whenever the next prayer changes.
type NextPayload struct {
	prayer.NextEvent
	Tomorrow bool `json:"tomorrow"`
}

// CountdownPayload is published on every tick.
type CountdownPayload struct {
	ID        prayer.ID `json:"id"`
	Countdown string    `json:"countdown"`
	Seconds   int64     `json:"seconds"`
}

// PublisherConfig holds configuration for the publisher.
type PublisherConfig struct {
	Broker Broker
	Logger zerolog.Logger

	// TopicPrefix is prepended to every topic (default: "opentaqwa").
	TopicPrefix string

	// PublishTimeout bounds each publish (default: 5 seconds).
	PublishTimeout time.Duration
}

// Publisher forwards snapshot changes to the broker.
type Publisher struct {
	broker  Broker
	logger  zerolog.Logger
	prefix  string
	timeout time.Duration

	lastGeneration uint64
	lastStatus     engine.Status
	lastNext       *prayer.NextEvent
	lastCountdown  string
}

// NewPublisher creates a new publisher.
func NewPublisher(cfg PublisherConfig) *Publisher {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "opentaqwa"
	}

	timeout := cfg.PublishTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Publisher{
		broker:  cfg.Broker,
		logger:  cfg.Logger,
		prefix:  prefix,
		timeout: timeout,
	}
}

// Topic returns the full topic for a suffix.
func (p *Publisher) Topic(suffix string) string {
	return p.prefix + "/" + suffix
}

// Run publishes every snapshot received from the subscription until ctx is done
// or the channel is closed.
func (p *Publisher) Run(ctx context.Context, updates <-chan engine.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := p.Publish(ctx, snap); err != nil {
				p.logger.Warn().Err(err).Msg("failed to publish snapshot")
			}
		}
	}
}

// Publish sends the parts of snap that changed since the previous call.
// Publisher is not safe for concurrent use; Run calls it from one goroutine.
func (p *Publisher) Publish(ctx context.Context, snap engine.Snapshot) error {
	if !snap.HasSchedule() {
		return nil
	}

	if snap.Generation != p.lastGeneration || snap.Status != p.lastStatus {
		payload := SchedulePayload{
			Date:       snap.Date,
			Place:      snap.Place,
			Coordinate: snap.Coordinate,
			Events:     snap.Events,
			Status:     snap.Status,
			Error:      snap.Error,
		}
		if err := p.send(ctx, TopicSchedule, 1, true, payload); err != nil {
			return err
		}
		p.lastGeneration = snap.Generation
		p.lastStatus = snap.Status
	}

	next := snap.Next
	if p.lastNext == nil || next.ID != p.lastNext.ID || !next.OccursAt.Equal(p.lastNext.OccursAt) {
		payload := NextPayload{NextEvent: *next, Tomorrow: next.Tomorrow(snap.UpdatedAt)}
		if err := p.send(ctx, TopicNext, 1, true, payload); err != nil {
			return err
		}
		p.lastNext = next
	}

	if snap.Countdown != p.lastCountdown {
		payload := CountdownPayload{
			ID:        next.ID,
			Countdown: snap.Countdown,
			Seconds:   int64(snap.Remaining / time.Second),
		}
		if err := p.send(ctx, TopicCountdown, 0, false, payload); err != nil {
			return err
		}
		p.lastCountdown = snap.Countdown
	}
	return nil
}

// PublishSite publishes a one-off schedule retained under {prefix}/sites/{slug}/schedule.
// It keeps no state and is safe for concurrent use when the broker is.
func (p *Publisher) PublishSite(ctx context.Context, slug string, schedule engine.Schedule) error {
	return p.send(ctx, "sites/"+slug+"/"+TopicSchedule, 1, true, schedule)
}

func (p *Publisher) send(ctx context.Context, suffix string, qos byte, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", suffix, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.broker.Publish(ctx, p.Topic(suffix), qos, retained, payload); err != nil {
		return err
	}

	p.logger.Debug().Str("topic", p.Topic(suffix)).Int("bytes", len(payload)).Msg("published")
	return nil
}
