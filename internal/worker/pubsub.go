package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/opentaqwa/opentaqwa/internal/engine"
)

// Job types accepted on the subscription.
const (
	JobScheduleRefresh = "schedule_refresh"
	JobScheduleSweep   = "schedule_sweep"
	JobHealthCheck     = "health_check"
)

// Job errors.
var (
	ErrUnknownJob    = errors.New("unknown job type")
	ErrMalformedJob  = errors.New("malformed job message")
	ErrSweepDisabled = errors.New("schedule sweep not configured")

	// ErrRefreshFailed wraps a failure the engine already recorded in its
	// state. The job ran, so the message is not redelivered.
	ErrRefreshFailed = errors.New("schedule refresh failed")
)

// Refresher is the engine surface the worker drives.
type Refresher interface {
	Refresh(ctx context.Context) error
	Snapshot() engine.Snapshot
}

// JobMessage is the payload of a worker job message.
type JobMessage struct {
	JobType string `json:"job_type"`
}

// Dispatcher runs jobs decoded from message payloads.
type Dispatcher struct {
	engine Refresher
	sweep  *SweepJob
	logger zerolog.Logger
}

// NewDispatcher creates a new dispatcher. sweep may be nil.
func NewDispatcher(e Refresher, sweep *SweepJob, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{engine: e, sweep: sweep, logger: logger}
}

// Dispatch decodes data and runs the job it names.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) error {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}

	switch msg.JobType {
	case JobScheduleRefresh:
		return d.handleScheduleRefresh(ctx)
	case JobScheduleSweep:
		return d.handleScheduleSweep(ctx)
	case JobHealthCheck:
		return d.handleHealthCheck()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

func (d *Dispatcher) handleScheduleRefresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.logger.Info().Msg("starting schedule refresh")

	err := d.engine.Refresh(ctx)
	switch {
	case err == nil, engine.IsSuperseded(err):
		// A newer refresh owns the outcome.
		return nil
	default:
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
}

func (d *Dispatcher) handleScheduleSweep(ctx context.Context) error {
	if d.sweep == nil {
		return ErrSweepDisabled
	}

	result := d.sweep.Run(ctx)

	// Consider it successful if more than half succeeded.
	if result.Failed > result.Successful {
		return fmt.Errorf("too many sweep failures: %d/%d", result.Failed, result.TotalSites)
	}
	return nil
}

func (d *Dispatcher) handleHealthCheck() error {
	snap := d.engine.Snapshot()
	if !snap.HasSchedule() {
		return fmt.Errorf("health check failed: %w (status %s)", engine.ErrNoSchedule, snap.Status)
	}

	d.logger.Debug().Str("status", string(snap.Status)).Msg("health check passed")
	return nil
}

// PubSubHandler receives job messages from a Pub/Sub subscription.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       *Dispatcher
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Refreshes are cheap and idempotent; a small window is enough.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 4
	subscriber.ReceiveSettings.MaxExtension = 2 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       cfg.Dispatcher,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages. It blocks until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	if Ack(h.dispatcher.Dispatch(ctx, msg.Data), logger) {
		logger.Info().Dur("duration", time.Since(startTime)).Msg("job completed")
		msg.Ack()
		return
	}
	msg.Nack()
}

// Ack reports whether a message that produced err should be acknowledged.
// Unknown and malformed jobs are acked to prevent redelivery, and so is a
// refresh that reached the engine: its failure stays visible in the engine
// state until the next manual, scheduled or date-change refresh.
func Ack(err error, logger zerolog.Logger) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrRefreshFailed):
		logger.Warn().Err(err).Msg("schedule refresh failed, not redelivering")
		return true
	case errors.Is(err, ErrUnknownJob), errors.Is(err, ErrMalformedJob), errors.Is(err, ErrSweepDisabled):
		logger.Warn().Err(err).Msg("dropping job message")
		return true
	default:
		logger.Error().Err(err).Msg("job failed")
		return false
	}
}
