// Package messagebus implements the Job Queue Adapter (§4.D): events
// accepted by the Automation API are delivered at-least-once to
// exactly one worker, which acks only after the initial TaskContext
// write for that execution has been durably persisted. Redelivery of
// an event that already has an Execution on disk is therefore a
// no-op resume signal, not a duplicate start. Grounded on the donor's
// internal/messagebus/nats.go JetStream stream config and
// durable-subscribe-with-explicit-ack pattern, stripped of the
// chat-product subjects (loom.tasks/results/plans/reviews/swarm) that
// have no place in this domain and replaced with one subject per
// project carrying DevTeam Automation events.
package messagebus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// Config configures the JetStream-backed queue.
type Config struct {
	URL            string        // NATS server URL (e.g., "nats://nats:4222")
	StreamName     string        // JetStream stream name (default: "DEVTEAM_RUNNER")
	Timeout        time.Duration // Connection timeout
	ConsumerPrefix string        // Prefix for durable consumer names (test isolation)
}

// Queue is the Job Queue Adapter: it moves events from the Automation
// API's ingestion endpoint to the Workflow Engine's single active
// worker per project.
type Queue struct {
	conn           *nats.Conn
	js             nats.JetStreamContext
	subscriptions  map[string]*nats.Subscription
	streamName     string
	consumerPrefix string
}

// NewQueue connects to NATS and ensures the runner's JetStream stream exists.
func NewQueue(cfg Config) (*Queue, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "DEVTEAM_RUNNER"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	q := &Queue{
		conn:           nc,
		js:             js,
		subscriptions:  make(map[string]*nats.Subscription),
		streamName:     cfg.StreamName,
		consumerPrefix: cfg.ConsumerPrefix,
	}

	if err := q.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return q, nil
}

// ensureStream creates or updates the runner's JetStream stream.
// LimitsPolicy, not WorkQueue: a redelivered message must still be
// replayable to a resumed worker rather than consumed exactly once.
func (q *Queue) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      q.streamName,
		Subjects:  []string{"devteam.events.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	info, err := q.js.StreamInfo(q.streamName)
	if err != nil {
		_, err = q.js.AddStream(streamConfig)
		if err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		return nil
	}
	if info.Config.Retention != nats.LimitsPolicy {
		if err := q.js.DeleteStream(q.streamName); err != nil {
			return fmt.Errorf("delete legacy stream: %w", err)
		}
		_, err = q.js.AddStream(streamConfig)
		if err != nil {
			return fmt.Errorf("recreate stream: %w", err)
		}
		return nil
	}
	_, err = q.js.UpdateStream(streamConfig)
	if err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	return nil
}

func subject(projectID string) string {
	return fmt.Sprintf("devteam.events.%s", projectID)
}

// Publish enqueues event for the Workflow Engine worker assigned to
// its project. Delivery is at-least-once: the Automation API
// publishes as soon as the event is durably stored, before any
// execution starts.
func (q *Queue) Publish(event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := q.js.Publish(subject(event.ProjectID), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Handler processes a delivered event. It must not ack (return nil)
// until the initial TaskContext write for the resulting execution has
// been durably persisted (§4.D); returning an error leaves the
// message unacked so JetStream redelivers it.
type Handler func(event *models.Event) error

func (q *Queue) prefixConsumer(name string) string {
	if q.consumerPrefix == "" {
		return name
	}
	return q.consumerPrefix + "-" + name
}

// Subscribe registers handler as the single durable worker for
// projectID's event subject. MaxDeliver(3) bounds redelivery attempts
// for a handler that keeps failing to persist; AckWait(30s) must
// comfortably exceed the time to durably write a TaskContext.
func (q *Queue) Subscribe(projectID string, handler Handler) error {
	subj := subject(projectID)
	consumerName := q.prefixConsumer(fmt.Sprintf("worker-%s", projectID))

	sub, err := q.js.Subscribe(subj, func(msg *nats.Msg) {
		var event models.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("messagebus: discarding unparseable message on %s: %v", subj, err)
			_ = msg.Term()
			return
		}

		if err := handler(&event); err != nil {
			log.Printf("messagebus: handler failed for event %s, will redeliver: %v", event.ID, err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable(consumerName),
		nats.AckExplicit(),
		nats.MaxDeliver(3),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subj, err)
	}

	q.subscriptions[subj] = sub
	return nil
}

// Unsubscribe stops a project's worker subscription.
func (q *Queue) Unsubscribe(projectID string) error {
	subj := subject(projectID)
	sub, ok := q.subscriptions[subj]
	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe from %s: %w", subj, err)
	}
	delete(q.subscriptions, subj)
	return nil
}

// Health reports whether the underlying NATS connection is up.
func (q *Queue) Health() error {
	if !q.conn.IsConnected() {
		return fmt.Errorf("nats connection is down")
	}
	return nil
}

// Close drains subscriptions and closes the connection.
func (q *Queue) Close() error {
	for subj, sub := range q.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("messagebus: error unsubscribing from %s: %v", subj, err)
		}
	}
	q.conn.Close()
	return nil
}
