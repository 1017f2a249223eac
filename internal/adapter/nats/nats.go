// Package nats implements the consultation channel port using NATS JetStream.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/validata/consultd/internal/domain/consultation"
	"github.com/validata/consultd/internal/port/channel"
)

const streamName = "CONSULT"

const (
	subjectRequested = "consultations.requested"
	subjectResponse  = "consultations.response"
	subjectEscalated = "consultations.escalated"
)

// Channel implements channel.Channel and channel.Resolver over NATS
// JetStream. Consultation requests are published for reviewer frontends
// to pick up, and responses flow back either through the response
// subject or through direct Resolve calls from the HTTP layer.
type Channel struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	waiters *syncWaiter[channel.Result]
}

// Connect establishes a connection to NATS and ensures the JetStream
// stream backing the consultation subjects exists.
func Connect(ctx context.Context, url string) (*Channel, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"consultations.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Channel{
		nc:      nc,
		js:      js,
		waiters: newSyncWaiter[channel.Result]("consultation"),
	}, nil
}

// Healthy reports whether the NATS connection is currently usable.
func (c *Channel) Healthy() error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("nats not connected: %s", c.nc.Status())
	}
	return nil
}

// KeyValue creates or binds the named JetStream key-value bucket. The
// decision cache uses this as its shared L2 tier.
func (c *Channel) KeyValue(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	kv, err := c.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	if err != nil {
		return nil, fmt.Errorf("jetstream kv %s: %w", bucket, err)
	}
	return kv, nil
}

// Notify publishes the consultation request so reviewer frontends can
// surface it to humans.
func (c *Channel) Notify(ctx context.Context, req consultation.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal consultation request: %w", err)
	}
	if _, err := c.js.Publish(ctx, subjectRequested, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subjectRequested, err)
	}
	return nil
}

// AwaitResponse blocks until a human response arrives for the given
// consultation, the timeout elapses, or the context is cancelled.
func (c *Channel) AwaitResponse(ctx context.Context, consultationID string, timeout time.Duration) (channel.Result, error) {
	ch := c.waiters.register(consultationID)
	defer c.waiters.unregister(consultationID)

	select {
	case res := <-ch:
		return *res, nil
	case <-time.After(timeout):
		return channel.Result{TimedOut: true}, nil
	case <-ctx.Done():
		return channel.Result{}, ctx.Err()
	}
}

// Resolve hands a human response to the waiter for its consultation.
// Returns false when no consultation is awaiting that ID on this node.
func (c *Channel) Resolve(resp *consultation.HumanResponse) bool {
	return c.waiters.deliver(resp.ConsultationID, &channel.Result{Response: resp})
}

// PublishResponse forwards a response received on one node to the rest
// of the deployment via the response subject.
func (c *Channel) PublishResponse(ctx context.Context, resp *consultation.HumanResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal human response: %w", err)
	}
	if _, err := c.js.Publish(ctx, subjectResponse, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subjectResponse, err)
	}
	return nil
}

// PublishEscalation announces an escalation so reviewer frontends can
// route it to the named specialists.
func (c *Channel) PublishEscalation(ctx context.Context, rec consultation.EscalationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal escalation record: %w", err)
	}
	if _, err := c.js.Publish(ctx, subjectEscalated, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subjectEscalated, err)
	}
	return nil
}

// StartResponseSubscriber consumes responses published by other nodes
// and resolves any local waiters. Returns a stop function.
func (c *Channel) StartResponseSubscriber(ctx context.Context) (func(), error) {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subjectResponse,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		var resp consultation.HumanResponse
		if err := json.Unmarshal(msg.Data(), &resp); err != nil {
			slog.Error("malformed consultation response", "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		// A miss just means the session lives on another node.
		c.Resolve(&resp)
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}
	return cons.Stop, nil
}

// Close drains in-flight messages and shuts down the NATS connection.
func (c *Channel) Close() error {
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
