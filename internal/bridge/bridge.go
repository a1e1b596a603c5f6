// Package bridge relays frames between framelink endpoints and Redis
// pub/sub, so other services can consume received packets and inject
// packets to send without linking against the transports.
//
// Messages on both channels are raw frames of exactly packet.WireSize bytes.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/banshee-data/framelink/internal/config"
	"github.com/banshee-data/framelink/internal/monitoring"
	"github.com/banshee-data/framelink/internal/packet"
	"github.com/banshee-data/framelink/internal/transport"
)

// RxChannel is where received frames are published.
func RxChannel(prefix string) string { return prefix + ":rx" }

// TxChannel is where other services publish frames to be sent.
func TxChannel(prefix string) string { return prefix + ":tx" }

// Connect creates a client from cfg and checks it can reach the server.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Publisher publishes every received frame it observes.
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, prefix string) *Publisher {
	return &Publisher{client: client, channel: RxChannel(prefix)}
}

// Observe implements transport.Observer. Only inbound frames are published.
func (p *Publisher) Observe(ctx context.Context, ev *transport.Event) error {
	if ev.Direction != transport.Rx {
		return nil
	}
	frame, err := ev.Packet.MarshalBinary()
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, frame).Err()
}

// Relay forwards frames published on the tx channel through an Endpoint.
type Relay struct {
	client  *redis.Client
	channel string
	ep      *transport.Endpoint

	ready     chan struct{}
	readyOnce sync.Once

	forwarded atomic.Uint64
	rejected  atomic.Uint64
}

func NewRelay(client *redis.Client, prefix string, ep *transport.Endpoint) *Relay {
	return &Relay{
		client:  client,
		channel: TxChannel(prefix),
		ep:      ep,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the subscription is active.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

// Counts returns how many messages were forwarded and how many were
// dropped as malformed or unsendable.
func (r *Relay) Counts() (forwarded, rejected uint64) {
	return r.forwarded.Load(), r.rejected.Load()
}

// Run subscribes and forwards until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	monitoring.Logf("bridge: relaying %s to %s", r.channel, r.ep.Transport().Name())

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(ctx, []byte(msg.Payload))
		}
	}
}

func (r *Relay) forward(ctx context.Context, frame []byte) {
	p, err := packet.Decode(frame)
	if err != nil {
		r.rejected.Add(1)
		monitoring.Logf("bridge: dropping message on %s: %v", r.channel, err)
		return
	}
	if err := r.ep.Send(ctx, &p); err != nil {
		r.rejected.Add(1)
		monitoring.Logf("bridge: failed to forward %s: %v", p.HeaderInfo(), err)
		return
	}
	r.forwarded.Add(1)
}
