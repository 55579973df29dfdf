// Package bus provides the async message bus decoupling channels from the
// agent core. It guarantees per-session ordering: one logical FIFO per
// session key, drained by a single worker, while distinct sessions are
// processed concurrently.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Well-known metadata keys and message type constants.
const (
	MetaKeyMessageType  = "message_type"
	MessageTypeInternal = "internal"
	MessageTypeExternal = "external"
)

// InboundMessage represents a message from a channel (or the scheduler, or
// a finished subagent) to the agent.
type InboundMessage struct {
	Channel        string         `json:"channel"`
	SenderID       string         `json:"sender_id"`
	ChatID         string         `json:"chat_id"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Content        string         `json:"content"`
	Media          []string       `json:"media,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// SessionKey returns the session this message belongs to.
func (m *InboundMessage) SessionKey() string {
	return fmt.Sprintf("%s:%s", m.Channel, m.ChatID)
}

// MessageType returns the message type from metadata, defaulting to external.
func (m *InboundMessage) MessageType() string {
	if m.Metadata != nil {
		if v, ok := m.Metadata[MetaKeyMessageType].(string); ok && v != "" {
			return v
		}
	}
	return MessageTypeExternal
}

// OutboundMessage represents a message from the agent to a channel.
type OutboundMessage struct {
	Channel  string         `json:"channel"`
	ChatID   string         `json:"chat_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Handler processes one inbound message to completion. The bus invokes it
// serially per session.
type Handler func(ctx context.Context, msg *InboundMessage)

// Interceptor may consume a message before it is enqueued (e.g. a /stop
// command cancelling the session's active turn). Returning true drops the
// message from normal dispatch.
type Interceptor func(msg *InboundMessage) bool

// Options configures bus behaviour.
type Options struct {
	DedupWindow       time.Duration
	OutboundRetries   int
	OutboundRetryBase time.Duration
}

type sessionQueue struct {
	pending []*InboundMessage
	busy    bool
}

// MessageBus routes inbound messages to the agent and outbound messages to
// channel subscribers.
type MessageBus struct {
	mu          sync.Mutex
	queues      map[string]*sessionQueue
	handler     Handler
	interceptor Interceptor
	subs        map[string]func(*OutboundMessage) error
	dedup       *dedupWindow
	opts        Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMessageBus creates a new message bus.
func NewMessageBus(opts Options) *MessageBus {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 10 * time.Minute
	}
	if opts.OutboundRetries <= 0 {
		opts.OutboundRetries = 5
	}
	if opts.OutboundRetryBase <= 0 {
		opts.OutboundRetryBase = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MessageBus{
		queues: make(map[string]*sessionQueue),
		subs:   make(map[string]func(*OutboundMessage) error),
		dedup:  newDedupWindow(opts.DedupWindow),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetHandler registers the agent entry point for inbound messages. Must be
// called before the first PublishInbound.
func (b *MessageBus) SetHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// SetInterceptor registers a pre-dispatch hook for control messages.
func (b *MessageBus) SetInterceptor(i Interceptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interceptor = i
}

// PublishInbound enqueues a message for its session. If the session is
// idle, a worker starts draining immediately; if busy, the message waits
// behind the current turn. Duplicate idempotency keys within the dedup
// window are dropped.
func (b *MessageBus) PublishInbound(msg *InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.Lock()
	interceptor := b.interceptor
	b.mu.Unlock()
	if interceptor != nil && interceptor(msg) {
		return
	}

	if msg.IdempotencyKey != "" && !b.dedup.admit(msg.IdempotencyKey, time.Now()) {
		slog.Info("Duplicate inbound message dropped",
			"session", msg.SessionKey(), "idempotency_key", msg.IdempotencyKey)
		return
	}

	key := msg.SessionKey()

	b.mu.Lock()
	if b.handler == nil {
		b.mu.Unlock()
		slog.Error("Inbound message dropped: no handler registered", "session", key)
		return
	}
	q := b.queues[key]
	if q == nil {
		q = &sessionQueue{}
		b.queues[key] = q
	}
	q.pending = append(q.pending, msg)
	start := !q.busy
	if start {
		q.busy = true
		b.wg.Add(1)
	}
	b.mu.Unlock()

	if start {
		go b.drain(key)
	}
}

// drain processes the session's queue until empty, preserving publish order.
func (b *MessageBus) drain(key string) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		q := b.queues[key]
		if len(q.pending) == 0 {
			q.busy = false
			b.mu.Unlock()
			return
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		handler := b.handler
		b.mu.Unlock()

		if b.ctx.Err() != nil {
			return
		}
		handler(b.ctx, msg)
	}
}

// Busy reports whether the session currently has an active worker.
func (b *MessageBus) Busy(sessionKey string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[sessionKey]
	return q != nil && q.busy
}

// PendingSize returns the number of queued messages for a session.
func (b *MessageBus) PendingSize(sessionKey string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q := b.queues[sessionKey]; q != nil {
		return len(q.pending)
	}
	return 0
}

// Subscribe registers the delivery function for outbound messages to a
// channel. One subscriber per channel; later registrations replace earlier.
func (b *MessageBus) Subscribe(channel string, deliver func(*OutboundMessage) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = deliver
}

// PublishOutbound hands a message to the channel's subscriber. Delivery
// failures are retried with bounded exponential backoff; exhaustion is
// logged and the message dropped.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	b.mu.Lock()
	deliver := b.subs[msg.Channel]
	b.mu.Unlock()

	if deliver == nil {
		slog.Warn("Outbound message dropped: no subscriber", "channel", msg.Channel)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		delay := b.opts.OutboundRetryBase
		for attempt := 1; ; attempt++ {
			err := deliver(msg)
			if err == nil {
				return
			}
			if attempt >= b.opts.OutboundRetries {
				slog.Error("Outbound delivery failed, dropping message",
					"channel", msg.Channel, "chat_id", msg.ChatID, "attempts", attempt, "error", err)
				return
			}
			slog.Warn("Outbound delivery failed, retrying",
				"channel", msg.Channel, "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
		}
	}()
}

// Close stops dispatch and waits for in-flight workers to finish.
func (b *MessageBus) Close() {
	b.cancel()
	b.wg.Wait()
}
