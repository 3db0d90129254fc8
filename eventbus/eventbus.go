// Package eventbus implements the in-process pub/sub used by the
// push-socket adapter and internal observers (session.*, context.*,
// page.*, browser.*, proxy.* topics). Delivery is best-effort: each
// subscriber has a bounded mailbox, and an event that finds a slow
// subscriber's mailbox full is dropped for that subscriber (with a
// warning) rather than allowed to block a producer; the subscriber
// itself stays registered. This is the same non-blocking
// fan-out idiom the teacher's services/tunnel connection registry
// uses for per-connection state (sync.Map keyed registry, dedicated
// goroutine per consumer).
package eventbus

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"browserfleet/logger"
)

// Event is one bus message. Protocol identifies the front-end that
// triggered it ("http", "ws", "rpc", "toolcall", "internal").
type Event struct {
	Topic     string
	Protocol  string
	Timestamp time.Time
	Data      map[string]any
}

const defaultMailboxSize = 64

type subscriber struct {
	id      string
	pattern string
	mailbox chan Event
}

// Bus fans events out to subscribers registered against topic
// patterns ("context.*", "proxy.unhealthy", "*").
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	dropped     map[string]int64
	mailboxSize int
}

// New constructs an empty Bus. mailboxSize <= 0 uses the default.
func New(mailboxSize int) *Bus {
	if mailboxSize <= 0 {
		mailboxSize = defaultMailboxSize
	}
	return &Bus{
		subscribers: make(map[string]*subscriber),
		dropped:     make(map[string]int64),
		mailboxSize: mailboxSize,
	}
}

// Subscribe registers a subscriber under the caller-chosen id (the
// key Unsubscribe takes) against a topic pattern and returns a
// receive-only channel of events. Callers must keep draining the channel; a full mailbox
// causes future events for this subscriber to be dropped with a
// warning log, never block the publisher.
func (b *Bus) Subscribe(id, pattern string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{id: id, pattern: pattern, mailbox: make(chan Event, b.mailboxSize)}
	b.subscribers[id] = sub
	return sub.mailbox
}

// Unsubscribe removes a subscriber and closes its mailbox.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.mailbox)
		delete(b.subscribers, id)
	}
}

// Publish fans an event out to every subscriber whose pattern matches
// the topic. Never blocks: a subscriber whose mailbox is full has
// this event dropped for it.
func (b *Bus) Publish(topic, protocol string, data map[string]any) {
	ev := Event{Topic: topic, Protocol: protocol, Timestamp: time.Now(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if !topicMatches(sub.pattern, topic) {
			continue
		}
		select {
		case sub.mailbox <- ev:
		default:
			logger.Warn("eventbus: dropping event for slow subscriber",
				zap.String("subscriber", sub.id), zap.String("topic", topic))
		}
	}
}

// topicMatches supports an exact match, a wildcard "*" matching
// everything, or a "prefix.*" matching any topic starting with prefix.
func topicMatches(pattern, topic string) bool {
	if pattern == "*" || pattern == topic {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(topic, prefix)
	}
	return false
}
