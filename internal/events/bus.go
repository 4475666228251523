// Package events fans orchestrator state out to overlay subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanveloso/landale-sub014/internal/model"
	"github.com/bryanveloso/landale-sub014/internal/observability"
)

// Kind names an outbound message.
type Kind string

const (
	// KindStreamState carries a full snapshot.
	KindStreamState Kind = "stream_state"
	// KindShowChanged is published when current_show changes.
	KindShowChanged Kind = "show_changed"
	// KindInterrupt is published when an interrupt is pushed or popped.
	KindInterrupt Kind = "interrupt"
	// KindContentUpdate is published when an active item's payload changes.
	KindContentUpdate Kind = "content_update"
)

// Message is one outbound publication. Every message carries the version it
// belongs to; auxiliary messages are delivered before the stream_state of the
// same version.
type Message struct {
	Type      Kind            `json:"type"`
	Version   uint64          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Snapshot  *model.Snapshot `json:"snapshot,omitempty"`
	Data      map[string]any  `json:"data,omitempty"`
}

// StateMessage wraps a snapshot as a stream_state message.
func StateMessage(s *model.Snapshot) Message {
	return Message{Type: KindStreamState, Version: s.Version, Timestamp: s.LastUpdated, Snapshot: s}
}

// Handler receives messages for one subscriber, in publish order.
type Handler func(Message)

// Subscription is one subscriber's delivery stream.
type Subscription struct {
	id      uint64
	pub     *Publisher
	ch      chan Message
	done    chan struct{}
	closeMu sync.Once
	dropped atomic.Uint64

	lastState uint64 // guarded by Publisher.mu
}

// Done is closed once delivery has stopped, whether by Unsubscribe, by a
// backpressure disconnect or by Publisher.Close.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped counts messages discarded for this subscriber under backpressure.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) Unsubscribe() {
	s.pub.remove(s, "unsubscribe")
}

func (s *Subscription) close() {
	s.closeMu.Do(func() { close(s.ch) })
}

// Publisher delivers messages to every subscriber without ever blocking the
// caller. Each subscriber has a bounded buffer; when it is full the oldest
// buffered message is dropped, or the subscriber is disconnected, depending
// on the configured policy.
type Publisher struct {
	mu         sync.Mutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	policy     string
	logger     zerolog.Logger
	closed     bool
}

func NewPublisher(cfg model.PublisherConfig, logger zerolog.Logger) *Publisher {
	size := cfg.BufferSize
	if size <= 0 {
		size = 64
	}
	policy := cfg.BackpressurePolicy
	if policy == "" {
		policy = model.BackpressureDropOldest
	}
	return &Publisher{
		subs:       make(map[uint64]*Subscription),
		bufferSize: size,
		policy:     policy,
		logger:     logger.With().Str("component", "publisher").Logger(),
	}
}

// Subscribe registers fn. fn runs on a goroutine owned by the subscription
// and a panic inside it does not affect other subscribers.
func (p *Publisher) Subscribe(fn Handler) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	sub := &Subscription{
		id:   p.nextID,
		pub:  p,
		ch:   make(chan Message, p.bufferSize),
		done: make(chan struct{}),
	}
	if p.closed {
		sub.close()
	} else {
		p.subs[sub.id] = sub
	}
	observability.SetSubscribers(len(p.subs))

	go func() {
		defer close(sub.done)
		for msg := range sub.ch {
			p.deliver(sub, fn, msg)
		}
	}()
	return sub
}

func (p *Publisher) deliver(sub *Subscription, fn Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Uint64("subscriber", sub.id).Interface("panic", r).Msg("subscriber handler panicked")
		}
	}()
	fn(msg)
}

// Publish hands msgs to every subscriber in order. A stream_state whose
// version is not newer than the last one queued for a subscriber is skipped,
// so each subscriber sees strictly increasing snapshot versions.
func (p *Publisher) Publish(msgs ...Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishLocked(msgs)
}

// Commit runs store and publishes msgs without letting a SendTo in between.
// store makes the new state visible to readers; anything they send back
// through SendTo is queued after msgs.
func (p *Publisher) Commit(store func(), msgs ...Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	store()
	p.publishLocked(msgs)
}

func (p *Publisher) publishLocked(msgs []Message) {
	for _, sub := range p.subs {
		for _, msg := range msgs {
			if msg.Type == KindStreamState {
				if msg.Version <= sub.lastState {
					continue
				}
				sub.lastState = msg.Version
			}
			if !p.offer(sub, msg) {
				break
			}
		}
	}
}

// SendTo queues a message for a single subscriber, typically a fresh
// snapshot it asked for. A stream_state may repeat the subscriber's latest
// version but never go behind it; an older one is skipped and reported as
// delivered.
func (p *Publisher) SendTo(sub *Subscription, msg Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.subs[sub.id]; !ok {
		return false
	}
	if msg.Type == KindStreamState {
		if msg.Version < sub.lastState {
			return true
		}
		sub.lastState = msg.Version
	}
	return p.offer(sub, msg)
}

// offer must be called with p.mu held. It reports whether the subscriber is
// still connected.
func (p *Publisher) offer(sub *Subscription, msg Message) bool {
	select {
	case sub.ch <- msg:
		return true
	default:
	}

	if p.policy == model.BackpressureDisconnect {
		p.logger.Warn().Err(model.ErrSubscriberBackpressure).Uint64("subscriber", sub.id).
			Uint64("version", msg.Version).Msg("disconnecting slow subscriber")
		observability.RecordPublisherDrop("disconnect")
		p.removeLocked(sub)
		return false
	}

	// Only Publish sends on sub.ch and it holds p.mu, so after taking one
	// message out there is room for this one.
	select {
	case old := <-sub.ch:
		sub.dropped.Add(1)
		observability.RecordPublisherDrop("drop_oldest")
		p.logger.Debug().Uint64("subscriber", sub.id).Uint64("dropped_version", old.Version).
			Msg("subscriber backpressure, dropped oldest message")
	default:
	}
	select {
	case sub.ch <- msg:
	default:
		sub.dropped.Add(1)
		observability.RecordPublisherDrop("drop_newest")
	}
	return true
}

func (p *Publisher) remove(sub *Subscription, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.subs[sub.id]; ok {
		p.logger.Debug().Uint64("subscriber", sub.id).Str("reason", reason).Msg("subscriber removed")
	}
	p.removeLocked(sub)
}

func (p *Publisher) removeLocked(sub *Subscription) {
	delete(p.subs, sub.id)
	sub.close()
	observability.SetSubscribers(len(p.subs))
}

// Len returns the number of connected subscribers.
func (p *Publisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Close disconnects every subscriber. Later subscriptions are closed immediately.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, sub := range p.subs {
		p.removeLocked(sub)
	}
}
