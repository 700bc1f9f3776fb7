// Package dispatch fans decoded sample batches out to registered
// consumers through bounded per-consumer backlogs.
//
// Two delivery modes cover the two consumer temperaments. A reliable
// consumer must see every sample, so a full backlog applies
// backpressure to the publisher. A best-effort consumer prefers
// freshness, so a full backlog sheds the oldest batch and the loss is
// reported to that consumer on its next pull.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/saumyakr1232/can-msg-visualizer/types"
)

// Mode selects a consumer's delivery contract.
type Mode string

const (
	// ModeReliable delivers every published batch. A full backlog
	// blocks the publisher until the consumer drains or a wait budget
	// expires.
	ModeReliable Mode = "reliable"
	// ModeBestEffort never blocks the publisher. A full backlog drops
	// the oldest batch and surfaces the loss via Pull.
	ModeBestEffort Mode = "best_effort"
)

func (m Mode) valid() bool { return m == ModeReliable || m == ModeBestEffort }

// ErrBacklogFull is returned by Publish when a reliable consumer's
// backlog stays full past the publish wait budget.
var ErrBacklogFull = errors.New("reliable consumer backlog full")

// ErrUnknownConsumer is returned for consumer ids with no subscription.
var ErrUnknownConsumer = errors.New("unknown consumer")

// ErrDuplicateConsumer is returned by Subscribe for an id already in use.
var ErrDuplicateConsumer = errors.New("consumer id already subscribed")

// ErrClosed is returned after CloseAll.
var ErrClosed = errors.New("dispatcher closed")

const (
	// DefaultPublishWait bounds how long Publish blocks on a full
	// reliable backlog before failing the publish.
	DefaultPublishWait = 2 * time.Second
	// DefaultPollInterval is the re-check cadence while waiting.
	DefaultPollInterval = 20 * time.Millisecond
	// DefaultCapacity is the backlog capacity, in batches, applied when
	// Subscribe is given a non-positive capacity.
	DefaultCapacity = 32
)

// Stats is a point-in-time summary of dispatcher activity.
type Stats struct {
	// Published counts samples accepted by at least one backlog.
	Published int64
	// Dropped counts samples shed from best-effort backlogs.
	Dropped int64
	// DroppedByConsumer breaks Dropped down per consumer id.
	DroppedByConsumer map[string]int64
}

type subscription struct {
	id       string
	mode     Mode
	capacity int

	queue [][]types.DecodedSample
	// droppedUnread accumulates shed samples since the last Pull.
	droppedUnread int64
	droppedTotal  int64
}

func (sub *subscription) full() bool { return len(sub.queue) >= sub.capacity }

// Dispatcher owns all subscriptions. Safe for concurrent use; the
// pipeline publishes from one goroutine while consumers pull from
// their own.
type Dispatcher struct {
	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool

	wait time.Duration
	poll time.Duration

	published int64
}

// NewDispatcher creates a dispatcher with the default wait budget.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subs: make(map[string]*subscription),
		wait: DefaultPublishWait,
		poll: DefaultPollInterval,
	}
}

// SetPublishWait overrides the reliable-backlog wait budget and poll
// cadence. Non-positive values keep the current setting.
func (d *Dispatcher) SetPublishWait(wait, poll time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if wait > 0 {
		d.wait = wait
	}
	if poll > 0 {
		d.poll = poll
	}
}

// Subscribe registers a consumer. Capacity is in batches; non-positive
// means DefaultCapacity.
func (d *Dispatcher) Subscribe(id string, mode Mode, capacity int) error {
	if id == "" {
		return errors.New("empty consumer id")
	}
	if !mode.valid() {
		return fmt.Errorf("invalid mode %q", mode)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if _, ok := d.subs[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateConsumer, id)
	}
	d.subs[id] = &subscription{id: id, mode: mode, capacity: capacity}
	return nil
}

// Unsubscribe removes a consumer and discards its backlog.
func (d *Dispatcher) Unsubscribe(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConsumer, id)
	}
	delete(d.subs, id)
	return nil
}

// Publish offers one batch to every subscription. Batches are appended
// to best-effort backlogs immediately, shedding the oldest batch when
// full. Reliable backlogs that are full are retried until they drain,
// the wait budget expires, or ctx is cancelled.
//
// The batch is copied before queueing; the caller may reuse its buffer
// as soon as Publish returns.
//
// Consumers that subscribe after a batch is published do not receive
// it; delivery starts at subscription time.
func (d *Dispatcher) Publish(ctx context.Context, batch []types.DecodedSample) error {
	if len(batch) == 0 {
		return nil
	}
	// Backlogs hold batches until the consumer pulls, which can be long
	// after the publisher has refilled its buffer.
	queued := make([]types.DecodedSample, len(batch))
	copy(queued, batch)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}

	// Pending reliable subscriptions whose backlog was full on the
	// first pass.
	var pending []*subscription
	delivered := false
	for _, sub := range d.subs {
		if !sub.full() {
			sub.queue = append(sub.queue, queued)
			delivered = true
			continue
		}
		if sub.mode == ModeBestEffort {
			shed := int64(len(sub.queue[0]))
			sub.queue = sub.queue[1:]
			sub.queue = append(sub.queue, queued)
			sub.droppedUnread += shed
			sub.droppedTotal += shed
			delivered = true
			continue
		}
		pending = append(pending, sub)
	}
	if delivered {
		d.published += int64(len(batch))
	}
	wait, poll := d.wait, d.poll
	d.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	deadline := time.Now().Add(wait)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return ErrClosed
		}
		remaining := pending[:0]
		for _, sub := range pending {
			// The consumer may have unsubscribed while we waited.
			if _, ok := d.subs[sub.id]; !ok {
				continue
			}
			if sub.full() {
				remaining = append(remaining, sub)
				continue
			}
			sub.queue = append(sub.queue, queued)
			if !delivered {
				d.published += int64(len(batch))
				delivered = true
			}
		}
		pending = remaining
		d.mu.Unlock()

		if len(pending) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrBacklogFull, pending[0].id)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// Pull drains and returns the consumer's queued batches, along with
// the number of samples shed from its backlog since the previous Pull.
// An empty backlog returns (nil, 0, nil); Pull never blocks.
func (d *Dispatcher) Pull(id string) ([][]types.DecodedSample, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sub, ok := d.subs[id]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownConsumer, id)
	}

	batches := sub.queue
	sub.queue = nil
	dropped := sub.droppedUnread
	sub.droppedUnread = 0
	return batches, dropped, nil
}

// Snapshot returns current dispatcher stats.
func (d *Dispatcher) Snapshot() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := Stats{
		Published:         d.published,
		DroppedByConsumer: make(map[string]int64, len(d.subs)),
	}
	for id, sub := range d.subs {
		if sub.droppedTotal > 0 {
			stats.DroppedByConsumer[id] = sub.droppedTotal
			stats.Dropped += sub.droppedTotal
		}
	}
	return stats
}

// CloseAll removes every subscription and rejects further publishes.
func (d *Dispatcher) CloseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.subs = make(map[string]*subscription)
}
