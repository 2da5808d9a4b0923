package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rickgao/chatlink/internal/backoff"
	"github.com/rickgao/chatlink/internal/clock"
	"github.com/rickgao/chatlink/internal/connection"
	"github.com/rickgao/chatlink/internal/events"
	"github.com/rickgao/chatlink/internal/model"
	"github.com/rickgao/chatlink/internal/snapshot"
	"github.com/rickgao/chatlink/internal/socket"
)

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithClock sets the clock used for retry and ack timers.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

// WithStore persists the queue to s after every change.
func WithStore(s snapshot.Store) Option {
	return func(q *Queue) {
		q.store = s
	}
}

// WithRand sets the random source for retry jitter.
func WithRand(r func() float64) Option {
	return func(q *Queue) {
		q.policy.Rand = r
	}
}

// entry is one tracked message.
type entry struct {
	msg model.Message

	// timer is the retry timer while retryPending, or the ack timer
	// while awaitingAck. timerGen invalidates callbacks of stopped timers.
	timer        clock.Timer
	timerGen     uint64
	retryPending bool
	awaitingAck  bool

	// attempt identifies the current send so late results are dropped.
	attempt uint64
}

// job is a send taken out of the lock.
type job struct {
	e       *entry
	attempt uint64
	frame   []byte
}

// Queue delivers outbound messages through a Sender.
type Queue struct {
	cfg    Config
	sender Sender
	logger *slog.Logger
	clock  clock.Clock
	store  snapshot.Store
	policy backoff.Policy

	mu      sync.Mutex
	entries map[string]*entry
	lanes   map[string][]*entry // ordering key -> entries by Seq
	nextSeq uint64
	closed  bool
	stats   Stats

	// Recently sent messages, oldest first.
	recent      map[string]model.Message
	recentOrder []string

	notify events.Notifier
	subs   *events.Registry[Event]

	version      uint64 // bumped per snapshot taken under mu
	saveMu       sync.Mutex
	savedVersion uint64
}

// New creates a Queue delivering through sender.
func New(sender Sender, cfg Config, opts ...Option) *Queue {
	q := &Queue{
		cfg:     cfg,
		sender:  sender,
		logger:  slog.Default(),
		clock:   clock.Real(),
		entries: make(map[string]*entry),
		lanes:   make(map[string][]*entry),
		recent:  make(map[string]model.Message),
		subs:    events.NewRegistry[Event](),
		policy: backoff.Policy{
			Base:   cfg.RetryBaseDelay,
			Max:    cfg.RetryMaxDelay,
			Jitter: cfg.Jitter,
		},
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "queue")
	q.subs.OnPanic(func(event string, rec any) {
		q.logger.Error("queue handler panicked", "event", event, "panic", rec)
	})
	return q
}

// On registers fn for the named event (EventQueued, EventSent, ...).
func (q *Queue) On(event string, fn func(Event)) events.Subscription {
	return q.subs.On(event, fn)
}

// Off removes a subscription. It reports whether anything was removed.
func (q *Queue) Off(sub events.Subscription) bool {
	return q.subs.Off(sub)
}

// Enqueue adds msg and sends it as soon as its lane is clear and the
// sender is connected. An empty ID is filled with a fresh one. Enqueuing
// an ID that is already tracked, or was recently sent, returns the known
// message and changes nothing.
func (q *Queue) Enqueue(msg model.Message) (model.Message, error) {
	if msg.ConversationID == "" {
		return model.Message{}, fmt.Errorf("%w: conversation id is required", ErrInvalidMessage)
	}
	if msg.ID == "" {
		msg.ID = model.NewMessageID()
	}
	if msg.Type == "" {
		msg.Type = model.TypeText
	}
	if msg.Type == model.TypeFile && msg.File == nil {
		return model.Message{}, fmt.Errorf("%w: file message without file", ErrInvalidMessage)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return model.Message{}, ErrClosed
	}
	if e, ok := q.entries[msg.ID]; ok {
		q.stats.Duplicates++
		existing := e.msg
		q.mu.Unlock()
		return existing, nil
	}
	if sent, ok := q.recent[msg.ID]; ok {
		q.stats.Duplicates++
		q.mu.Unlock()
		return sent, nil
	}
	if q.cfg.MaxEntries > 0 && len(q.entries) >= q.cfg.MaxEntries {
		if !q.evictOldestFailedLocked() {
			q.mu.Unlock()
			return model.Message{}, ErrQueueFull
		}
	}

	q.nextSeq++
	msg.Seq = q.nextSeq
	msg.Status = model.StatusQueued
	msg.RetryCount = 0
	msg.LastError = ""
	msg.EnqueuedAt = q.clock.Now()

	q.insertLocked(&entry{msg: msg})
	q.stats.Enqueued++
	q.postLocked(Event{Type: EventQueued, Message: msg})
	q.logger.Debug("message queued", "id", msg.ID, "key", msg.OrderingKey(), "seq", msg.Seq)
	q.unlock(true)

	q.pump(msg.OrderingKey())
	return msg, nil
}

// RetryMessage resets a failed message's retry budget and queues it again.
func (q *Queue) RetryMessage(id string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	if e.msg.Status != model.StatusFailed {
		status := e.msg.Status
		q.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, status)
	}

	e.msg.RetryCount = 0
	e.msg.LastError = ""
	e.msg.Status = model.StatusQueued
	q.postLocked(Event{Type: EventQueued, Message: e.msg})
	q.logger.Info("message retry requested", "id", id)
	key := e.msg.OrderingKey()
	q.unlock(true)

	q.pump(key)
	return nil
}

// HandleAck completes a message waiting for its server acknowledgement.
// It reports whether the ID matched a message being sent.
func (q *Queue) HandleAck(id string) bool {
	q.mu.Lock()
	e, ok := q.entries[id]
	if q.closed || !ok || e.msg.Status != model.StatusSending {
		q.mu.Unlock()
		return false
	}
	q.stopTimerLocked(e)
	q.markSentLocked(e)
	key := e.msg.OrderingKey()
	q.unlock(true)

	q.pump(key)
	return true
}

// HandleStateChange reacts to connection transitions. On connected,
// pending retry and ack timers are cancelled and every queued message is
// sent again per lane in enqueue order.
func (q *Queue) HandleStateChange(change connection.StateChange) {
	if change.New != connection.StateConnected {
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	for _, e := range q.entries {
		switch {
		case e.retryPending:
			q.stopTimerLocked(e)
		case e.awaitingAck:
			// The ack was lost with the old connection.
			q.stopTimerLocked(e)
			e.msg.Status = model.StatusQueued
		}
	}
	q.logger.Debug("flushing after reconnect", "entries", len(q.entries))
	q.unlock(true)

	q.pump()
}

// Clear drops every message, cancels every timer and clears the stored
// snapshot. Results of sends still in flight are discarded and no events
// are raised for dropped messages.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	for _, e := range q.entries {
		q.stopTimerLocked(e)
	}
	q.entries = make(map[string]*entry)
	q.lanes = make(map[string][]*entry)
	q.recent = make(map[string]model.Message)
	q.recentOrder = nil
	q.notify.Discard()
	q.version++
	ver := q.version
	q.mu.Unlock()

	if q.store == nil {
		return nil
	}
	q.saveMu.Lock()
	defer q.saveMu.Unlock()
	q.savedVersion = ver
	if err := q.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

// Close stops all timers. No events are raised afterwards and further
// Enqueue calls fail with ErrClosed. The stored snapshot is kept.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for _, e := range q.entries {
		q.stopTimerLocked(e)
	}
	q.notify.Discard()
}

// Restore loads the stored snapshot. Messages that were mid-send are
// queued again; IDs already tracked are skipped. It returns the number of
// messages restored.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	if q.store == nil {
		return 0, nil
	}
	msgs, err := q.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrClosed
	}
	restored := 0
	for _, msg := range msgs {
		if msg.ID == "" || msg.ConversationID == "" {
			continue
		}
		if _, ok := q.entries[msg.ID]; ok {
			continue
		}
		switch msg.Status {
		case model.StatusSent:
			continue
		case model.StatusSending, "":
			msg.Status = model.StatusQueued
		}
		if msg.Seq == 0 || msg.Seq <= q.nextSeq {
			q.nextSeq++
			msg.Seq = q.nextSeq
		} else {
			q.nextSeq = msg.Seq
		}
		q.insertLocked(&entry{msg: msg})
		restored++
	}
	q.logger.Info("queue restored", "messages", restored)
	q.unlock(restored > 0)

	q.pump()
	return restored, nil
}

// Status returns the delivery status of id. Recently sent messages report
// StatusSent.
func (q *Queue) Status(id string) (model.Status, bool) {
	msg, ok := q.Get(id)
	return msg.Status, ok
}

// Get returns a copy of the tracked or recently sent message.
func (q *Queue) Get(id string) (model.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[id]; ok {
		return e.msg, true
	}
	msg, ok := q.recent[id]
	return msg, ok
}

// Pending returns copies of every tracked message in enqueue order.
func (q *Queue) Pending() []model.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Stats returns a copy of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	for _, e := range q.entries {
		switch e.msg.Status {
		case model.StatusQueued:
			s.Queued++
		case model.StatusSending:
			s.Sending++
		case model.StatusFailed:
			s.Failed++
		}
	}
	return s
}

// pump sends every message whose lane is clear, one at a time, until
// nothing is sendable or the sender disconnects. No keys means all lanes.
func (q *Queue) pump(keys ...string) {
	for {
		if !q.sender.IsConnected() {
			return
		}

		q.mu.Lock()
		j := q.nextJobLocked(keys)
		q.unlock(j != nil)
		if j == nil {
			return
		}

		var err error
		if j.frame == nil {
			err = errors.New("encode message frame")
		} else {
			err = q.sender.Send(j.frame)
		}
		if !q.complete(j, err) {
			return
		}
	}
}

// nextJobLocked marks the first sendable message as sending.
func (q *Queue) nextJobLocked(keys []string) *job {
	if q.closed {
		return nil
	}
	if len(keys) == 0 {
		keys = make([]string, 0, len(q.lanes))
		for key := range q.lanes {
			keys = append(keys, key)
		}
		sort.Strings(keys)
	}

	for _, key := range keys {
		e := q.headLocked(key)
		if e == nil {
			continue
		}
		e.attempt++
		e.msg.Status = model.StatusSending
		q.postLocked(Event{Type: EventSending, Message: e.msg})

		frame, err := socket.Encode(socket.EventSend, e.msg.ToOutbound(q.clock.Now()))
		if err != nil {
			q.logger.Error("failed to encode message", "id", e.msg.ID, "error", err)
			frame = nil
		}
		return &job{e: e, attempt: e.attempt, frame: frame}
	}
	return nil
}

// headLocked returns the lane's next sendable message, or nil if the lane
// is empty or blocked. Failed messages do not block their lane.
func (q *Queue) headLocked(key string) *entry {
	for _, e := range q.lanes[key] {
		switch e.msg.Status {
		case model.StatusFailed:
			continue
		case model.StatusSending:
			return nil
		case model.StatusQueued:
			if e.retryPending {
				return nil
			}
			return e
		}
	}
	return nil
}

// complete applies the result of a send. It returns false when pumping
// should stop because the sender is not connected.
func (q *Queue) complete(j *job, err error) bool {
	q.mu.Lock()
	e := j.e
	if q.closed || q.entries[e.msg.ID] != e || e.attempt != j.attempt || e.msg.Status != model.StatusSending {
		// Cleared, acked early, or superseded.
		q.mu.Unlock()
		return true
	}

	switch {
	case err == nil && q.cfg.AckTimeout > 0:
		q.armAckLocked(e)
		q.mu.Unlock()
		return true

	case err == nil:
		q.markSentLocked(e)

	case errors.Is(err, connection.ErrNotConnected):
		// Not the message's fault; it goes out again on reconnect.
		e.msg.Status = model.StatusQueued
		q.logger.Debug("send deferred until reconnect", "id", e.msg.ID)
		q.unlock(true)
		return false

	default:
		q.failAttemptLocked(e, err)
	}
	q.unlock(true)
	return true
}

func (q *Queue) armAckLocked(e *entry) {
	e.awaitingAck = true
	e.timerGen++
	gen := e.timerGen
	e.timer = q.clock.AfterFunc(q.cfg.AckTimeout, func() { q.ackExpired(e, gen) })
}

func (q *Queue) ackExpired(e *entry, gen uint64) {
	q.mu.Lock()
	if q.closed || q.entries[e.msg.ID] != e || e.timerGen != gen || !e.awaitingAck {
		q.mu.Unlock()
		return
	}
	e.awaitingAck = false
	e.timer = nil
	q.failAttemptLocked(e, ErrAckTimeout)
	key := e.msg.OrderingKey()
	q.unlock(true)

	q.pump(key)
}

// failAttemptLocked counts a failed send and either schedules a retry or
// marks the message failed.
func (q *Queue) failAttemptLocked(e *entry, err error) {
	e.msg.RetryCount++
	e.msg.LastError = err.Error()

	if e.msg.RetryCount >= q.cfg.MaxRetries {
		e.msg.Status = model.StatusFailed
		q.stats.Failures++
		derr := &DeliveryError{ID: e.msg.ID, Attempts: e.msg.RetryCount, Err: err}
		q.logger.Warn("message delivery failed", "id", e.msg.ID, "attempts", e.msg.RetryCount, "error", err)
		q.postLocked(Event{Type: EventFailed, Message: e.msg, Err: derr})
		return
	}

	delay := q.policy.Delay(e.msg.RetryCount)
	e.msg.Status = model.StatusQueued
	e.retryPending = true
	e.timerGen++
	gen := e.timerGen
	e.timer = q.clock.AfterFunc(delay, func() { q.retryFired(e, gen) })
	q.stats.Retries++
	q.logger.Debug("message retry scheduled", "id", e.msg.ID, "attempt", e.msg.RetryCount, "delay", delay, "error", err)
	q.postLocked(Event{Type: EventRetryScheduled, Message: e.msg, Err: err, Delay: delay})
}

func (q *Queue) retryFired(e *entry, gen uint64) {
	q.mu.Lock()
	if q.closed || q.entries[e.msg.ID] != e || e.timerGen != gen || !e.retryPending {
		q.mu.Unlock()
		return
	}
	e.retryPending = false
	e.timer = nil
	key := e.msg.OrderingKey()
	q.mu.Unlock()

	q.pump(key)
}

func (q *Queue) stopTimerLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerGen++
	e.retryPending = false
	e.awaitingAck = false
}

func (q *Queue) markSentLocked(e *entry) {
	e.msg.Status = model.StatusSent
	e.awaitingAck = false
	q.removeLocked(e)
	q.rememberLocked(e.msg)
	q.stats.Sent++
	q.logger.Debug("message sent", "id", e.msg.ID, "attempts", e.msg.RetryCount+1)
	q.postLocked(Event{Type: EventSent, Message: e.msg})
}

// evictOldestFailedLocked drops the failed message with the lowest Seq.
func (q *Queue) evictOldestFailedLocked() bool {
	var oldest *entry
	for _, e := range q.entries {
		if e.msg.Status != model.StatusFailed {
			continue
		}
		if oldest == nil || e.msg.Seq < oldest.msg.Seq {
			oldest = e
		}
	}
	if oldest == nil {
		return false
	}
	q.stopTimerLocked(oldest)
	q.removeLocked(oldest)
	q.stats.Evicted++
	q.logger.Warn("evicted failed message", "id", oldest.msg.ID)
	q.postLocked(Event{Type: EventEvicted, Message: oldest.msg})
	return true
}

func (q *Queue) insertLocked(e *entry) {
	q.entries[e.msg.ID] = e
	key := e.msg.OrderingKey()
	lane := append(q.lanes[key], e)
	// Keep Seq order; restored entries can arrive behind newer ones.
	for i := len(lane) - 1; i > 0 && lane[i-1].msg.Seq > lane[i].msg.Seq; i-- {
		lane[i-1], lane[i] = lane[i], lane[i-1]
	}
	q.lanes[key] = lane
}

func (q *Queue) removeLocked(e *entry) {
	delete(q.entries, e.msg.ID)
	key := e.msg.OrderingKey()
	lane := q.lanes[key]
	for i, le := range lane {
		if le == e {
			lane = append(lane[:i:i], lane[i+1:]...)
			break
		}
	}
	if len(lane) == 0 {
		delete(q.lanes, key)
	} else {
		q.lanes[key] = lane
	}
}

func (q *Queue) rememberLocked(msg model.Message) {
	limit := q.cfg.SentHistory
	if limit <= 0 {
		return
	}
	q.recent[msg.ID] = msg
	q.recentOrder = append(q.recentOrder, msg.ID)
	for len(q.recentOrder) > limit {
		delete(q.recent, q.recentOrder[0])
		q.recentOrder = q.recentOrder[1:]
	}
}

func (q *Queue) postLocked(ev Event) {
	q.notify.Post(func() { q.subs.Dispatch(ev.Type, ev) })
}

// snapshotLocked returns copies of all entries ordered by Seq.
func (q *Queue) snapshotLocked() []model.Message {
	out := make([]model.Message, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// unlock releases q.mu, delivers queued events and, if dirty, writes a
// snapshot of the state as of the unlock.
func (q *Queue) unlock(dirty bool) {
	var (
		snap []model.Message
		ver  uint64
	)
	if dirty && q.store != nil && !q.closed {
		q.version++
		ver = q.version
		snap = q.snapshotLocked()
	}
	q.mu.Unlock()

	q.notify.Drain()
	if snap != nil {
		q.save(snap, ver)
	}
}

// save writes snap unless a newer snapshot was already written.
func (q *Queue) save(snap []model.Message, ver uint64) {
	q.saveMu.Lock()
	defer q.saveMu.Unlock()
	if ver <= q.savedVersion {
		return
	}
	q.savedVersion = ver

	ctx := context.Background()
	if q.cfg.SaveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.SaveTimeout)
		defer cancel()
	}
	if err := q.store.Save(ctx, snap); err != nil {
		q.mu.Lock()
		q.stats.SaveErrors++
		q.mu.Unlock()
		q.logger.Warn("failed to save queue snapshot", "messages", len(snap), "error", err)
	}
}
