// Package events provides a high-throughput event bus decoupling a
// running backtest from its consumers (WebSocket broadcast, risk
// alerting, CLI progress reporting).
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventType defines the category of a backtest event.
type EventType string

const (
	EventTypeTriggerExecuted EventType = "trigger_executed"
	EventTypeTradeRecorded   EventType = "trade_recorded"
	EventTypeRiskAlert       EventType = "risk_alert"
	EventTypeRunCompleted    EventType = "run_completed"
)

// Event is the base interface for all backtest events.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetID() string           { return e.ID }

// TriggerExecutedEvent reports one signal or scheduled trigger's
// outcome as the engine processes it.
type TriggerExecutedEvent struct {
	BaseEvent
	RunID       string `json:"runId"`
	Symbol      string `json:"symbol"`
	TriggerType string `json:"triggerType"`
	Executed    bool   `json:"executed"`
	Reason      string `json:"reason,omitempty"`
}

// TradeRecordedEvent reports a fill (open/add/close/TP/SL) against a
// VirtualAccount.
type TradeRecordedEvent struct {
	BaseEvent
	RunID      string          `json:"runId"`
	Symbol     string          `json:"symbol"`
	Operation  string          `json:"operation"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
	RealizedPnL decimal.Decimal `json:"realizedPnl,omitempty"`
}

// RiskAlertEvent reports a RiskMonitor trip.
type RiskAlertEvent struct {
	BaseEvent
	RunID  string `json:"runId"`
	Reason string `json:"reason"`
}

// RunCompletedEvent reports a backtest run's terminal status.
type RunCompletedEvent struct {
	BaseEvent
	RunID   string `json:"runId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

var eventCounter atomic.Int64

func generateEventID() string {
	id := eventCounter.Add(1)
	return "evt_" + time.Now().Format("20060102150405") + "_" + itoa(id)
}

// NewTriggerExecutedEvent creates a trigger-executed event.
func NewTriggerExecutedEvent(runID, symbol, triggerType string, executed bool, reason string) *TriggerExecutedEvent {
	return &TriggerExecutedEvent{
		BaseEvent:   BaseEvent{ID: generateEventID(), Type: EventTypeTriggerExecuted, Timestamp: time.Now()},
		RunID:       runID,
		Symbol:      symbol,
		TriggerType: triggerType,
		Executed:    executed,
		Reason:      reason,
	}
}

// NewTradeRecordedEvent creates a trade-recorded event.
func NewTradeRecordedEvent(runID, symbol, operation string, size, price, realizedPnL decimal.Decimal) *TradeRecordedEvent {
	return &TradeRecordedEvent{
		BaseEvent:   BaseEvent{ID: generateEventID(), Type: EventTypeTradeRecorded, Timestamp: time.Now()},
		RunID:       runID,
		Symbol:      symbol,
		Operation:   operation,
		Size:        size,
		Price:       price,
		RealizedPnL: realizedPnL,
	}
}

// NewRiskAlertEvent creates a risk-alert event.
func NewRiskAlertEvent(runID, reason string) *RiskAlertEvent {
	return &RiskAlertEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeRiskAlert, Timestamp: time.Now()},
		RunID:     runID,
		Reason:    reason,
	}
}

// NewRunCompletedEvent creates a run-completed event.
func NewRunCompletedEvent(runID string, success bool, errMsg string) *RunCompletedEvent {
	return &RunCompletedEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeRunCompleted, Timestamp: time.Now()},
		RunID:     runID,
		Success:   success,
		Error:     errMsg,
	}
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// EventHandler processes a single event.
type EventHandler func(event Event) error

// EventFilter selectively admits events to a handler.
type EventFilter func(event Event) bool

// SubscriptionOptions configures subscription behavior.
type SubscriptionOptions struct {
	Filter EventFilter
	Async  bool
}

// Subscription represents an active event subscription.
type Subscription struct {
	ID        string
	EventType EventType
	Handler   EventHandler
	Options   SubscriptionOptions
	active    atomic.Bool
}

// IsActive returns whether subscription is active.
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// EventBusStats tracks bus performance.
type EventBusStats struct {
	EventsPublished   int64         `json:"eventsPublished"`
	EventsProcessed   int64         `json:"eventsProcessed"`
	EventsDropped     int64         `json:"eventsDropped"`
	ProcessingErrors  int64         `json:"processingErrors"`
	P99Latency        time.Duration `json:"p99Latency"`
	ActiveSubscribers int64         `json:"activeSubscribers"`
}

// EventBusConfig configures the event bus.
type EventBusConfig struct {
	NumWorkers int
	BufferSize int
}

// DefaultEventBusConfig returns sensible defaults for a single
// backtest run's event volume — triggers and trades number in the
// thousands, not the millions, so a modest worker pool suffices.
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{NumWorkers: 4, BufferSize: 4096}
}

// EventBus is the central event routing system, fanning published
// events out to subscribers on a bounded goroutine pool.
type EventBus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan   chan Event
	workerCount int

	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsDropped     atomic.Int64
	processingErrors  atomic.Int64
	activeSubscribers atomic.Int64

	latencies  []int64
	latencyMu  sync.Mutex
	maxLatency atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewEventBus creates an event bus and starts its worker pool.
func NewEventBus(logger *zap.Logger, config EventBusConfig) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	workerCount := config.NumWorkers
	if workerCount <= 0 {
		workerCount = 4
	}
	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = 4096
	}

	ctx, cancel := context.WithCancel(context.Background())
	eb := &EventBus{
		subscribers:    make(map[EventType][]*Subscription),
		allSubscribers: make([]*Subscription, 0),
		eventChan:      make(chan Event, bufferSize),
		workerCount:    workerCount,
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger,
		latencies:      make([]int64, 0, 1000),
	}

	for i := 0; i < workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}
	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.ctx.Done():
			return
		case event := <-eb.eventChan:
			start := time.Now()
			eb.processEvent(event)
			eb.trackLatency(time.Since(start).Nanoseconds())
		}
	}
}

func (eb *EventBus) processEvent(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.GetType()]
	allSubs := eb.allSubscribers
	eb.mu.RUnlock()

	for _, sub := range subs {
		eb.dispatch(sub, event)
	}
	for _, sub := range allSubs {
		eb.dispatch(sub, event)
	}
	eb.eventsProcessed.Add(1)
}

func (eb *EventBus) dispatch(sub *Subscription, event Event) {
	if !sub.active.Load() {
		return
	}
	if sub.Options.Filter != nil && !sub.Options.Filter(event) {
		return
	}
	if sub.Options.Async {
		go eb.executeHandler(sub, event)
	} else {
		eb.executeHandler(sub, event)
	}
}

func (eb *EventBus) executeHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.processingErrors.Add(1)
			eb.logger.Error("event handler panic",
				zap.String("subscriptionId", sub.ID),
				zap.String("eventType", string(event.GetType())),
				zap.Any("panic", r),
			)
		}
	}()
	if err := sub.Handler(event); err != nil {
		eb.processingErrors.Add(1)
		eb.logger.Warn("event handler error",
			zap.String("subscriptionId", sub.ID),
			zap.String("eventType", string(event.GetType())),
			zap.Error(err),
		)
	}
}

func (eb *EventBus) trackLatency(latencyNs int64) {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()

	eb.latencies = append(eb.latencies, latencyNs)
	if len(eb.latencies) > 1000 {
		eb.latencies = eb.latencies[500:]
	}
	if latencyNs > eb.maxLatency.Load() {
		eb.maxLatency.Store(latencyNs)
	}
}

var subscriptionCounter atomic.Int64

func generateSubscriptionID() string {
	id := subscriptionCounter.Add(1)
	return "sub_" + time.Now().Format("20060102150405") + "_" + itoa(id)
}

// Subscribe registers a handler for an event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		options = opts[0]
	}
	sub := &Subscription{ID: generateSubscriptionID(), EventType: eventType, Handler: handler, Options: options}
	sub.active.Store(true)

	eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// SubscribeAll registers a handler for every event type.
func (eb *EventBus) SubscribeAll(handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		options = opts[0]
	}
	sub := &Subscription{ID: generateSubscriptionID(), EventType: "*", Handler: handler, Options: options}
	sub.active.Store(true)

	eb.allSubscribers = append(eb.allSubscribers, sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// Unsubscribe deactivates a subscription.
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
	eb.activeSubscribers.Add(-1)
}

// Publish sends an event to all subscribers without blocking. If the
// buffer is full the event is dropped and counted.
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventChan <- event:
		eb.eventsPublished.Add(1)
	default:
		eb.eventsDropped.Add(1)
		eb.logger.Warn("event dropped, buffer full", zap.String("eventType", string(event.GetType())))
	}
}

// PublishSync sends an event and waits for its handlers to run.
func (eb *EventBus) PublishSync(event Event) {
	eb.eventsPublished.Add(1)
	eb.processEvent(event)
}

// GetStats returns current performance statistics.
func (eb *EventBus) GetStats() EventBusStats {
	return EventBusStats{
		EventsPublished:   eb.eventsPublished.Load(),
		EventsProcessed:   eb.eventsProcessed.Load(),
		EventsDropped:     eb.eventsDropped.Load(),
		ProcessingErrors:  eb.processingErrors.Load(),
		P99Latency:        time.Duration(eb.p99LatencyNs()),
		ActiveSubscribers: eb.activeSubscribers.Load(),
	}
}

func (eb *EventBus) p99LatencyNs() int64 {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()

	if len(eb.latencies) == 0 {
		return 0
	}
	sorted := make([]int64, len(eb.latencies))
	copy(sorted, eb.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Stop shuts down the event bus, waiting up to 5s for workers to exit;
// events still buffered are not processed.
func (eb *EventBus) Stop() {
	eb.cancel()
	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		eb.logger.Warn("event bus shutdown timed out")
	}
}
