package probe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultFlushInterval is the cadence on which accumulated behavior is
// scored and transmitted.
const DefaultFlushInterval = 30 * time.Second

// maxPointBuffer bounds the retained pointer path. Counters stay
// cumulative; only the per-point detail is capped.
const maxPointBuffer = 2048

// EventKind classifies an interaction event.
type EventKind int

const (
	EventMouseMove EventKind = iota
	EventClick
	EventKey
)

// InteractionEvent is one timestamped input event from the injected
// event source.
type InteractionEvent struct {
	Kind EventKind
	X, Y float64
	At   time.Time
}

// Sample is the scored behavioral payload transmitted upstream. Field
// names match the ingestion endpoint's biometrics payload.
type Sample struct {
	SessionID             string  `json:"sessionId"`
	TotalMouseEvents      int     `json:"totalMouseEvents"`
	TotalClickEvents      int     `json:"totalClickEvents"`
	MovementUniformity    float64 `json:"movementUniformity"`
	ClickIntervalVariance float64 `json:"clickIntervalVariance"`
	IdleRatio             float64 `json:"idleRatio"`
	BotLikelihoodScore    int     `json:"botLikelihoodScore"`
}

// Transmitter delivers samples upstream. Delivery is best-effort; the
// tracker swallows transmit errors.
type Transmitter interface {
	Transmit(ctx context.Context, sample *Sample) error
}

// trackerState is the tracker lifecycle position.
type trackerState int

const (
	stateIdle trackerState = iota
	stateStarted
	stateStopped
)

var errAlreadyStarted = errors.New("tracker already started")

type pointSample struct {
	x, y float64
	at   time.Time
}

// Tracker passively accumulates interaction events for one session and
// flushes a freshly scored sample on a fixed cadence. One tracker owns
// exactly one accumulator; it is created at session start and reset only
// when the session ends.
type Tracker struct {
	sessionID   string
	events      <-chan InteractionEvent
	transmitter Transmitter
	interval    time.Duration
	logger      *slog.Logger

	mu          sync.Mutex
	state       trackerState
	startedAt   time.Time
	lastEventAt time.Time
	activeTime  time.Duration
	totalMouse  int
	totalClicks int
	points      []pointSample
	clickTimes  []time.Time

	flushInFlight atomic.Bool
	cancel        context.CancelFunc
	done          chan struct{}
	stopOnce      sync.Once
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithFlushInterval overrides the flush cadence.
func WithFlushInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.interval = d }
}

// NewTracker creates a tracker consuming events from the given source.
func NewTracker(sessionID string, events <-chan InteractionEvent, transmitter Transmitter, logger *slog.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		sessionID:   sessionID,
		events:      events,
		transmitter: transmitter,
		interval:    DefaultFlushInterval,
		logger:      logger,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins passive event consumption and arms the flush timer. It is
// the only state-mutating entry point besides Stop; calling it twice
// returns an error.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state != stateIdle {
		t.mu.Unlock()
		return errAlreadyStarted
	}
	t.state = stateStarted
	t.startedAt = time.Now()
	t.lastEventAt = t.startedAt
	t.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.run(runCtx)
	return nil
}

// Stop cancels the timer and stops consuming events. Idempotent: the
// second and later calls are no-ops.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		stopped := t.state == stateIdle
		t.state = stateStopped
		t.mu.Unlock()
		if stopped {
			return
		}
		t.cancel()
		<-t.done
	})
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-t.events:
			if !ok {
				return
			}
			t.observe(event)
		case <-ticker.C:
			t.flush(ctx)
		}
	}
}

func (t *Tracker) observe(event InteractionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != stateStarted {
		return
	}

	// Activity within 2s of the previous event counts as continuous
	// engagement; longer gaps are idle time.
	if gap := event.At.Sub(t.lastEventAt); gap > 0 && gap < 2*time.Second {
		t.activeTime += gap
	}
	t.lastEventAt = event.At

	switch event.Kind {
	case EventMouseMove:
		t.totalMouse++
		t.points = append(t.points, pointSample{x: event.X, y: event.Y, at: event.At})
		if len(t.points) > maxPointBuffer {
			t.points = t.points[len(t.points)-maxPointBuffer:]
		}
	case EventClick:
		t.totalClicks++
		t.clickTimes = append(t.clickTimes, event.At)
	case EventKey:
		// Counted toward activity only.
	}
}

// flush scores the cumulative window and transmits it. A flush in flight
// must not be re-entered by the next timer tick, so overlapping attempts
// are skipped via the in-flight flag. Transmission failures are logged
// and swallowed; the next scheduled flush still runs.
func (t *Tracker) flush(ctx context.Context) {
	if !t.flushInFlight.CompareAndSwap(false, true) {
		return
	}
	defer t.flushInFlight.Store(false)

	sample, ok := t.analyze()
	if !ok {
		// Too sparse to be meaningful; discard without error.
		return
	}

	if err := t.transmitter.Transmit(ctx, sample); err != nil {
		t.logger.Warn("biometrics transmission failed",
			"session_id", t.sessionID, "error", err)
	}
}

// analyze recomputes the score from the full accumulated window. The
// second return is false when the data is below the emission gate
// (totalMouseEvents > 5 or totalClickEvents > 1 required).
func (t *Tracker) analyze() (*Sample, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.totalMouse <= 5 && t.totalClicks <= 1 {
		return nil, false
	}

	window := time.Since(t.startedAt)
	idleRatio := 0.0
	if window > 0 {
		idleRatio = 1 - t.activeTime.Seconds()/window.Seconds()
		if idleRatio < 0 {
			idleRatio = 0
		}
	}

	features := Features{
		TotalMouseEvents:      t.totalMouse,
		TotalClickEvents:      t.totalClicks,
		MovementUniformity:    movementUniformity(t.points),
		ClickIntervalVariance: intervalVariance(t.clickTimes),
		IdleRatio:             idleRatio,
		ObservationWindow:     window,
	}

	return &Sample{
		SessionID:             t.sessionID,
		TotalMouseEvents:      features.TotalMouseEvents,
		TotalClickEvents:      features.TotalClickEvents,
		MovementUniformity:    features.MovementUniformity,
		ClickIntervalVariance: features.ClickIntervalVariance,
		IdleRatio:             features.IdleRatio,
		BotLikelihoodScore:    Score(features),
	}, true
}
