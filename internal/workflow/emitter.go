package workflow

import "sync"

// Event is one progress update streamed to clients. Progress is monotonic
// across the run even when a retry revisits an earlier stage.
type Event struct {
	Seq      int        `json:"seq"`
	Step     string     `json:"step"`
	Status   StepStatus `json:"status"`
	Message  string     `json:"message"`
	Icon     string     `json:"icon,omitempty"`
	Progress int        `json:"progress"`
	Category string     `json:"category,omitempty"`

	SQL           string           `json:"sql,omitempty"`
	ResultPreview *ExecutionResult `json:"result_preview,omitempty"`
	VizConfig     *VizDescriptor   `json:"viz_config,omitempty"`
	Insights      string           `json:"insights,omitempty"`
	ArtifactKey   string           `json:"artifact_key,omitempty"`
	Error         *ExecutionError  `json:"error,omitempty"`
}

// subscriberBuffer bounds a live subscriber channel. Runs emit a few dozen
// events at most, so a full buffer means an abandoned consumer.
const subscriberBuffer = 256

// Emitter records every event of one run and fans it out to subscribers.
// Late subscribers replay the full history before receiving live events.
type Emitter struct {
	mu           sync.Mutex
	events       []Event
	subscribers  map[int]chan Event
	nextSub      int
	lastProgress int
	closed       bool
}

func NewEmitter() *Emitter {
	return &Emitter{subscribers: map[int]chan Event{}}
}

// clampProgress raises progress to the highest value emitted so far, so the
// caller can record the same monotonic value the stream will carry. It does
// not advance the high-water mark; Emit does.
func (e *Emitter) clampProgress(progress int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if progress < e.lastProgress {
		return e.lastProgress
	}
	return progress
}

// Emit appends the event and delivers it to live subscribers. Progress is
// clamped so it never moves backwards; subscribers that stopped draining are
// skipped rather than blocking the run.
func (e *Emitter) Emit(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if event.Progress < e.lastProgress {
		event.Progress = e.lastProgress
	}
	e.lastProgress = event.Progress
	event.Seq = len(e.events)
	e.events = append(e.events, event)
	for _, ch := range e.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel carrying the full event history followed by
// live events, plus a cancel function the caller must invoke when done. The
// channel is closed after the final event once the emitter is closed.
func (e *Emitter) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, len(e.events)+subscriberBuffer)
	for _, event := range e.events {
		ch <- event
	}
	if e.closed {
		close(ch)
		return ch, func() {}
	}

	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Events returns a snapshot of everything emitted so far.
func (e *Emitter) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

// Close ends the stream. Subsequent Emit calls are dropped and subscriber
// channels are closed after their buffered events drain.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subscribers {
		delete(e.subscribers, id)
		close(ch)
	}
}
