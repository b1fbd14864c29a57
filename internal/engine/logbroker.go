package engine

import "sync"

// subscriberBufferSize is the channel buffer for each progress subscriber.
// Lines are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// LogBroker fans a run's progress lines out to live subscribers. It is safe
// for concurrent use.
//
// Each topic remembers its latest line so that a subscriber joining mid-run
// starts from the current progress. Finished topics stay as closed markers,
// so subscribing after a run ends yields a closed channel instead of blocking.
type LogBroker struct {
	mu     sync.Mutex
	topics map[string]*logTopic
}

type logTopic struct {
	subs   map[int]chan string
	nextID int
	latest string
	closed bool
}

// NewLogBroker creates a new log broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{
		topics: make(map[string]*logTopic),
	}
}

func (b *LogBroker) topic(runID string) *logTopic {
	t, ok := b.topics[runID]
	if !ok {
		t = &logTopic{subs: make(map[int]chan string)}
		b.topics[runID] = t
	}
	return t
}

// Subscribe returns a channel receiving the run's progress lines, starting
// with the latest line published so far, and an unsubscribe function. If the
// run has already finished the channel is closed.
func (b *LogBroker) Subscribe(runID string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(runID)
	ch := make(chan string, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	if t.latest != "" {
		ch <- t.latest
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Subscribers returns the number of live subscribers for a run.
func (b *LogBroker) Subscribers(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[runID]; ok {
		return len(t.subs)
	}
	return 0
}

// Publish sends a line to every subscriber of the run. Subscribers whose
// buffers are full miss the line.
func (b *LogBroker) Publish(runID string, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(runID)
	if t.closed {
		return
	}
	t.latest = line

	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close ends the run's stream. Subscriber channels are closed and later
// Subscribe calls return a closed channel.
func (b *LogBroker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(runID)
	t.closed = true
	t.latest = ""
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
