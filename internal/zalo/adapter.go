package zalo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/zalo-relay/bridge/internal/model"
)

// Status is a session lifecycle state reported to local clients.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Event is a translated adapter event. Exactly one of Message and Status is
// set.
type Event struct {
	Message *model.InboundMessage
	Status  Status
}

const eventQueueSize = 64

// Adapter translates between the vendor client and the bridge's event and
// command shapes. Translated events are delivered on the Events channel;
// the consumer owns fan-out to local clients.
type Adapter struct {
	client Client

	mu       sync.Mutex
	loggedIn bool
	closed   bool
	cancel   context.CancelFunc
	events   chan Event

	// gen identifies the current listener; it advances on every login and
	// teardown so a stale forward loop cannot clear a newer session's state.
	gen int

	now func() time.Time // test hook
}

// NewAdapter creates an adapter around the given vendor client.
func NewAdapter(client Client) *Adapter {
	return &Adapter{
		client: client,
		events: make(chan Event, eventQueueSize),
		now:    time.Now,
	}
}

// Events returns the adapter's translated event stream. The channel is
// closed by Close.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Login establishes the upstream session and starts the vendor listener.
// On failure the error is returned to the caller and a disconnected status
// is emitted; there is no automatic retry. Calling Login on an adapter
// that already holds a session re-authenticates it: the old listener is
// stopped before the new login runs.
func (a *Adapter) Login(ctx context.Context, creds model.Credentials) error {
	a.stopListener()

	if err := a.client.Login(ctx, creds); err != nil {
		a.emit(Event{Status: StatusDisconnected})
		return fmt.Errorf("zalo login: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	raw, err := a.client.Listen(listenCtx)
	if err != nil {
		cancel()
		a.emit(Event{Status: StatusDisconnected})
		return fmt.Errorf("zalo listener: %w", err)
	}

	a.mu.Lock()
	a.loggedIn = true
	a.cancel = cancel
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	a.emit(Event{Status: StatusConnected})
	go a.forward(raw, gen)
	return nil
}

// SendMessage sends a text message to a thread via the active session.
func (a *Adapter) SendMessage(ctx context.Context, threadID, text string) error {
	if !a.Active() {
		return model.ErrNotLoggedIn
	}
	if err := a.client.SendMessage(ctx, threadID, text); err != nil {
		return fmt.Errorf("send to thread %s: %w", threadID, err)
	}
	return nil
}

// SendTypingEvent sends a typing indicator to a thread. Typing is
// best-effort: vendor failures are logged and swallowed, only the
// missing-session precondition is reported.
func (a *Adapter) SendTypingEvent(ctx context.Context, threadID string) error {
	if !a.Active() {
		return model.ErrNotLoggedIn
	}
	if err := a.client.SendTypingEvent(ctx, threadID); err != nil {
		log.Printf("Typing event for thread %s failed: %v", threadID, err)
	}
	return nil
}

// Disconnect stops the vendor listener and releases the session handle.
// Safe to call when already disconnected; a disconnected status is emitted
// unconditionally.
func (a *Adapter) Disconnect() {
	a.stopListener()
	a.emit(Event{Status: StatusDisconnected})
}

// Close disconnects the session and closes the event channel. The adapter
// must not be reused afterwards.
func (a *Adapter) Close() {
	a.stopListener()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.events)
	a.mu.Unlock()
}

// stopListener cancels the vendor listener and releases the session handle
// without emitting a status event.
func (a *Adapter) stopListener() {
	a.mu.Lock()
	cancel := a.cancel
	wasLoggedIn := a.loggedIn
	a.cancel = nil
	a.loggedIn = false
	a.gen++
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasLoggedIn {
		if err := a.client.Disconnect(); err != nil {
			log.Printf("Zalo disconnect failed: %v", err)
		}
	}
}

// Active reports whether the adapter currently holds a logged-in session.
func (a *Adapter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loggedIn
}

// forward translates raw vendor events until the stream closes. A closed
// stream means the vendor session is over: the session handle is released
// and a disconnected status goes out, unless a newer login has already
// replaced this listener.
func (a *Adapter) forward(raw <-chan RawEvent, gen int) {
	for ev := range raw {
		if ev.Err != nil {
			log.Printf("Zalo listener error: %v", ev.Err)
			a.emit(Event{Status: StatusError})
			continue
		}
		if msg, ok := a.translate(ev); ok {
			a.emit(Event{Message: msg})
		}
	}

	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return
	}
	cancel := a.cancel
	a.cancel = nil
	a.loggedIn = false
	a.gen++
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := a.client.Disconnect(); err != nil {
		log.Printf("Zalo disconnect failed: %v", err)
	}
	a.emit(Event{Status: StatusDisconnected})
}

// translate maps a raw vendor event to an InboundMessage. Unsupported
// content shapes are dropped without an event.
func (a *Adapter) translate(ev RawEvent) (*model.InboundMessage, bool) {
	content, ok := classifyContent(ev.Content)
	if !ok {
		return nil, false
	}
	return &model.InboundMessage{
		SenderID:  ev.SenderID,
		ThreadID:  ev.ThreadID,
		Content:   content,
		MessageID: ev.MessageID,
		Timestamp: a.timestamp(ev.Timestamp),
		IsGroup:   ev.ThreadType == ThreadTypeGroup,
	}, true
}

// classifyContent decides what counts as a supported message: plain strings
// pass through verbatim, structured payloads with a link become attachment
// references, everything else is dropped.
func classifyContent(raw interface{}) (interface{}, bool) {
	switch c := raw.(type) {
	case string:
		return c, true
	case map[string]interface{}:
		href, _ := c["href"].(string)
		if href == "" {
			return nil, false
		}
		return model.Attachment{Type: "attachment", Href: href}, true
	default:
		return nil, false
	}
}

// timestamp returns the platform timestamp in unix milliseconds, falling
// back to local receipt time when the value is absent or non-numeric.
func (a *Adapter) timestamp(raw interface{}) int64 {
	var ts int64
	switch t := raw.(type) {
	case int64:
		ts = t
	case int:
		ts = int64(t)
	case float64:
		ts = int64(t)
	case json.Number:
		ts, _ = t.Int64()
	case string:
		ts, _ = strconv.ParseInt(t, 10, 64)
	}
	if ts <= 0 {
		return a.now().UnixMilli()
	}
	return ts
}

// emit queues a translated event, dropping it if the consumer has fallen
// behind or the adapter is closed.
func (a *Adapter) emit(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	select {
	case a.events <- ev:
	default:
		log.Printf("Adapter event queue full, dropping event")
	}
}
