package zalo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zalo-relay/bridge/internal/model"
)

// fakeClient is a vendor client stub driven by the tests.
type fakeClient struct {
	loginErr      error
	listenErr     error
	sendErr       error
	typingErr     error
	raw           chan RawEvent
	loginCalls    int
	sendCalls     int
	typingCalls   int
	disconnects   int
	lastThreadID  string
	lastText      string
	lastCreds     model.Credentials
}

func newFakeClient() *fakeClient {
	return &fakeClient{raw: make(chan RawEvent, 16)}
}

func (f *fakeClient) Login(ctx context.Context, creds model.Credentials) error {
	f.loginCalls++
	f.lastCreds = creds
	return f.loginErr
}

func (f *fakeClient) Listen(ctx context.Context) (<-chan RawEvent, error) {
	if f.listenErr != nil {
		return nil, f.listenErr
	}
	return f.raw, nil
}

func (f *fakeClient) SendMessage(ctx context.Context, threadID, text string) error {
	f.sendCalls++
	f.lastThreadID = threadID
	f.lastText = text
	return f.sendErr
}

func (f *fakeClient) SendTypingEvent(ctx context.Context, threadID string) error {
	f.typingCalls++
	f.lastThreadID = threadID
	return f.typingErr
}

func (f *fakeClient) Disconnect() error {
	f.disconnects++
	return nil
}

func nextEvent(t *testing.T, a *Adapter) Event {
	t.Helper()
	select {
	case ev := <-a.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for adapter event")
		return Event{}
	}
}

func loggedInAdapter(t *testing.T, client *fakeClient) *Adapter {
	t.Helper()
	a := NewAdapter(client)
	if err := a.Login(context.Background(), model.Credentials{IMEI: "imei-1"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if ev := nextEvent(t, a); ev.Status != StatusConnected {
		t.Fatalf("expected connected status, got %+v", ev)
	}
	return a
}

func TestAdapter_Login(t *testing.T) {
	t.Run("success emits connected", func(t *testing.T) {
		client := newFakeClient()
		a := loggedInAdapter(t, client)
		defer a.Close()

		if client.loginCalls != 1 {
			t.Errorf("expected 1 login call, got %d", client.loginCalls)
		}
		if client.lastCreds.IMEI != "imei-1" {
			t.Errorf("credentials not forwarded: %+v", client.lastCreds)
		}
	})

	t.Run("failure emits disconnected and returns error", func(t *testing.T) {
		client := newFakeClient()
		client.loginErr = errors.New("bad cookie")
		a := NewAdapter(client)
		defer a.Close()

		err := a.Login(context.Background(), model.Credentials{})
		if err == nil {
			t.Fatal("expected login error")
		}
		if ev := nextEvent(t, a); ev.Status != StatusDisconnected {
			t.Errorf("expected disconnected status, got %+v", ev)
		}
		if err := a.SendMessage(context.Background(), "t1", "hi"); !errors.Is(err, model.ErrNotLoggedIn) {
			t.Errorf("expected ErrNotLoggedIn after failed login, got %v", err)
		}
	})

	t.Run("listener failure emits disconnected", func(t *testing.T) {
		client := newFakeClient()
		client.listenErr = errors.New("stream refused")
		a := NewAdapter(client)
		defer a.Close()

		if err := a.Login(context.Background(), model.Credentials{}); err == nil {
			t.Fatal("expected listener error")
		}
		if ev := nextEvent(t, a); ev.Status != StatusDisconnected {
			t.Errorf("expected disconnected status, got %+v", ev)
		}
	})

	t.Run("re-login re-authenticates the same adapter", func(t *testing.T) {
		client := newFakeClient()
		a := loggedInAdapter(t, client)
		defer a.Close()

		client.raw = make(chan RawEvent, 16)
		if err := a.Login(context.Background(), model.Credentials{IMEI: "imei-2"}); err != nil {
			t.Fatalf("re-login failed: %v", err)
		}
		if ev := nextEvent(t, a); ev.Status != StatusConnected {
			t.Errorf("expected connected status after re-login, got %+v", ev)
		}
		if client.loginCalls != 2 {
			t.Errorf("expected 2 login calls, got %d", client.loginCalls)
		}
		if client.disconnects != 1 {
			t.Errorf("expected old session released once, got %d", client.disconnects)
		}
	})
}

func TestAdapter_ContentClassification(t *testing.T) {
	tests := []struct {
		name    string
		content interface{}
		want    interface{}
		dropped bool
	}{
		{
			name:    "string passes through verbatim",
			content: "hello",
			want:    "hello",
		},
		{
			name:    "struct with href becomes attachment",
			content: map[string]interface{}{"href": "http://x"},
			want:    model.Attachment{Type: "attachment", Href: "http://x"},
		},
		{
			name:    "struct with null href is dropped",
			content: map[string]interface{}{"href": nil},
			dropped: true,
		},
		{
			name:    "struct without link is dropped",
			content: map[string]interface{}{"sticker": float64(42)},
			dropped: true,
		},
		{
			name:    "nil content is dropped",
			content: nil,
			dropped: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := classifyContent(tt.content)
			if tt.dropped {
				if ok {
					t.Fatalf("expected content to be dropped, got %+v", got)
				}
				return
			}
			if !ok {
				t.Fatal("expected content to be forwarded")
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestAdapter_EventTranslation(t *testing.T) {
	client := newFakeClient()
	a := loggedInAdapter(t, client)
	defer a.Close()

	t.Run("forwards text messages", func(t *testing.T) {
		client.raw <- RawEvent{
			SenderID:   "u1",
			ThreadID:   "t1",
			MessageID:  "m1",
			Timestamp:  float64(1700000000000),
			Content:    "hello",
			ThreadType: ThreadTypeGroup,
		}

		ev := nextEvent(t, a)
		if ev.Message == nil {
			t.Fatalf("expected message event, got %+v", ev)
		}
		msg := ev.Message
		if msg.SenderID != "u1" || msg.ThreadID != "t1" || msg.MessageID != "m1" {
			t.Errorf("identifiers not forwarded: %+v", msg)
		}
		if msg.Content != "hello" {
			t.Errorf("expected content %q, got %v", "hello", msg.Content)
		}
		if msg.Timestamp != 1700000000000 {
			t.Errorf("expected platform timestamp, got %d", msg.Timestamp)
		}
		if !msg.IsGroup {
			t.Error("expected group flag set")
		}
	})

	t.Run("drops unsupported content without an event", func(t *testing.T) {
		client.raw <- RawEvent{SenderID: "u1", ThreadID: "t1", Content: map[string]interface{}{"href": nil}}
		client.raw <- RawEvent{SenderID: "u1", ThreadID: "t1", Content: "after"}

		ev := nextEvent(t, a)
		if ev.Message == nil || ev.Message.Content != "after" {
			t.Fatalf("expected dropped payload to be skipped, got %+v", ev)
		}
	})

	t.Run("listener errors surface as status", func(t *testing.T) {
		client.raw <- RawEvent{Err: errors.New("stream hiccup")}

		if ev := nextEvent(t, a); ev.Status != StatusError {
			t.Fatalf("expected error status, got %+v", ev)
		}
	})
}

func TestAdapter_TimestampFallback(t *testing.T) {
	now := time.UnixMilli(1700000099999)
	a := NewAdapter(newFakeClient())
	a.now = func() time.Time { return now }

	tests := []struct {
		name string
		raw  interface{}
		want int64
	}{
		{"numeric float", float64(12345), 12345},
		{"numeric int", 12345, 12345},
		{"numeric string", "12345", 12345},
		{"absent", nil, now.UnixMilli()},
		{"non-numeric string", "yesterday", now.UnixMilli()},
		{"zero", float64(0), now.UnixMilli()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.timestamp(tt.raw); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
			if a.timestamp(tt.raw) == 0 {
				t.Error("timestamp must never be zero")
			}
		})
	}
}

func TestAdapter_Send(t *testing.T) {
	t.Run("not logged in", func(t *testing.T) {
		a := NewAdapter(newFakeClient())
		if err := a.SendMessage(context.Background(), "t1", "hi"); !errors.Is(err, model.ErrNotLoggedIn) {
			t.Errorf("expected ErrNotLoggedIn, got %v", err)
		}
	})

	t.Run("delegates to vendor", func(t *testing.T) {
		client := newFakeClient()
		a := loggedInAdapter(t, client)
		defer a.Close()

		if err := a.SendMessage(context.Background(), "t1", "hi"); err != nil {
			t.Fatalf("send failed: %v", err)
		}
		if client.lastThreadID != "t1" || client.lastText != "hi" {
			t.Errorf("send not delegated: thread=%s text=%s", client.lastThreadID, client.lastText)
		}
	})

	t.Run("vendor failure propagates", func(t *testing.T) {
		client := newFakeClient()
		client.sendErr = errors.New("throttled")
		a := loggedInAdapter(t, client)
		defer a.Close()

		if err := a.SendMessage(context.Background(), "t1", "hi"); err == nil {
			t.Fatal("expected send error")
		}
	})
}

func TestAdapter_Typing(t *testing.T) {
	t.Run("not logged in", func(t *testing.T) {
		a := NewAdapter(newFakeClient())
		if err := a.SendTypingEvent(context.Background(), "t1"); !errors.Is(err, model.ErrNotLoggedIn) {
			t.Errorf("expected ErrNotLoggedIn, got %v", err)
		}
	})

	t.Run("vendor failure is swallowed", func(t *testing.T) {
		client := newFakeClient()
		client.typingErr = errors.New("nope")
		a := loggedInAdapter(t, client)
		defer a.Close()

		if err := a.SendTypingEvent(context.Background(), "t1"); err != nil {
			t.Errorf("typing failure must not propagate, got %v", err)
		}
		if client.typingCalls != 1 {
			t.Errorf("expected 1 typing call, got %d", client.typingCalls)
		}
	})
}

func TestAdapter_Disconnect(t *testing.T) {
	client := newFakeClient()
	a := loggedInAdapter(t, client)
	defer a.Close()

	a.Disconnect()
	if ev := nextEvent(t, a); ev.Status != StatusDisconnected {
		t.Fatalf("expected disconnected status, got %+v", ev)
	}
	if client.disconnects != 1 {
		t.Errorf("expected 1 vendor disconnect, got %d", client.disconnects)
	}

	// Idempotent: a second disconnect still reports disconnected but does
	// not touch the vendor again.
	a.Disconnect()
	if ev := nextEvent(t, a); ev.Status != StatusDisconnected {
		t.Fatalf("expected disconnected status on repeat, got %+v", ev)
	}
	if client.disconnects != 1 {
		t.Errorf("expected vendor disconnect to stay at 1, got %d", client.disconnects)
	}

	if err := a.SendMessage(context.Background(), "t1", "hi"); !errors.Is(err, model.ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn after disconnect, got %v", err)
	}
}

// TestAdapter_VendorStreamClosed covers the vendor ending the session on its
// own: the stream closing must end the session, release the vendor handle,
// and tell the clients, so they know to log in again.
func TestAdapter_VendorStreamClosed(t *testing.T) {
	client := newFakeClient()
	a := loggedInAdapter(t, client)
	defer a.Close()

	close(client.raw)

	if ev := nextEvent(t, a); ev.Status != StatusDisconnected {
		t.Fatalf("expected disconnected status after stream close, got %+v", ev)
	}
	if a.Active() {
		t.Error("session still reported active after the vendor stream closed")
	}
	if client.disconnects != 1 {
		t.Errorf("expected session handle released once, got %d", client.disconnects)
	}
	if err := a.SendMessage(context.Background(), "t1", "hi"); !errors.Is(err, model.ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn after stream close, got %v", err)
	}

	// The adapter stays usable: a fresh login starts a new session.
	client.raw = make(chan RawEvent, 16)
	if err := a.Login(context.Background(), model.Credentials{IMEI: "imei-2"}); err != nil {
		t.Fatalf("login after stream close failed: %v", err)
	}
	if ev := nextEvent(t, a); ev.Status != StatusConnected {
		t.Fatalf("expected connected status, got %+v", ev)
	}
	if !a.Active() {
		t.Error("expected active session after fresh login")
	}
}

// TestAdapter_StaleStreamClosed verifies the stream of a replaced listener
// closing late does not end the session a re-login just established.
func TestAdapter_StaleStreamClosed(t *testing.T) {
	client := newFakeClient()
	a := loggedInAdapter(t, client)
	defer a.Close()

	oldRaw := client.raw
	client.raw = make(chan RawEvent, 16)
	if err := a.Login(context.Background(), model.Credentials{IMEI: "imei-2"}); err != nil {
		t.Fatalf("re-login failed: %v", err)
	}
	if ev := nextEvent(t, a); ev.Status != StatusConnected {
		t.Fatalf("expected connected status after re-login, got %+v", ev)
	}

	close(oldRaw)

	select {
	case ev := <-a.Events():
		t.Fatalf("unexpected event from replaced stream: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	if !a.Active() {
		t.Error("new session ended by the replaced stream closing")
	}
}
