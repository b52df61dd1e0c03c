// Package bridge multiplexes local control-plane clients over one shared
// upstream Zalo session.
package bridge

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/zalo-relay/bridge/internal/mirror"
	"github.com/zalo-relay/bridge/internal/model"
	"github.com/zalo-relay/bridge/internal/ws"
	"github.com/zalo-relay/bridge/internal/zalo"
)

// ClientFactory builds a fresh vendor client for a new session.
type ClientFactory func() zalo.Client

// Manager owns the single shared session and the local client set. The
// session is created lazily on the first login command and torn down exactly
// when the client set becomes empty.
type Manager struct {
	hub       *ws.Hub
	newClient ClientFactory
	mirror    *mirror.Publisher

	mu            sync.Mutex
	adapter       *zalo.Adapter
	loginInFlight bool
}

// NewManager creates a session manager bound to the given hub. The manager
// installs itself as the hub's on-empty callback.
func NewManager(hub *ws.Hub, newClient ClientFactory, mirrorPub *mirror.Publisher) *Manager {
	m := &Manager{
		hub:       hub,
		newClient: newClient,
		mirror:    mirrorPub,
	}
	hub.SetOnEmpty(m.handleClientsGone)
	return m
}

// HandleCommand routes a parsed command from a local client.
func (m *Manager) HandleCommand(client *ws.Client, cmd *ws.Command) {
	switch cmd.Type {
	case ws.CommandLogin:
		m.handleLogin(client, cmd)
	case ws.CommandSend:
		m.handleSend(client, cmd)
	case ws.CommandTyping:
		m.handleTyping(cmd)
	}
}

// handleLogin establishes or re-establishes the shared session. The login
// result goes to the requesting client only; the resulting status change is
// broadcast to everyone through the adapter's event stream.
//
// Only one login may be in flight at a time: a concurrent login is answered
// with a failure instead of racing to construct a second adapter.
func (m *Manager) handleLogin(client *ws.Client, cmd *ws.Command) {
	creds := model.Credentials{
		Cookie:    cmd.Cookie,
		IMEI:      cmd.IMEI,
		UserAgent: cmd.UserAgent,
	}

	m.mu.Lock()
	if m.loginInFlight {
		m.mu.Unlock()
		m.sendLoginResult(client, false, model.ErrLoginInFlight.Error())
		return
	}
	m.loginInFlight = true
	adapter := m.adapter
	if adapter == nil {
		adapter = zalo.NewAdapter(m.newClient())
		m.adapter = adapter
		go m.consumeEvents(adapter)
	}
	m.mu.Unlock()

	// Runs on the requesting client's read goroutine; other clients keep
	// being served while the vendor login is in progress.
	err := adapter.Login(context.Background(), creds)

	m.mu.Lock()
	m.loginInFlight = false
	current := m.adapter
	m.mu.Unlock()

	if err != nil {
		log.Printf("Login failed: %v", err)
		m.sendLoginResult(client, false, err.Error())
		return
	}

	// The client set can empty out while the vendor login is running; the
	// teardown then closes the adapter we just logged in. Release the orphaned
	// session instead of reporting success on a dead adapter.
	if current != adapter {
		log.Printf("Session torn down during login, releasing it")
		adapter.Disconnect()
		m.sendLoginResult(client, false, "session closed during login")
		return
	}

	log.Printf("Logged in to Zalo")
	m.sendLoginResult(client, true, "")
}

// handleSend relays a text message to the platform. With no active session
// the command is a silent no-op; vendor failures go back to the requesting
// client as an error event.
func (m *Manager) handleSend(client *ws.Client, cmd *ws.Command) {
	adapter := m.activeAdapter()
	if adapter == nil {
		return
	}

	if err := adapter.SendMessage(context.Background(), cmd.To, cmd.Text); err != nil {
		if errors.Is(err, model.ErrNotLoggedIn) {
			return
		}
		log.Printf("Send failed: %v", err)
		m.sendError(client, err.Error())
	}
}

// handleTyping relays a typing indicator. Typing is best-effort end to end:
// no session, no feedback; vendor failures are already swallowed by the
// adapter.
func (m *Manager) handleTyping(cmd *ws.Command) {
	adapter := m.activeAdapter()
	if adapter == nil {
		return
	}
	adapter.SendTypingEvent(context.Background(), cmd.To)
}

// consumeEvents fans adapter events out to every connected client, for the
// life of one adapter.
func (m *Manager) consumeEvents(adapter *zalo.Adapter) {
	for ev := range adapter.Events() {
		switch {
		case ev.Message != nil:
			data, err := ws.MarshalMessage(ev.Message)
			if err != nil {
				log.Printf("Failed to marshal message event: %v", err)
				continue
			}
			m.hub.Broadcast(data)
			m.mirror.Publish(context.Background(), ev.Message)

		case ev.Status != "":
			data, err := ws.MarshalStatus(string(ev.Status))
			if err != nil {
				log.Printf("Failed to marshal status event: %v", err)
				continue
			}
			m.hub.Broadcast(data)
		}
	}
}

// handleClientsGone tears the session down after the last client
// disconnects. An idle session with zero clients is never kept alive.
func (m *Manager) handleClientsGone() {
	m.mu.Lock()
	adapter := m.adapter
	m.adapter = nil
	m.mu.Unlock()

	if adapter == nil {
		return
	}

	log.Printf("Last client disconnected, tearing down session")
	adapter.Close()
}

// Teardown disconnects any active session. Used on process shutdown after
// the client connections and the listener are closed.
func (m *Manager) Teardown() {
	m.mu.Lock()
	adapter := m.adapter
	m.adapter = nil
	m.mu.Unlock()

	if adapter != nil {
		adapter.Close()
	}
}

// SessionActive reports whether a logged-in session currently exists.
func (m *Manager) SessionActive() bool {
	adapter := m.activeAdapter()
	return adapter != nil && adapter.Active()
}

func (m *Manager) activeAdapter() *zalo.Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adapter
}

func (m *Manager) sendLoginResult(client *ws.Client, success bool, errMsg string) {
	data, err := ws.MarshalLoginResult(success, errMsg)
	if err != nil {
		log.Printf("Failed to marshal login result: %v", err)
		return
	}
	client.Send(data)
}

func (m *Manager) sendError(client *ws.Client, errMsg string) {
	data, err := ws.MarshalError(errMsg)
	if err != nil {
		log.Printf("Failed to marshal error event: %v", err)
		return
	}
	client.Send(data)
}
