package zalo

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/zalo-relay/bridge/internal/model"
)

const (
	// Time allowed for the worker to answer a single request.
	requestTimeout = 30 * time.Second

	// Maximum size of a single worker frame.
	maxFrameSize = 1024 * 1024

	workerEventQueueSize = 64
)

// workerRequest is a single JSON-line request to the zca worker.
type workerRequest struct {
	ID int64  `json:"id"`
	Op string `json:"op"`

	// login
	Cookie    json.RawMessage `json:"cookie,omitempty"`
	IMEI      string          `json:"imei,omitempty"`
	UserAgent string          `json:"userAgent,omitempty"`

	// send / typing
	To   string `json:"to,omitempty"`
	Text string `json:"text,omitempty"`
}

// workerFrame is a single JSON-line frame from the zca worker: either the
// result of a request (matched by id) or an unsolicited message/error event.
type workerFrame struct {
	Type    string `json:"type"`
	ID      int64  `json:"id,omitempty"`
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`

	SenderID   string      `json:"senderId,omitempty"`
	ThreadID   string      `json:"threadId,omitempty"`
	MessageID  string      `json:"messageId,omitempty"`
	Timestamp  interface{} `json:"timestamp,omitempty"`
	Content    interface{} `json:"content,omitempty"`
	ThreadType int         `json:"threadType,omitempty"`
}

// ZCAClient is a Client backed by a zca-js worker process. The worker owns
// the actual platform protocol; this side only pipes JSON lines over the
// worker's stdio, the same way the bridge's remote clients speak to the
// bridge itself.
type ZCAClient struct {
	command []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	events  chan RawEvent
	pending map[int64]chan workerFrame
	nextID  int64
}

// NewZCAClient creates a client that spawns the given worker command on
// first login, e.g. "node zca-worker.js".
func NewZCAClient(command string) *ZCAClient {
	return &ZCAClient{
		command: strings.Fields(command),
		pending: make(map[int64]chan workerFrame),
	}
}

// Login spawns the worker if needed and authenticates the upstream session.
func (c *ZCAClient) Login(ctx context.Context, creds model.Credentials) error {
	if err := c.start(); err != nil {
		return err
	}
	return c.call(ctx, workerRequest{
		Op:        "login",
		Cookie:    creds.Cookie,
		IMEI:      creds.IMEI,
		UserAgent: creds.UserAgent,
	})
}

// Listen returns the worker's event stream. The channel is closed when the
// worker exits; cancelling ctx tears the worker down.
func (c *ZCAClient) Listen(ctx context.Context) (<-chan RawEvent, error) {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()

	if events == nil {
		return nil, errors.New("zca worker not running")
	}

	go func() {
		<-ctx.Done()
		if err := c.Disconnect(); err != nil {
			log.Printf("Failed to stop zca worker: %v", err)
		}
	}()

	return events, nil
}

// SendMessage sends a text message through the worker.
func (c *ZCAClient) SendMessage(ctx context.Context, threadID, text string) error {
	return c.call(ctx, workerRequest{Op: "send", To: threadID, Text: text})
}

// SendTypingEvent sends a typing indicator through the worker.
func (c *ZCAClient) SendTypingEvent(ctx context.Context, threadID string) error {
	return c.call(ctx, workerRequest{Op: "typing", To: threadID})
}

// Disconnect stops the worker process. Safe to call when not running.
func (c *ZCAClient) Disconnect() error {
	c.mu.Lock()
	cmd := c.cmd
	stdin := c.stdin
	c.cmd = nil
	c.stdin = nil
	c.events = nil
	c.mu.Unlock()

	if cmd == nil {
		return nil
	}

	// Best-effort polite shutdown before the kill.
	if stdin != nil {
		line, _ := json.Marshal(workerRequest{Op: "disconnect"})
		stdin.Write(append(line, '\n'))
		stdin.Close()
	}

	if cmd.Process != nil {
		cmd.Process.Kill()
	}
	cmd.Wait()
	return nil
}

// start spawns the worker process if it is not already running.
func (c *ZCAClient) start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return nil
	}
	if len(c.command) == 0 {
		return errors.New("zca worker command not configured")
	}

	cmd := exec.Command(c.command[0], c.command[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("zca worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("zca worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("zca worker start: %w", err)
	}

	events := make(chan RawEvent, workerEventQueueSize)
	c.cmd = cmd
	c.stdin = stdin
	c.events = events
	go c.readLoop(stdout, events)

	return nil
}

// call sends one request and waits for its matching result frame.
func (c *ZCAClient) call(ctx context.Context, req workerRequest) error {
	c.mu.Lock()
	stdin := c.stdin
	if stdin == nil {
		c.mu.Unlock()
		return errors.New("zca worker not running")
	}
	c.nextID++
	req.ID = c.nextID
	ch := make(chan workerFrame, 1)
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode worker request: %w", err)
	}

	c.mu.Lock()
	_, err = stdin.Write(append(line, '\n'))
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write to zca worker: %w", err)
	}

	select {
	case frame, ok := <-ch:
		if !ok {
			return errors.New("zca worker exited")
		}
		if !frame.Success {
			if frame.Error == "" {
				frame.Error = "unknown worker error"
			}
			return errors.New(frame.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(requestTimeout):
		return fmt.Errorf("zca worker %s request timed out", req.Op)
	}
}

// readLoop decodes worker frames until stdout closes, then fails any
// outstanding requests and closes the event stream.
func (c *ZCAClient) readLoop(r io.Reader, events chan RawEvent) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var frame workerFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			log.Printf("Malformed zca worker frame: %v", err)
			continue
		}

		switch frame.Type {
		case "result":
			c.deliver(frame)
		case "message":
			events <- RawEvent{
				SenderID:   frame.SenderID,
				ThreadID:   frame.ThreadID,
				MessageID:  frame.MessageID,
				Timestamp:  frame.Timestamp,
				Content:    frame.Content,
				ThreadType: ThreadType(frame.ThreadType),
			}
		case "error":
			events <- RawEvent{Err: errors.New(frame.Error)}
		default:
			log.Printf("Unknown zca worker frame type %q", frame.Type)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Reading zca worker output failed: %v", err)
	}

	c.mu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	close(events)
}

// deliver routes a result frame to the request waiting on it.
func (c *ZCAClient) deliver(frame workerFrame) {
	c.mu.Lock()
	ch, ok := c.pending[frame.ID]
	c.mu.Unlock()

	if !ok {
		log.Printf("Unmatched zca worker result id=%d", frame.ID)
		return
	}
	ch <- frame
}
