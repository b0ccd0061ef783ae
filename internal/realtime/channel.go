package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskpilot/cli/internal/logging"
	"taskpilot/cli/internal/metrics"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var allStates = []string{StateDisconnected.String(), StateConnecting.String(), StateConnected.String()}

const DefaultReconnectDelay = 3 * time.Second

type Handler func(ctx context.Context, ev Event)

type Options struct {
	URL            string
	Dialer         Dialer
	Handler        Handler
	ReconnectDelay time.Duration
	// Header is consulted before every dial so a replaced credential is
	// picked up on reconnect.
	Header  func() http.Header
	Logger  *slog.Logger
	Metrics *metrics.Collectors
	// After replaces time.After for the reconnect timer.
	After         func(time.Duration) <-chan time.Time
	OnStateChange func(State)
}

// Channel keeps a best-effort push connection open and forwards task
// mutation events to Handler. Connection failures are never returned; the
// only recovery is a reconnect after a fixed delay, forever, until Stop.
type Channel struct {
	opts Options

	startMu sync.Mutex

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

func NewChannel(opts Options) *Channel {
	if opts.Dialer == nil {
		opts.Dialer = RealDialer{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.After == nil {
		opts.After = time.After
	}
	return &Channel{opts: opts}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start (re)opens the channel. A running loop is stopped and its connection
// closed before the new one dials. Must not be called from Handler.
func (c *Channel) Start(ctx context.Context) {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.Stop()
	c.Wait()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		c.run(runCtx)
	}()
}

// Stop cancels the loop, any pending reconnect timer and the open connection.
// It does not wait, so it is safe to call from Handler; use Wait for that.
func (c *Channel) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the most recently started loop has exited.
func (c *Channel) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Channel) run(ctx context.Context) {
	log := c.opts.Logger.With("url", c.opts.URL)
	defer c.setState(StateDisconnected)
	for {
		if ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting)
		var header http.Header
		if c.opts.Header != nil {
			header = c.opts.Header()
		}
		sock, err := c.opts.Dialer.Dial(ctx, c.opts.URL, header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("realtime dial failed", "err", err)
		} else {
			connID := uuid.NewString()
			log.Info("realtime connected", "conn_id", connID)
			c.setState(StateConnected)
			readErr := c.readLoop(ctx, sock, log.With("conn_id", connID))
			_ = sock.Close()
			if ctx.Err() != nil {
				log.Info("realtime stopped", "conn_id", connID)
				return
			}
			if readErr != nil && !errors.Is(readErr, io.EOF) {
				log.Warn("realtime connection lost", "conn_id", connID, "err", readErr)
			} else {
				log.Info("realtime connection closed", "conn_id", connID)
			}
		}

		c.setState(StateDisconnected)
		c.opts.Metrics.ReconnectScheduled()
		log.Debug("realtime reconnect scheduled", "delay", c.opts.ReconnectDelay.String())
		select {
		case <-ctx.Done():
			return
		case <-c.opts.After(c.opts.ReconnectDelay):
		}
	}
}

func (c *Channel) readLoop(ctx context.Context, sock Socket, log *slog.Logger) error {
	for {
		text, err := sock.ReadText(ctx)
		if err != nil {
			return err
		}
		ev, err := ParseEvent(text)
		if err != nil {
			c.opts.Metrics.MalformedEvent()
			log.Warn("dropping realtime message", "err", err)
			continue
		}
		if !IsTaskMutation(ev.Type) {
			log.Debug("ignoring realtime event", "type", ev.Type)
			continue
		}
		if c.opts.Handler != nil {
			c.opts.Handler(ctx, ev)
		}
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if !changed {
		return
	}
	c.opts.Metrics.SetChannelState(s.String(), allStates...)
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}
