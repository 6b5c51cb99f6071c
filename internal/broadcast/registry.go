package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/plantpulse/internal/adapter/metrics"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second

	defaultBroadcastInterval = 2 * time.Second
	defaultSendQueueSize     = 4
	defaultMaxConnections    = 1000
)

var (
	// ErrCapacity is returned by Register when the registry is full.
	ErrCapacity = errors.New("viewer capacity reached")
	ErrStopped  = errors.New("registry stopped")
)

type RegistryConfig struct {
	Interval       time.Duration
	MaxConnections int
	SendQueueSize  int
}

type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type registerCmd struct {
	baseRegistryCmd
	ctx          context.Context
	connection   *websocket.Conn
	errorChannel chan error
}

type unregisterCmd struct {
	baseRegistryCmd
	connection  *websocket.Conn
	doneChannel chan struct{}
}

type countCmd struct {
	baseRegistryCmd
	replyChannel chan int
}

type stopCmd struct {
	baseRegistryCmd
}

// Registry tracks the connected viewers. A single goroutine owns the session
// map; all access goes through the command channel.
type Registry struct {
	cmdCh       chan registryCmd
	clock       clockwork.Clock
	snapshots   *Snapshotter
	metrics     *metrics.BroadcastMetrics
	cfg         RegistryConfig
	sessions    map[*websocket.Conn]*session
	done        chan struct{}
	stopTimeout time.Duration
}

func NewRegistry(snapshots *Snapshotter, clock clockwork.Clock, m *metrics.BroadcastMetrics, cfg RegistryConfig) *Registry {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultBroadcastInterval
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}

	r := &Registry{
		cmdCh:       make(chan registryCmd, 256),
		clock:       clock,
		snapshots:   snapshots,
		metrics:     m,
		cfg:         cfg,
		sessions:    make(map[*websocket.Conn]*session),
		done:        make(chan struct{}),
		stopTimeout: stopTimeout,
	}
	go r.run()
	return r
}

// Register starts streaming snapshots to conn. The first snapshot is queued
// before the session's ticker starts. At capacity the connection is closed
// and ErrCapacity returned. The session logs under the correlation ID carried
// by ctx; cancelling ctx does not end the session.
func (r *Registry) Register(ctx context.Context, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	if !r.send(registerCmd{ctx: ctx, connection: conn, errorChannel: errCh}) {
		_ = conn.Close()
		return ErrStopped
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-r.done:
		_ = conn.Close()
		return ErrStopped
	case <-timer.Chan():
		// The actor may still pick the command up; queue the matching unregister.
		_ = conn.Close()
		go r.Unregister(conn)
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister stops conn's session. When it returns the session's ticker and
// writer have exited. Unknown connections are ignored.
func (r *Registry) Unregister(conn *websocket.Conn) {
	doneCh := make(chan struct{})
	if !r.send(unregisterCmd{connection: conn, doneChannel: doneCh}) {
		return
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case <-doneCh:
	case <-r.done:
	case <-timer.Chan():
		slog.Warn("Unregister timed out", "timeout", commandTimeout)
	}
}

// Count returns the number of live sessions, or -1 if the command times out.
func (r *Registry) Count() int {
	replyCh := make(chan int, 1)
	if !r.send(countCmd{replyChannel: replyCh}) {
		return 0
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-r.done:
		return 0
	case <-timer.Chan():
		slog.Warn("Count timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop closes every session with a close frame and waits for the actor to
// exit or the stop timeout to pass.
func (r *Registry) Stop() {
	if !r.send(stopCmd{}) {
		return
	}

	timeout := r.clock.NewTimer(r.stopTimeout)
	defer timeout.Stop()

	select {
	case <-r.done:
		slog.Info("Registry stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Registry stop timeout exceeded", "timeout", r.stopTimeout)
	}
}

func (r *Registry) send(cmd registryCmd) bool {
	select {
	case r.cmdCh <- cmd:
		return true
	case <-r.done:
		return false
	}
}

func (r *Registry) run() {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Registry panic recovered", "panic", rec)
			r.closeAll("registry panic")
		}
	}()

	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			r.handleRegister(c)
		case unregisterCmd:
			r.handleUnregister(c)
		case countCmd:
			c.replyChannel <- len(r.sessions)
		case stopCmd:
			r.handleStop()
			return
		default:
			slog.Warn("Registry received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (r *Registry) handleRegister(c registerCmd) {
	if len(r.sessions) >= r.cfg.MaxConnections {
		slog.Warn("Rejecting viewer: capacity reached", "max_connections", r.cfg.MaxConnections)
		r.metrics.RejectedConnections.Inc()
		_ = c.connection.Close()
		c.errorChannel <- fmt.Errorf("%w (%d)", ErrCapacity, r.cfg.MaxConnections)
		return
	}

	r.sessions[c.connection] = newSession(c.ctx, c.connection, r.clock, r.snapshots, r.cfg.Interval, r.cfg.SendQueueSize, r.metrics, r.unregisterFailed)
	r.metrics.ActiveConnections.Set(float64(len(r.sessions)))

	slog.Debug("Viewer registered", "remote_addr", c.connection.RemoteAddr().String(), "viewers", len(r.sessions))
	c.errorChannel <- nil
}

// unregisterFailed is the session failure callback.
func (r *Registry) unregisterFailed(conn *websocket.Conn) {
	r.Unregister(conn)
}

func (r *Registry) handleUnregister(c unregisterCmd) {
	defer close(c.doneChannel)

	s, ok := r.sessions[c.connection]
	if !ok {
		return
	}
	s.stop()
	delete(r.sessions, c.connection)
	r.metrics.ActiveConnections.Set(float64(len(r.sessions)))

	slog.Debug("Viewer unregistered", "viewers", len(r.sessions))
}

func (r *Registry) handleStop() {
	total := len(r.sessions)
	slog.Info("Registry shutting down", "viewers", total)
	r.closeAll("Server shutting down")
	slog.Info("Registry shutdown complete", "disconnected_viewers", total)
}

func (r *Registry) closeAll(reason string) {
	for conn, s := range r.sessions {
		s.stopGraceful(reason)
		delete(r.sessions, conn)
	}
	r.metrics.ActiveConnections.Set(0)
}
