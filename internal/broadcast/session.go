package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/plantpulse/internal/adapter/metrics"
	"github.com/pscheid92/plantpulse/internal/domain"
	"github.com/pscheid92/plantpulse/internal/platform/correlation"
)

const (
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
	pongDeadline  = 60 * time.Second
)

// session streams snapshots to one viewer. The producer goroutine builds a
// snapshot immediately and then once per interval; the writer goroutine owns
// every write to the connection. The queue between them drops the oldest
// snapshot when the viewer falls behind.
type session struct {
	conn      *websocket.Conn
	clock     clockwork.Clock
	snapshots *Snapshotter
	interval  time.Duration
	metrics   *metrics.BroadcastMetrics
	onFailure func(*websocket.Conn)

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan []byte
	done   chan struct{}

	stopOnce sync.Once
	wg       sync.WaitGroup

	// lastStamp is owned by the producer goroutine.
	lastStamp time.Time
}

func newSession(parent context.Context, conn *websocket.Conn, clock clockwork.Clock, snapshots *Snapshotter, interval time.Duration, queueSize int, m *metrics.BroadcastMetrics, onFailure func(*websocket.Conn)) *session {
	ctx, cancel := context.WithCancel(sessionContext(parent))

	s := &session{
		conn:      conn,
		clock:     clock,
		snapshots: snapshots,
		interval:  interval,
		metrics:   m,
		onFailure: onFailure,
		ctx:       ctx,
		cancel:    cancel,
		queue:     make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
	s.configurePongHandler()

	s.wg.Add(2)
	go s.produce()
	go s.write()
	return s
}

// sessionContext detaches the session from the upgrade request's lifetime but
// keeps its viewer ID, minting one if the caller had none.
func sessionContext(parent context.Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	ctx := context.WithoutCancel(parent)
	if _, ok := correlation.ID(ctx); !ok {
		ctx, _ = correlation.WithNewID(ctx, correlation.ScopeViewer)
	}
	return ctx
}

func (s *session) produce() {
	defer s.wg.Done()

	s.push()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.Chan():
			s.push()
		}
	}
}

func (s *session) push() {
	update, err := s.snapshots.Build(s.ctx)
	if err != nil {
		if s.ctx.Err() == nil {
			slog.WarnContext(s.ctx, "Snapshot skipped", "error", err)
			s.metrics.SnapshotFailures.Inc()
		}
		return
	}
	update.Timestamp = s.nextStamp(update.Timestamp)

	data, err := json.Marshal(Message{Type: messageTypeUpdate, Data: update})
	if err != nil {
		slog.ErrorContext(s.ctx, "Failed to marshal snapshot", "error", err)
		return
	}
	s.enqueue(data)
}

// nextStamp truncates to milliseconds and keeps the stream strictly increasing.
func (s *session) nextStamp(t time.Time) time.Time {
	t = t.Truncate(time.Millisecond)
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Millisecond)
	}
	s.lastStamp = t
	return t
}

func (s *session) enqueue(data []byte) {
	for {
		select {
		case s.queue <- data:
			return
		default:
		}

		select {
		case <-s.queue:
			s.metrics.SnapshotsDropped.Inc()
		default:
		}
	}
}

func (s *session) write() {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.queue:
			start := s.clock.Now()
			s.updateWriteDeadline()
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.fail(err)
				return
			}
			s.metrics.SnapshotsSent.Inc()
			s.metrics.SendDuration.Observe(s.clock.Since(start).Seconds())
		case <-ticker.Chan():
			s.updateWriteDeadline()
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

// fail reports a broken transport. The owner is notified on its own goroutine
// because tearing the session down waits for this writer to exit.
func (s *session) fail(err error) {
	select {
	case <-s.done:
		return
	default:
	}

	err = fmt.Errorf("write to viewer: %w: %w", domain.ErrTransport, err)
	slog.WarnContext(s.ctx, "Viewer session failed", "error", err)
	s.metrics.WriteFailures.Inc()
	if s.onFailure != nil {
		go s.onFailure(s.conn)
	}
}

// stop ends both goroutines and closes the connection. It returns only after
// the ticker has stopped.
func (s *session) stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		close(s.done)
		s.wg.Wait()
		_ = s.conn.Close()
	})
}

// stopGraceful sends a close frame with reason before closing.
func (s *session) stopGraceful(reason string) {
	s.stopOnce.Do(func() {
		s.cancel()
		close(s.done)

		// The writer must be gone before the close frame is written.
		s.wg.Wait()

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		s.updateWriteDeadline()
		_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
		_ = s.conn.Close()
	})
}

// Connection deadlines are wall-clock instants, so they use time.Now rather
// than the injected clock.
func (s *session) updateWriteDeadline() {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
}

func (s *session) configurePongHandler() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongDeadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongDeadline))
	})
}
