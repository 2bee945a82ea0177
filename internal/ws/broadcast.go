package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/planning-poker/planpoker/internal/config"
	"github.com/planning-poker/planpoker/internal/poker"
	"github.com/planning-poker/planpoker/internal/protocol"
)

// ErrTooManyConnections is returned by AddClient when MaxConnections push
// channels are already open.
var ErrTooManyConnections = errors.New("too many websocket connections")

// ErrStaleRegistration is returned by AddClient when the voter's current
// channel belongs to a newer registration than the one being added.
var ErrStaleRegistration = errors.New("voter has joined again since")

// SnapshotSource supplies the current session state for resyncs and for the
// first message on a new connection.
type SnapshotSource interface {
	Snapshot() poker.Snapshot
}

type Options struct {
	Throttle       time.Duration
	ResyncInterval time.Duration
	MaxConnections int
	SendBuffer     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Throttle:       cfg.Broadcast.Throttle,
		ResyncInterval: cfg.Broadcast.ResyncInterval,
		MaxConnections: cfg.Broadcast.MaxConnections,
		SendBuffer:     cfg.Broadcast.SendBuffer,
		WriteTimeout:   cfg.Transport.WriteTimeout,
		PingInterval:   cfg.Transport.PingInterval,
	}
}

type client struct {
	id    uuid.UUID
	voter string
	// gen is the voter registration this channel was opened for.
	gen  uint64
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
	// closeCode is written before send is closed.
	closeCode int
	// sent is the newest snapshot version queued on send, guarded by
	// Broadcaster.deliverMu.
	sent uint64
}

func (c *client) writePump() {
	var ping <-chan time.Time
	if c.b.opts.PingInterval > 0 {
		t := time.NewTicker(c.b.opts.PingInterval)
		defer t.Stop()
		ping = t.C
	}
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.setWriteDeadline()
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, c.closeMessage())
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.b.dropClient(c, err)
				return
			}
		case <-ping:
			c.setWriteDeadline()
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.b.dropClient(c, err)
				return
			}
		}
	}
}

func (c *client) closeMessage() []byte {
	if c.closeCode == protocol.CloseRemoved {
		return websocket.FormatCloseMessage(protocol.CloseRemoved, "removed from session")
	}
	return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
}

func (c *client) setWriteDeadline() {
	if c.b.opts.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.b.opts.WriteTimeout))
	}
}

// Broadcaster owns the open push channels, one per voter, and fans session
// snapshots out to them.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*client
	source  SnapshotSource
	opts    Options
	onDrop  func(voter string, gen uint64)

	// deliverMu orders snapshots per client by version.
	deliverMu sync.Mutex

	flushMu    sync.Mutex
	pending    *poker.Snapshot
	queued     uint64
	flushTimer *time.Timer

	stopOnce sync.Once
	done     chan struct{}
}

func NewBroadcaster(source SnapshotSource, opts Options) *Broadcaster {
	if opts.SendBuffer < 1 {
		opts.SendBuffer = 1
	}
	b := &Broadcaster{
		clients: make(map[string]*client),
		source:  source,
		opts:    opts,
		done:    make(chan struct{}),
	}
	if opts.ResyncInterval > 0 {
		go b.resyncLoop(opts.ResyncInterval)
	}
	return b
}

// SetOnDrop registers fn to be called, on its own goroutine, whenever the
// broadcaster itself gives up on a client after a failed or blocked write.
func (b *Broadcaster) SetOnDrop(fn func(voter string, gen uint64)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// AddClient registers conn as the push channel of registration gen of voter
// and queues the current snapshot on it. An existing channel for the same
// voter is closed and replaced.
func (b *Broadcaster) AddClient(voter string, gen uint64, conn *websocket.Conn) (*client, error) {
	c := &client{
		id:    uuid.New(),
		voter: voter,
		gen:   gen,
		conn:  conn,
		b:     b,
		send:  make(chan []byte, b.opts.SendBuffer),
	}

	b.mu.Lock()
	old, replacing := b.clients[voter]
	if replacing && old.gen > gen {
		b.mu.Unlock()
		return nil, ErrStaleRegistration
	}
	if !replacing && b.opts.MaxConnections > 0 && len(b.clients) >= b.opts.MaxConnections {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	if replacing {
		close(old.send)
	}
	b.clients[voter] = c
	b.mu.Unlock()

	if replacing {
		slog.Info("push channel replaced", "voter", voter, "old", old.id, "new", c.id)
	}

	go c.writePump()

	snap := b.source.Snapshot()
	if data, err := protocol.EncodeSnapshot(snap); err == nil {
		b.deliver(c, snap.Version, data)
	}
	return c, nil
}

// Close shuts the push channel of registration gen of voter, telling the
// client it was removed. A channel opened for a later registration of the
// same name is left open.
func (b *Broadcaster) Close(voter string, gen uint64) {
	b.mu.Lock()
	c, ok := b.clients[voter]
	if !ok || c.gen != gen {
		b.mu.Unlock()
		return
	}
	delete(b.clients, voter)
	c.closeCode = protocol.CloseRemoved
	close(c.send)
	b.mu.Unlock()

	slog.Info("push channel closed for departed voter", "voter", voter, "client", c.id)
}

// RemoveClient unregisters c. It reports false when c was already removed
// or has been replaced by a newer channel for the same voter, in which case
// the voter must not be treated as disconnected.
func (b *Broadcaster) RemoveClient(c *client) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.clients[c.voter]; !ok || cur != c {
		return false
	}
	delete(b.clients, c.voter)
	close(c.send)
	return true
}

func (b *Broadcaster) dropClient(c *client, reason error) {
	if !b.RemoveClient(c) {
		return
	}
	slog.Warn("push channel dropped", "voter", c.voter, "client", c.id, "error", reason)

	b.mu.RLock()
	fn := b.onDrop
	b.mu.RUnlock()
	if fn != nil {
		go fn(c.voter, c.gen)
	}
}

var errSlowClient = errors.New("send buffer full")

// Publish queues snap for every connected voter. Bursts within the throttle
// window collapse into one push of the newest snapshot, and a snapshot older
// than one already queued is ignored.
func (b *Broadcaster) Publish(snap poker.Snapshot) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if snap.Version < b.queued {
		return
	}
	b.queued = snap.Version
	b.pending = &snap

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.opts.Throttle, b.flush)
	}
}

// SendTo pushes snap to a single voter immediately, bypassing the throttle.
func (b *Broadcaster) SendTo(voter string, snap poker.Snapshot) {
	b.mu.RLock()
	c, ok := b.clients[voter]
	b.mu.RUnlock()
	if !ok {
		return
	}

	data, err := protocol.EncodeSnapshot(snap)
	if err != nil {
		slog.Error("encode snapshot", "error", err)
		return
	}
	b.deliver(c, snap.Version, data)
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	snap := b.pending
	b.pending = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if snap == nil {
		return
	}
	b.broadcast(*snap)
}

func (b *Broadcaster) resyncLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.broadcast(b.source.Snapshot())
		case <-b.done:
			return
		}
	}
}

func (b *Broadcaster) broadcast(snap poker.Snapshot) {
	data, err := protocol.EncodeSnapshot(snap)
	if err != nil {
		slog.Error("encode snapshot", "error", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		b.deliver(c, snap.Version, data)
	}
}

// deliver queues data on c unless c already has a newer snapshot queued.
// Equal versions are resent so resyncs and refreshes go through.
func (b *Broadcaster) deliver(c *client, version uint64, data []byte) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.clients[c.voter] != c || version < c.sent {
		return
	}
	select {
	case c.send <- data:
		c.sent = version
	default:
		// Client can't keep up; release the read lock before dropping it.
		go b.dropClient(c, errSlowClient)
	}
}

// ClientCount returns the number of open push channels.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Connected reports whether voter currently has an open push channel.
func (b *Broadcaster) Connected(voter string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.clients[voter]
	return ok
}

// Stop closes every push channel and halts the resync loop. Pending
// throttled pushes are discarded.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		b.flushMu.Lock()
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}
		b.pending = nil
		b.flushMu.Unlock()

		b.mu.Lock()
		for voter, c := range b.clients {
			delete(b.clients, voter)
			close(c.send)
		}
		b.mu.Unlock()
	})
}
