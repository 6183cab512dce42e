// Package peer keeps at most one live websocket per remote peer address and
// carries chat frames over it. Connections are dialed on first use and
// accepted through Manager.ServeHTTP.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultConnectTimeout = 10 * time.Second

	// DefaultLinger is how long a replaced connection stays up so frames and
	// acks already on it can arrive.
	DefaultLinger = 2 * time.Second
)

// Inbound receives what remote peers send. Calls come from connection
// goroutines and may run concurrently.
type Inbound interface {
	HandleHello(h Hello)
	HandleMessage(from string, m ChatMsg)
	HandleAck(from string, a ChatAck)
}

// StatusFunc observes the lifecycle of the connection registered for an
// address: connecting, open, then closed or error.
type StatusFunc func(address string, state State)

type Config struct {
	// Self is sent in every handshake. Self.From is this node's address.
	Self      Hello
	Directory Directory
	Inbound   Inbound
	OnStatus  StatusFunc

	// ConnectTimeout bounds dialing plus handshake. Defaults to 10s.
	ConnectTimeout time.Duration
	Linger         time.Duration
	Dialer         *websocket.Dialer
}

type Manager struct {
	self     Hello
	dir      Directory
	inbound  Inbound
	onStatus StatusFunc
	timeout  time.Duration
	linger   time.Duration
	dialer   *websocket.Dialer
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// promoting serializes handshake completions, so each one sees the
	// previous winner already open.
	promoting sync.Mutex

	mu     sync.Mutex
	conns  map[string]*Conn
	all    map[*Conn]struct{}
	closed bool
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Self.From == "" {
		return nil, errors.New("peer: own address is required")
	}
	if cfg.Directory == nil || cfg.Inbound == nil {
		return nil, errors.New("peer: directory and inbound handler are required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Linger <= 0 {
		cfg.Linger = DefaultLinger
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		self:     cfg.Self,
		dir:      cfg.Directory,
		inbound:  cfg.Inbound,
		onStatus: cfg.OnStatus,
		timeout:  cfg.ConnectTimeout,
		linger:   cfg.Linger,
		dialer:   cfg.Dialer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // peers are not browsers
			},
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*Conn),
		all:    make(map[*Conn]struct{}),
	}, nil
}

// Address is this node's own peer address.
func (m *Manager) Address() string { return m.self.From }

// Status reports the state of the connection registered for address.
func (m *Manager) Status(address string) State {
	m.mu.Lock()
	c, ok := m.conns[address]
	m.mu.Unlock()
	if !ok {
		return StateAbsent
	}
	return c.State()
}

// Send queues p for address and returns at once. An open connection is
// reused; otherwise one is dialed and p goes out when its handshake
// completes. done, if set, is called once with the write result.
func (m *Manager) Send(address string, p Payload, done func(error)) {
	f := outFrame{done: done}
	data, err := Encode(p)
	if err != nil {
		f.finish(err)
		return
	}
	f.data = data

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		f.finish(ErrClosed)
		return
	}
	c, ok := m.conns[address]
	if ok && c.terminal() {
		// Died between registering and being observed; dial again.
		delete(m.conns, address)
		ok = false
	}
	if !ok {
		c = newConn(m, address, true)
		m.conns[address] = c
		m.all[c] = struct{}{}
		m.wg.Add(1)
	}
	m.mu.Unlock()

	c.enqueue(f)
	if !ok {
		m.notify(address, StateConnecting)
		go m.dial(c)
	}
}

func (m *Manager) dial(c *Conn) {
	defer m.wg.Done()
	addr := c.Address()
	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()

	endpoint, err := m.dir.Resolve(ctx, addr)
	if err != nil {
		log.Printf("peer: cannot resolve %s: %v", addr, err)
		c.fail(err)
		return
	}
	ws, _, err := m.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		log.Printf("peer: dial %s (%s) failed: %v", addr, endpoint, err)
		c.fail(err)
		return
	}
	if !c.attach(ws) {
		ws.Close()
		return
	}

	hello, err := Encode(m.self)
	if err != nil {
		c.fail(err)
		return
	}
	m.wg.Add(2)
	go c.writePump(ws)
	go c.readPump(ws)
	if err := c.handshake(outFrame{data: hello}); err != nil {
		c.fail(err)
	}
}

// ServeHTTP accepts a connection from a remote peer. It stays anonymous
// until its HELLO names the address it speaks for.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ws.Close()
		return
	}
	c := newConn(m, "", false)
	c.attach(ws)
	m.all[c] = struct{}{}
	m.wg.Add(2)
	m.mu.Unlock()

	go c.writePump(ws)
	go c.readPump(ws)
}

// promote registers c as the connection for addr once its handshake is
// done. Normally the newer connection replaces the registered one. When both
// sides dialed each other at about the same time, both keep the connection
// dialed by the smaller address, so they agree on which one to drop. The
// dropped connection is closed after the linger period and its close is not
// reported.
func (m *Manager) promote(c *Conn, addr string, first ...outFrame) {
	m.promoting.Lock()
	ok := m.settle(c, addr, first)
	m.promoting.Unlock()
	if !ok {
		return
	}
	log.Printf("peer: connected to %s", addr)
	m.notify(addr, StateOpen)
}

// settle opens c and decides which connection stays registered for addr.
// It reports whether c became the registered one.
func (m *Manager) settle(c *Conn, addr string, first []outFrame) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		failAll(first, ErrClosed)
		return false
	}
	prev := m.conns[addr]
	if prev == c {
		prev = nil
	}
	if prev != nil && m.keepsPrevious(prev, c, addr) {
		m.mu.Unlock()

		// c only finishes its handshake; what it queued goes out on prev.
		moved := c.takePending()
		if c.open(addr, first, nil) {
			m.retire(c, addr)
		}
		for _, f := range moved {
			prev.enqueue(f)
		}
		return false
	}
	m.conns[addr] = c
	m.mu.Unlock()

	var adopted []outFrame
	if prev != nil {
		adopted = prev.takePending()
	}
	if !c.open(addr, first, adopted) {
		m.mu.Lock()
		if m.conns[addr] == c {
			if prev != nil && !prev.terminal() {
				m.conns[addr] = prev
			} else {
				delete(m.conns, addr)
			}
		}
		m.mu.Unlock()
		return false
	}
	if prev != nil && prev.State() == StateOpen {
		m.retire(prev, addr)
	}
	return true
}

// keepsPrevious decides a race between the registered prev and a freshly
// handshaken c. Callers hold m.mu.
func (m *Manager) keepsPrevious(prev, c *Conn, addr string) bool {
	if prev.State() != StateOpen || time.Since(prev.OpenedAt()) > m.timeout {
		return false
	}
	pd, cd := prev.dialedBy(m.self.From, addr), c.dialedBy(m.self.From, addr)
	if pd == cd {
		return false
	}
	return pd < cd
}

// retire closes c after the linger period unless it has been registered
// again by then.
func (m *Manager) retire(c *Conn, addr string) {
	log.Printf("peer: dropping redundant connection to %s", addr)
	time.AfterFunc(m.linger, func() {
		m.mu.Lock()
		registered := m.conns[addr] == c
		m.mu.Unlock()
		if !registered {
			c.fail(nil)
		}
	})
}

// release is called exactly once per Conn, after it reached closed or error.
func (m *Manager) release(c *Conn) {
	addr, state := c.Address(), c.State()
	m.mu.Lock()
	delete(m.all, c)
	registered := addr != "" && m.conns[addr] == c
	if registered {
		delete(m.conns, addr)
	}
	m.mu.Unlock()

	if !registered {
		return
	}
	if err := c.Err(); err != nil {
		log.Printf("peer: connection to %s failed: %v", addr, err)
	} else {
		log.Printf("peer: connection to %s closed", addr)
	}
	m.notify(addr, state)
}

func (m *Manager) notify(addr string, state State) {
	if m.onStatus != nil {
		m.onStatus(addr, state)
	}
}

// Close shuts every connection down and waits for their goroutines.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conns := make([]*Conn, 0, len(m.all))
	for c := range m.all {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	m.cancel()
	for _, c := range conns {
		c.fail(nil)
	}
	m.wg.Wait()
	return nil
}
