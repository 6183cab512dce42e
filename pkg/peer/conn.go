package peer

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Attachments travel inline, so frames can be large.
	maxFrameSize = 8 << 20

	sendBufSize = 256
)

type State string

const (
	StateAbsent     State = "absent"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateError      State = "error"
)

var (
	ErrConnectTimeout = errors.New("peer: connect timed out")
	ErrClosed         = errors.New("peer: connection closed")
	ErrSendBufferFull = errors.New("peer: send buffer full")
)

type outFrame struct {
	data []byte
	done func(error)
}

func (f outFrame) finish(err error) {
	if f.done != nil {
		f.done(err)
	}
}

func failAll(frames []outFrame, err error) {
	for _, f := range frames {
		f.finish(err)
	}
}

// Conn is one websocket to a remote peer. Frames sent while it is still
// connecting wait in pending and go out once the handshake completes.
type Conn struct {
	m        *Manager
	outbound bool
	send     chan outFrame
	done     chan struct{}

	mu      sync.Mutex
	addr    string
	ws      *websocket.Conn
	state   State
	err     error
	pending []outFrame
	timer   *time.Timer
	opened  time.Time
}

func newConn(m *Manager, addr string, outbound bool) *Conn {
	c := &Conn{
		m:        m,
		outbound: outbound,
		send:     make(chan outFrame, sendBufSize),
		done:     make(chan struct{}),
		addr:     addr,
		state:    StateConnecting,
	}
	c.mu.Lock()
	c.timer = time.AfterFunc(m.timeout, c.expire)
	c.mu.Unlock()
	return c
}

func (c *Conn) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// OpenedAt is when the handshake completed, zero before that.
func (c *Conn) OpenedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

// dialedBy names the side that dialed c: self for outbound connections,
// the remote address otherwise.
func (c *Conn) dialedBy(self, remote string) string {
	if c.outbound {
		return self
	}
	return remote
}

func (c *Conn) terminal() bool {
	s := c.State()
	return s == StateClosed || s == StateError
}

func (c *Conn) enqueue(f outFrame) {
	c.mu.Lock()
	switch c.state {
	case StateConnecting:
		c.pending = append(c.pending, f)
		c.mu.Unlock()
	case StateOpen:
		err := c.pushLocked(f)
		c.mu.Unlock()
		if err != nil {
			f.finish(err)
		}
	default:
		c.mu.Unlock()
		f.finish(ErrClosed)
	}
}

func (c *Conn) pushLocked(f outFrame) error {
	select {
	case c.send <- f:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// attach hands a dialed websocket to a conn that is still connecting.
func (c *Conn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	c.ws = ws
	return true
}

// handshake writes a frame ahead of the pending queue.
func (c *Conn) handshake(f outFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return ErrClosed
	}
	return c.pushLocked(f)
}

// open completes the handshake. first goes out before anything queued;
// adopted are frames inherited from a connection this one replaces.
func (c *Conn) open(addr string, first, adopted []outFrame) bool {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		failAll(first, ErrClosed)
		failAll(adopted, ErrClosed)
		return false
	}
	c.addr = addr
	c.state = StateOpen
	c.opened = time.Now()
	c.timer.Stop()
	queue := append(append(first, c.pending...), adopted...)
	c.pending = nil
	var rejected []outFrame
	for _, f := range queue {
		if c.pushLocked(f) != nil {
			rejected = append(rejected, f)
		}
	}
	c.mu.Unlock()

	failAll(rejected, ErrSendBufferFull)
	return true
}

func (c *Conn) takePending() []outFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	c.pending = nil
	return p
}

func (c *Conn) expire() {
	c.teardown(ErrConnectTimeout, true)
}

// fail tears the connection down. A nil err is a clean close.
func (c *Conn) fail(err error) {
	c.teardown(err, false)
}

func (c *Conn) teardown(err error, onlyConnecting bool) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateError ||
		(onlyConnecting && c.state != StateConnecting) {
		c.mu.Unlock()
		return
	}
	if err == nil {
		c.state = StateClosed
	} else {
		c.state = StateError
		c.err = err
	}
	ws := c.ws
	pending := c.pending
	c.pending = nil
	c.timer.Stop()
	c.mu.Unlock()

	close(c.done)
	if ws != nil {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		ws.Close()
	}
	if err == nil {
		err = ErrClosed
	}
	failAll(pending, err)
	c.m.release(c)
}

// readPump decodes frames from the websocket until it fails.
func (c *Conn) readPump(ws *websocket.Conn) {
	defer c.m.wg.Done()
	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error { ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("peer: read from %q failed: %v", c.Address(), err)
				c.fail(err)
			} else {
				c.fail(nil)
			}
			return
		}
		p, err := Decode(data)
		if err != nil {
			log.Printf("peer: dropping frame from %q: %v", c.Address(), err)
			continue
		}
		c.handle(p)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Conn) writePump(ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.drain()
		c.m.wg.Done()
	}()
	for {
		select {
		case f := <-c.send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := ws.WriteMessage(websocket.TextMessage, f.data)
			f.finish(err)
			if err != nil {
				log.Printf("peer: write to %q failed: %v", c.Address(), err)
				c.fail(err)
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// drain fails every frame still queued once the connection is down. Frames
// are only queued while the conn is open, so nothing arrives after this.
func (c *Conn) drain() {
	for {
		select {
		case f := <-c.send:
			f.finish(ErrClosed)
		default:
			return
		}
	}
}

func (c *Conn) handle(p Payload) {
	switch p := p.(type) {
	case Hello:
		if c.outbound || c.State() != StateConnecting {
			log.Printf("peer: unexpected HELLO from %q", p.From)
			return
		}
		if p.From == "" {
			c.fail(fmt.Errorf("peer: HELLO without address"))
			return
		}
		c.m.inbound.HandleHello(p)
		ack, err := Encode(HelloAck(c.m.self))
		if err != nil {
			c.fail(err)
			return
		}
		c.m.promote(c, p.From, outFrame{data: ack})

	case HelloAck:
		if !c.outbound || c.State() != StateConnecting {
			return
		}
		if addr := c.Address(); p.From != addr {
			c.fail(fmt.Errorf("peer: dialed %s but %s answered", addr, p.From))
			return
		}
		c.m.inbound.HandleHello(Hello(p))
		c.m.promote(c, p.From)

	case ChatMsg:
		from, state := c.Address(), c.State()
		if state != StateOpen {
			log.Printf("peer: CHAT_MSG before handshake on %q", from)
			return
		}
		c.m.inbound.HandleMessage(from, p)
		ack, err := Encode(ChatAck{ChatID: p.ChatID, MessageID: p.Message.ID})
		if err != nil {
			log.Printf("peer: %v", err)
			return
		}
		c.enqueue(outFrame{data: ack})

	case ChatAck:
		if c.State() != StateOpen {
			return
		}
		c.m.inbound.HandleAck(c.Address(), p)

	case Unknown:
		log.Printf("peer: ignoring %q frame from %q", p.Type, c.Address())
	}
}
