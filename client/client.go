// Package client implements the game-side network agent.
//
// A Client bridges the local game loop with the match server: it owns the
// connection, runs independent receive and send goroutines, and exposes a
// non-blocking inbound queue so the render/update loop is never stalled by
// the network. Latency probes (PING/PONG) are resolved inside the receive
// goroutine and never reach the queue.
package client

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bernardosdias/fightnet/protocol"
	"github.com/bernardosdias/fightnet/transport"
)

// ErrNotConnected indicates a send attempted while disconnected. Sends fail
// fast instead of blocking the game loop.
var ErrNotConnected = errors.New("not connected to server")

// ErrAlreadyConnected indicates a Connect call on a live client.
var ErrAlreadyConnected = errors.New("already connected")

// ErrConnectionTimeout indicates the server did not acknowledge the
// connection within the handshake timeout.
var ErrConnectionTimeout = errors.New("timed out waiting for server acknowledgment")

// ErrConnectionRejected indicates the server answered the handshake with an
// ERROR message, e.g. because both player slots are taken.
var ErrConnectionRejected = errors.New("server rejected connection")

// ErrSendQueueFull indicates the outbound queue is saturated, which only
// happens when the send goroutine has died or the socket has stalled hard.
var ErrSendQueueFull = errors.New("send queue full")

const (
	// DefaultConnectTimeout bounds the connect handshake.
	DefaultConnectTimeout = 5 * time.Second
	// ackPollInterval is how often Connect polls the inbound queue for the
	// acknowledgment.
	ackPollInterval = 10 * time.Millisecond
	// outboundQueueSize bounds the send queue. The game loop produces at
	// most a few messages per tick, so this is effectively unbounded.
	outboundQueueSize = 256
)

// Client is the user-side network agent. All methods are safe to call from
// the game loop goroutine; the receive and send pumps run independently.
type Client struct {
	mu        sync.Mutex
	session   *transport.Session
	connected bool
	playerID  int
	stop      chan struct{}

	outbound chan *protocol.Message
	inbound  messageQueue

	lastPing time.Time
	latency  time.Duration

	wg sync.WaitGroup
}

// New creates a disconnected client.
func New() *Client {
	return &Client{}
}

// Connect dials the server, starts the receive and send pumps, and blocks
// polling the inbound queue until a CONNECT_ACK arrives or timeout elapses.
// On timeout the client is torn down and left disconnected.
func (c *Client) Connect(host string, port int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	session := transport.NewSession(conn)

	c.mu.Lock()
	c.session = session
	c.connected = true
	c.playerID = 0
	c.stop = make(chan struct{})
	c.outbound = make(chan *protocol.Message, outboundQueueSize)
	c.inbound.reset()
	c.mu.Unlock()

	c.wg.Add(2)
	go c.receivePump(session)
	go c.sendPump(session, c.outbound, c.stop)

	logrus.WithFields(logrus.Fields{
		"address": addr,
		"session": session.ID(),
	}).Info("Connected to server, waiting for acknowledgment")

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if msg := c.GetMessage(); msg != nil {
			if rejection, ok := msg.Data.(*protocol.ErrorPayload); ok {
				c.Disconnect()
				return fmt.Errorf("%w: %s", ErrConnectionRejected, rejection.Error)
			}
			ack, ok := msg.Data.(*protocol.ConnectAck)
			if !ok {
				// Not the ack yet; nothing else should arrive first,
				// but requeue rather than lose it.
				c.inbound.push(msg)
				time.Sleep(ackPollInterval)
				continue
			}
			c.mu.Lock()
			c.playerID = ack.PlayerID
			c.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"player_id": ack.PlayerID,
				"message":   ack.Message,
			}).Info("Server acknowledged connection")
			return nil
		}
		if !c.Connected() && !c.HasMessages() {
			c.Disconnect()
			return fmt.Errorf("connection closed during handshake: %w", ErrConnectionTimeout)
		}
		time.Sleep(ackPollInterval)
	}

	logrus.WithField("address", addr).Warn("Handshake timed out")
	c.Disconnect()
	return ErrConnectionTimeout
}

// receivePump feeds raw bytes through the session until it dies. PONG
// replies resolve the pending latency probe; everything else lands on the
// inbound queue for the game loop to poll.
func (c *Client) receivePump(session *transport.Session) {
	defer c.wg.Done()

	err := session.ReadMessages(func(msg *protocol.Message) {
		if pong, ok := msg.Data.(*protocol.Pong); ok {
			c.handlePong(pong)
			return
		}
		c.inbound.push(msg)
	})

	if err != nil && c.running() {
		logrus.WithError(err).Error("Receive loop terminated")
	}
	c.markDisconnected()
}

// sendPump drains the outbound queue in enqueue order until stopped or the
// session dies.
func (c *Client) sendPump(session *transport.Session, outbound chan *protocol.Message, stop chan struct{}) {
	defer c.wg.Done()

	for {
		select {
		case msg := <-outbound:
			if err := session.Send(msg); err != nil {
				if c.running() {
					logrus.WithError(err).Error("Send loop terminated")
				}
				c.markDisconnected()
				return
			}
		case <-stop:
			return
		}
	}
}

// Send enqueues a message for the send pump. It never blocks; when the
// client is disconnected or the queue is saturated it fails fast.
func (c *Client) Send(msg *protocol.Message) error {
	c.mu.Lock()
	connected := c.connected
	outbound := c.outbound
	c.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	select {
	case outbound <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// SetPlayerName reports the local display name to the server.
func (c *Client) SetPlayerName(name string) error {
	return c.Send(protocol.NewConnect(name))
}

// SelectCharacter reports the local fighter choice.
func (c *Client) SelectCharacter(character string) error {
	return c.Send(protocol.NewCharacterSelect(character))
}

// SendPlayerState pushes the local fighter's per-tick snapshot.
func (c *Client) SendPlayerState(state protocol.PlayerState) error {
	return c.Send(protocol.NewPlayerStateUpdate(c.PlayerID(), state))
}

// SendInput relays the local key state.
func (c *Client) SendInput(keys map[string]bool) error {
	return c.Send(protocol.NewPlayerInput(keys))
}

// SendAttack announces a local attack animation.
func (c *Client) SendAttack(attackType string) error {
	return c.Send(protocol.NewAttack(c.PlayerID(), attackType))
}

// SendHit claims that the local fighter's attack connected. The server
// validates and clamps the claim before any damage is applied.
func (c *Client) SendHit(victimID, damage int) error {
	return c.Send(protocol.NewHit(c.PlayerID(), victimID, damage))
}

// SelectMap picks the stage. Only honored by the server for player 1.
func (c *Client) SelectMap(mapID string) error {
	return c.Send(protocol.NewMapSelect(mapID))
}

// Ping sends a latency probe. The matching PONG updates Latency.
func (c *Client) Ping() error {
	now := time.Now()
	c.mu.Lock()
	c.lastPing = now
	c.mu.Unlock()
	return c.Send(protocol.NewPing(now))
}

func (c *Client) handlePong(pong *protocol.Pong) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if pong.OriginalTimestamp > 0 {
		c.latency = now.Sub(time.UnixMilli(pong.OriginalTimestamp))
	} else if !c.lastPing.IsZero() {
		c.latency = now.Sub(c.lastPing)
	}
}

// Latency returns the most recent round-trip measurement. It is a rolling
// scalar, not an average.
func (c *Client) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// PlayerID returns the slot assigned by the server, or 0 before the
// handshake completes.
func (c *Client) PlayerID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// HasMessages reports whether the inbound queue is non-empty without
// blocking.
func (c *Client) HasMessages() bool {
	return c.inbound.len() > 0
}

// GetMessage pops the oldest inbound message, or nil when the queue is
// empty. It never blocks.
func (c *Client) GetMessage() *protocol.Message {
	return c.inbound.pop()
}

// Connected reports whether the client currently holds a live session.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return false
	}
	select {
	case <-c.stop:
		return false
	default:
		return c.connected
	}
}

// markDisconnected flags the client dead and signals the stop channel so
// both pumps exit even when only one of them saw the failure. Without the
// signal a send pump with an empty queue would block in its select forever,
// and a later Disconnect would hang waiting for it.
func (c *Client) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// Disconnect best-effort notifies the server, stops both pumps, and closes
// the session. It is idempotent and safe to call from any goroutine.
func (c *Client) Disconnect() {
	c.mu.Lock()
	session := c.session
	stop := c.stop
	wasConnected := c.connected
	c.connected = false
	c.session = nil
	c.stop = nil
	c.mu.Unlock()

	if session == nil {
		return
	}

	if wasConnected {
		// Direct write, bypassing the queue: the pumps are about to stop.
		if err := session.Send(protocol.NewDisconnect(0, "")); err != nil && !errors.Is(err, transport.ErrSessionClosed) {
			logrus.WithError(err).Debug("Disconnect notice not delivered")
		}
	}
	// stop is nil when markDisconnected already signalled the pumps.
	if stop != nil {
		close(stop)
	}
	session.Close()
	c.wg.Wait()

	logrus.Info("Disconnected from server")
}
