package server

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/bernardosdias/fightnet/protocol"
	"github.com/bernardosdias/fightnet/transport"
)

// dialPlayer connects a raw session to the server and pumps everything it
// receives into a channel.
type dialPlayer struct {
	session  *transport.Session
	received chan *protocol.Message
}

func dialServer(t *testing.T, s *GameServer) *dialPlayer {
	t.Helper()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)

	p := &dialPlayer{
		session:  transport.NewSession(conn),
		received: make(chan *protocol.Message, 256),
	}
	go p.session.ReadMessages(func(m *protocol.Message) {
		p.received <- m
	})
	t.Cleanup(func() { p.session.Close() })
	return p
}

// next waits for the next message of the given kind, skipping others.
func (p *dialPlayer) next(t *testing.T, kind protocol.MessageType) *protocol.Message {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case m := <-p.received:
			if m.Type == kind {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
			return nil
		}
	}
}

func (p *dialPlayer) expectNone(t *testing.T, kind protocol.MessageType, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case m := <-p.received:
			if m.Type == kind {
				t.Fatalf("unexpected %s message", kind)
			}
		case <-deadline:
			return
		}
	}
}

func startTestServer(t *testing.T, opts Options) *GameServer {
	t.Helper()
	opts.Host = "127.0.0.1"
	if opts.Port == 0 {
		opts.Port = freePort(t)
	}
	s := New(opts)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestTwoPlayersGetSequentialSlots(t *testing.T) {
	s := startTestServer(t, Options{})

	p1 := dialServer(t, s)
	ack1 := p1.next(t, protocol.TypeConnectAck).Data.(*protocol.ConnectAck)
	assert.Equal(t, 1, ack1.PlayerID)

	p2 := dialServer(t, s)
	ack2 := p2.next(t, protocol.TypeConnectAck).Data.(*protocol.ConnectAck)
	assert.Equal(t, 2, ack2.PlayerID)
}

func TestThirdConnectionRejected(t *testing.T) {
	s := startTestServer(t, Options{})

	p1 := dialServer(t, s)
	p1.next(t, protocol.TypeConnectAck)
	p2 := dialServer(t, s)
	p2.next(t, protocol.TypeConnectAck)

	p3 := dialServer(t, s)
	errMsg := p3.next(t, protocol.TypeError).Data.(*protocol.ErrorPayload)
	assert.NotEmpty(t, errMsg.Error)
	p3.expectNone(t, protocol.TypeConnectAck, 200*time.Millisecond)

	assert.Eventually(t, func() bool {
		return p3.session.Closed()
	}, 2*time.Second, 10*time.Millisecond, "rejected socket must be closed by the server")
}

func TestFreedSlotIsReassigned(t *testing.T) {
	s := startTestServer(t, Options{})

	p1 := dialServer(t, s)
	p1.next(t, protocol.TypeConnectAck)
	p2 := dialServer(t, s)
	p2.next(t, protocol.TypeConnectAck)

	p1.session.Close()
	p2.next(t, protocol.TypeDisconnect)

	p3 := dialServer(t, s)
	ack := p3.next(t, protocol.TypeConnectAck).Data.(*protocol.ConnectAck)
	assert.Equal(t, 1, ack.PlayerID, "the smallest freed slot is reused")
}

func TestCharacterSelectionStartsMatch(t *testing.T) {
	s := startTestServer(t, Options{})

	p1 := dialServer(t, s)
	p1.next(t, protocol.TypeConnectAck)
	p2 := dialServer(t, s)
	p2.next(t, protocol.TypeConnectAck)

	require.NoError(t, p1.session.Send(protocol.NewCharacterSelect("Warrior")))

	notified := p2.next(t, protocol.TypeCharacterSelected).Data.(*protocol.CharacterSelected)
	assert.Equal(t, 1, notified.PlayerID)
	assert.Equal(t, "Warrior", notified.Character)

	require.NoError(t, p2.session.Send(protocol.NewCharacterSelect("Wizard")))

	for _, p := range []*dialPlayer{p1, p2} {
		ready := p.next(t, protocol.TypeBothReady).Data.(*protocol.BothReady)
		assert.Equal(t, "Warrior", ready.Player1Character)
		assert.Equal(t, "Wizard", ready.Player2Character)

		gs := p.next(t, protocol.TypeGameStateUpdate).Data.(*protocol.GameStateUpdate)
		assert.True(t, gs.ResetRound)
		assert.Equal(t, protocol.MaxHealth, gs.Player1Health)
		assert.Equal(t, protocol.MaxHealth, gs.Player2Health)
	}
}

func TestPingGetsPong(t *testing.T) {
	s := startTestServer(t, Options{})

	p1 := dialServer(t, s)
	p1.next(t, protocol.TypeConnectAck)

	sent := time.Now()
	require.NoError(t, p1.session.Send(protocol.NewPing(sent)))

	pong := p1.next(t, protocol.TypePong).Data.(*protocol.Pong)
	assert.Equal(t, sent.UnixMilli(), pong.OriginalTimestamp)
}

func TestAbruptDisconnectNotifiesPeerOnce(t *testing.T) {
	s := startTestServer(t, Options{RoundResetDelay: time.Hour})

	p1 := dialServer(t, s)
	p1.next(t, protocol.TypeConnectAck)
	p2 := dialServer(t, s)
	p2.next(t, protocol.TypeConnectAck)

	require.NoError(t, p1.session.Send(protocol.NewCharacterSelect("Warrior")))
	require.NoError(t, p2.session.Send(protocol.NewCharacterSelect("Wizard")))
	p1.next(t, protocol.TypeBothReady)
	p2.next(t, protocol.TypeBothReady)
	p1.next(t, protocol.TypeGameStateUpdate)
	p2.next(t, protocol.TypeGameStateUpdate)

	p2.session.Close()

	notice := p1.next(t, protocol.TypeDisconnect).Data.(*protocol.Disconnect)
	assert.Equal(t, 2, notice.PlayerID)

	// The match is torn down: no further authoritative updates and no
	// second disconnect notice.
	p1.expectNone(t, protocol.TypeGameStateUpdate, 300*time.Millisecond)
	p1.expectNone(t, protocol.TypeDisconnect, 100*time.Millisecond)
}

func TestRoundResetAfterDelayPreservesScore(t *testing.T) {
	s := startTestServer(t, Options{RoundResetDelay: 100 * time.Millisecond})

	p1 := dialServer(t, s)
	p1.next(t, protocol.TypeConnectAck)
	p2 := dialServer(t, s)
	p2.next(t, protocol.TypeConnectAck)

	require.NoError(t, p1.session.Send(protocol.NewCharacterSelect("Warrior")))
	require.NoError(t, p2.session.Send(protocol.NewCharacterSelect("Wizard")))
	p1.next(t, protocol.TypeGameStateUpdate)
	p2.next(t, protocol.TypeGameStateUpdate)

	// End the round directly through the authoritative path.
	s.mu.Lock()
	s.match.player2Health = 1
	s.mu.Unlock()
	s.handleHit(1, &protocol.Hit{AttackerID: 1, VictimID: 2, Damage: 30})

	over := p1.next(t, protocol.TypeGameStateUpdate).Data.(*protocol.GameStateUpdate)
	require.True(t, over.RoundOver)
	assert.Equal(t, [2]int{1, 0}, over.Score)

	deadline := time.After(3 * time.Second)
	for {
		var gs *protocol.GameStateUpdate
		select {
		case m := <-p1.received:
			if m.Type != protocol.TypeGameStateUpdate {
				continue
			}
			gs = m.Data.(*protocol.GameStateUpdate)
		case <-deadline:
			t.Fatal("round was never reset")
		}
		if !gs.ResetRound {
			continue
		}
		assert.False(t, gs.RoundOver)
		assert.Equal(t, protocol.MaxHealth, gs.Player1Health)
		assert.Equal(t, protocol.MaxHealth, gs.Player2Health)
		assert.Equal(t, [2]int{1, 0}, gs.Score, "score survives the round reset")
		return
	}
}

func TestInboundRateLimitDropsFlood(t *testing.T) {
	s := startTestServer(t, Options{InboundRate: rate.Limit(1), InboundBurst: 1})

	p1 := dialServer(t, s)
	p1.next(t, protocol.TypeConnectAck)

	for i := 0; i < 5; i++ {
		require.NoError(t, p1.session.Send(protocol.NewPing(time.Now())))
	}

	p1.next(t, protocol.TypePong)
	p1.expectNone(t, protocol.TypePong, 300*time.Millisecond)
	assert.False(t, p1.session.Closed(), "rate limiting drops messages without closing the connection")
}

func TestStopResetsActivePlayersGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := startTestServer(t, Options{Registry: reg})

	p1 := dialServer(t, s)
	p1.next(t, protocol.TypeConnectAck)
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.activePlayers))

	s.Stop()
	assert.Equal(t, float64(0), testutil.ToFloat64(s.metrics.activePlayers))
}

func TestMetricsCountHits(t *testing.T) {
	reg := prometheus.NewRegistry()
	clock := newFakeClock()

	s := New(Options{Clock: clock.Now, Registry: reg})
	registerTestPlayer(t, s, 1)
	registerTestPlayer(t, s, 2)
	s.mu.Lock()
	s.gameStarted = true
	s.mu.Unlock()

	s.handleHit(1, &protocol.Hit{AttackerID: 1, VictimID: 2, Damage: 10})
	s.handleHit(2, &protocol.Hit{AttackerID: 1, VictimID: 2, Damage: 10})

	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.hitsApplied))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.hitsRejected.WithLabelValues("spoofed_attacker")))
}
