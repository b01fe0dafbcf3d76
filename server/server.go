// Package server implements the authoritative match server for two-player
// fights.
//
// The server accepts at most two connections, mediates character and stage
// selection, relays advisory state between the players, and is the single
// source of truth for combat outcomes: health, applied damage, round
// transitions, and score. Movement and animation are relayed as-is; only hit
// claims are validated. Hit detection itself still happens on the attacking
// client, so a well-formed false claim is accepted; the server bounds the
// blast radius (identity, cooldown, damage clamp) rather than recomputing
// collisions.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/bernardosdias/fightnet/protocol"
	"github.com/bernardosdias/fightnet/transport"
)

// ErrAlreadyRunning indicates a Start call on a live server.
var ErrAlreadyRunning = errors.New("server already running")

// roundTimerInterval is how often the background loop checks whether a
// finished round is due for reset.
const roundTimerInterval = 50 * time.Millisecond

// Options configures a GameServer. The zero value listens on all interfaces
// at the default port with default match tuning and no metrics.
type Options struct {
	Host string
	Port int

	// HitCooldown and RoundResetDelay default to the protocol constants.
	HitCooldown     time.Duration
	RoundResetDelay time.Duration

	// InboundRate caps messages per second per connection; messages beyond
	// the burst are dropped. Zero disables limiting.
	InboundRate  rate.Limit
	InboundBurst int

	// Registry receives server metrics when non-nil.
	Registry prometheus.Registerer

	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time
}

// playerRecord is the server's per-player bookkeeping. All fields are
// guarded by the server mutex except session, which is safe on its own.
type playerRecord struct {
	id        int
	session   *transport.Session
	name      string
	character string
	ready     bool
	state     protocol.PlayerState
	limiter   *rate.Limiter
}

// matchState is the authoritative match snapshot. Guarded by the server
// mutex end-to-end: every read-modify-write happens under it.
type matchState struct {
	player1Health int
	player2Health int
	score         [2]int
	roundOver     bool
	roundWinner   int
	roundOverAt   time.Time
}

// GameServer accepts up to two players and runs the match-state machine.
type GameServer struct {
	opts    Options
	clock   func() time.Time
	metrics *metrics

	ctx      context.Context
	cancel   context.CancelFunc
	listener net.Listener
	wg       sync.WaitGroup

	mu          sync.Mutex
	players     map[int]*playerRecord
	gameStarted bool
	match       matchState
	lastHit     map[int]time.Time
	mapID       string
}

// New creates a stopped server.
func New(opts Options) *GameServer {
	if opts.Port == 0 {
		opts.Port = protocol.DefaultPort
	}
	if opts.HitCooldown <= 0 {
		opts.HitCooldown = protocol.HitCooldown
	}
	if opts.RoundResetDelay <= 0 {
		opts.RoundResetDelay = protocol.RoundResetDelay
	}
	if opts.InboundRate > 0 && opts.InboundBurst <= 0 {
		opts.InboundBurst = int(opts.InboundRate) * 2
	}

	s := &GameServer{
		opts:    opts,
		clock:   opts.Clock,
		metrics: newMetrics(opts.Registry),
		players: make(map[int]*playerRecord),
		lastHit: make(map[int]time.Time),
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	s.resetMatchStateLocked()
	return s
}

// Start binds the listener and launches the accept and round-timer loops.
func (s *GameServer) Start() error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"address":     listener.Addr().String(),
		"max_players": protocol.MaxPlayers,
	}).Info("Match server started")

	s.wg.Add(2)
	go s.acceptLoop(listener)
	go s.roundTimerLoop()
	return nil
}

// Addr returns the bound listener address, useful when Port was 0.
func (s *GameServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every session, and resets all match state.
func (s *GameServer) Stop() {
	s.mu.Lock()
	listener := s.listener
	cancel := s.cancel
	s.listener = nil
	s.cancel = nil
	players := make([]*playerRecord, 0, len(s.players))
	for _, rec := range s.players {
		players = append(players, rec)
	}
	s.players = make(map[int]*playerRecord)
	s.gameStarted = false
	s.resetMatchStateLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if listener != nil {
		listener.Close()
	}
	for _, rec := range players {
		rec.session.Close()
	}
	s.wg.Wait()

	if listener != nil {
		s.metrics.playersChanged(0)
		logrus.Info("Match server stopped")
	}
}

// acceptLoop admits connections until the listener closes.
func (s *GameServer) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithError(err).Error("Accept failed")
			continue
		}
		s.admit(conn)
	}
}

// admit registers a connection in the lowest free slot, or rejects it when
// the server is full.
func (s *GameServer) admit(conn net.Conn) {
	session := transport.NewSession(conn)
	s.metrics.connectionAccepted()

	s.mu.Lock()
	if len(s.players) >= protocol.MaxPlayers {
		s.mu.Unlock()
		logrus.WithField("remote", session.RemoteAddr()).Warn("Rejecting connection, server full")
		// Best-effort: the peer may already be gone.
		session.Send(protocol.NewError("server full"))
		session.Close()
		return
	}

	playerID := s.nextFreeSlotLocked()
	rec := &playerRecord{
		id:      playerID,
		session: session,
		name:    fmt.Sprintf("Player%d", playerID),
	}
	if s.opts.InboundRate > 0 {
		rec.limiter = rate.NewLimiter(s.opts.InboundRate, s.opts.InboundBurst)
	}
	s.players[playerID] = rec
	count := len(s.players)
	s.mu.Unlock()

	s.metrics.playersChanged(count)
	logrus.WithFields(logrus.Fields{
		"player_id": playerID,
		"remote":    session.RemoteAddr(),
		"players":   count,
	}).Info("Player connected")

	if err := session.Send(protocol.NewConnectAck(playerID, fmt.Sprintf("Connected as Player %d", playerID))); err != nil {
		logrus.WithError(err).WithField("player_id", playerID).Warn("Handshake ack failed")
		s.removePlayer(playerID)
		return
	}

	s.wg.Add(1)
	go s.handlePlayer(rec)
}

// nextFreeSlotLocked returns the smallest unused id in [1, MaxPlayers].
func (s *GameServer) nextFreeSlotLocked() int {
	for id := 1; id <= protocol.MaxPlayers; id++ {
		if _, taken := s.players[id]; !taken {
			return id
		}
	}
	return 0
}

// handlePlayer is the per-connection receive loop. Any read failure or clean
// close removes the player.
func (s *GameServer) handlePlayer(rec *playerRecord) {
	defer s.wg.Done()
	defer s.removePlayer(rec.id)

	err := rec.session.ReadMessages(func(msg *protocol.Message) {
		if rec.limiter != nil && !rec.limiter.Allow() {
			s.metrics.messageDropped()
			logrus.WithFields(logrus.Fields{
				"player_id": rec.id,
				"type":      msg.Type,
			}).Warn("Inbound message rate limit exceeded, dropping")
			return
		}
		s.metrics.messageReceived(msg.Type)
		s.dispatch(rec.id, msg)
	})
	if err != nil {
		logrus.WithError(err).WithField("player_id", rec.id).Warn("Connection error")
	}
}

// dispatch applies one message's effect. Unknown or reserved kinds are
// ignored so protocol growth never kills a connection.
func (s *GameServer) dispatch(playerID int, msg *protocol.Message) {
	switch data := msg.Data.(type) {
	case *protocol.Connect:
		s.handleConnect(playerID, data)
	case *protocol.CharacterSelect:
		s.handleCharacterSelect(playerID, data)
	case *protocol.PlayerStateUpdate:
		s.handlePlayerState(playerID, data)
	case *protocol.Hit:
		s.handleHit(playerID, data)
	case *protocol.MapSelect:
		s.handleMapSelect(playerID, data)
	case *protocol.PlayerInput:
		s.handlePlayerInput(playerID, data)
	case *protocol.Attack:
		s.broadcast(msg, playerID)
	case *protocol.Ping:
		s.sendToPlayer(playerID, protocol.NewPong(s.clock(), data.Timestamp))
	case *protocol.Disconnect:
		s.removePlayer(playerID)
	default:
		logrus.WithFields(logrus.Fields{
			"player_id": playerID,
			"type":      msg.Type,
		}).Debug("Ignoring message")
	}
}

func (s *GameServer) handleConnect(playerID int, data *protocol.Connect) {
	if data.PlayerName == "" {
		return
	}
	s.mu.Lock()
	if rec, ok := s.players[playerID]; ok {
		rec.name = data.PlayerName
	}
	s.mu.Unlock()
}

func (s *GameServer) handleCharacterSelect(playerID int, data *protocol.CharacterSelect) {
	s.mu.Lock()
	rec, ok := s.players[playerID]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.character = data.Character
	rec.ready = true

	others := s.otherPlayerIDsLocked(playerID)
	bothReady := len(s.players) == protocol.MaxPlayers
	for _, p := range s.players {
		bothReady = bothReady && p.ready
	}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"player_id": playerID,
		"character": data.Character,
	}).Info("Character selected")

	for _, other := range others {
		s.sendToPlayer(other, protocol.NewCharacterSelected(playerID, data.Character))
	}
	if bothReady {
		s.startMatch()
	}
}

// startMatch resets the authoritative state and announces the fight.
func (s *GameServer) startMatch() {
	s.mu.Lock()
	if s.gameStarted {
		s.mu.Unlock()
		return
	}
	p1, ok1 := s.players[1]
	p2, ok2 := s.players[2]
	if !ok1 || !ok2 {
		s.mu.Unlock()
		return
	}
	p1Character := p1.character
	p2Character := p2.character
	s.resetMatchStateLocked()
	s.gameStarted = true
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"player1_character": p1Character,
		"player2_character": p2Character,
	}).Info("Both players ready, match starting")

	s.broadcast(protocol.NewBothReady(p1Character, p2Character), 0)
	s.broadcastGameState(true)
}

func (s *GameServer) handlePlayerState(playerID int, data *protocol.PlayerStateUpdate) {
	s.mu.Lock()
	rec, ok := s.players[playerID]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.state = data.State
	others := s.otherPlayerIDsLocked(playerID)
	s.mu.Unlock()

	// Advisory relay, stamped with the sender's slot so the claimed id can
	// never be forged.
	relay := protocol.NewPlayerStateUpdate(playerID, data.State)
	for _, other := range others {
		s.sendToPlayer(other, relay)
	}
}

func (s *GameServer) handlePlayerInput(playerID int, data *protocol.PlayerInput) {
	s.mu.Lock()
	others := s.otherPlayerIDsLocked(playerID)
	s.mu.Unlock()

	relay := &protocol.Message{
		Type: protocol.TypePlayerInput,
		Data: &protocol.PlayerInput{PlayerID: playerID, KeysPressed: data.KeysPressed},
	}
	for _, other := range others {
		s.sendToPlayer(other, relay)
	}
}

func (s *GameServer) handleMapSelect(playerID int, data *protocol.MapSelect) {
	s.mu.Lock()
	// Host decides the stage, and only once the match is live.
	if playerID != 1 || !s.gameStarted {
		s.mu.Unlock()
		return
	}
	mapID := data.MapID
	if mapID == "" {
		mapID = protocol.DefaultMapID
	}
	s.mapID = mapID
	s.mu.Unlock()

	logrus.WithField("map_id", mapID).Info("Stage selected")
	s.broadcast(protocol.NewMapSelected(mapID), 0)
}

// handleHit is the authoritative combat path. The claim is applied only when
// the match is live, the sender is the claimed attacker, both slots are
// registered, the attacker is off cooldown, and the round is still open.
// Damage is clamped to [MinDamage, MaxDamage] and zeroed when the victim's
// last advisory snapshot was defending.
func (s *GameServer) handleHit(senderID int, hit *protocol.Hit) {
	damage := hit.Damage
	if damage < protocol.MinDamage {
		damage = protocol.MinDamage
	}
	if damage > protocol.MaxDamage {
		damage = protocol.MaxDamage
	}

	s.mu.Lock()
	reason := ""
	switch {
	case !s.gameStarted:
		reason = "match_not_started"
	case s.match.roundOver:
		reason = "round_over"
	case hit.AttackerID != senderID:
		reason = "spoofed_attacker"
	case hit.AttackerID == hit.VictimID:
		reason = "self_hit"
	case hit.VictimID < 1 || hit.VictimID > protocol.MaxPlayers:
		reason = "unknown_victim"
	default:
		if _, ok := s.players[hit.AttackerID]; !ok {
			reason = "unknown_attacker"
		} else if _, ok := s.players[hit.VictimID]; !ok {
			reason = "unknown_victim"
		}
	}
	now := s.clock()
	if reason == "" && now.Sub(s.lastHit[hit.AttackerID]) < s.opts.HitCooldown {
		reason = "cooldown"
	}
	if reason != "" {
		s.mu.Unlock()
		s.metrics.hitRejected(reason)
		logrus.WithFields(logrus.Fields{
			"sender":   senderID,
			"attacker": hit.AttackerID,
			"victim":   hit.VictimID,
			"reason":   reason,
		}).Debug("Hit claim rejected")
		return
	}

	applied := damage
	if s.players[hit.VictimID].state.Defending {
		// A guard negates the hit, but the swing still costs the cooldown.
		applied = 0
	}

	var victimHealth int
	if hit.VictimID == 1 {
		s.match.player1Health = clampHealth(s.match.player1Health - applied)
		victimHealth = s.match.player1Health
	} else {
		s.match.player2Health = clampHealth(s.match.player2Health - applied)
		victimHealth = s.match.player2Health
	}
	s.lastHit[hit.AttackerID] = now

	roundWon := false
	if victimHealth <= 0 && !s.match.roundOver {
		s.match.roundOver = true
		s.match.roundWinner = hit.AttackerID
		s.match.roundOverAt = now
		s.match.score[hit.AttackerID-1]++
		roundWon = true
	}
	s.mu.Unlock()

	s.metrics.hitApplied()
	logrus.WithFields(logrus.Fields{
		"attacker":      hit.AttackerID,
		"victim":        hit.VictimID,
		"damage":        applied,
		"victim_health": victimHealth,
	}).Info("Hit applied")

	if roundWon {
		s.metrics.roundCompleted()
		logrus.WithField("winner", hit.AttackerID).Info("Round over")
	}
	s.broadcastGameState(false)
}

// roundTimerLoop restarts a finished round after the reset delay, preserving
// the score.
func (s *GameServer) roundTimerLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(roundTimerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		due := s.gameStarted && s.match.roundOver &&
			s.clock().Sub(s.match.roundOverAt) >= s.opts.RoundResetDelay
		if due {
			s.resetRoundStateLocked()
		}
		s.mu.Unlock()

		if due {
			logrus.Info("Round reset")
			s.broadcastGameState(true)
		}
	}
}

// resetMatchStateLocked fully resets health, score, round flags, cooldowns,
// and the stage. Caller holds the mutex.
func (s *GameServer) resetMatchStateLocked() {
	s.match = matchState{
		player1Health: protocol.MaxHealth,
		player2Health: protocol.MaxHealth,
	}
	s.lastHit = make(map[int]time.Time)
	s.mapID = protocol.DefaultMapID
}

// resetRoundStateLocked clears health and round flags but preserves the
// cumulative score. Caller holds the mutex.
func (s *GameServer) resetRoundStateLocked() {
	s.match.player1Health = protocol.MaxHealth
	s.match.player2Health = protocol.MaxHealth
	s.match.roundOver = false
	s.match.roundWinner = 0
	s.match.roundOverAt = time.Time{}
	s.lastHit = make(map[int]time.Time)
}

// broadcastGameState sends the authoritative snapshot to both players.
func (s *GameServer) broadcastGameState(resetRound bool) {
	s.mu.Lock()
	snapshot := protocol.GameStateUpdate{
		Player1Health: s.match.player1Health,
		Player2Health: s.match.player2Health,
		Score:         s.match.score,
		RoundOver:     s.match.roundOver,
		RoundWinner:   s.match.roundWinner,
		ResetRound:    resetRound,
	}
	s.mu.Unlock()

	s.broadcast(protocol.NewGameStateUpdate(snapshot), 0)
}

// otherPlayerIDsLocked lists every registered id except the given one.
// Caller holds the mutex.
func (s *GameServer) otherPlayerIDsLocked(playerID int) []int {
	var others []int
	for id := range s.players {
		if id != playerID {
			others = append(others, id)
		}
	}
	return others
}

// sendToPlayer delivers one message; a failed send removes the player.
func (s *GameServer) sendToPlayer(playerID int, msg *protocol.Message) {
	s.mu.Lock()
	rec, ok := s.players[playerID]
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := rec.session.Send(msg); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"player_id": playerID,
			"type":      msg.Type,
		}).Warn("Send failed, removing player")
		s.removePlayer(playerID)
	}
}

// broadcast sends to every registered player, optionally excluding one.
func (s *GameServer) broadcast(msg *protocol.Message, excludePlayerID int) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.players))
	for id := range s.players {
		if id != excludePlayerID {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.sendToPlayer(id, msg)
	}
}

// removePlayer releases a slot, un-starts the match when fewer than two
// players remain, and notifies the survivors. Idempotent per player id.
func (s *GameServer) removePlayer(playerID int) {
	s.mu.Lock()
	rec, ok := s.players[playerID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.players, playerID)
	count := len(s.players)
	if count < protocol.MaxPlayers {
		s.gameStarted = false
		s.resetMatchStateLocked()
	}
	remaining := s.otherPlayerIDsLocked(playerID)
	s.mu.Unlock()

	rec.session.Close()
	s.metrics.playersChanged(count)
	logrus.WithFields(logrus.Fields{
		"player_id": playerID,
		"players":   count,
	}).Info("Player removed")

	notice := protocol.NewDisconnect(playerID, fmt.Sprintf("Player %d disconnected", playerID))
	for _, other := range remaining {
		s.sendToPlayer(other, notice)
	}
}

func clampHealth(h int) int {
	if h < 0 {
		return 0
	}
	if h > protocol.MaxHealth {
		return protocol.MaxHealth
	}
	return h
}

// LocalIP guesses the machine's LAN address for operator display.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
