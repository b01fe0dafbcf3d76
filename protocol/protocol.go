// Package protocol defines the wire protocol shared by the match server and
// the game client.
//
// Every message travels as one line of UTF-8 JSON terminated by a single
// newline byte: {"type": "<KIND>", "data": {...}}. There is no length prefix;
// the delimiter is safe because JSON string escaping keeps payloads free of
// raw newlines. Each message kind has a dedicated payload struct so receivers
// get compile-time field checking instead of map lookups.
//
// Example:
//
//	line, err := protocol.Encode(protocol.NewHit(1, 2, 10))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	msg, _ := protocol.Decode(line)
//	hit := msg.Data.(*protocol.Hit)
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
)

// MessageType identifies the payload schema of a message.
type MessageType string

const (
	// Connection lifecycle.
	TypeConnect    MessageType = "CONNECT"
	TypeConnectAck MessageType = "CONNECT_ACK"
	TypeDisconnect MessageType = "DISCONNECT"

	// Character selection.
	TypeCharacterSelect   MessageType = "CHARACTER_SELECT"
	TypeCharacterSelected MessageType = "CHARACTER_SELECTED"
	TypeBothReady         MessageType = "BOTH_READY"

	// Game state.
	TypePlayerInput       MessageType = "PLAYER_INPUT"
	TypeGameStateUpdate   MessageType = "GAME_STATE_UPDATE"
	TypePlayerStateUpdate MessageType = "PLAYER_STATE_UPDATE"

	// Game events.
	TypeAttack    MessageType = "ATTACK"
	TypeHit       MessageType = "HIT"
	TypeRoundOver MessageType = "ROUND_OVER"
	TypeGameOver  MessageType = "GAME_OVER"

	// Stage selection.
	TypeMapSelect   MessageType = "MAP_SELECT"
	TypeMapSelected MessageType = "MAP_SELECTED"

	// Control.
	TypePing  MessageType = "PING"
	TypePong  MessageType = "PONG"
	TypeError MessageType = "ERROR"
)

// ErrFrameTooLarge indicates a frame exceeding MaxFrameSize. Receivers must
// treat it as a protocol violation and close the session.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Payload is implemented by every message payload struct.
type Payload interface {
	messageType() MessageType
}

// Message pairs a kind with its typed payload. Messages are immutable once
// constructed.
type Message struct {
	Type MessageType
	Data Payload
}

// Connect is sent by a client after the handshake to report its display name.
type Connect struct {
	PlayerName string `json:"player_name"`
}

// ConnectAck assigns the connecting client its player slot.
type ConnectAck struct {
	PlayerID int    `json:"player_id"`
	Message  string `json:"message"`
}

// Disconnect announces that a player left. Client-sent copies carry no id;
// the server fills it in when notifying the remaining player.
type Disconnect struct {
	PlayerID int    `json:"player_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// CharacterSelect reports the sender's chosen fighter.
type CharacterSelect struct {
	Character string `json:"character"`
}

// CharacterSelected notifies the other player of a pick.
type CharacterSelected struct {
	PlayerID  int    `json:"player_id"`
	Character string `json:"character"`
}

// BothReady starts the match once both picks are in.
type BothReady struct {
	Player1Character string `json:"player1_character"`
	Player2Character string `json:"player2_character"`
}

// PlayerInput relays raw key state to the other player. The server stamps
// PlayerID with the sender's slot.
type PlayerInput struct {
	PlayerID    int             `json:"player_id,omitempty"`
	KeysPressed map[string]bool `json:"keys_pressed"`
}

// PlayerState is one fighter's per-tick advisory snapshot. The peer applies
// it verbatim; only Defending feeds into server-side hit resolution.
type PlayerState struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Action     int     `json:"action"`
	FrameIndex int     `json:"frame_index"`
	Flip       bool    `json:"flip"`
	Attacking  bool    `json:"attacking"`
	VelY       float64 `json:"vel_y"`
	Jump       bool    `json:"jump"`
	Running    bool    `json:"running"`
	Defending  bool    `json:"defending"`
}

// PlayerStateUpdate carries a fighter snapshot in either direction.
type PlayerStateUpdate struct {
	PlayerID int         `json:"player_id"`
	State    PlayerState `json:"state"`
}

// Attack announces an attack animation to the other player.
type Attack struct {
	AttackerID int    `json:"attacker_id"`
	AttackType string `json:"attack_type"`
}

// Hit is a client's claim that its attack connected. Damage is advisory; the
// server clamps and may zero it.
type Hit struct {
	AttackerID int `json:"attacker_id"`
	VictimID   int `json:"victim_id"`
	Damage     int `json:"damage"`
}

// RoundOver is a reserved event kind; the server ignores client-sent copies.
type RoundOver struct {
	WinnerID int `json:"winner_id"`
}

// GameOver is a reserved event kind.
type GameOver struct {
	WinnerID int `json:"winner_id"`
}

// GameStateUpdate is the server's authoritative match snapshot. RoundWinner
// is 0 while no round has been decided.
type GameStateUpdate struct {
	Player1Health int    `json:"player1_health"`
	Player2Health int    `json:"player2_health"`
	Score         [2]int `json:"score"`
	RoundOver     bool   `json:"round_over"`
	RoundWinner   int    `json:"round_winner"`
	ResetRound    bool   `json:"reset_round"`
}

// MapSelect is the host's stage choice.
type MapSelect struct {
	MapID string `json:"map_id"`
}

// MapSelected broadcasts the stage to both players.
type MapSelected struct {
	MapID string `json:"map_id"`
}

// Ping carries the sender's clock reading in Unix milliseconds.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// Pong echoes a ping. OriginalTimestamp is the ping's Timestamp so the
// requester can compute round-trip time against its own clock.
type Pong struct {
	Timestamp         int64 `json:"timestamp"`
	OriginalTimestamp int64 `json:"original_timestamp"`
}

// ErrorPayload reports a server-side rejection, e.g. a full server.
type ErrorPayload struct {
	Error string `json:"error"`
}

func (Connect) messageType() MessageType           { return TypeConnect }
func (ConnectAck) messageType() MessageType        { return TypeConnectAck }
func (Disconnect) messageType() MessageType        { return TypeDisconnect }
func (CharacterSelect) messageType() MessageType   { return TypeCharacterSelect }
func (CharacterSelected) messageType() MessageType { return TypeCharacterSelected }
func (BothReady) messageType() MessageType         { return TypeBothReady }
func (PlayerInput) messageType() MessageType       { return TypePlayerInput }
func (PlayerStateUpdate) messageType() MessageType { return TypePlayerStateUpdate }
func (Attack) messageType() MessageType            { return TypeAttack }
func (Hit) messageType() MessageType               { return TypeHit }
func (RoundOver) messageType() MessageType         { return TypeRoundOver }
func (GameOver) messageType() MessageType          { return TypeGameOver }
func (GameStateUpdate) messageType() MessageType   { return TypeGameStateUpdate }
func (MapSelect) messageType() MessageType         { return TypeMapSelect }
func (MapSelected) messageType() MessageType       { return TypeMapSelected }
func (Ping) messageType() MessageType              { return TypePing }
func (Pong) messageType() MessageType              { return TypePong }
func (ErrorPayload) messageType() MessageType      { return TypeError }

// envelope is the on-wire object shape.
type envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// newPayload returns a zero payload value for the given kind, or nil when the
// kind is unknown.
func newPayload(t MessageType) Payload {
	switch t {
	case TypeConnect:
		return &Connect{}
	case TypeConnectAck:
		return &ConnectAck{}
	case TypeDisconnect:
		return &Disconnect{}
	case TypeCharacterSelect:
		return &CharacterSelect{}
	case TypeCharacterSelected:
		return &CharacterSelected{}
	case TypeBothReady:
		return &BothReady{}
	case TypePlayerInput:
		return &PlayerInput{}
	case TypePlayerStateUpdate:
		return &PlayerStateUpdate{}
	case TypeAttack:
		return &Attack{}
	case TypeHit:
		return &Hit{}
	case TypeRoundOver:
		return &RoundOver{}
	case TypeGameOver:
		return &GameOver{}
	case TypeGameStateUpdate:
		return &GameStateUpdate{}
	case TypeMapSelect:
		return &MapSelect{}
	case TypeMapSelected:
		return &MapSelected{}
	case TypePing:
		return &Ping{}
	case TypePong:
		return &Pong{}
	case TypeError:
		return &ErrorPayload{}
	default:
		return nil
	}
}

// Encode serializes a message and appends the frame delimiter.
func Encode(m *Message) ([]byte, error) {
	data, err := json.Marshal(m.Data)
	if err != nil {
		return nil, err
	}
	line, err := json.Marshal(envelope{Type: m.Type, Data: data})
	if err != nil {
		return nil, err
	}
	return append(line, Delimiter), nil
}

// Decode parses one frame, without its delimiter. Malformed or unknown
// frames yield (nil, nil) so a reader can drop them and keep the stream
// alive; only an oversized frame is an error, and the session carrying it
// must be closed.
func Decode(line []byte) (*Message, error) {
	if len(line) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, nil
	}
	payload := newPayload(env.Type)
	if payload == nil {
		return nil, nil
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, payload); err != nil {
			return nil, nil
		}
	}
	return &Message{Type: env.Type, Data: payload}, nil
}
