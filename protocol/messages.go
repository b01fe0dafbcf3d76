package protocol

import "time"

// Constructor helpers for the message kinds each side originates.

// NewConnect reports the local player's display name.
func NewConnect(playerName string) *Message {
	return &Message{Type: TypeConnect, Data: &Connect{PlayerName: playerName}}
}

// NewConnectAck assigns a player slot to a freshly accepted connection.
func NewConnectAck(playerID int, text string) *Message {
	return &Message{Type: TypeConnectAck, Data: &ConnectAck{PlayerID: playerID, Message: text}}
}

// NewDisconnect announces that playerID left.
func NewDisconnect(playerID int, text string) *Message {
	return &Message{Type: TypeDisconnect, Data: &Disconnect{PlayerID: playerID, Message: text}}
}

// NewCharacterSelect reports the sender's fighter choice.
func NewCharacterSelect(character string) *Message {
	return &Message{Type: TypeCharacterSelect, Data: &CharacterSelect{Character: character}}
}

// NewCharacterSelected notifies the other player of a pick.
func NewCharacterSelected(playerID int, character string) *Message {
	return &Message{Type: TypeCharacterSelected, Data: &CharacterSelected{PlayerID: playerID, Character: character}}
}

// NewBothReady starts the match with both fighters decided.
func NewBothReady(p1, p2 string) *Message {
	return &Message{Type: TypeBothReady, Data: &BothReady{Player1Character: p1, Player2Character: p2}}
}

// NewPlayerInput relays raw key state.
func NewPlayerInput(keys map[string]bool) *Message {
	return &Message{Type: TypePlayerInput, Data: &PlayerInput{KeysPressed: keys}}
}

// NewPlayerStateUpdate carries one fighter snapshot.
func NewPlayerStateUpdate(playerID int, state PlayerState) *Message {
	return &Message{Type: TypePlayerStateUpdate, Data: &PlayerStateUpdate{PlayerID: playerID, State: state}}
}

// NewAttack announces an attack animation.
func NewAttack(attackerID int, attackType string) *Message {
	return &Message{Type: TypeAttack, Data: &Attack{AttackerID: attackerID, AttackType: attackType}}
}

// NewHit claims that an attack connected.
func NewHit(attackerID, victimID, damage int) *Message {
	return &Message{Type: TypeHit, Data: &Hit{AttackerID: attackerID, VictimID: victimID, Damage: damage}}
}

// NewGameStateUpdate carries the authoritative match snapshot.
func NewGameStateUpdate(state GameStateUpdate) *Message {
	s := state
	return &Message{Type: TypeGameStateUpdate, Data: &s}
}

// NewMapSelect is the host's stage choice.
func NewMapSelect(mapID string) *Message {
	return &Message{Type: TypeMapSelect, Data: &MapSelect{MapID: mapID}}
}

// NewMapSelected broadcasts the stage.
func NewMapSelected(mapID string) *Message {
	return &Message{Type: TypeMapSelected, Data: &MapSelected{MapID: mapID}}
}

// NewPing carries the sender's current clock in Unix milliseconds.
func NewPing(now time.Time) *Message {
	return &Message{Type: TypePing, Data: &Ping{Timestamp: now.UnixMilli()}}
}

// NewPong answers a ping, echoing its timestamp so the requester can measure
// round-trip time against its own clock.
func NewPong(now time.Time, originalTimestamp int64) *Message {
	return &Message{Type: TypePong, Data: &Pong{Timestamp: now.UnixMilli(), OriginalTimestamp: originalTimestamp}}
}

// NewError reports a server-side rejection.
func NewError(text string) *Message {
	return &Message{Type: TypeError, Data: &ErrorPayload{Error: text}}
}
