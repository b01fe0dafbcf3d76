package protocol

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAppendsDelimiter(t *testing.T) {
	line, err := Encode(NewCharacterSelect("Warrior"))
	require.NoError(t, err)
	assert.Equal(t, byte(Delimiter), line[len(line)-1])
	assert.Equal(t, 1, bytes.Count(line, []byte{Delimiter}))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	messages := []*Message{
		NewConnect("Bernardo"),
		NewConnectAck(1, "Connected as Player 1"),
		NewDisconnect(2, "Player 2 left"),
		NewCharacterSelect("Warrior"),
		NewCharacterSelected(2, "Wizard"),
		NewBothReady("Warrior", "Wizard"),
		NewPlayerInput(map[string]bool{"left": true, "attack": false}),
		NewPlayerStateUpdate(1, PlayerState{
			X: 120, Y: 310, Action: 3, FrameIndex: 2,
			Flip: true, Attacking: true, VelY: -4.5, Jump: true, Defending: false,
		}),
		NewAttack(1, "punch"),
		NewHit(1, 2, 10),
		NewGameStateUpdate(GameStateUpdate{
			Player1Health: 70, Player2Health: 100,
			Score: [2]int{1, 0}, RoundOver: true, RoundWinner: 1,
		}),
		NewMapSelect("dojo"),
		NewMapSelected("dojo"),
		NewPing(now),
		NewPong(now.Add(30*time.Millisecond), now.UnixMilli()),
		NewError("server full"),
	}

	for _, msg := range messages {
		t.Run(string(msg.Type), func(t *testing.T) {
			line, err := Encode(msg)
			require.NoError(t, err)

			decoded, err := Decode(line)
			require.NoError(t, err)
			require.NotNil(t, decoded)
			assert.Equal(t, msg, decoded)
		})
	}
}

func TestDecodeWireShape(t *testing.T) {
	line := []byte(`{"type":"HIT","data":{"attacker_id":1,"victim_id":2,"damage":10}}`)
	msg, err := Decode(line)
	require.NoError(t, err)
	require.NotNil(t, msg)

	hit, ok := msg.Data.(*Hit)
	require.True(t, ok)
	assert.Equal(t, 1, hit.AttackerID)
	assert.Equal(t, 2, hit.VictimID)
	assert.Equal(t, 10, hit.Damage)
}

func TestDecodeMalformedReturnsNil(t *testing.T) {
	cases := map[string][]byte{
		"empty":          []byte(""),
		"whitespace":     []byte("  \r"),
		"garbage":        []byte("not json at all"),
		"truncated":      []byte(`{"type":"HIT","data":{"attacker`),
		"unknown kind":   []byte(`{"type":"TELEPORT","data":{}}`),
		"wrong payload":  []byte(`{"type":"HIT","data":{"attacker_id":"one"}}`),
		"non-object":     []byte(`[1,2,3]`),
		"missing fields": []byte(`{}`),
	}

	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			msg, err := Decode(line)
			assert.NoError(t, err)
			assert.Nil(t, msg)
		})
	}
}

func TestDecodeMissingDataUsesZeroPayload(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"DISCONNECT"}`))
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, &Disconnect{}, msg.Data)
}

func TestDecodeOversizedFrame(t *testing.T) {
	line := make([]byte, MaxFrameSize+1)
	for i := range line {
		line[i] = 'a'
	}

	msg, err := Decode(line)
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}
