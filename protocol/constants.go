package protocol

import "time"

// Delimiter terminates every frame on the wire.
const Delimiter = '\n'

const (
	// DefaultPort is the TCP port the match server listens on.
	DefaultPort = 5555
	// BufferSize is the receive chunk size for socket reads.
	BufferSize = 4096
	// MaxFrameSize bounds a single frame; anything larger is a protocol
	// violation that closes the session.
	MaxFrameSize = 4 * 1024 * 1024
	// MaxPlayers is the number of concurrent players per server instance.
	MaxPlayers = 2
	// TickRate is the nominal state updates per second the game loop sends.
	TickRate = 60
)

const (
	// MaxHealth is each fighter's starting and maximum health.
	MaxHealth = 100
	// MinDamage and MaxDamage bound the damage applied per hit, regardless
	// of the value the attacker claims.
	MinDamage = 1
	MaxDamage = 30
	// HitCooldown is the minimum interval between applied hits from the
	// same attacker.
	HitCooldown = 250 * time.Millisecond
	// RoundResetDelay is how long a finished round is displayed before the
	// server resets health and starts the next one.
	RoundResetDelay = 2 * time.Second
	// DefaultMapID is the stage used until the host picks one.
	DefaultMapID = "default"
)
