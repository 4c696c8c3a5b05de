// Package constants defines cross-cutting default values and wire constants
// shared across the node: DHT parameters, timing budgets, protocol
// versioning, and message kinds (spec.md §5).
package constants

import "time"

// DHT Configuration
const (
	// DHT bucket size K=20, alpha=3
	DHTBucketSize = 20
	DHTAlpha      = 3
)

// Timing Configuration
const (
	// Presence TTL 10 min, refresh at 5 min
	PresenceTTL     = 10 * time.Minute
	PresenceRefresh = 5 * time.Minute

	// Gossip heartbeat 1s, mesh degree 6-12
	GossipHeartbeat = 1 * time.Second
	GossipMeshMin   = 6
	GossipMeshMax   = 12

	// Max tolerated clock skew ±120s
	MaxClockSkew = 120 * time.Second

	// SWIM failure detector timing
	SWIMProbeInterval   = 5 * time.Second
	SWIMPingTimeout     = 1 * time.Second
	SWIMIndirectTimeout = 3 * time.Second
	SWIMSuspicionTime   = 10 * time.Second
)

// Protocol Configuration
const (
	// Protocol version
	ProtocolVersion = 1

	// Default ports
	DefaultQUICPort = 27487
	DefaultSWIMPort = 27488

	// Hash algorithm: BLAKE3-256 by default
	HashAlgorithm = "blake3-256"

	// Text encoding: UTF-8, NFC on input
	TextEncoding = "utf-8"
)

// Error Codes
const (
	ErrorInvalidSig      = 1
	ErrorNotMember       = 2
	ErrorNoProvider      = 3
	ErrorRateLimit       = 4
	ErrorVersionMismatch = 5
)

// Message Kinds
const (
	KindPing             = 1
	KindPong             = 2
	KindDHTGet           = 10
	KindDHTPut           = 11
	KindAnnouncePresence = 20
	KindOperation        = 30

	// SWIM failure-detector message kinds
	KindSWIMPing     = 60
	KindSWIMAck      = 61
	KindSWIMNack     = 62
	KindSWIMPingReq  = 63
	KindSWIMPingResp = 64
	KindSWIMSuspect  = 65
	KindSWIMAlive    = 66
	KindSWIMConfirm  = 67
	KindSWIMLeave    = 68
)
