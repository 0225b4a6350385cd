package domain

import "time"

// DefaultServiceName is the well-known name a hub advertises and remotes look up.
const DefaultServiceName = "railhub"

// HubDestination is the pseudo destination id remotes use when a train is sent back to the hub
// before the hub id is known.
const HubDestination = "hub"

// Default timings of the coordination core.
const (
	DefaultDebounceInterval  = 2 * time.Second
	DefaultSampleRate        = 100 * time.Millisecond
	DefaultDispatchTimeout   = 30 * time.Second
	DefaultLockTimeout       = 120 * time.Second
	DefaultCountdown         = 30 * time.Second
	DefaultIdleGrace         = 60 * time.Second
	DefaultPlayerPoll        = 5 * time.Second
	DefaultDiscoveryTimeout  = 3 * time.Second
	DefaultRegisterTimeout   = 3 * time.Second
	DefaultRetryInterval     = 10 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultAckTimeout        = 5 * time.Second
	DefaultMaxMissedAcks     = 3
	DefaultStaleAfter        = 30 * time.Second
	DefaultClaimTTL          = 15 * time.Second
)
