package domain

import "errors"

// ErrActuatorUnavailable is returned when an actuator or sensor address cannot currently be resolved.
// It is the single recoverable I/O error class; callers log it and continue.
var ErrActuatorUnavailable = errors.New("actuator unavailable")

// ErrUnknownSwitch is returned when a command references a switch index that is not configured.
var ErrUnknownSwitch = errors.New("unknown switch index")

// ErrNotParking is returned when a bay operation targets a switch without a parking bay.
var ErrNotParking = errors.New("switch has no parking bay")

// ErrDispatchTimeout is returned when a dispatch was braked because no departure edge arrived in time.
var ErrDispatchTimeout = errors.New("dispatch timed out waiting for departure")

// ErrDispatchInProgress is returned when a dispatch is requested while another one is still holding the rail.
var ErrDispatchInProgress = errors.New("dispatch already in progress")

// ErrLockHeld is returned when the switch lock is already held by another transit.
var ErrLockHeld = errors.New("switch lock held")

// ErrNoTrainAvailable is returned when the hub has neither a train at the platform nor an occupied bay.
var ErrNoTrainAvailable = errors.New("no train available")

// ErrArrivalTimeout is recorded when a requested train never reaches the platform.
var ErrArrivalTimeout = errors.New("requested train did not arrive")

// ErrNoFreeBay is returned when every parking bay is occupied.
var ErrNoFreeBay = errors.New("no free parking bay")

// ErrIntentActive is returned when a destination is selected while another departure is pending.
var ErrIntentActive = errors.New("departure already pending")

// ErrNoIntent is returned when a departure is cancelled but none is pending.
var ErrNoIntent = errors.New("no departure pending")

// ErrHubUnavailable is returned by remote operations that need a hub while none is known.
var ErrHubUnavailable = errors.New("hub unavailable")

// ErrRequestTimeout is returned when a reply did not arrive within the request timeout.
var ErrRequestTimeout = errors.New("request timed out")

// ErrHubConflict is returned at startup when another hub already holds the service name.
var ErrHubConflict = errors.New("another hub holds the service name")

// ErrNotHub is returned when a hub-only operation is invoked on a remote node.
var ErrNotHub = errors.New("operation requires the hub role")

// ErrConfigNotFound is returned when no station configuration has been persisted yet.
var ErrConfigNotFound = errors.New("station config not found")

// ErrDeferred is returned by idle actions that cannot run yet and should be retried later.
var ErrDeferred = errors.New("action deferred")

// ErrUnknownStation is returned when a destination or command target is not in the registry.
var ErrUnknownStation = errors.New("unknown station")

// ErrUnsupportedAction is returned when a command action cannot be sent to or run by the target.
var ErrUnsupportedAction = errors.New("unsupported command action")
