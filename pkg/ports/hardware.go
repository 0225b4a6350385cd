package ports

import "context"

// Output is one binary actuator (rail power, switch motor, bay rail).
type Output interface {
	Set(ctx context.Context, on bool) error
}

// Input is one binary sensor (detector rail, bay detector, player detector).
type Input interface {
	Read(ctx context.Context) (bool, error)
}

// Hardware resolves device addresses at call time.
// Resolution fails with domain.ErrActuatorUnavailable when the device is not currently present;
// callers must treat that as recoverable.
type Hardware interface {
	Output(address string) (Output, error)
	Input(address string) (Input, error)
}
