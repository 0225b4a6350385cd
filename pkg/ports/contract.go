package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/railhub/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBusContract runs a suite of tests to verify that a Bus implementation
// adheres to the defined interface contract.
func RunBusContract(t *testing.T, bus Bus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("Publish reaches subscribers of the channel", func(t *testing.T) {
		subCtx, stop := context.WithCancel(ctx)
		defer stop()

		// 1. Subscribe to heartbeat only
		ch, err := bus.Subscribe(subCtx, domain.ChannelHeartbeat)
		require.NoError(t, err, "Subscribe should not return error")

		// 2. Publish on another channel first, then on the subscribed one
		ping, err := domain.NewMessage(domain.KindPing, "contract-a", "", nil)
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, ping))

		hb, err := domain.NewMessage(domain.KindHeartbeat, "contract-a", "contract-hub", domain.HeartbeatPayload{HasTrain: true})
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			// Pub/Sub backends may need a moment before the subscription is live.
			_ = bus.Publish(ctx, hb)
			select {
			case got := <-ch:
				return got.ID == hb.ID
			case <-time.After(50 * time.Millisecond):
				return false
			}
		}, 2*time.Second, 10*time.Millisecond)

		// 3. Payload survives the round trip
		var payload domain.HeartbeatPayload
		require.NoError(t, hb.Decode(&payload))
		assert.True(t, payload.HasTrain)
	})

	t.Run("Subscription closes with its context", func(t *testing.T) {
		subCtx, stop := context.WithCancel(ctx)
		ch, err := bus.Subscribe(subCtx, domain.ChannelCommand)
		require.NoError(t, err)

		stop()

		assert.Eventually(t, func() bool {
			for {
				select {
				case _, ok := <-ch:
					if !ok {
						return true
					}
				default:
					return false
				}
			}
		}, 2*time.Second, 10*time.Millisecond, "channel should be closed after cancel")
	})
}

// RunNameServiceContract verifies lookup and claim semantics of a NameService.
func RunNameServiceContract(t *testing.T, names NameService) {
	ctx := context.Background()
	name := "contract-" + time.Now().Format("150405.000")

	t.Run("Lookup without claim", func(t *testing.T) {
		_, err := names.Lookup(ctx, name)
		assert.ErrorIs(t, err, domain.ErrHubUnavailable)
	})

	t.Run("Claim, refresh, conflict and release", func(t *testing.T) {
		// 1. First claim wins
		release, err := names.Claim(ctx, name, "hub-a", time.Minute)
		require.NoError(t, err)

		id, err := names.Lookup(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, "hub-a", id)

		// 2. Same id refreshes
		_, err = names.Claim(ctx, name, "hub-a", time.Minute)
		assert.NoError(t, err, "re-claim by the holder should refresh")

		// 3. Competing id is rejected
		_, err = names.Claim(ctx, name, "hub-b", time.Minute)
		assert.ErrorIs(t, err, domain.ErrHubConflict)

		// 4. Release frees the name
		require.NoError(t, release(ctx))
		_, err = names.Lookup(ctx, name)
		assert.ErrorIs(t, err, domain.ErrHubUnavailable)
	})
}

// RunHardwareContract verifies address resolution of a Hardware implementation.
// declare makes an address present on the device bus.
func RunHardwareContract(t *testing.T, hw Hardware, declare func(address string)) {
	ctx := context.Background()

	t.Run("Unknown address is unavailable", func(t *testing.T) {
		_, err := hw.Output("missing-output")
		assert.ErrorIs(t, err, domain.ErrActuatorUnavailable)

		_, err = hw.Input("missing-input")
		assert.ErrorIs(t, err, domain.ErrActuatorUnavailable)
	})

	t.Run("Output level is readable", func(t *testing.T) {
		declare("contract-rail")

		out, err := hw.Output("contract-rail")
		require.NoError(t, err)
		in, err := hw.Input("contract-rail")
		require.NoError(t, err)

		require.NoError(t, out.Set(ctx, true))
		on, err := in.Read(ctx)
		require.NoError(t, err)
		assert.True(t, on)

		require.NoError(t, out.Set(ctx, false))
		on, err = in.Read(ctx)
		require.NoError(t, err)
		assert.False(t, on)
	})
}
