package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/railhub/internal/config"
	"github.com/aretw0/railhub/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stationFile = `
service_name: railhub-test
station:
  id: quarry
  label: Quarry
  role: remote
  position: {x: 120, y: 64, z: -300}
  rail: quarry/rail
  detector: quarry/detector
  switches:
    - index: 1
      actuator: quarry/sw1
      parking: true
      bay_detector: quarry/bay1
      bay_actuator: quarry/bay1-rail
    - index: 0
      actuator: quarry/sw0
timings:
  countdown: 10s
  idle_grace: 1m30s
transport:
  kind: memory
`

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(stationFile))
	require.NoError(t, err)

	assert.Equal(t, "railhub-test", cfg.ServiceName)
	assert.Equal(t, domain.StationIdentity{
		ID: "quarry", Label: "Quarry", Role: domain.RoleRemote,
		Position: domain.Position{X: 120, Y: 64, Z: -300},
	}, cfg.Station.Identity())
	require.Len(t, cfg.Station.Switches, 2)
	assert.True(t, cfg.Station.Switches[0].HasBay())

	assert.Equal(t, 10*time.Second, cfg.Timings.Countdown)
	assert.Equal(t, 90*time.Second, cfg.Timings.IdleGrace)
	assert.Equal(t, domain.DefaultDebounceInterval, cfg.Timings.Debounce, "unset timings keep defaults")
	assert.Equal(t, "info", cfg.Log.Level)

	require.NoError(t, cfg.Validate())
}

func TestParse_RoleMustBeKnown(t *testing.T) {
	cfg, err := config.Parse([]byte("station: {id: a, role: depot, rail: r, detector: d}\ntransport: {kind: memory}\n"))
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "station.role")
}

func TestParse_Malformed(t *testing.T) {
	_, err := config.Parse([]byte("station: [unclosed"))
	assert.Error(t, err)
}

func TestMarshal_RoundTripsDurations(t *testing.T) {
	cfg := config.Default()
	cfg.Timings.Countdown = 45 * time.Second

	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "countdown: 45s")

	back, err := config.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.Timings, back.Timings)
	assert.Equal(t, cfg.Station.Identity(), back.Station.Identity())
	assert.Equal(t, cfg.Transport, back.Transport)
	assert.NoError(t, back.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"default is valid", func(*config.Config) {}, ""},
		{"missing id", func(c *config.Config) { c.Station.ID = "" }, "station.id is required"},
		{"reserved id", func(c *config.Config) { c.Station.ID = domain.HubDestination }, "reserved"},
		{"missing rail", func(c *config.Config) { c.Station.Rail = "" }, "station.rail"},
		{"duplicate switch", func(c *config.Config) {
			c.Station.Switches = []domain.SwitchDevice{{Index: 1, Actuator: "a"}, {Index: 1, Actuator: "b"}}
		}, "duplicate index"},
		{"bay without rail", func(c *config.Config) {
			c.Station.Switches = []domain.SwitchDevice{{Index: 0, Actuator: "a", Parking: true, BayDetector: "d"}}
		}, "bay_actuator"},
		{"bay detector on through switch", func(c *config.Config) {
			c.Station.Switches = []domain.SwitchDevice{{Index: 0, Actuator: "a", BayDetector: "d"}}
		}, "non-parking"},
		{"unknown transport", func(c *config.Config) { c.Transport.Kind = "carrier-pigeon" }, "transport.kind"},
		{"redis without addr", func(c *config.Config) { c.Transport.Redis.Addr = "" }, "transport.redis.addr"},
		{"debounce below sampling", func(c *config.Config) { c.Timings.Debounce = c.Timings.SampleRate }, "timings.debounce"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RAILHUB_ROLE":         "remote",
		"RAILHUB_STATION_ID":   "mesa",
		"RAILHUB_REDIS_DB":     "3",
		"RAILHUB_COUNTDOWN":    "5s",
		"RAILHUB_LOG_FORMAT":   "json",
		"UNRELATED_REDIS_ADDR": "ignored:1",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := config.Default()
	require.NoError(t, cfg.ApplyEnv(lookup))

	assert.Equal(t, domain.RoleRemote, cfg.Station.Role)
	assert.Equal(t, "mesa", cfg.Station.ID)
	assert.Equal(t, "detector", cfg.Station.Detector, "untouched fields survive")
	assert.Equal(t, 3, cfg.Transport.Redis.DB)
	assert.Equal(t, "localhost:6379", cfg.Transport.Redis.Addr)
	assert.Equal(t, 5*time.Second, cfg.Timings.Countdown)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestApplyEnv_RejectsBadValues(t *testing.T) {
	cfg := config.Default()
	err := cfg.ApplyEnv(func(key string) (string, bool) {
		if key == "RAILHUB_COUNTDOWN" {
			return "soon", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, ".env")
	local := filepath.Join(dir, ".env.local")
	require.NoError(t, os.WriteFile(base, []byte("RAILHUB_STATION_LABEL=Base\nRAILHUB_TEST_ONLY_BASE=1\n"), 0o600))
	require.NoError(t, os.WriteFile(local, []byte("RAILHUB_STATION_LABEL=Local\n"), 0o600))
	t.Setenv("RAILHUB_STATION_LABEL", "")
	os.Unsetenv("RAILHUB_STATION_LABEL")
	t.Setenv("RAILHUB_TEST_ONLY_BASE", "")
	os.Unsetenv("RAILHUB_TEST_ONLY_BASE")

	require.NoError(t, config.LoadEnvFiles(base, filepath.Join(dir, "missing.env"), local))

	assert.Equal(t, "Local", os.Getenv("RAILHUB_STATION_LABEL"))
	assert.Equal(t, "1", os.Getenv("RAILHUB_TEST_ONLY_BASE"))
}

func TestStationAddresses(t *testing.T) {
	cfg, err := config.Parse([]byte(stationFile))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"quarry/rail", "quarry/detector",
		"quarry/sw1", "quarry/bay1", "quarry/bay1-rail",
		"quarry/sw0",
	}, cfg.Station.Addresses())
}
