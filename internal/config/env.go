package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/railhub/pkg/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RAILHUB_"

// envKeys maps override variables (without prefix) to config paths.
var envKeys = map[string]string{
	"SERVICE_NAME":       "service_name",
	"STATION_ID":         "station.id",
	"STATION_LABEL":      "station.label",
	"ROLE":               "station.role",
	"RAIL":               "station.rail",
	"DETECTOR":           "station.detector",
	"PLAYER_DETECTOR":    "station.player_detector",
	"TRANSPORT":          "transport.kind",
	"REDIS_ADDR":         "transport.redis.addr",
	"REDIS_PASSWORD":     "transport.redis.password",
	"REDIS_DB":           "transport.redis.db",
	"REDIS_PREFIX":       "transport.redis.prefix",
	"HTTP_ADDR":          "http.addr",
	"LOG_LEVEL":          "log.level",
	"LOG_FORMAT":         "log.format",
	"DEBOUNCE":           "timings.debounce",
	"SAMPLE_RATE":        "timings.sample_rate",
	"DISPATCH_TIMEOUT":   "timings.dispatch_timeout",
	"LOCK_TIMEOUT":       "timings.lock_timeout",
	"COUNTDOWN":          "timings.countdown",
	"IDLE_GRACE":         "timings.idle_grace",
	"PLAYER_POLL":        "timings.player_poll",
	"HEARTBEAT_INTERVAL": "timings.heartbeat_interval",
	"ACK_TIMEOUT":        "timings.ack_timeout",
	"MAX_MISSED_ACKS":    "timings.max_missed_acks",
	"STALE_AFTER":        "timings.stale_after",
	"CLAIM_TTL":          "timings.claim_ttl",
}

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are skipped; later files override earlier ones.
func LoadEnvFiles(paths ...string) error {
	for i, path := range paths {
		load := godotenv.Load
		if i > 0 {
			load = godotenv.Overload
		}
		if err := load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	return nil
}

// ApplyEnv overlays RAILHUB_* variables found through lookup onto the configuration.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	tree := map[string]any{}
	for name, path := range envKeys {
		value, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		setPath(tree, strings.Split(path, "."), value)
	}
	if len(tree) == 0 {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			upperRoleHook,
		),
	})
	if err != nil {
		return fmt.Errorf("failed to build env decoder: %w", err)
	}
	if err := dec.Decode(tree); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

func setPath(tree map[string]any, keys []string, value string) {
	for _, key := range keys[:len(keys)-1] {
		next, ok := tree[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			tree[key] = next
		}
		tree = next
	}
	tree[keys[len(keys)-1]] = value
}

// upperRoleHook accepts roles in any case.
func upperRoleHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(domain.Role("")) {
		return data, nil
	}
	return domain.ParseRole(data.(string))
}
