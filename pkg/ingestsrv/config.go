// Package ingestsrv implements the emergency-signal ingestion server: the
// admission pipeline, persistence and relay workers, eviction loop, and the
// HTTP surface that fronts them.
package ingestsrv

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config contains the configuration for the ingestion server. The env struct
// tag contains the environment variable name and the default value if
// missing, or empty (if not ?=). All string arrays are comma-separated.
type Config struct {
	// The TCP port to listen on.
	Port int `env:"PORT=8080"`

	// Comma-separated list of case-insensitive hostnames to accept via the
	// Host header. If not provided, all hostnames are allowed.
	Host []string `env:"HOST"`

	// Whether to trust Cloudflare headers like CF-Connecting-IP.
	//
	// This is not safe to use unless Host is also set, to prevent requests
	// forwarded from other Cloudflare zones from being trusted.
	Cloudflare bool `env:"CLOUDFLARE"`

	// The minimum log level (trace, debug, info, warn, error, fatal).
	LogLevel zerolog.Level `env:"LOG_LEVEL=info"`

	// Whether to log to stdout.
	LogStdout bool `env:"LOG_STDOUT=true"`

	// Whether to use pretty (console) logs on stdout.
	LogStdoutPretty bool `env:"LOG_STDOUT_PRETTY"`

	// The log file to output to, if provided. Reopened on SIGHUP.
	LogFile string `env:"LOG_FILE"`

	// The minimum log level for the log file.
	LogFileLevel zerolog.Level `env:"LOG_FILE_LEVEL=info"`

	// The sink to persist accepted packets to:
	//  - ndjson:/path/to/file (default: ndjson:sinyalist_packets.ndjson)
	//  - sqlite3:/path/to/file.db
	PersistSink string `env:"PERSIST_SINK=ndjson:sinyalist_packets.ndjson"`

	// The size in bytes at which an ndjson segment is rotated and
	// gzip-compressed. Only applies to the ndjson sink.
	PersistRotateBytes int64 `env:"PERSIST_ROTATE_BYTES=134217728"`

	// The path to an IP2Location BIN database used for the geo/IP
	// cross-check. If empty, the cross-check is disabled.
	IP2LocationDB string `env:"IP2LOCATION_DB"`

	// The maximum number of distinct verified public keys to track for the
	// known_keys metrics gauge. Once reached, newly seen keys stop being
	// counted, but admission is unaffected.
	KnownKeysCap int `env:"KNOWN_KEYS_CAP=200000"`

	// For sd-notify.
	NotifySocket string `env:"NOTIFY_SOCKET"`
}

// UnmarshalEnv unmarshals an array of environment variables into c, setting
// default values as appropriate. If incremental is true, default values will
// not be set for missing env vars, but only for empty ones.
func (c *Config) UnmarshalEnv(es []string, incremental bool) error {
	em := map[string]string{}
	for _, e := range es {
		if k, v, ok := strings.Cut(e, "="); ok {
			em[k] = v
		}
	}
	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		} else if incremental {
			continue
		}

		switch cvf := cv.FieldByName(ctf.Name); cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case int, int8, int16, int32, int64:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case []string:
			if val == "" {
				cvf.Set(reflect.ValueOf([]string{}))
			} else {
				cvf.Set(reflect.ValueOf(strings.Split(val, ",")))
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("unhandled type %T (%s)", cvf.Interface(), env)
		}
	}
	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	return nil
}
