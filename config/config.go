// Package config reads client and backend settings from the environment and
// board contents from YAML files.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"prism-board/board"
	"prism-board/client"
	"prism-board/outbox"
)

const (
	envURL            = "BOARD_URL"
	envStreamURL      = "BOARD_STREAM_URL"
	envRedisAddr      = "BOARD_REDIS_ADDR"
	envRedisChannel   = "BOARD_REDIS_CHANNEL"
	envToken          = "BOARD_TOKEN"
	envBoardID        = "BOARD_ID"
	envClientID       = "BOARD_CLIENT_ID"
	envDebounce       = "BOARD_DEBOUNCE"
	envHistory        = "BOARD_HISTORY"
	envRows           = "BOARD_ROWS"
	envStrictLimits   = "BOARD_STRICT_LIMITS"
	envUser           = "BOARD_USER"
	envWorkers        = "OUTBOX_WORKERS"
	envBuffer         = "OUTBOX_BUFFER"
	envTimeout        = "OUTBOX_TIMEOUT"
	envEvictOnFailure = "OUTBOX_EVICT_ON_FAILURE"

	envDebug         = "DEBUG"
	envLogFormat     = "LOG_FORMAT"
	envPort          = "FUNCTIONS_CUSTOMHANDLER_PORT"
	envConnStr       = "STORAGE_CONNECTION_STRING"
	envBoardTable    = "BOARD_TABLE"
	envEventsQueue   = "EVENTS_QUEUE"
	envRedisConn     = "REDIS_CONNECTION_STRING"
	envCacheTTL      = "CACHE_TTL"
	envDeduperTTL    = "DEDUPER_TTL"
	envAuthMode      = "LOCAL_AUTH_MODE"
	envAuthSecret    = "LOCAL_AUTH_SHARED_SECRET"
	envAuth0Domain   = "AUTH0_DOMAIN"
	envAuth0Audience = "AUTH0_AUDIENCE"
	envJWKSCacheTTL  = "JWKS_CACHE_TTL"
	envAnonymousUser = "ANONYMOUS_USER"
)

// Auth modes of the backend.
const (
	AuthJWKS  = "jwks"
	AuthHS256 = "hs256"
	AuthNone  = "none"
)

// FromEnv builds a client configuration. BOARD_URL is required.
func FromEnv() (client.Config, error) {
	return FromEnvWith(client.Config{})
}

// FromEnvWith is FromEnv with the endpoint fields of base used where the
// environment leaves them unset.
func FromEnvWith(base client.Config) (client.Config, error) {
	cfg := client.Config{
		URL:          envString(envURL, base.URL),
		StreamURL:    envString(envStreamURL, base.StreamURL),
		RedisAddr:    envString(envRedisAddr, base.RedisAddr),
		RedisChannel: envString(envRedisChannel, base.RedisChannel),
		Token:        envString(envToken, base.Token),
		BoardID:      envString(envBoardID, base.BoardID),
		ClientID:     envString(envClientID, base.ClientID),
	}
	if cfg.URL == "" {
		return cfg, fmt.Errorf("missing %s", envURL)
	}
	if cfg.RedisAddr != "" && cfg.RedisChannel == "" {
		return cfg, fmt.Errorf("%s requires %s", envRedisAddr, envRedisChannel)
	}

	var err error
	if cfg.Debounce, err = envDur(envDebounce, 500*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.Board.History, err = envBool(envHistory, true); err != nil {
		return cfg, err
	}
	if cfg.Board.Rows, err = envBool(envRows, false); err != nil {
		return cfg, err
	}
	if cfg.Board.StrictLimits, err = envBool(envStrictLimits, false); err != nil {
		return cfg, err
	}
	cfg.Board.CurrentUser = envString(envUser, "")

	if cfg.Outbox, err = outboxFromEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func outboxFromEnv() (outbox.Config, error) {
	var (
		cfg outbox.Config
		err error
	)
	if cfg.Workers, err = envInt(envWorkers, 1); err != nil {
		return cfg, err
	}
	if cfg.Buffer, err = envInt(envBuffer, 64); err != nil {
		return cfg, err
	}
	if cfg.Timeout, err = envDur(envTimeout, 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.EvictOnFailure, err = envBool(envEvictOnFailure, false); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Server is the configuration of the reference backend.
type Server struct {
	Debug bool
	// LogJSON switches the logs to JSON lines, as read by boardctl stats.
	LogJSON bool
	Port    string
	// StorageConnStr selects Azure Table storage. Empty keeps boards in memory.
	StorageConnStr string
	BoardTable     string
	// EventsQueue additionally enqueues every push event when set.
	EventsQueue string
	// Redis enables the list cache, idempotency replay and cross-instance fan-out.
	Redis     *redis.Options
	CacheTTL  time.Duration
	DedupeTTL time.Duration

	AuthMode      string
	AuthSecret    string
	Auth0Domain   string
	Auth0Audience string
	JWKSCacheTTL  time.Duration
	AnonymousUser string
}

// JWKSURL returns the key set endpoint of the configured Auth0 tenant.
func (s Server) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", s.Auth0Domain)
}

// Issuer returns the expected token issuer.
func (s Server) Issuer() string {
	return "https://" + s.Auth0Domain + "/"
}

// ServerFromEnv builds the backend configuration.
func ServerFromEnv() (Server, error) {
	cfg := Server{
		Port:           envString(envPort, "8080"),
		StorageConnStr: envString(envConnStr, ""),
		BoardTable:     envString(envBoardTable, "board"),
		EventsQueue:    envString(envEventsQueue, ""),
		AuthSecret:     envString(envAuthSecret, ""),
		Auth0Domain:    envString(envAuth0Domain, ""),
		Auth0Audience:  envString(envAuth0Audience, ""),
		AnonymousUser:  envString(envAnonymousUser, ""),
	}
	var err error
	if cfg.Debug, err = envBool(envDebug, false); err != nil {
		return cfg, err
	}
	switch format := strings.ToLower(envString(envLogFormat, "text")); format {
	case "json":
		cfg.LogJSON = true
	case "text":
	default:
		return cfg, fmt.Errorf("unsupported %s value %q", envLogFormat, format)
	}
	if cfg.EventsQueue != "" && cfg.StorageConnStr == "" {
		return cfg, fmt.Errorf("%s requires %s", envEventsQueue, envConnStr)
	}
	if conn := envString(envRedisConn, ""); conn != "" {
		cfg.Redis = ParseRedis(conn)
	}
	if cfg.CacheTTL, err = envDur(envCacheTTL, time.Minute); err != nil {
		return cfg, err
	}
	if cfg.DedupeTTL, err = envDur(envDeduperTTL, 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.JWKSCacheTTL, err = envDur(envJWKSCacheTTL, 15*time.Minute); err != nil {
		return cfg, err
	}

	cfg.AuthMode = strings.ToLower(envString(envAuthMode, AuthJWKS))
	switch cfg.AuthMode {
	case AuthNone:
	case AuthHS256:
		if cfg.AuthSecret == "" {
			return cfg, fmt.Errorf("%s must be set when %s=hs256", envAuthSecret, envAuthMode)
		}
	case AuthJWKS:
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			return cfg, fmt.Errorf("missing Auth0 config")
		}
	default:
		return cfg, fmt.Errorf("unsupported %s value %q", envAuthMode, cfg.AuthMode)
	}
	return cfg, nil
}

// ParseRedis accepts a redis:// url or an Azure style "host:port,password=...,ssl=True" string.
func ParseRedis(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

// BoardConfig overrides the board settings of cfg with those of a board file.
func BoardConfig(cfg board.Config, s Settings) board.Config {
	if s.History != nil {
		cfg.History = *s.History
	}
	if s.Rows != nil {
		cfg.Rows = *s.Rows
	}
	if s.StrictLimits != nil {
		cfg.StrictLimits = *s.StrictLimits
	}
	if s.User != "" {
		cfg.CurrentUser = s.User
	}
	return cfg
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return n, nil
}

func envDur(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
