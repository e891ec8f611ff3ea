package main

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PaulBabatuyi/recircle-chat/internal/auth"
)

// Config is everything the server reads from its environment.
type Config struct {
	HTTPAddr string
	GRPCAddr string
	LogLevel string

	// MongoURI empty runs on the in-memory stores.
	MongoURI      string
	MongoDatabase string

	JWTSecret    string
	JWTKeys      map[string]string
	JWTActiveKid string
	JWTTTL       time.Duration

	RateLimitRPM int
	EventRateRPM int
	RedisAddr    string
	NATSURL      string

	WSOriginPatterns []string
	WSSendQueue      int
	WSHeartbeat      time.Duration

	StoreTimeout time.Duration

	TLSCert    string
	TLSKey     string
	RequireTLS bool
}

// loadConfig reads Config from the environment and checks it.
func loadConfig() (Config, error) {
	cfg := Config{
		HTTPAddr: envString("HTTP_ADDR", ":8000"),
		GRPCAddr: envString("GRPC_ADDR", ":50051"),
		LogLevel: envString("LOG_LEVEL", "info"),

		MongoURI:      envString("MONGODB_URI", ""),
		MongoDatabase: envString("MONGODB_DATABASE", ""),

		JWTSecret:    envString("JWT_SECRET", ""),
		JWTActiveKid: envString("JWT_ACTIVE_KID", ""),
		JWTTTL:       envDuration("JWT_TTL", 24*time.Hour),

		RateLimitRPM: envInt("RATE_LIMIT_RPM", 10),
		EventRateRPM: envInt("EVENT_RATE_RPM", 120),
		RedisAddr:    envString("REDIS_ADDR", ""),
		NATSURL:      envString("NATS_URL", ""),

		WSOriginPatterns: envCSV("WS_ORIGIN_PATTERNS", ""),
		WSSendQueue:      envInt("WS_SEND_QUEUE", 64),
		WSHeartbeat:      envDuration("WS_HEARTBEAT_INTERVAL", 25*time.Second),

		StoreTimeout: envDuration("STORE_TIMEOUT", 5*time.Second),

		TLSCert:    envString("TLS_CERT", ""),
		TLSKey:     envString("TLS_KEY", ""),
		RequireTLS: envBool("REQUIRE_TLS", false),
	}

	// JWT_KEYS (kid:secret,kid2:secret2) enables key rotation; JWT_SECRET is
	// the single-key fallback.
	if raw := envString("JWT_KEYS", ""); raw != "" {
		keys, err := auth.ParseKeys(raw)
		if err != nil {
			return Config{}, errors.New("JWT_KEYS: " + err.Error())
		}
		if _, ok := keys[cfg.JWTActiveKid]; !ok {
			return Config{}, errors.New("JWT_ACTIVE_KID must name one of the JWT_KEYS")
		}
		cfg.JWTKeys = keys
	} else if cfg.JWTSecret == "" {
		return Config{}, errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}

	if cfg.RequireTLS && (cfg.TLSCert == "" || cfg.TLSKey == "") {
		return Config{}, errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	return cfg, nil
}

// jwtManager builds the token manager the config describes.
func (c Config) jwtManager() *auth.JWTManager {
	if len(c.JWTKeys) > 0 {
		return auth.NewJWTManagerFromKeys(c.JWTKeys, c.JWTActiveKid, c.JWTTTL)
	}
	return auth.NewJWTManager(c.JWTSecret, c.JWTTTL)
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// envInt reads a positive int.
func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSV(key, def string) []string {
	raw := envString(key, def)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
