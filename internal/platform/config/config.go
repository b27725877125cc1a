// Package config builds runtime configuration from environment variables so
// main stays lean. Defaults are tuned for development; production deployments
// override via VIDA_* variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Dev-mode placeholders mirror the deployment convention of shipping
// "change-in-production" defaults that the production guard rejects.
const (
	DevSigningKey = "dev-signing-key-change-in-production"
	DevMasterKey  = "dev-encryption-key-change-in-production"
)

// Server captures process-level configuration.
type Server struct {
	Addr        string
	Environment string

	JWTSigningKey  string
	JWTIssuer      string
	JWTAudience    string
	FieldMasterKey string

	Redis    Redis
	Database Database
	Kafka    Kafka

	Admission AdmissionConfig
	Audit     AuditConfig
}

// Redis captures connection settings for the shared counter store.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Database captures the audit store connection.
type Database struct {
	URL string
}

// Kafka captures the optional audit export sink.
type Kafka struct {
	Brokers []string
	Topic   string
}

// TierLimit holds the thresholds for one rate-limit tier.
type TierLimit struct {
	PerMinute  int
	PerHour    int
	Burst      int
	BurstEvery time.Duration
}

// AdmissionConfig enumerates every admission-controller knob from the
// configuration surface: per-tier thresholds, anomaly detection, and the
// global protection ladder.
type AdmissionConfig struct {
	Standard          TierLimit
	ProtectedResource TierLimit
	Administrative    TierLimit
	Bulk              TierLimit

	// Anomaly heuristics over the trailing signal window.
	SignalWindow       time.Duration
	DiversityThreshold int
	RepeatThreshold    int
	CooldownFactor     float64
	CooldownDuration   time.Duration

	// Global protection ladder thresholds, requests per minute across all
	// identifiers. Each stage is entered when aggregate volume crosses its
	// threshold; order is enforced at startup.
	ElevatedThreshold    int
	RestrictiveThreshold int
	EmergencyThreshold   int
	AllowList            []string
	// ExemptActiveSessions lets identifiers with an admitted request in the
	// trailing minute, as evidenced by the signal store, bypass the
	// allow-list at the restrictive stage (never at emergency). Off by
	// default: fail closed.
	ExemptActiveSessions bool
}

// AuditConfig captures retention policy for the audit trail.
type AuditConfig struct {
	RetentionDays int
	IntegrityKey  string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:        getenv("VIDA_ADDR", ":8080"),
		Environment: getenv("VIDA_ENVIRONMENT", "development"),

		JWTSigningKey:  getenv("VIDA_JWT_SIGNING_KEY", DevSigningKey),
		JWTIssuer:      getenv("VIDA_JWT_ISSUER", "vida-gateway"),
		JWTAudience:    getenv("VIDA_JWT_AUDIENCE", "vida-platform"),
		FieldMasterKey: getenv("VIDA_FIELD_MASTER_KEY", DevMasterKey),

		Redis: Redis{
			URL:          os.Getenv("VIDA_REDIS_URL"),
			PoolSize:     getenvInt("VIDA_REDIS_POOL_SIZE", 10),
			MinIdleConns: getenvInt("VIDA_REDIS_MIN_IDLE", 2),
			DialTimeout:  getenvDuration("VIDA_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getenvDuration("VIDA_REDIS_READ_TIMEOUT", 2*time.Second),
			WriteTimeout: getenvDuration("VIDA_REDIS_WRITE_TIMEOUT", 2*time.Second),
		},
		Database: Database{
			URL: os.Getenv("VIDA_DATABASE_URL"),
		},
		Kafka: Kafka{
			Brokers: getenvList("VIDA_KAFKA_BROKERS", nil),
			Topic:   getenv("VIDA_KAFKA_AUDIT_TOPIC", "vida.audit.export"),
		},

		Admission: AdmissionConfig{
			Standard:          tierFromEnv("STANDARD", TierLimit{PerMinute: 60, PerHour: 1000, Burst: 20, BurstEvery: 10 * time.Second}),
			ProtectedResource: tierFromEnv("PROTECTED", TierLimit{PerMinute: 30, PerHour: 300, Burst: 10, BurstEvery: 10 * time.Second}),
			Administrative:    tierFromEnv("ADMIN", TierLimit{PerMinute: 20, PerHour: 200, Burst: 10, BurstEvery: 10 * time.Second}),
			Bulk:              tierFromEnv("BULK", TierLimit{PerMinute: 10, PerHour: 100, Burst: 3, BurstEvery: 10 * time.Second}),

			SignalWindow:       getenvDuration("VIDA_SIGNAL_WINDOW", 5*time.Minute),
			DiversityThreshold: getenvInt("VIDA_DIVERSITY_THRESHOLD", 15),
			RepeatThreshold:    getenvInt("VIDA_REPEAT_THRESHOLD", 30),
			CooldownFactor:     getenvFloat("VIDA_COOLDOWN_FACTOR", 0.5),
			CooldownDuration:   getenvDuration("VIDA_COOLDOWN_DURATION", 15*time.Minute),

			ElevatedThreshold:    getenvInt("VIDA_GLOBAL_ELEVATED", 5000),
			RestrictiveThreshold: getenvInt("VIDA_GLOBAL_RESTRICTIVE", 10000),
			EmergencyThreshold:   getenvInt("VIDA_GLOBAL_EMERGENCY", 20000),
			AllowList:            getenvList("VIDA_GLOBAL_ALLOWLIST", nil),
			ExemptActiveSessions: getenvBool("VIDA_EXEMPT_ACTIVE_SESSIONS", false),
		},

		Audit: AuditConfig{
			// Seven years, matching the platform's clinical retention policy.
			RetentionDays: getenvInt("VIDA_AUDIT_RETENTION_DAYS", 2555),
			IntegrityKey:  getenv("VIDA_AUDIT_INTEGRITY_KEY", DevSigningKey),
		},
	}
}

// Validate rejects configurations that would silently weaken the gateway.
func (s Server) Validate() error {
	if s.IsProduction() {
		if s.JWTSigningKey == DevSigningKey {
			return fmt.Errorf("VIDA_JWT_SIGNING_KEY must be set in production")
		}
		if s.FieldMasterKey == DevMasterKey {
			return fmt.Errorf("VIDA_FIELD_MASTER_KEY must be set in production")
		}
	}
	a := s.Admission
	if !(a.ElevatedThreshold < a.RestrictiveThreshold && a.RestrictiveThreshold < a.EmergencyThreshold) {
		return fmt.Errorf("global protection thresholds must be strictly increasing: %d, %d, %d",
			a.ElevatedThreshold, a.RestrictiveThreshold, a.EmergencyThreshold)
	}
	if a.CooldownFactor <= 0 || a.CooldownFactor > 1 {
		return fmt.Errorf("cooldown factor must be in (0, 1], got %v", a.CooldownFactor)
	}
	for name, tier := range map[string]TierLimit{
		"standard": a.Standard, "protected": a.ProtectedResource,
		"administrative": a.Administrative, "bulk": a.Bulk,
	} {
		if tier.PerMinute <= 0 || tier.PerHour <= 0 || tier.Burst <= 0 {
			return fmt.Errorf("tier %s: thresholds must be positive", name)
		}
	}
	if s.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention must be positive")
	}
	return nil
}

// IsProduction reports whether the process runs with production settings.
func (s Server) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

func tierFromEnv(name string, def TierLimit) TierLimit {
	return TierLimit{
		PerMinute:  getenvInt("VIDA_TIER_"+name+"_PER_MINUTE", def.PerMinute),
		PerHour:    getenvInt("VIDA_TIER_"+name+"_PER_HOUR", def.PerHour),
		Burst:      getenvInt("VIDA_TIER_"+name+"_BURST", def.Burst),
		BurstEvery: getenvDuration("VIDA_TIER_"+name+"_BURST_WINDOW", def.BurstEvery),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
