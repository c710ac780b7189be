package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures bridge-level configuration.
type Server struct {
	Addr          string
	RegulatedMode bool
	JWTSigningKey string

	Integrity Integrity
	Postgres  PostgresConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
}

// Integrity configures the local integrity validator: where schemas and the
// CAP record live, where verdicts are archived, and the canonical sources
// used to restore a drifted schema.
type Integrity struct {
	SchemaDir    string
	ArchiveDir   string
	CAPFile      string
	ManifestName string
	SchemaName   string

	CanonicalSchemaURL   string
	CanonicalManifestURL string
	FetchTimeout         time.Duration

	LogRetain int
}

// PostgresConfig carries the persistence DSN. Empty means stores fall back to
// in-memory implementations.
type PostgresConfig struct {
	DSN string
}

// RedisConfig configures the duplicate-suppression cache. Empty URL means
// Redis is not used.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DedupeTTL    time.Duration
}

// KafkaConfig configures the audit outbox relay. Empty broker list disables
// the relay.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// ErrMissingJWTSigningKey is returned when regulated mode is enabled without
// an explicit signing key. There is no default: a published fallback key
// would let anyone mint accepted bearer tokens.
var ErrMissingJWTSigningKey = errors.New("regulated mode requires JWT_SIGNING_KEY to be set")

// Validate checks cross-field constraints that FromEnv cannot default away.
func (s Server) Validate() error {
	if s.RegulatedMode && s.JWTSigningKey == "" {
		return ErrMissingJWTSigningKey
	}
	return nil
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("CAPBRIDGE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	regulated := os.Getenv("REGULATED_MODE") == "true"

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return Server{
		Addr:          addr,
		RegulatedMode: regulated,
		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
		Integrity:     IntegrityFromEnv(),
		Postgres: PostgresConfig{
			DSN: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			DedupeTTL:    envDuration("CAPBRIDGE_DEDUPE_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:    brokers,
			AuditTopic: envString("KAFKA_AUDIT_TOPIC", "capbridge.audit"),
		},
	}
}

// IntegrityFromEnv builds validator configuration. Defaults match the layout
// the validator has always used: schemas/ next to the working directory and
// verdict archives under archive/CAP_LOGS.
func IntegrityFromEnv() Integrity {
	return Integrity{
		SchemaDir:    envString("CAPBRIDGE_SCHEMA_DIR", "schemas"),
		ArchiveDir:   envString("CAPBRIDGE_ARCHIVE_DIR", "archive/CAP_LOGS"),
		CAPFile:      envString("CAPBRIDGE_CAP_FILE", "cap_record.json"),
		ManifestName: envString("CAPBRIDGE_MANIFEST_NAME", "FalconForge_Integrity_Manifest_v3_5.json"),
		SchemaName:   envString("CAPBRIDGE_SCHEMA_NAME", "ATHENA_CAP_SCHEMA_v3_5.json"),
		CanonicalSchemaURL: envString("CAPBRIDGE_CANONICAL_SCHEMA_URL",
			"https://raw.githubusercontent.com/falconforge-codex/canonical/ATHENA_CAP_SCHEMA_v3_5.json"),
		CanonicalManifestURL: envString("CAPBRIDGE_CANONICAL_MANIFEST_URL",
			"https://raw.githubusercontent.com/falconforge-codex/canonical/FalconForge_Integrity_Manifest_v3_5.json"),
		FetchTimeout: envDuration("CAPBRIDGE_FETCH_TIMEOUT", 10*time.Second),
		LogRetain:    envInt("CAPBRIDGE_LOG_RETAIN", 10),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
