package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Auth         AuthConfig
	EventStore   EventStoreConfig
	Catalog      CatalogConfig
	MedicineRef  MedicineRefConfig
	Validation   ValidationConfig
	Treatment    TreatmentConfig
	Prescription PrescriptionConfig
	Notify       NotifyConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// EventStoreConfig holds configuration for KurrentDB (EventStoreDB),
// used for the prescription audit trail.
type EventStoreConfig struct {
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
}

// CatalogConfig selects and configures the protocol catalog collaborator.
type CatalogConfig struct {
	// Mode: "rest" for the catalog HTTP service, "clinicdb" for a direct
	// read-only connection to the clinic EMR's Postgres.
	Mode    string
	BaseURL string
	Timeout time.Duration

	// Direct database settings (clinicdb mode)
	Database DatabaseConfig
}

// MedicineRefConfig selects and configures the medicine reference collaborator.
type MedicineRefConfig struct {
	// Mode: "rest" for the reference HTTP service, "pharmacy" for the legacy
	// hospital pharmacy SQL Server.
	Mode     string
	BaseURL  string
	Timeout  time.Duration
	PageSize int

	// Refresh schedule, "HH:MM;HH:MM" (gocron At format)
	RefreshAt string

	// Legacy pharmacy settings (pharmacy mode)
	Pharmacy PharmacyConfig
}

// ValidationConfig configures the clinical validation service client.
type ValidationConfig struct {
	BaseURL      string
	CheckTimeout time.Duration
}

// TreatmentConfig configures the treatment creation service client.
type TreatmentConfig struct {
	BaseURL string
	Timeout time.Duration
}

// PrescriptionConfig tunes the prescription workflow sessions.
type PrescriptionConfig struct {
	// Idle TTL after which an abandoned session is reaped
	SessionTTL time.Duration
	// How often the reaper scans
	ReapInterval time.Duration
}

// NotifyConfig configures clinician notifications.
type NotifyConfig struct {
	// Providers: comma-separated list, e.g. "log,webhook"
	Providers  []string
	WebhookURL string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// PharmacyConfig holds connection settings for the legacy pharmacy database.
type PharmacyConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Encrypt  bool
}

func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),
			Issuer:    getEnv("JWT_ISSUER", "hiv-care-hub"),
		},
		EventStore: EventStoreConfig{
			Host:     getEnv("EVENTSTORE_HOST", "localhost"),
			Port:     getEnvInt("EVENTSTORE_PORT", 2113),
			Insecure: getEnvBool("EVENTSTORE_INSECURE", true),
			Username: getEnv("EVENTSTORE_USER", ""),
			Password: getEnv("EVENTSTORE_PASSWORD", ""),
		},
		Catalog: CatalogConfig{
			Mode:    getEnv("CATALOG_MODE", "rest"),
			BaseURL: getEnv("CATALOG_URL", "http://localhost:9001"),
			Timeout: getEnvDuration("CATALOG_TIMEOUT", 10*time.Second),
			Database: DatabaseConfig{
				Host:     getEnv("CLINIC_DB_HOST", "localhost"),
				Port:     getEnvInt("CLINIC_DB_PORT", 5432),
				User:     getEnv("CLINIC_DB_USER", "carehub"),
				Password: getEnv("CLINIC_DB_PASSWORD", ""),
				Database: getEnv("CLINIC_DB_NAME", "clinic_emr"),
				SSLMode:  getEnv("CLINIC_DB_SSLMODE", "disable"),
			},
		},
		MedicineRef: MedicineRefConfig{
			Mode:      getEnv("MEDICINE_MODE", "rest"),
			BaseURL:   getEnv("MEDICINE_URL", "http://localhost:9002"),
			Timeout:   getEnvDuration("MEDICINE_TIMEOUT", 10*time.Second),
			PageSize:  getEnvInt("MEDICINE_PAGE_SIZE", 200),
			RefreshAt: getEnv("MEDICINE_REFRESH_AT", "06:00;18:00"),
			Pharmacy: PharmacyConfig{
				Host:     getEnv("PHARMACY_DB_HOST", "localhost"),
				Port:     getEnvInt("PHARMACY_DB_PORT", 1433),
				User:     getEnv("PHARMACY_DB_USER", "sa"),
				Password: getEnv("PHARMACY_DB_PASSWORD", ""),
				Database: getEnv("PHARMACY_DB_NAME", "PharmacyStock"),
				Encrypt:  getEnvBool("PHARMACY_DB_ENCRYPT", false),
			},
		},
		Validation: ValidationConfig{
			BaseURL:      getEnv("VALIDATION_URL", "http://localhost:9003"),
			CheckTimeout: getEnvDuration("VALIDATION_CHECK_TIMEOUT", 8*time.Second),
		},
		Treatment: TreatmentConfig{
			BaseURL: getEnv("TREATMENT_URL", "http://localhost:9004"),
			Timeout: getEnvDuration("TREATMENT_TIMEOUT", 15*time.Second),
		},
		Prescription: PrescriptionConfig{
			SessionTTL:   getEnvDuration("SESSION_TTL", 2*time.Hour),
			ReapInterval: getEnvDuration("SESSION_REAP_INTERVAL", 5*time.Minute),
		},
		Notify: NotifyConfig{
			Providers:  getEnvList("NOTIFY_PROVIDERS", "log"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
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
