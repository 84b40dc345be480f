package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Insecure defaults that must never reach production.
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"internal-secret":                      true,
	"callback-token":                       true,
	"":                                     true,
}

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	JWT            JWTConfig
	Proxmox        ProxmoxConfig
	Xendit         XenditConfig
	Backup         BackupConfig
	Scheduler      SchedulerConfig
	Encryption     EncryptionConfig
	InternalSecret string
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	Schema   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey string
}

type ProxmoxConfig struct {
	Port        int
	RootCAFile  string
	TaskTimeout time.Duration
	PollEvery   time.Duration
}

type XenditConfig struct {
	BaseURL       string
	SecretKey     string
	CallbackToken string
	InvoiceTTL    time.Duration
}

type BackupConfig struct {
	TmpDir     string
	AppDir     string
	EnvFile    string
	DBName     string
	DBUser     string
	DBPassword string
}

type SchedulerConfig struct {
	LifecycleEvery  time.Duration
	RetentionEvery  time.Duration
	BackupTickEvery time.Duration
}

type EncryptionConfig struct {
	Key string
}

func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8011"),
			Mode: getEnv("GIN_MODE", "release"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "saas_user"),
			Password: getEnv("DB_PASSWORD", "saas_pass"),
			DBName:   getEnv("DB_NAME", "saas_db"),
			Schema:   getEnv("DB_SCHEMA", "vps"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
		},
		Proxmox: ProxmoxConfig{
			Port:        getEnvInt("PROXMOX_API_PORT", 8006),
			RootCAFile:  getEnv("PROXMOX_ROOT_CA", ""),
			TaskTimeout: getEnvDuration("PROXMOX_TASK_TIMEOUT", 120*time.Second),
			PollEvery:   getEnvDuration("PROXMOX_POLL_INTERVAL", 2*time.Second),
		},
		Xendit: XenditConfig{
			BaseURL:       getEnv("XENDIT_BASE_URL", "https://api.xendit.co"),
			SecretKey:     getEnv("XENDIT_SECRET_KEY", ""),
			CallbackToken: getEnv("XENDIT_CALLBACK_TOKEN", ""),
			InvoiceTTL:    getEnvDuration("XENDIT_INVOICE_TTL", 48*time.Hour),
		},
		Backup: BackupConfig{
			TmpDir:     getEnv("BACKUP_TMP_DIR", "/tmp/vps-backup"),
			AppDir:     getEnv("BACKUP_APP_DIR", "/var/www/app"),
			EnvFile:    getEnv("BACKUP_ENV_FILE", "/var/www/app/.env"),
			DBName:     getEnv("BACKUP_DB_NAME", "appdb"),
			DBUser:     getEnv("BACKUP_DB_USER", "root"),
			DBPassword: getEnv("BACKUP_DB_PASSWORD", ""),
		},
		Scheduler: SchedulerConfig{
			LifecycleEvery:  getEnvDuration("SCHEDULER_LIFECYCLE_INTERVAL", 24*time.Hour),
			RetentionEvery:  getEnvDuration("SCHEDULER_RETENTION_INTERVAL", 24*time.Hour),
			BackupTickEvery: getEnvDuration("SCHEDULER_BACKUP_TICK", time.Minute),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		InternalSecret: getEnv("INTERNAL_SECRET", ""),
	}

	// Do not log secrets.
	log.Printf("[config] VPS Service loaded: port=%s db=%s/%s.%s xendit=%s",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.DBName, cfg.Database.Schema, cfg.Xendit.BaseURL)

	return cfg
}

// Validate checks that production deployments carry real secrets.
func (c *Config) Validate() error {
	if insecureDefaults[c.JWT.SecretKey] {
		return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}

	if insecureDefaults[c.InternalSecret] {
		return fmt.Errorf("INTERNAL_SECRET must be set to a secure value (current value is insecure or empty)")
	}

	if insecureDefaults[c.Xendit.CallbackToken] {
		return fmt.Errorf("XENDIT_CALLBACK_TOKEN must be set (webhooks would be unauthenticated)")
	}

	if len(c.Encryption.Key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes")
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
