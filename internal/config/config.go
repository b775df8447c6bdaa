package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "MEMORIAL"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "memorial.db"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultCookieName          = "app_session"
	defaultSessionIssuer       = "memorial-auth"
	defaultSessionTTLMinutes   = 60 * 24
	defaultLoginLinkTTLMinutes = 30
	defaultPublicBaseURL       = "http://localhost:8080"
	defaultStorageDriver       = StorageDriverLocal
	defaultStorageRoot         = "public/img"
	defaultPublicPrefix        = "/img"
	defaultS3Region            = "us-east-1"
	defaultFallbackDir         = "var/memory_change_requests"
	defaultFreeArchiveLimit    = 5
	defaultExtensionPrice      = 500
	defaultCacheSize           = 1024
	defaultCacheTTLSeconds     = 300
)

const (
	// StorageDriverLocal keeps uploads on the local filesystem.
	StorageDriverLocal = "local"
	// StorageDriverS3 keeps uploads in an S3-compatible bucket.
	StorageDriverS3 = "s3"
)

// S3Config describes the S3-compatible bucket used when storage.driver is s3.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	LogFormat            string
	SessionSigningSecret string
	SessionCookieName    string
	SessionIssuer        string
	SessionTTL           time.Duration
	LoginLinkTTL         time.Duration
	PublicBaseURL        string
	StorageDriver        string
	StorageRoot          string
	PublicPrefix         string
	S3                   S3Config
	FallbackDir          string
	FreeArchiveLimit     int
	ExtensionPrice       int64
	CacheSize            int
	CacheTTL             time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("login_link.ttl_minutes", defaultLoginLinkTTLMinutes)
	configViper.SetDefault("public.base_url", defaultPublicBaseURL)
	configViper.SetDefault("storage.driver", defaultStorageDriver)
	configViper.SetDefault("storage.local.root", defaultStorageRoot)
	configViper.SetDefault("storage.public_prefix", defaultPublicPrefix)
	configViper.SetDefault("storage.s3.region", defaultS3Region)
	configViper.SetDefault("change_requests.fallback_dir", defaultFallbackDir)
	configViper.SetDefault("photos.free_limit", defaultFreeArchiveLimit)
	configViper.SetDefault("photos.extension_price", defaultExtensionPrice)
	configViper.SetDefault("cache.size", defaultCacheSize)
	configViper.SetDefault("cache.ttl_seconds", defaultCacheTTLSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            configViper.GetString("log.format"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		SessionTTL:           time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		LoginLinkTTL:         time.Duration(configViper.GetInt("login_link.ttl_minutes")) * time.Minute,
		PublicBaseURL:        strings.TrimRight(configViper.GetString("public.base_url"), "/"),
		StorageDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("storage.driver"))),
		StorageRoot:          configViper.GetString("storage.local.root"),
		PublicPrefix:         configViper.GetString("storage.public_prefix"),
		S3: S3Config{
			Bucket:          configViper.GetString("storage.s3.bucket"),
			Region:          configViper.GetString("storage.s3.region"),
			Endpoint:        configViper.GetString("storage.s3.endpoint"),
			AccessKeyID:     configViper.GetString("storage.s3.access_key_id"),
			SecretAccessKey: configViper.GetString("storage.s3.secret_access_key"),
			PathStyle:       configViper.GetBool("storage.s3.path_style"),
		},
		FallbackDir:      configViper.GetString("change_requests.fallback_dir"),
		FreeArchiveLimit: configViper.GetInt("photos.free_limit"),
		ExtensionPrice:   configViper.GetInt64("photos.extension_price"),
		CacheSize:        configViper.GetInt("cache.size"),
		CacheTTL:         time.Duration(configViper.GetInt("cache.ttl_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 || c.LoginLinkTTL <= 0 {
		return fmt.Errorf("session.ttl_minutes and login_link.ttl_minutes must be positive")
	}
	switch c.StorageDriver {
	case StorageDriverLocal:
		if strings.TrimSpace(c.StorageRoot) == "" {
			return fmt.Errorf("storage.local.root is required for the local driver")
		}
	case StorageDriverS3:
		if strings.TrimSpace(c.S3.Bucket) == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.StorageDriver)
	}
	if strings.TrimSpace(c.FallbackDir) == "" {
		return fmt.Errorf("change_requests.fallback_dir is required")
	}
	if c.FreeArchiveLimit <= 0 {
		return fmt.Errorf("photos.free_limit must be positive")
	}
	if c.ExtensionPrice <= 0 {
		return fmt.Errorf("photos.extension_price must be positive")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache.size must be positive")
	}
	return nil
}
