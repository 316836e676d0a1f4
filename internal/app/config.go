package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/authgate/internal/loginflow"
	"github.com/florianilch/authgate/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// StorageType represents the backends supported for session data.
type StorageType string

const (
	StorageTypeFile    StorageType = "file"
	StorageTypeKeyring StorageType = "keyring"
	StorageTypeSQLite  StorageType = "sqlite"
	StorageTypeMemory  StorageType = "memory"
	StorageTypeEnv     StorageType = "env"
)

// TelemetryExporter selects where logs go when OpenTelemetry is enabled.
type TelemetryExporter string

const (
	TelemetryExporterNone     TelemetryExporter = "none"
	TelemetryExporterStdout   TelemetryExporter = "stdout"
	TelemetryExporterOTLPHTTP TelemetryExporter = "otlp-http"
	TelemetryExporterOTLPGRPC TelemetryExporter = "otlp-grpc"
)

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigTelemetryExporter = TelemetryExporterNone
	DefaultConfigServerHost        = "localhost"
	DefaultConfigServerPort        = 3000
	DefaultConfigShutdownTimeout   = 5 * time.Second
	DefaultConfigStorageType       = StorageTypeFile
	DefaultConfigStorageEnvPrefix  = "AUTHGATE_"
	DefaultConfigCallbackPath      = loginflow.DefaultCallbackPath

	// keyringService names the OS credential store entry.
	keyringService = "authgate"
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.FormatUint(uint64(s.Port), 10))
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// IdentityProviderConfig describes the OAuth2/OIDC client registration.
type IdentityProviderConfig struct {
	BaseURL      string   `json:"base_url" validate:"omitempty,url"`
	ClientID     string   `json:"client_id"`
	RedirectURI  string   `json:"redirect_uri" validate:"omitempty,url"`
	Scopes       []string `json:"scopes"`
	CallbackPath string   `json:"callback_path" validate:"startswith=/"`

	// VerifyState rejects callbacks whose state doesn't match the login attempt.
	// Unset means enabled.
	VerifyState *bool `json:"verify_state,omitempty"`
}

// StateVerificationEnabled reports whether callbacks must echo the login state.
func (i IdentityProviderConfig) StateVerificationEnabled() bool {
	return i.VerifyState == nil || *i.VerifyState
}

// BackendConfig holds the application backend endpoints.
type BackendConfig struct {
	// VerifyEndpoint exchanges an authorization code for an access token.
	VerifyEndpoint string `json:"verify_endpoint" validate:"omitempty,url"`
	// APIBaseURL is the protected API reached through /api/ and the request command.
	APIBaseURL string `json:"api_base_url" validate:"omitempty,url"`
}

// StorageConfig describes where session data is kept.
type StorageConfig struct {
	Type StorageType `json:"type" validate:"required,oneof=file keyring sqlite memory env"`

	// Backend-specific settings (used based on Type)
	Dir         string `json:"dir,omitempty"`          // For file storage: directory holding one file per key
	KeyringUser string `json:"keyring_user,omitempty"` // For keyring storage: user identifier
	SQLitePath  string `json:"sqlite_path,omitempty"`  // For sqlite storage: database file
	EnvPrefix   string `json:"env_prefix,omitempty"`   // For env storage: variable name prefix
}

// Writable reports whether the backend accepts new tokens.
func (s StorageConfig) Writable() bool {
	return s.Type != StorageTypeEnv
}

// Persistent reports whether stored tokens outlive the process.
func (s StorageConfig) Persistent() bool {
	return s.Writable() && s.Type != StorageTypeMemory
}

// NewTokenStore creates a tokenstore.Store from the storage configuration.
// Stores holding resources implement io.Closer.
func (s StorageConfig) NewTokenStore() (tokenstore.Store, error) {
	switch s.Type {
	case StorageTypeFile:
		return tokenstore.NewFileStore(s.Dir)
	case StorageTypeKeyring:
		return tokenstore.NewKeyringStore(keyringService, s.KeyringUser)
	case StorageTypeSQLite:
		return tokenstore.OpenSQLiteStore(s.SQLitePath)
	case StorageTypeMemory:
		return tokenstore.NewMemoryStore(), nil
	case StorageTypeEnv:
		return tokenstore.NewEnvStore(s.EnvPrefix)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", s.Type)
	}
}

// TelemetryConfig controls OpenTelemetry log export.
type TelemetryConfig struct {
	Exporter TelemetryExporter `json:"exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel         slog.Level             `json:"log_level"`
	LogFormat        LogFormat              `json:"log_format" validate:"oneof=text json"`
	Telemetry        TelemetryConfig        `json:"telemetry"`
	Server           ServerConfig           `json:"server"`
	Shutdown         ShutdownConfig         `json:"shutdown"`
	IdentityProvider IdentityProviderConfig `json:"identity_provider"`
	Backend          BackendConfig          `json:"backend"`
	Storage          StorageConfig          `json:"storage"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.IdentityProvider.CallbackPath == "" {
		c.IdentityProvider.CallbackPath = DefaultConfigCallbackPath
	}
	if len(c.IdentityProvider.Scopes) == 0 {
		c.IdentityProvider.Scopes = append([]string(nil), loginflow.DefaultScopes...)
	}
	// The provider redirects back to the local server unless told otherwise
	if c.IdentityProvider.RedirectURI == "" {
		c.IdentityProvider.RedirectURI = "http://" + c.Server.Address() + c.IdentityProvider.CallbackPath
	}
	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorageType
	}

	// Dynamic defaults based on storage type
	switch c.Storage.Type {
	case StorageTypeFile:
		if c.Storage.Dir == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.dir required (auto-detect failed: %w)", err)
			}
			c.Storage.Dir = filepath.Join(configDir, "authgate", "session")
		}
	case StorageTypeSQLite:
		if c.Storage.SQLitePath == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.sqlite_path required (auto-detect failed: %w)", err)
			}
			if err := os.MkdirAll(filepath.Join(configDir, "authgate"), 0700); err != nil {
				return fmt.Errorf("creating storage directory: %w", err)
			}
			c.Storage.SQLitePath = filepath.Join(configDir, "authgate", "session.db")
		}
	case StorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("storage.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Storage.KeyringUser = currentUser.Username
		}
	case StorageTypeEnv:
		if c.Storage.EnvPrefix == "" {
			c.Storage.EnvPrefix = DefaultConfigStorageEnvPrefix
		}
	case StorageTypeMemory:
		// nothing to configure
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Storage.Type {
	case StorageTypeFile:
		if c.Storage.Dir == "" {
			return errors.New("storage.dir required for file storage")
		}
	case StorageTypeSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path required for sqlite storage")
		}
	case StorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			return errors.New("storage.keyring_user required for keyring storage")
		}
	case StorageTypeEnv:
		if c.Storage.EnvPrefix == "" {
			return errors.New("storage.env_prefix required for env storage")
		}
	}

	return nil
}

// ValidateLogin checks the settings needed to run the login flow.
func (c *Config) ValidateLogin() error {
	var errs []error
	if c.IdentityProvider.BaseURL == "" {
		errs = append(errs, errors.New("identity_provider.base_url required"))
	}
	if c.IdentityProvider.ClientID == "" {
		errs = append(errs, errors.New("identity_provider.client_id required"))
	}
	if c.Backend.VerifyEndpoint == "" {
		errs = append(errs, errors.New("backend.verify_endpoint required"))
	}
	// The callback stores the token, and env is read-only
	if !c.Storage.Writable() {
		errs = append(errs, fmt.Errorf("login requires writable storage, %s is read-only", c.Storage.Type))
	}
	return errors.Join(errs...)
}

// LoginFlowConfig converts the configuration for the login flow.
func (c *Config) LoginFlowConfig() loginflow.Config {
	return loginflow.Config{
		IdentityProviderBaseURL: c.IdentityProvider.BaseURL,
		ClientID:                c.IdentityProvider.ClientID,
		RedirectURI:             c.IdentityProvider.RedirectURI,
		BackendVerifyEndpoint:   c.Backend.VerifyEndpoint,
		Scopes:                  c.IdentityProvider.Scopes,
		CallbackPath:            c.IdentityProvider.CallbackPath,
		VerifyState:             c.IdentityProvider.StateVerificationEnabled(),
	}
}
