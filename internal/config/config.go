// Package config handles configuration loading for the ksef client.
//
// Configuration is loaded from an optional YAML file with support for
// environment variable expansion (${VAR} or $VAR syntax), then overridden by
// KSEF_* environment variables. This allows credentials such as PKCS#12
// passwords or HSM PINs to be injected at runtime.
//
// # Configuration Sections
//
//   - environment, baseUrl, qrBaseUrl: which KSeF deployment to talk to
//   - context: the taxpayer context (type and identifier)
//   - auth, session: polling intervals and bounds
//   - signing: where the XAdES signing credential lives (file, pkcs12, pkcs11)
//   - storage: where submission records are kept (none, memory, mongodb)
//   - log: level and format
//   - mockServer: settings of the local fake authority
//
// # Example Configuration
//
//	environment: test
//	context:
//	  type: Nip
//	  value: "5265877635"
//	signing:
//	  mode: pkcs12
//	  pkcs12:
//	    file: /etc/ksef/seal.p12
//	    password: ${KSEF_PKCS12_PASSWORD}
//	storage:
//	  type: mongodb
//	  mongodb:
//	    uri: ${MONGODB_URI}
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/go-ksef/pkg/message"
)

// Config is the root configuration structure
type Config struct {
	Environment string        `yaml:"environment"`
	BaseURL     string        `yaml:"baseUrl"`
	QRBaseURL   string        `yaml:"qrBaseUrl"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   float64       `yaml:"rateLimit"`
	Burst       int           `yaml:"burst"`
	Trace       bool          `yaml:"trace"`

	Context               ContextConfig `yaml:"context"`
	SubjectIdentifierType string        `yaml:"subjectIdentifierType"`

	Auth       AuthConfig       `yaml:"auth"`
	Session    SessionConfig    `yaml:"session"`
	Signing    SigningConfig    `yaml:"signing"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
	MockServer MockServerConfig `yaml:"mockServer"`
}

// ContextConfig identifies the taxpayer the client acts for
type ContextConfig struct {
	// Type is one of Nip, InternalId, NipVatUe, CustomId
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// AuthConfig bounds the authentication status polling
type AuthConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	MaxWait      time.Duration `yaml:"maxWait"`
	// TokenSkew re-authenticates this long before the access token expires.
	TokenSkew time.Duration `yaml:"tokenSkew"`
}

// SessionConfig bounds session, metadata and UPO polling
type SessionConfig struct {
	PollInterval     time.Duration `yaml:"pollInterval"`
	PollAttempts     int           `yaml:"pollAttempts"`
	PollTimeout      time.Duration `yaml:"pollTimeout"`
	MetadataInterval time.Duration `yaml:"metadataInterval"`
	MetadataAttempts int           `yaml:"metadataAttempts"`
	UPOAttempts      int           `yaml:"upoAttempts"`
	TerminalCodes    []int         `yaml:"terminalCodes"`
}

// SigningConfig holds signing credential settings
type SigningConfig struct {
	// Mode determines where the signing credential is loaded from
	// - "file": PEM certificate and key files
	// - "pkcs12": a PKCS#12 bundle (.p12/.pfx)
	// - "pkcs11": a PKCS#11 token (HSM/smart card), needs -tags pkcs11
	Mode string `yaml:"mode"`

	// SigningTimeOffset is subtracted from now for the XAdES SigningTime.
	SigningTimeOffset time.Duration `yaml:"signingTimeOffset"`

	File   FileKeyConfig `yaml:"file"`
	PKCS12 PKCS12Config  `yaml:"pkcs12"`
	PKCS11 PKCS11Config  `yaml:"pkcs11"`
}

// FileKeyConfig holds PEM file locations
type FileKeyConfig struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

// PKCS12Config holds PKCS#12 bundle settings
type PKCS12Config struct {
	File     string `yaml:"file"`
	Password string `yaml:"password"`
}

// PKCS11Config holds PKCS#11 HSM settings
type PKCS11Config struct {
	// Path to the PKCS#11 library (.so/.dylib/.dll)
	ModulePath string `yaml:"modulePath"`
	// Slot ID or label to use
	SlotID    uint   `yaml:"slotId"`
	SlotLabel string `yaml:"slotLabel"`
	// PIN for authentication (can be env var reference like ${HSM_PIN})
	PIN string `yaml:"pin"`
	// Label of the key pair and certificate objects
	KeyLabel string `yaml:"keyLabel"`
}

// StorageConfig selects the submission record store
type StorageConfig struct {
	// Type is "none", "memory" or "mongodb"
	Type    string        `yaml:"type"`
	MongoDB MongoDBConfig `yaml:"mongodb"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI        string        `yaml:"uri"`
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LogConfig controls the process logger
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MockServerConfig holds settings of the local fake authority
type MockServerConfig struct {
	Addr     string        `yaml:"addr"`
	TokenTTL time.Duration `yaml:"tokenTTL"`
}

// overrides are read from the process environment after the file
type overrides struct {
	Environment    string        `env:"KSEF_ENVIRONMENT"`
	BaseURL        string        `env:"KSEF_BASE_URL"`
	QRBaseURL      string        `env:"KSEF_QR_BASE_URL"`
	Timeout        time.Duration `env:"KSEF_TIMEOUT"`
	Trace          bool          `env:"KSEF_TRACE"`
	ContextType    string        `env:"KSEF_CONTEXT_TYPE"`
	NIP            string        `env:"KSEF_NIP"`
	SigningMode    string        `env:"KSEF_SIGNING_MODE"`
	CertFile       string        `env:"KSEF_CERT_FILE"`
	KeyFile        string        `env:"KSEF_KEY_FILE"`
	PKCS12File     string        `env:"KSEF_PKCS12_FILE"`
	PKCS12Password string        `env:"KSEF_PKCS12_PASSWORD"`
	PKCS11PIN      string        `env:"KSEF_PKCS11_PIN"`
	StorageType    string        `env:"KSEF_STORAGE"`
	MongoURI       string        `env:"KSEF_MONGODB_URI"`
	LogLevel       string        `env:"KSEF_LOG_LEVEL"`
	LogFormat      string        `env:"KSEF_LOG_FORMAT"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file, applies KSEF_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnvironment(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnvironment() error {
	var o overrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Environment, o.Environment)
	set(&c.BaseURL, o.BaseURL)
	set(&c.QRBaseURL, o.QRBaseURL)
	set(&c.Context.Type, o.ContextType)
	set(&c.Context.Value, o.NIP)
	set(&c.Signing.Mode, o.SigningMode)
	set(&c.Signing.File.CertFile, o.CertFile)
	set(&c.Signing.File.KeyFile, o.KeyFile)
	set(&c.Signing.PKCS12.File, o.PKCS12File)
	set(&c.Signing.PKCS12.Password, o.PKCS12Password)
	set(&c.Signing.PKCS11.PIN, o.PKCS11PIN)
	set(&c.Storage.Type, o.StorageType)
	set(&c.Storage.MongoDB.URI, o.MongoURI)
	set(&c.Log.Level, o.LogLevel)
	set(&c.Log.Format, o.LogFormat)

	if o.NIP != "" && o.ContextType == "" && c.Context.Type == "" {
		c.Context.Type = "Nip"
	}
	if o.Timeout > 0 {
		c.Timeout = o.Timeout
	}
	if o.Trace {
		c.Trace = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "test"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Context.Type == "" {
		c.Context.Type = "Nip"
	}
	if c.SubjectIdentifierType == "" {
		c.SubjectIdentifierType = "certificateSubject"
	}
	if c.Auth.PollInterval == 0 {
		c.Auth.PollInterval = 1200 * time.Millisecond
	}
	if c.Auth.MaxWait == 0 {
		c.Auth.MaxWait = 30 * time.Second
	}
	if c.Auth.TokenSkew == 0 {
		c.Auth.TokenSkew = time.Minute
	}
	if c.Session.PollInterval == 0 {
		c.Session.PollInterval = 2 * time.Second
	}
	if c.Session.PollAttempts == 0 {
		c.Session.PollAttempts = 30
	}
	if c.Session.PollTimeout == 0 {
		c.Session.PollTimeout = 2 * time.Minute
	}
	if c.Session.MetadataInterval == 0 {
		c.Session.MetadataInterval = 2 * time.Second
	}
	if c.Session.MetadataAttempts == 0 {
		c.Session.MetadataAttempts = 10
	}
	if c.Session.UPOAttempts == 0 {
		c.Session.UPOAttempts = 5
	}
	if c.Signing.Mode == "" {
		c.Signing.Mode = "file"
	}
	if c.Signing.SigningTimeOffset == 0 {
		c.Signing.SigningTimeOffset = time.Minute
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "none"
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "ksef"
	}
	if c.Storage.MongoDB.Collection == "" {
		c.Storage.MongoDB.Collection = "submissions"
	}
	if c.Storage.MongoDB.Timeout == 0 {
		c.Storage.MongoDB.Timeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.MockServer.Addr == "" {
		c.MockServer.Addr = "127.0.0.1:8089"
	}
	if c.MockServer.TokenTTL == 0 {
		c.MockServer.TokenTTL = 15 * time.Minute
	}
}

// Validate checks enumerated values and mode-specific requirements.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Environment) {
	case "production", "prod", "test", "demo":
	default:
		return &message.ValidationError{Field: "environment", Value: c.Environment}
	}

	switch c.SubjectIdentifierType {
	case "certificateSubject", "certificateFingerprint":
	default:
		return &message.ValidationError{Field: "subjectIdentifierType", Value: c.SubjectIdentifierType}
	}

	switch c.Signing.Mode {
	case "file", "pkcs12", "pkcs11":
	default:
		return &message.ValidationError{Field: "signing.mode", Value: c.Signing.Mode}
	}
	if c.Signing.SigningTimeOffset < 0 {
		return &message.ValidationError{Field: "signing.signingTimeOffset", Value: c.Signing.SigningTimeOffset.String()}
	}

	switch c.Storage.Type {
	case "none", "memory":
	case "mongodb":
		if c.Storage.MongoDB.URI == "" {
			return &message.ValidationError{Field: "storage.mongodb.uri", Err: fmt.Errorf("required when type is 'mongodb'")}
		}
	default:
		return &message.ValidationError{Field: "storage.type", Value: c.Storage.Type}
	}

	if !slices.Contains([]string{"text", "json"}, c.Log.Format) {
		return &message.ValidationError{Field: "log.format", Value: c.Log.Format}
	}
	for _, code := range c.Session.TerminalCodes {
		if code < 100 || code > 999 {
			return &message.ValidationError{Field: "session.terminalCodes", Value: fmt.Sprint(code)}
		}
	}
	return nil
}

// Validate checks that the selected mode has what it needs to load a
// credential. It is separate from Config.Validate because commands such as
// mock-server never sign.
func (s *SigningConfig) Validate() error {
	switch s.Mode {
	case "file":
		if s.File.CertFile == "" || s.File.KeyFile == "" {
			return &message.ValidationError{Field: "signing.file", Err: fmt.Errorf("certFile and keyFile are required when mode is 'file'")}
		}
	case "pkcs12":
		if s.PKCS12.File == "" {
			return &message.ValidationError{Field: "signing.pkcs12.file", Err: fmt.Errorf("required when mode is 'pkcs12'")}
		}
	case "pkcs11":
		if s.PKCS11.ModulePath == "" {
			return &message.ValidationError{Field: "signing.pkcs11.modulePath", Err: fmt.Errorf("required when mode is 'pkcs11'")}
		}
	default:
		return &message.ValidationError{Field: "signing.mode", Value: s.Mode}
	}
	return nil
}
