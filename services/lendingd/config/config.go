package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"nftlend/crypto"
)

const (
	defaultListen  = ":8547"
	defaultChainID = 187001

	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Config captures the runtime settings for the lending daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	ChainID       uint64          `yaml:"chain_id"`
	ModuleAddress string          `yaml:"module_address"`
	ParamsPath    string          `yaml:"params"`
	TLS           TLSConfig       `yaml:"tls"`
	Auth          AuthConfig      `yaml:"auth"`
	Storage       StorageConfig   `yaml:"storage"`
	Archive       ArchiveConfig   `yaml:"archive"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	CORS          CORSConfig      `yaml:"cors"`
	Log           LogConfig       `yaml:"log"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig lists the authenticators accepted by the service. Disabled
// trusts the caller header and is restricted to dev environments.
type AuthConfig struct {
	Disabled bool            `yaml:"disabled"`
	JWT      JWTConfig       `yaml:"jwt"`
	Accounts []AccountConfig `yaml:"accounts"`
}

// JWTConfig accepts HS256 tokens whose subject is the caller address.
type JWTConfig struct {
	HMACSecret string `yaml:"hmac_secret"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// AccountConfig binds a static API token to a caller address.
type AccountConfig struct {
	Token   string   `yaml:"token"`
	Address string   `yaml:"address"`
	Scopes  []string `yaml:"scopes"`
}

// Caller decodes the address requests authenticated with the token act as.
func (a AccountConfig) Caller() (crypto.Address, error) {
	return crypto.DecodeAddress(a.Address)
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ArchiveConfig selects the event archive database. DSNs are prefixed with
// "sqlite:" or "postgres:"; an empty DSN disables the archive.
type ArchiveConfig struct {
	DSN string `yaml:"dsn"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListen,
		ChainID:       defaultChainID,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Module returns the decoded module account address.
func (cfg Config) Module() (crypto.Address, error) {
	return crypto.DecodeAddress(cfg.ModuleAddress)
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = defaultChainID
	}
	cfg.ModuleAddress = strings.TrimSpace(cfg.ModuleAddress)
	cfg.ParamsPath = strings.TrimSpace(cfg.ParamsPath)
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendMemory
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	cfg.Archive.DSN = strings.TrimSpace(cfg.Archive.DSN)
	if cfg.RateLimit.Burst <= 0 && cfg.RateLimit.RequestsPerSecond > 0 {
		cfg.RateLimit.Burst = int(cfg.RateLimit.RequestsPerSecond)
		if cfg.RateLimit.Burst < 1 {
			cfg.RateLimit.Burst = 1
		}
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if _, err := cfg.Module(); err != nil {
		return fmt.Errorf("module_address: %w", err)
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	switch cfg.Storage.Backend {
	case BackendMemory:
	case BackendLevelDB, BackendBolt:
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path required for %s backend", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if dsn := cfg.Archive.DSN; dsn != "" && !strings.HasPrefix(dsn, "sqlite:") && !strings.HasPrefix(dsn, "postgres:") {
		return fmt.Errorf("archive: dsn must start with sqlite: or postgres:")
	}
	if cfg.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit: requests_per_second must not be negative")
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

// Enabled reports whether the server should terminate TLS itself.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.JWT.HMACSecret = strings.TrimSpace(cfg.JWT.HMACSecret)
	cfg.JWT.Issuer = strings.TrimSpace(cfg.JWT.Issuer)
	cfg.JWT.Audience = strings.TrimSpace(cfg.JWT.Audience)
	accounts := make([]AccountConfig, 0, len(cfg.Accounts))
	for _, account := range cfg.Accounts {
		account.Token = strings.TrimSpace(account.Token)
		account.Address = strings.TrimSpace(account.Address)
		if account.Token == "" && account.Address == "" {
			continue
		}
		scopes := make([]string, 0, len(account.Scopes))
		for _, scope := range account.Scopes {
			if trimmed := strings.TrimSpace(scope); trimmed != "" {
				scopes = append(scopes, trimmed)
			}
		}
		account.Scopes = scopes
		accounts = append(accounts, account)
	}
	cfg.Accounts = accounts
}

func (cfg AuthConfig) validate() error {
	if cfg.Disabled {
		return nil
	}
	if cfg.JWT.HMACSecret == "" && len(cfg.Accounts) == 0 {
		return fmt.Errorf("at least one api account or a jwt secret must be configured")
	}
	seen := make(map[string]struct{}, len(cfg.Accounts))
	for i, account := range cfg.Accounts {
		if account.Token == "" {
			return fmt.Errorf("accounts[%d]: token required", i)
		}
		if _, dup := seen[account.Token]; dup {
			return fmt.Errorf("accounts[%d]: duplicate token", i)
		}
		seen[account.Token] = struct{}{}
		if _, err := crypto.DecodeAddress(account.Address); err != nil {
			return fmt.Errorf("accounts[%d]: address: %w", i, err)
		}
	}
	return nil
}
