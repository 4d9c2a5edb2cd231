// Package storefrontd wires the storefront service, settlement workers and transports into one process.
package storefrontd

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/internal/settlement"
)

const (
	defaultListenAddr       = ":8080"
	defaultGRPCListenAddr   = ":9090"
	defaultDatabaseURL      = "sqlite:///tmp/tonstore.db"
	defaultTonCenterBaseURL = "https://toncenter.com/api/v2"
	defaultTolerancePercent = "2"
	defaultSessionIssuer    = "tonstore"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	minSessionSecretLength  = 32
)

// Config aggregates runtime settings for the storefront daemon.
type Config struct {
	ListenAddr     string
	GRPCListenAddr string
	DatabaseURL    string
	AllowedOrigins []string

	MerchantAddress  string
	TonCenterBaseURL string
	TonCenterAPIKey  string
	BroadcastTimeout time.Duration
	FetchTimeout     time.Duration

	PollInterval     time.Duration
	PollAttempts     int
	FetchLimit       int
	TolerancePercent string
	SenderLookback   time.Duration
	Workers          int
	QueueCapacity    int
	RecoveryInterval time.Duration

	BotToken       string
	InitDataMaxAge time.Duration
	SessionSecret  string
	SessionIssuer  string
	SessionTTL     time.Duration
	Notify         bool
	InitialAdminID int64

	RequestsPerMinute int
	BodyLimitBytes    int64

	LogLevel  string
	LogFormat string
	LogFile   string

	toleranceBasisPoints int64
}

// Validate applies defaults and rejects unusable settings.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.TonCenterBaseURL = defaultIfEmpty(cfg.TonCenterBaseURL, defaultTonCenterBaseURL)
	cfg.TolerancePercent = defaultIfEmpty(cfg.TolerancePercent, defaultTolerancePercent)
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.LogLevel = defaultIfEmpty(cfg.LogLevel, defaultLogLevel)
	cfg.LogFormat = defaultIfEmpty(cfg.LogFormat, defaultLogFormat)
	if cfg.BroadcastTimeout <= 0 {
		cfg.BroadcastTimeout = 10 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = settlement.DefaultInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = settlement.DefaultAttempts
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = settlement.DefaultFetchLimit
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = time.Minute
	}
	if cfg.InitDataMaxAge <= 0 {
		cfg.InitDataMaxAge = time.Hour
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}

	if strings.TrimSpace(cfg.MerchantAddress) == "" {
		return fmt.Errorf("merchant address is required")
	}
	if strings.TrimSpace(cfg.BotToken) == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	if cfg.SessionSecret != "" && len(cfg.SessionSecret) < minSessionSecretLength {
		return fmt.Errorf("session secret must be at least %d characters", minSessionSecretLength)
	}
	if cfg.InitialAdminID < 0 {
		return fmt.Errorf("initial admin id must be positive")
	}
	basisPoints, err := settlement.ParseTolerancePercent(cfg.TolerancePercent)
	if err != nil {
		return err
	}
	cfg.toleranceBasisPoints = basisPoints
	return nil
}

// ToleranceBasisPoints returns the parsed settlement tolerance; valid after Validate.
func (cfg Config) ToleranceBasisPoints() int64 {
	return cfg.toleranceBasisPoints
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins, dropping blanks.
func ParseAllowedOrigins(raw string) []string {
	origins := []string{}
	for _, part := range strings.Split(raw, ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
