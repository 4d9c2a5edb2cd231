package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/tonstore/internal/storefrontd"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	flagConfigFile        = "config"
	flagListenAddr        = "listen-addr"
	flagGRPCListenAddr    = "grpc-listen-addr"
	flagDatabaseURL       = "database-url"
	flagAllowedOrigins    = "allowed-origins"
	flagMerchantAddress   = "merchant-address"
	flagTonCenterURL      = "toncenter-url"
	flagTonCenterAPIKey   = "toncenter-api-key"
	flagBroadcastTimeout  = "broadcast-timeout"
	flagFetchTimeout      = "fetch-timeout"
	flagPollInterval      = "poll-interval"
	flagPollAttempts      = "poll-attempts"
	flagFetchLimit        = "fetch-limit"
	flagTolerance         = "tolerance-percent"
	flagSenderLookback    = "sender-lookback"
	flagWorkers           = "workers"
	flagQueueCapacity     = "queue-capacity"
	flagRecoveryInterval  = "recovery-interval"
	flagBotToken          = "bot-token"
	flagInitDataMaxAge    = "init-data-max-age"
	flagSessionSecret     = "session-secret"
	flagSessionIssuer     = "session-issuer"
	flagSessionTTL        = "session-ttl"
	flagNotify            = "notify"
	flagInitialAdmin      = "initial-admin"
	flagRequestsPerMinute = "requests-per-minute"
	flagBodyLimit         = "body-limit-bytes"
	flagLogLevel          = "log-level"
	flagLogFormat         = "log-format"
	flagLogFile           = "log-file"
	envPrefix             = "STOREFRONT"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "storefrontd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := storefrontd.Config{}
	cmd := &cobra.Command{
		Use:           "storefrontd",
		Short:         "TON-paid storefront for accounts and username rentals",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return storefrontd.Run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagConfigFile, "", "optional config file (yaml, json or toml)")
	flags.String(flagListenAddr, "", "HTTP listen address")
	flags.String(flagGRPCListenAddr, "", "gRPC health listen address")
	flags.String(flagDatabaseURL, "", "postgres:// URL or sqlite path")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagMerchantAddress, "", "wallet address receiving payments (required)")
	flags.String(flagTonCenterURL, "", "toncenter v2 API base URL")
	flags.String(flagTonCenterAPIKey, "", "toncenter API key")
	flags.Duration(flagBroadcastTimeout, 0, "timeout for broadcasting a transaction")
	flags.Duration(flagFetchTimeout, 0, "timeout for one transaction history fetch")
	flags.Duration(flagPollInterval, 0, "delay before each verification poll")
	flags.Int(flagPollAttempts, 0, "verification polls before a payment is declared unverified")
	flags.Int(flagFetchLimit, 0, "transactions fetched per poll")
	flags.String(flagTolerance, "", "accepted amount deviation in percent (e.g. 2)")
	flags.Duration(flagSenderLookback, 0, "how far before record creation a payment may be dated")
	flags.Int(flagWorkers, 0, "settlement workers")
	flags.Int(flagQueueCapacity, 0, "settlement queue capacity")
	flags.Duration(flagRecoveryInterval, 0, "interval between PENDING recovery sweeps")
	flags.String(flagBotToken, "", "Telegram bot token used to validate initData (required)")
	flags.Duration(flagInitDataMaxAge, 0, "maximum age of Telegram initData")
	flags.String(flagSessionSecret, "", "HS256 secret for session tokens; sessions are disabled when empty")
	flags.String(flagSessionIssuer, "", "session token issuer")
	flags.Duration(flagSessionTTL, 0, "session token lifetime")
	flags.Bool(flagNotify, false, "send Telegram messages when a payment settles")
	flags.Int64(flagInitialAdmin, 0, "Telegram id granted admin rights at startup")
	flags.Int(flagRequestsPerMinute, 0, "per-client HTTP rate limit")
	flags.Int64(flagBodyLimit, 0, "maximum HTTP request body size")
	flags.String(flagLogLevel, "", "log level (debug, info, warn, error)")
	flags.String(flagLogFormat, "", "log format (json or console)")
	flags.String(flagLogFile, "", "optional rotated log file")

	cmd.AddCommand(newGrantAdminCommand())
	return cmd
}

func newGrantAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant-admin <telegram-id>",
		Short: "Grant admin rights to a Telegram user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := newViper()
			if err := v.BindPFlag(flagDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
				return err
			}
			telegramID, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil {
				return fmt.Errorf("telegram id %q: %w", args[0], err)
			}
			admin, err := storefrontd.GrantAdmin(cmd.Context(), v.GetString(flagDatabaseURL), telegramID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted admin to %d\n", admin.TelegramID.Int64())
			return nil
		},
	}
	cmd.Flags().String(flagDatabaseURL, "", "postgres:// URL or sqlite path")
	return cmd
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func loadConfig(cmd *cobra.Command, cfg *storefrontd.Config) error {
	v := newViper()
	var bindErr error
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if bindErr == nil {
			bindErr = v.BindPFlag(flag.Name, flag)
		}
	})
	if bindErr != nil {
		return bindErr
	}
	if configFile := strings.TrimSpace(v.GetString(flagConfigFile)); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.AllowedOrigins = storefrontd.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.MerchantAddress = strings.TrimSpace(v.GetString(flagMerchantAddress))
	cfg.TonCenterBaseURL = strings.TrimSpace(v.GetString(flagTonCenterURL))
	cfg.TonCenterAPIKey = v.GetString(flagTonCenterAPIKey)
	cfg.BroadcastTimeout = v.GetDuration(flagBroadcastTimeout)
	cfg.FetchTimeout = v.GetDuration(flagFetchTimeout)
	cfg.PollInterval = v.GetDuration(flagPollInterval)
	cfg.PollAttempts = v.GetInt(flagPollAttempts)
	cfg.FetchLimit = v.GetInt(flagFetchLimit)
	cfg.TolerancePercent = strings.TrimSpace(v.GetString(flagTolerance))
	cfg.SenderLookback = v.GetDuration(flagSenderLookback)
	cfg.Workers = v.GetInt(flagWorkers)
	cfg.QueueCapacity = v.GetInt(flagQueueCapacity)
	cfg.RecoveryInterval = v.GetDuration(flagRecoveryInterval)
	cfg.BotToken = v.GetString(flagBotToken)
	cfg.InitDataMaxAge = v.GetDuration(flagInitDataMaxAge)
	cfg.SessionSecret = v.GetString(flagSessionSecret)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagSessionIssuer))
	cfg.SessionTTL = v.GetDuration(flagSessionTTL)
	cfg.Notify = v.GetBool(flagNotify)
	cfg.InitialAdminID = v.GetInt64(flagInitialAdmin)
	cfg.RequestsPerMinute = v.GetInt(flagRequestsPerMinute)
	cfg.BodyLimitBytes = v.GetInt64(flagBodyLimit)
	cfg.LogLevel = strings.TrimSpace(v.GetString(flagLogLevel))
	cfg.LogFormat = strings.TrimSpace(v.GetString(flagLogFormat))
	cfg.LogFile = strings.TrimSpace(v.GetString(flagLogFile))

	return cfg.Validate()
}
