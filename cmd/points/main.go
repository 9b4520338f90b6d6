package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/pointsledger/internal/events"
	"github.com/MarkoPoloResearchLab/pointsledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/pointsledger/internal/logging"
	"github.com/MarkoPoloResearchLab/pointsledger/internal/spending"
	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagFile           = "file"
	flagDatabaseURL    = "database-url"
	flagStore          = "store"
	flagCapacityPolicy = "capacity-policy"
	flagLogLevel       = "log-level"
	flagListenAddr     = "listen-addr"
	flagAllowedOrigins = "allowed-origins"
	envPrefix          = "POINTS"

	defaultFile     = "transactions.csv"
	defaultStore    = storeGorm
	defaultLogLevel = "info"
)

type runtimeConfig struct {
	File           string
	DatabaseURL    string
	Store          string
	CapacityPolicy ledger.CapacityPolicy
	LogLevel       string
	HTTP           httpapi.Config
}

func main() {
	cmd := newRootCommand(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "points: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	cfg := &runtimeConfig{}
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "points",
		Short:         "Oldest-first points ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, v, cfg)
		},
	}
	cmd.SetOut(stdout)

	cmd.PersistentFlags().String(flagFile, defaultFile, "CSV file with payer,points,timestamp rows")
	cmd.PersistentFlags().String(flagDatabaseURL, "", "sqlite or PostgreSQL URL; read events from the database instead of the CSV file")
	cmd.PersistentFlags().String(flagStore, defaultStore, "database access layer: gorm or pgx")
	cmd.PersistentFlags().String(flagCapacityPolicy, ledger.CapacityPolicyStrict.String(), "strict or clamp handling of over-capacity debits and spends")
	cmd.PersistentFlags().String(flagLogLevel, defaultLogLevel, "log level")

	cmd.AddCommand(newSpendCommand(cfg), newImportCommand(cfg), newServeCommand(cfg))
	return cmd
}

func newSpendCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "spend AMOUNT",
		Short: "Spend AMOUNT points oldest-first and print the remaining balance per payer",
		Long: `Spend AMOUNT points oldest-first and print the remaining balance per payer.

AMOUNT must be a non-negative integer. A leading "-" is read as a flag, so
pass a negative value after "--" (points spend -- -5) to have it rejected
as an invalid amount rather than an unknown flag.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := ledger.ParseSpendAmount(args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(ctx context.Context, service *spending.Service, _ *zap.Logger) error {
				result, err := service.Spend(ctx, amount)
				if err != nil {
					return err
				}
				return printBalances(cmd.OutOrStdout(), result.Balances)
			})
		},
	}
}

func newImportCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Load the CSV file into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("%s is required for import", flagDatabaseURL)
			}
			loaded, err := events.ReadFile(cfg.File)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(ctx context.Context, service *spending.Service, logger *zap.Logger) error {
				if err := service.AddEvents(ctx, loaded); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d events\n", len(loaded))
				return nil
			})
		},
	}
}

func newServeCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the points HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withService(ctx, cfg, func(ctx context.Context, service *spending.Service, logger *zap.Logger) error {
				return httpapi.Run(ctx, cfg.HTTP, service, logger)
			})
		},
	}
	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	return cmd
}

func loadConfig(cmd *cobra.Command, v *viper.Viper, cfg *runtimeConfig) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg.File = strings.TrimSpace(v.GetString(flagFile))
	if cfg.File == "" {
		cfg.File = defaultFile
	}
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.Store = strings.ToLower(strings.TrimSpace(v.GetString(flagStore)))
	if cfg.Store == "" {
		cfg.Store = defaultStore
	}
	if cfg.Store != storeGorm && cfg.Store != storePGX {
		return fmt.Errorf("%s must be %q or %q", flagStore, storeGorm, storePGX)
	}
	policy, err := ledger.ParseCapacityPolicy(v.GetString(flagCapacityPolicy))
	if err != nil {
		return err
	}
	cfg.CapacityPolicy = policy
	cfg.LogLevel = strings.TrimSpace(v.GetString(flagLogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	cfg.HTTP.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.HTTP.AllowedOrigins = httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	return nil
}

func withService(ctx context.Context, cfg *runtimeConfig, fn func(ctx context.Context, service *spending.Service, logger *zap.Logger) error) error {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	source, cleanup, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	service, err := spending.NewService(source, cfg.CapacityPolicy, logger)
	if err != nil {
		return fmt.Errorf("spending service init: %w", err)
	}
	return fn(ctx, service, logger)
}

func printBalances(writer io.Writer, balances ledger.Balances) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(balances)
}
