package main

import (
	"time"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	dbDriver   string
	dbDSN      string
	dbDebug    bool
	redisAddr  string
	cacheTTL   time.Duration
	logLevel   string
	otel       bool

	billingAPIURL string
	billingAPIKey string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "billingsync",
		Short:         "Process billing webhook events with crisis-aware subscription sync",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML engine config file")
	flags.StringVar(&opts.dbDriver, "db-driver", "sqlite3", "database driver (sqlite3, postgres)")
	flags.StringVar(&opts.dbDSN, "db-dsn", "file:billing.db?cache=shared", "database DSN; empty disables persistence")
	flags.BoolVar(&opts.dbDebug, "db-debug", false, "log SQL statements")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "redis address for the shared dedup ledger")
	flags.DurationVar(&opts.cacheTTL, "access-cache-ttl", time.Minute, "feature access cache TTL; 0 disables the cache")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.billingAPIURL, "billing-api-url", "", "billing API base URL used for subscription resync")
	flags.StringVar(&opts.billingAPIKey, "billing-api-key", "", "bearer token for the billing API")
	flags.BoolVar(&opts.otel, "otel", false, "record engine metrics through the global OpenTelemetry meter")

	cmd.AddCommand(newReplayCommand(opts))
	cmd.AddCommand(newConsumeCommand(opts))
	cmd.AddCommand(newDeadLettersCommand(opts))
	return cmd
}
