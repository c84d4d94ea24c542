package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-billing-sync/adapters/kafka"
	"github.com/spf13/cobra"
)

func newConsumeCommand(opts *rootOptions) *cobra.Command {
	readerCfg := kafka.ReaderConfig{}
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume webhook events from Kafka until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := readerCfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			reader, err := kafka.NewReader(readerCfg)
			if err != nil {
				return err
			}
			source, err := kafka.NewSource(reader, rt.engine, kafka.WithLogger(rt.logger))
			if err != nil {
				_ = reader.Close()
				return err
			}
			defer source.Close()

			if err := rt.engine.Start(ctx); err != nil {
				return err
			}
			rt.logger.Info("consuming billing events",
				"topics", readerCfg.Topics,
				"group_id", readerCfg.GroupID,
			)
			runErr := source.Run(ctx)

			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := rt.engine.Stop(stopCtx); err != nil && runErr == nil {
				runErr = err
			}
			rt.engine.DrainUpdates(stopCtx)
			return runErr
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVar(&readerCfg.Brokers, "brokers", []string{"localhost:9092"}, "kafka brokers")
	flags.StringVar(&readerCfg.GroupID, "group", "billingsync", "consumer group id")
	flags.StringSliceVar(&readerCfg.Topics, "topic", []string{"billing-webhooks"}, "topics to consume")
	flags.DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "time allowed for periodic tasks to finish")
	return cmd
}
