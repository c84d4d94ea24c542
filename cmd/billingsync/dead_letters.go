package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newDeadLettersCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "Inspect retries that exhausted their attempts",
	}

	var (
		eventType string
		limit     int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openStoreRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()
			records, err := rt.stores.DeadLetterStore().List(commandContext(cmd), eventType, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), records)
		},
	}
	list.Flags().StringVar(&eventType, "event-type", "", "only list this event type")
	list.Flags().IntVarP(&limit, "limit", "n", 50, "maximum records")

	remove := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a dead letter once it has been handled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openStoreRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.stores.DeadLetterStore().Delete(commandContext(cmd), args[0])
		},
	}

	cmd.AddCommand(list, remove)
	return cmd
}

func openStoreRuntime(cmd *cobra.Command, opts *rootOptions) (*runtime, error) {
	rt, err := openRuntime(commandContext(cmd), opts, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	if rt.stores == nil {
		_ = rt.Close()
		return nil, fmt.Errorf("billingsync: dead letters need a database, set --db-dsn")
	}
	return rt, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
