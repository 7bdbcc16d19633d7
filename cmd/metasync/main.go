// Command metasync runs template reconciliation against the Graph API
// without starting the server.
package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"whatsapp-inbox/internal/config"
	"whatsapp-inbox/internal/database"
	"whatsapp-inbox/internal/logging"
	"whatsapp-inbox/internal/metasync"
	"whatsapp-inbox/internal/repository"
	"whatsapp-inbox/internal/whatsapp"
)

func main() {
	root := &cobra.Command{
		Use:          "metasync",
		Short:        "Reconcile WABA accounts and message templates with Meta",
		SilenceUsage: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "sync",
			Short: "Pull accounts and templates from Meta into the database",
			RunE: withReconciler(func(ctx context.Context, r *metasync.Reconciler, _ []string) (any, error) {
				return r.SyncFromMeta(ctx), nil
			}),
		},
		&cobra.Command{
			Use:   "compare",
			Short: "Diff local templates against Meta without writing",
			RunE: withReconciler(func(ctx context.Context, r *metasync.Reconciler, _ []string) (any, error) {
				return r.CompareWithMeta(ctx)
			}),
		},
		&cobra.Command{
			Use:   "refresh <template-id>",
			Short: "Refresh one template's status from Meta",
			Args:  cobra.ExactArgs(1),
			RunE: withReconciler(func(ctx context.Context, r *metasync.Reconciler, args []string) (any, error) {
				return r.RefreshTemplateStatus(ctx, args[0])
			}),
		},
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type reconcilerFunc func(ctx context.Context, r *metasync.Reconciler, args []string) (any, error)

// withReconciler wires config, logging and storage around fn and prints
// its result as indented JSON.
func withReconciler(fn reconcilerFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		log, err := logging.Init(cfg)
		if err != nil {
			return err
		}
		defer log.Sync()

		db, err := database.Open(cfg)
		if err != nil {
			return err
		}
		r := metasync.NewReconciler(repository.New(db), whatsapp.NewClient(cfg), cfg.WhatsAppBusinessAccountID)

		out, err := fn(cmd.Context(), r, args)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
}
