package main

import (
	"context"
	"encoding/json"
	"os"

	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	"github.com/smallbiznis/uplink/internal/seed"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newSeedCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import members from a CSV file",
		Long:  "Import members from a CSV file with the columns id, referrer_id, subscription_status and tier. Existing members are skipped.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			ctx, cancel := signalContext()
			defer cancel()

			var (
				svc networkdomain.Service
				log *zap.Logger
			)
			app := fx.New(
				infrastructure(),
				domain(),
				quiet(),
				fx.Populate(&svc, &log),
			)
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() {
				_ = app.Stop(context.Background())
			}()

			res, err := seed.ImportMembers(ctx, svc, log, f)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV file to import")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
