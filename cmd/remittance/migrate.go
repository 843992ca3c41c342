package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/remittance"
	"github.com/xraph/remittance/api"
	"github.com/xraph/remittance/state"
	"github.com/xraph/remittance/store/backend"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store migrations",
		Long:  "Create or upgrade the tables, collections and indexes of the configured store. It never writes ledger state.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			s, err := backend.Open(ctx, cfg.Remittance.Store)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.Remittance.Store.Driver)
			return nil
		},
	}
}

// statusReport is the output of the status command.
type statusReport struct {
	Driver      string             `json:"driver"`
	Initialized bool               `json:"initialized"`
	State       *state.State       `json:"state,omitempty"`
	Owners      []string           `json:"owners,omitempty"`
	Reconcile   *remittance.Report `json:"reconcile,omitempty"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		asJSON   bool
		decimals int32
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ledger state and run a conservation check",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			s, err := backend.Open(ctx, cfg.Remittance.Store)
			if err != nil {
				return err
			}
			defer s.Close()

			report := statusReport{Driver: cfg.Remittance.Store.Driver}
			st, err := s.LoadState(ctx)
			switch {
			case errors.Is(err, remittance.ErrNotInitialized):
			case err != nil:
				return err
			default:
				report.Initialized = true
				report.State = st

				owners, err := s.RoleMembers(ctx, remittance.OwnerRole)
				if err != nil {
					return err
				}
				for _, o := range owners {
					report.Owners = append(report.Owners, string(o))
				}

				// Reconcile only reads, so the ledger is not started.
				if report.Reconcile, err = remittance.New(s).Reconcile(ctx); err != nil {
					return err
				}
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			if !cmd.Flags().Changed("decimals") && cfg.Remittance.Decimals > 0 {
				decimals = cfg.Remittance.Decimals
			}
			if decimals < 0 {
				return fmt.Errorf("decimals %d: must not be negative", decimals)
			}
			return writeStatus(cmd.OutOrStdout(), report, decimals)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().Int32Var(&decimals, "decimals", api.DefaultDecimals, "Major-unit scale for printed amounts (overrides remittance.decimals)")
	return cmd
}
