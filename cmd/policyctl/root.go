package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/agenticcore/platform/internal/infra"
	"github.com/agenticcore/platform/internal/reconcile"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. Subcommands that need the policy core
// open it through conn after their arguments are validated.
func newRootCmd(logger *slog.Logger, conn connector) *cobra.Command {
	var cfg *infra.Config

	root := &cobra.Command{
		Use:           "policyctl",
		Short:         "Operator CLI for the policy event store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c, err := infra.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := c.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			cfg = c
			return nil
		},
	}

	withEnv := func(cmd *cobra.Command, fn func(e *env) error) error {
		e, err := conn(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer e.close()
		return fn(e)
	}

	root.AddCommand(
		newMigrateCmd(logger, func() *infra.Config { return cfg }),
		newEventsCmd(withEnv),
		newShowCmd(withEnv),
		newListCmd(withEnv),
		newRebuildCmd(withEnv),
		newReconcileCmd(withEnv),
	)
	return root
}

type envRunner func(cmd *cobra.Command, fn func(e *env) error) error

func newMigrateCmd(logger *slog.Logger, cfg func() *infra.Config) *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations, or roll back with --down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if down > 0 {
				return infra.RollbackMigrations(cfg().DSN(), down, logger)
			}
			return infra.RunMigrations(cfg().DSN(), logger)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "number of migrations to roll back")
	return cmd
}

func newEventsCmd(withEnv envRunner) *cobra.Command {
	var payload bool
	cmd := &cobra.Command{
		Use:   "events <policy-id>",
		Short: "Print a policy's event history in version order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEnv(cmd, func(e *env) error {
				events, err := e.service.GetEvents(cmd.Context(), id)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tTYPE\tOCCURRED_AT\tACTOR\tCORRELATION_ID")
				for _, ev := range events {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s:%s\t%s\n", ev.Version, ev.Type(),
						ev.Metadata.Timestamp.UTC().Format(time.RFC3339Nano),
						ev.Metadata.Actor.Type, ev.Metadata.Actor.ID, ev.Metadata.CorrelationID)
					if payload {
						b, err := json.Marshal(ev.Payload)
						if err != nil {
							return fmt.Errorf("encode payload v%d: %w", ev.Version, err)
						}
						fmt.Fprintf(w, "\t%s\n", b)
					}
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&payload, "payload", false, "print each event's payload")
	return cmd
}

func newShowCmd(withEnv envRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "show <policy-id | policy-number>",
		Short: "Print a policy's read-model summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(e *env) error {
				ctx := cmd.Context()
				id, err := uuid.Parse(args[0])
				if err != nil {
					row, err := e.service.GetPolicyByNumber(ctx, args[0])
					if err != nil {
						return err
					}
					id = row.ID
				}
				summary, err := e.service.GetPolicy(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
}

func newListCmd(withEnv envRunner) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "list --account <account-id>",
		Short: "List an account's policies, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(e *env) error {
				rows, err := e.service.ListByAccount(cmd.Context(), account)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tPOLICY_NUMBER\tSTATUS\tPREMIUM\tVERSION")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.ID, dash(r.PolicyNumber), r.Status, r.Premium, r.Version)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newRebuildCmd(withEnv envRunner) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "rebuild [policy-id...]",
		Short: "Rebuild read-model rows from event history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return fmt.Errorf("pass policy ids or --all, not both")
			}
			ids := make([]uuid.UUID, 0, len(args))
			for _, a := range args {
				id, err := parseID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return withEnv(cmd, func(e *env) error {
				if all {
					report, err := e.reconciler.RunAll(cmd.Context(), true)
					if err != nil {
						return err
					}
					return printReport(cmd.OutOrStdout(), report)
				}
				for _, id := range ids {
					if err := e.reconciler.Repair(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %s\n", id)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "rebuild every policy that fails reconciliation")
	return cmd
}

func newReconcileCmd(withEnv envRunner) *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check every policy's history against its read model and snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(e *env) error {
				report, err := e.reconciler.RunAll(cmd.Context(), repair)
				if err != nil {
					return err
				}
				if err := printReport(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if report.Failed > 0 || report.Errors > 0 {
					return fmt.Errorf("reconciliation found %d failing and %d erroring policies", report.Failed, report.Errors)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "rebuild read models that fail their checks")
	return cmd
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid policy id %q: %w", s, err)
	}
	return id, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport writes one line per policy that did not pass cleanly, then
// the totals.
func printReport(w io.Writer, r *reconcile.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, res := range r.Results {
		switch {
		case res.Err != nil:
			fmt.Fprintf(tw, "%s\terror\t%v\n", res.AggregateID, res.Err)
		case res.Repaired:
			fmt.Fprintf(tw, "%s\trepaired\t\n", res.AggregateID)
		case !res.AllPassed:
			fmt.Fprintf(tw, "%s\tfailed\t%v\n", res.AggregateID, res.Failed())
		}
	}
	fmt.Fprintf(tw, "checked=%d failed=%d repaired=%d errors=%d\n", r.Checked, r.Failed, r.Repaired, r.Errors)
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
