package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newMetaCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "meta",
		Short: "Print store usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(opts.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			m, err := a.db.Meta()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "PARTITION\tENTRIES\tDISK\tSEGMENTS\tLIMIT")
			_, _ = fmt.Fprintf(w, "claims\t%d\t%d\t%d\t%d\n", m.ClaimEntries, m.ClaimDiskSpace, m.ClaimSegments, m.ClaimSizeLimit)
			_, _ = fmt.Fprintf(w, "logs\t%d\t%d\t%d\t%d\n", m.LogEntries, m.LogDiskSpace, m.LogSegments, m.LogSizeLimit)
			_, _ = fmt.Fprintf(w, "journal\t-\t%d\t%d partitions\t%d\n", m.JournalDiskSpace, m.PartitionCount, m.PartitionSizeLimit)
			return w.Flush()
		},
	}
}

func newLogsCommand(opts *rootOptions) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the audit log, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(opts.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			entries, err := a.svc.AuditLog()
			if err != nil {
				return err
			}
			if n > 0 && len(entries) > n {
				entries = entries[len(entries)-n:]
			}
			for _, e := range entries {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), e)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "tail", "n", 0, "only the most recent n entries (0 = all)")
	return cmd
}

func newPayoutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "payout",
		Short: "Print the minimum, current and maximum payout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(opts.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			q, err := a.svc.PayoutRange(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "min %s\ncurrent %s\nmax %s\n", q.Min, q.Current, q.Max)
			return nil
		},
	}
}

func newClaimCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <name@namespace>",
		Short: "Submit one claim and print the transfer id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			tx, err := a.svc.SubmitClaim(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tx)
			return nil
		},
	}
}
