package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/quota"
)

func newQuotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Quota inspection and administration",
	}

	cmd.AddCommand(newQuotaStatusCmd())
	cmd.AddCommand(newQuotaRenewCmd())
	cmd.AddCommand(newQuotaNearingCmd())
	return cmd
}

func newQuotaStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status <tenant-id>",
		Short: "Show a tenant's usage against its plan this month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			st, err := buildFor(out, configPath)
			if err != nil {
				return err
			}
			status, err := st.ledger.GetStatus(args[0], time.Now())
			if err != nil {
				return err
			}
			printStatus(out, status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

func newQuotaRenewCmd() *cobra.Command {
	var (
		configPath string
		amount     int
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "renew <tenant-id>",
		Short: "Add extra conversations to a tenant's current month",
		Long:  "Applies a top-up to the tenant's limit for the current month only. Top-ups stack and an audit row records each one.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			st, err := buildFor(out, configPath)
			if err != nil {
				return err
			}
			now := time.Now()
			if err := st.ledger.Renew(args[0], amount, reason, now); err != nil {
				return err
			}
			status, err := st.ledger.GetStatus(args[0], now)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Added %d conversations to %s\n", amount, args[0])
			printStatus(out, status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().IntVar(&amount, "amount", 0, "conversations to add (required, positive)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit trail")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func newQuotaNearingCmd() *cobra.Command {
	var (
		configPath string
		threshold  int
	)

	cmd := &cobra.Command{
		Use:   "nearing",
		Short: "List tenants at or above a usage threshold this month",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			st, err := buildFor(out, configPath)
			if err != nil {
				return err
			}
			list, err := st.ledger.ListNearingQuota(threshold, time.Now())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No tenants nearing quota")
				return nil
			}
			for _, s := range list {
				fmt.Fprintf(out, "%-24s %-10s %6d / %-6d (%d%%)\n",
					s.TenantID, s.Plan, s.Used, s.Limit, s.UsagePercent)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().IntVar(&threshold, "threshold", 0, "usage percent cutoff (default: configured nearing percent)")
	return cmd
}

// buildFor wires the stack for one-shot admin commands.
func buildFor(out io.Writer, configPath string) (*stack, error) {
	cfg, err := loadConfig(out, configPath)
	if err != nil {
		return nil, err
	}
	return buildStack(out, cfg)
}

func printStatus(out io.Writer, s *quota.Status) {
	fmt.Fprintf(out, "Tenant:    %s\n", s.TenantID)
	fmt.Fprintf(out, "Plan:      %s\n", s.Plan)
	if s.Unlimited {
		fmt.Fprintf(out, "Used:      %d (unlimited plan)\n", s.Used)
	} else {
		fmt.Fprintf(out, "Used:      %d / %d (%d%%)\n", s.Used, s.Limit, s.UsagePercent)
		fmt.Fprintf(out, "Remaining: %d\n", s.Remaining)
		if s.NearingQuota {
			fmt.Fprintln(out, "Warning:   nearing quota")
		}
	}
	fmt.Fprintf(out, "Resets:    %s (in %d days)\n", s.ResetDate.Format("2006-01-02"), s.DaysUntilReset)
}
