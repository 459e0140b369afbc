package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"rentme-deposits/internal/app/commands"
	depositsapp "rentme-deposits/internal/app/handlers/deposits"
	"rentme-deposits/internal/infra/security"
)

func init() {
	rootCmd.AddCommand(sweepCmd, releaseCmd, hashOpsKeyCmd, issueTokenCmd)

	sweepCmd.Flags().Int("limit", 0, "Maximum deposits to scan (0 uses SWEEP_LIMIT)")
	sweepCmd.Flags().Bool("dry-run", true, "Evaluate only; pass --dry-run=false to release")

	releaseCmd.Flags().String("booking", "", "Booking id whose deposit should be released")
	releaseCmd.Flags().String("caller", "", "Renter or owner id acting on the booking")
	_ = releaseCmd.MarkFlagRequired("booking")
	_ = releaseCmd.MarkFlagRequired("caller")

	issueTokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	issueTokenCmd.Flags().String("role", "user", "Role claim")
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation sweep and print its report",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if limit == 0 {
			limit = cfg.SweepLimit
		}

		app, err := buildApplication(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := commands.Dispatch[depositsapp.SweepDepositsCommand, *depositsapp.SweepResult](cmd.Context(), app.commands, depositsapp.SweepDepositsCommand{
			Limit:   limit,
			DryRun:  dryRun,
			Trigger: depositsapp.TriggerCLI,
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release one booking's deposit on behalf of a party",
	RunE: func(cmd *cobra.Command, args []string) error {
		booking, _ := cmd.Flags().GetString("booking")
		caller, _ := cmd.Flags().GetString("caller")

		app, err := buildApplication(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := commands.Dispatch[depositsapp.ReleaseDepositCommand, *depositsapp.ReleaseDepositResult](cmd.Context(), app.commands, depositsapp.ReleaseDepositCommand{
			BookingID: booking,
			CallerID:  caller,
		})
		if err != nil {
			var notEligible *depositsapp.NotEligibleError
			if errors.As(err, &notEligible) {
				return fmt.Errorf("%s: %s", depositsapp.ErrorCode(err), notEligible.Reason)
			}
			return fmt.Errorf("%s: %w", depositsapp.ErrorCode(err), err)
		}
		return printJSON(res)
	},
}

var hashOpsKeyCmd = &cobra.Command{
	Use:   "hash-ops-key KEY",
	Short: "Print the bcrypt hash to put in OPS_KEY_HASH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := security.HashOpsKey(args[0], bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token SUBJECT",
	Short: "Mint a caller token signed with JWT_SECRET, for local testing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET is not set")
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		role, _ := cmd.Flags().GetString("role")
		v := security.TokenVerifier{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer}
		token, err := v.Issue(args[0], role, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
