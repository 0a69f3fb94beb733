package main

import (
	"fmt"

	"github.com/govalues/decimal"
	machin "github.com/memes/machin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	ComputeCommandName = "compute"
	DigitsFlagName     = "digits"
	GuardFlagName      = "guard"
	LayoutFlagName     = "layout"
	DefaultDigitCount  = 100
)

// Implements the compute sub-command which calculates pi in-process.
func NewComputeCmd() *cobra.Command {
	computeCmd := &cobra.Command{
		Use:   ComputeCommandName,
		Short: "Compute the decimal digits of pi locally",
		Long: `Computes pi with the requested number of decimal digits and writes the result to stdout.

By default every digit written has been confirmed against the error bound of the calculation; use --guard to write the raw expansion including the unconfirmed guard digits.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(cmd, DigitsFlagName, GuardFlagName, LayoutFlagName)
		},
		RunE: computeMain,
	}
	computeCmd.PersistentFlags().IntP(DigitsFlagName, "d", DefaultDigitCount, "The number of decimal digits of pi to compute")
	computeCmd.PersistentFlags().Bool(GuardFlagName, false, "Include the guard digits of the calculation in the output")
	computeCmd.PersistentFlags().Bool(LayoutFlagName, false, "Write the digits in blocks of ten, fifty to a line")
	return computeCmd
}

// Compute sub-command entrypoint.
func computeMain(cmd *cobra.Command, _ []string) error {
	digits := viper.GetInt(DigitsFlagName)
	guard := viper.GetBool(GuardFlagName)
	logger := logger.WithValues(DigitsFlagName, digits, GuardFlagName, guard)
	logger.V(1).Info("Preparing calculation")
	machin.SetLogger(logger)
	ctx := cmd.Context()
	var result string
	var stats machin.Stats
	var approximation decimal.Decimal
	if guard {
		value, s, err := machin.PiContext(ctx, digits)
		if err != nil {
			return fmt.Errorf("failed to compute %d digits: %w", digits, err)
		}
		if approximation, err = value.Decimal(); err != nil {
			return fmt.Errorf("failed to approximate result: %w", err)
		}
		result, stats = value.String(), s
	} else {
		var err error
		result, stats, err = machin.PiCertain(ctx, digits)
		if err != nil {
			return fmt.Errorf("failed to compute %d digits: %w", digits, err)
		}
		if approximation, err = machin.Approximate(result); err != nil {
			return fmt.Errorf("failed to approximate result: %w", err)
		}
	}
	logger.V(0).Info("Calculation complete", "approximation", approximation.String(), "precision", stats.Precision, "iterations5", stats.Iterations5, "iterations239", stats.Iterations239, "errorBound", stats.ErrorBound())
	if viper.GetBool(LayoutFlagName) {
		if err := machin.Layout(cmd.OutOrStdout(), result); err != nil {
			return fmt.Errorf("failure writing result: %w", err)
		}
		return nil
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), result); err != nil {
		return fmt.Errorf("failure writing result: %w", err)
	}
	return nil
}
