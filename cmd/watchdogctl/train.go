package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mbd888/fraudwatchdog/internal/dataset"
	"github.com/mbd888/fraudwatchdog/internal/forest"
	"github.com/mbd888/fraudwatchdog/internal/mlops"
)

type trainOptions struct {
	csv          string
	out          string
	maxRows      int
	trees        int
	seed         uint64
	testFraction float64
}

func trainCmd() *cobra.Command {
	var opts trainOptions
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the baseline model from the reference CSV",
		Long: `Train reads creditcard.csv, balances it with SMOTE, holds out a test
split, fits a forest on the rest and prints a classification report.
The artifact is written as version 1.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.csv, "csv", "data/creditcard.csv", "Reference dataset")
	cmd.Flags().StringVarP(&opts.out, "out", "o", envOrDefault("FALLBACK_MODEL_PATH", "backend/model/fraud_v1.pkl.json"), "Artifact path")
	cmd.Flags().IntVar(&opts.maxRows, "max-rows", 0, "Read at most this many rows (0 means all)")
	cmd.Flags().IntVar(&opts.trees, "trees", 50, "Number of trees")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 42, "Random seed")
	cmd.Flags().Float64Var(&opts.testFraction, "test-fraction", 0.2, "Held-out fraction for evaluation")

	return cmd
}

func runTrain(cmd *cobra.Command, opts trainOptions) error {
	if opts.testFraction <= 0 || opts.testFraction >= 1 {
		return fmt.Errorf("--test-fraction must be between 0 and 1")
	}
	cfg := mlops.DefaultTrainerConfig()
	cfg.CSVPath = opts.csv
	cfg.CSVMaxRows = opts.maxRows
	cfg.Seed = opts.seed
	cfg.Forest = forest.DefaultConfig()
	cfg.Forest.NEstimators = opts.trees
	cfg.Forest.Seed = opts.seed

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Training on %s (%d trees)...\n", opts.csv, opts.trees)

	f, report, err := mlops.NewTrainer(cfg).Bootstrap(cmd.Context(), opts.testFraction)
	if err != nil {
		return err
	}
	printReport(out, report)

	if err := f.Save(opts.out); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s model v%d saved to %s\n", okStyle.Render("OK"), f.Meta.Version, opts.out)
	return nil
}

func printReport(w io.Writer, r dataset.Report) {
	fmt.Fprintln(w, headerStyle.Render("Classification report"))
	fmt.Fprintf(w, "  Precision: %.4f\n", r.Precision)
	fmt.Fprintf(w, "  Recall:    %.4f\n", r.Recall)
	fmt.Fprintf(w, "  F1:        %.4f\n", r.F1)
	fmt.Fprintf(w, "  Accuracy:  %.4f\n", r.Accuracy)
	fmt.Fprintf(w, "  Confusion: tp=%d fp=%d tn=%d fn=%d\n", r.TruePositive, r.FalsePositive, r.TrueNegative, r.FalseNegative)
}
