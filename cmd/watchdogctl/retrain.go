package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbd888/fraudwatchdog/internal/mlops"
)

type retrainOptions struct {
	csv     string
	out     string
	maxRows int
	chaos   int
	trees   int
	seed    uint64
	version int
}

func retrainCmd() *cobra.Command {
	var opts retrainOptions
	cmd := &cobra.Command{
		Use:   "retrain",
		Short: "Retrain offline on the reference CSV plus synthetic chaos fraud",
		Long: `Retrain merges the reference dataset with synthetic rows that match the
simulator's chaos pattern, balances with SMOTE and writes the artifact the
server serves as its primary model.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetrain(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.csv, "csv", "data/creditcard.csv", "Reference dataset")
	cmd.Flags().StringVarP(&opts.out, "out", "o", envOrDefault("MODEL_PATH", "backend/model/fraud_v2.pkl.json"), "Artifact path")
	cmd.Flags().IntVar(&opts.maxRows, "max-rows", 50000, "Read at most this many rows (0 means all)")
	cmd.Flags().IntVar(&opts.chaos, "chaos", 5000, "Synthetic chaos fraud rows")
	cmd.Flags().IntVar(&opts.trees, "trees", 100, "Number of trees")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 42, "Random seed")
	cmd.Flags().IntVar(&opts.version, "version", 2, "Version stamped on the artifact")

	return cmd
}

func runRetrain(cmd *cobra.Command, opts retrainOptions) error {
	cfg := mlops.DefaultTrainerConfig()
	cfg.CSVPath = opts.csv
	cfg.CSVMaxRows = opts.maxRows
	cfg.JitterSamples = 0
	cfg.SafeSamples = 0
	cfg.LabeledLimit = 0
	cfg.ChaosSamples = opts.chaos
	cfg.Seed = opts.seed
	cfg.Forest.NEstimators = opts.trees
	cfg.Forest.Seed = opts.seed

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Retraining on %s + %d chaos rows (%d trees)...\n", opts.csv, opts.chaos, opts.trees)

	f, comp, err := mlops.NewTrainer(cfg).Train(cmd.Context(), mlops.Inputs{}, opts.version)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  Rows: csv=%d chaos=%d balanced=%d (fraud=%d legit=%d)\n",
		comp.CSV, comp.Chaos, comp.Balanced, comp.Fraud, comp.Legit)

	if err := f.Save(opts.out); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s model v%d saved to %s\n", okStyle.Render("OK"), f.Meta.Version, opts.out)
	return nil
}
