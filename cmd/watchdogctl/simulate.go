package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/fraudwatchdog/internal/dataset"
	"github.com/mbd888/fraudwatchdog/internal/mcpserver"
)

type simulateOptions struct {
	api       string
	session   string
	interval  time.Duration
	count     int
	chaosRate float64
	seed      uint64
}

// predictResponse is the subset of /predict the terminal shows.
type predictResponse struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	Probability     string  `json:"probability"`
	Amount          string  `json:"amount"`
	Prediction      string  `json:"prediction"`
	ConfidenceScore float64 `json:"confidence_score"`
	MLOpsStatus     string  `json:"mlops_status"`
}

func simulateCmd() *cobra.Command {
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Send random and chaos transactions to a running API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.api, "api", envOrDefault("WATCHDOG_API_URL", "http://127.0.0.1:8080"), "API base URL")
	cmd.Flags().StringVar(&opts.session, "session", "simulator", "X-Session-ID to send")
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Second, "Delay between transactions")
	cmd.Flags().IntVarP(&opts.count, "count", "n", 0, "Stop after this many transactions (0 runs until interrupted)")
	cmd.Flags().Float64Var(&opts.chaosRate, "chaos-rate", 0.5, "Fraction of chaos transactions")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "Random seed (0 picks one)")

	return cmd
}

func runSimulate(ctx context.Context, out io.Writer, opts simulateOptions) error {
	seed := opts.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	gen := dataset.NewGenerator(seed)
	client := mcpserver.NewWatchdogClient(mcpserver.Config{APIURL: opts.api, Session: opts.session, Timeout: 10 * time.Second})

	fmt.Fprintf(out, "Starting chaos simulation against %s\n", opts.api)
	fmt.Fprintln(out, mutedStyle.Render("------------------------------------------------------------"))

	var sent, flagged int
	for opts.count == 0 || sent < opts.count {
		vec, chaos := gen.SimulatedTransaction(opts.chaosRate)
		raw, err := client.PredictVector(ctx, vec, "")
		sent++
		if err != nil {
			fmt.Fprintln(out, fraudStyle.Render("request failed: "+err.Error()))
		} else {
			var res predictResponse
			if err := json.Unmarshal(raw, &res); err != nil {
				return fmt.Errorf("decode prediction: %w", err)
			}
			if res.Status == "FRAUD" {
				flagged++
			}
			fmt.Fprintln(out, formatSimulated(res, chaos))
		}

		if opts.count != 0 && sent >= opts.count {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.interval):
		}
	}

	fmt.Fprintf(out, "\nSent %d transactions, %d flagged as fraud.\n", sent, flagged)
	return nil
}

func formatSimulated(res predictResponse, chaos bool) string {
	kind := "normal"
	if chaos {
		kind = "chaos "
	}
	line := fmt.Sprintf("[%s] %-21s p=%-6s amount=%-9s %s", kind, res.Status, res.Probability, res.Amount, res.ID)
	if res.MLOpsStatus == "UNCERTAIN_GREY_ZONE" {
		line += " (grey zone)"
	}
	return verdictStyle(res.Status).Render(line)
}
