package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbd888/fraudwatchdog/internal/mcpserver"
)

func predictCmd() *cobra.Command {
	var (
		api     string
		session string
		profile string
		asJSON  bool
		tx      mcpserver.Transaction
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Score one transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := mcpserver.NewWatchdogClient(mcpserver.Config{APIURL: api, Session: session})
			raw, err := client.Predict(cmd.Context(), tx, profile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				fmt.Fprintln(out, string(raw))
				return nil
			}
			var res predictResponse
			if err := json.Unmarshal(raw, &res); err != nil {
				return fmt.Errorf("decode prediction: %w", err)
			}
			fmt.Fprintln(out, verdictStyle(res.Status).Render(res.Status))
			fmt.Fprintf(out, "  id:          %s\n", res.ID)
			fmt.Fprintf(out, "  probability: %s\n", res.Probability)
			fmt.Fprintf(out, "  amount:      %s\n", res.Amount)
			fmt.Fprintf(out, "  confidence:  %.4f (%s)\n", res.ConfidenceScore, res.MLOpsStatus)
			return nil
		},
	}

	cmd.Flags().StringVar(&api, "api", envOrDefault("WATCHDOG_API_URL", "http://127.0.0.1:8080"), "API base URL")
	cmd.Flags().StringVar(&session, "session", "", "X-Session-ID to send")
	cmd.Flags().StringVar(&profile, "profile", "", "Threshold profile")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw response")
	cmd.Flags().Float64Var(&tx.Time, "time", 0, "Transaction time in milliseconds")
	cmd.Flags().Float64Var(&tx.V1, "v1", 0, "V1")
	cmd.Flags().Float64Var(&tx.V2, "v2", 0, "V2")
	cmd.Flags().Float64Var(&tx.Amount, "amount", 0, "Amount")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}
