package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/sendry-lab/internal/actionlog"
	"github.com/foxzi/sendry-lab/internal/app"
	"github.com/foxzi/sendry-lab/internal/db"
	"github.com/foxzi/sendry-lab/internal/optimizer"
	"github.com/foxzi/sendry-lab/internal/winner"
)

var (
	analyzeCommit     bool
	analyzeConfidence float64
	analyzeJSON       bool

	optimizeWindow   string
	optimizeCampaign string
	optimizeJSON     bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <campaign_id>",
	Short: "Analyze a campaign and recommend a winner",
	Long: `Run the winner analysis of a campaign against its control variant.
Without --commit the analysis is a dry run and nothing is written.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize <salon_id>",
	Short: "Generate optimization recommendations for a salon",
	Args:  cobra.ExactArgs(1),
	RunE:  runOptimize,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeCommit, "commit", false, "Commit the winner when the analysis recommends it")
	analyzeCmd.Flags().Float64Var(&analyzeConfidence, "confidence", 0, "Confidence level in percent (default: salon setting)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the full analysis as JSON")

	optimizeCmd.Flags().StringVar(&optimizeWindow, "window", "30d", "History window (7d, 30d, 90d, all)")
	optimizeCmd.Flags().StringVar(&optimizeCampaign, "campaign", "", "Limit history to one campaign")
	optimizeCmd.Flags().BoolVar(&optimizeJSON, "json", false, "Print recommendations as JSON")

	rootCmd.AddCommand(analyzeCmd, optimizeCmd)
}

// openEngines opens the record store and the action log for a one-shot command
func openEngines() (*app.Engines, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	database, store, err := app.OpenStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	actions, err := actionlog.Open(cfg.ActionLog.Path)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to open action log: %w", err)
	}

	logger := app.SetupLogger(cfg.Logging)
	closeFn := func() {
		actions.Close()
		closeDB(database)
	}
	return app.NewEngines(store, cfg, actions, logger), closeFn, nil
}

func closeDB(database *db.DB) {
	if err := database.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close database: %v\n", err)
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	engines, closeFn, err := openEngines()
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := engines.Selector.Analyze(context.Background(), args[0], winner.Options{
		ConfidenceLevel: analyzeConfidence,
		DryRun:          !analyzeCommit,
		TriggeredBy:     "cli",
	})
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if analyzeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Printf("Campaign:       %s\n", res.CampaignID)
	fmt.Printf("Recommendation: %s\n", res.Recommendation)
	if res.Reason != "" {
		fmt.Printf("Reason:         %s\n", res.Reason)
	}

	if len(res.Variants) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VARIANT\tDELIVERED\tCONVERSION\tLIFT\tP-VALUE\tSIGNIFICANT")
		fmt.Fprintln(w, "-------\t---------\t----------\t----\t-------\t-----------")
		for _, a := range res.Variants {
			fmt.Fprintf(w, "%s\t%d\t%.2f%%\t%+.2f%%\t%.4f\t%t\n",
				a.Name,
				a.Counters.Delivered,
				a.Rates.ConversionRate,
				a.Test.Improvement,
				a.Test.PValue,
				a.Test.IsSignificant,
			)
		}
		w.Flush()
	}

	if res.Winner != nil {
		fmt.Printf("\nWinner: %s (%s)\n", res.Winner.Name, res.Winner.VariantID)
	}
	if res.Committed {
		fmt.Println("Winner committed, campaign completed")
	} else if analyzeCommit && res.Winner != nil {
		fmt.Println("Winner not committed: automatic selection is disabled for the salon")
	}

	return nil
}

func runOptimize(cmd *cobra.Command, args []string) error {
	window, err := optimizer.ParseWindow(optimizeWindow)
	if err != nil {
		return err
	}

	engines, closeFn, err := openEngines()
	if err != nil {
		return err
	}
	defer closeFn()

	recs, err := engines.Optimizer.GenerateOptimizations(context.Background(), args[0], optimizer.Options{
		Window:      window,
		CampaignID:  optimizeCampaign,
		TriggeredBy: "cli",
	})
	if err != nil {
		return fmt.Errorf("optimization failed: %w", err)
	}

	if optimizeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	if len(recs) == 0 {
		fmt.Println("No recommendations (optimization disabled or not enough history)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tPRIORITY\tIMPROVEMENT\tCONFIDENCE\tTITLE")
	fmt.Fprintln(w, "----\t--------\t-----------\t----------\t-----")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.0f%%\t%s\n",
			r.Type,
			r.Priority,
			r.ExpectedImprovement,
			r.ConfidenceScore*100,
			r.Title,
		)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d recommendations\n", len(recs))

	return nil
}
