package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/sendry-lab/internal/actionlog"
	"github.com/foxzi/sendry-lab/internal/app"
)

var (
	actionsSalon string
	actionsType  string
	actionsLimit int

	cleanupDryRun bool
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Automation action log commands",
}

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded automation actions, newest first",
	RunE:  runActionsList,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Expire old recommendations and prune the action log",
	RunE:  runCleanup,
}

func init() {
	actionsListCmd.Flags().StringVar(&actionsSalon, "salon", "", "Filter by salon ID")
	actionsListCmd.Flags().StringVar(&actionsType, "type", "", "Filter by action type")
	actionsListCmd.Flags().IntVar(&actionsLimit, "limit", 50, "Maximum number of entries to show")

	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show the cutoff without deleting anything")

	actionsCmd.AddCommand(actionsListCmd)
	rootCmd.AddCommand(actionsCmd, cleanupCmd)
}

func runActionsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := actionlog.Open(cfg.ActionLog.Path)
	if err != nil {
		return fmt.Errorf("failed to open action log: %w", err)
	}
	defer log.Close()

	entries, err := log.List(context.Background(), actionlog.ListFilter{
		SalonID:    actionsSalon,
		ActionType: actionsType,
		Limit:      actionsLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list actions: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No actions recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSALON\tACTION\tSTATUS\tBY\tDESCRIPTION")
	fmt.Fprintln(w, "----\t-----\t------\t------\t--\t-----------")
	for _, e := range entries {
		desc := e.Description
		if len(desc) > 60 {
			desc = desc[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.SalonID,
			e.ActionType,
			e.Status,
			e.TriggeredBy,
			desc,
		)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d entries\n", len(entries))

	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	now := time.Now()
	cutoff := now.Add(-cfg.ActionLog.Retention)
	if cleanupDryRun {
		fmt.Println("Dry run mode - no data will be changed")
		fmt.Printf("Recommendations expiring before: %s\n", now.Format(time.RFC3339))
		fmt.Printf("Action log cutoff:               %s\n", cutoff.Format(time.RFC3339))
		return nil
	}

	database, store, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer closeDB(database)

	log, err := actionlog.Open(cfg.ActionLog.Path)
	if err != nil {
		return fmt.Errorf("failed to open action log: %w", err)
	}
	defer log.Close()

	ctx := context.Background()
	expired, err := store.ExpireRecommendations(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to expire recommendations: %w", err)
	}
	fmt.Printf("Expired recommendations: %d\n", expired)

	pruned, err := log.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune action log: %w", err)
	}
	fmt.Printf("Pruned action log entries: %d\n", pruned)

	fmt.Println("\nCleanup completed")
	return nil
}
