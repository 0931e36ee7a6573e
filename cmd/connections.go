package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"taskbridge/internal/activity"
	"taskbridge/internal/db"
	"taskbridge/internal/health"
	"taskbridge/internal/models"
	"taskbridge/internal/output"
)

var (
	connectionsStats    bool
	connectionsActivity bool
	connectionsAll      bool
	activityLimit       int
)

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "List repository connections",
	Long: `List repository connections with their health state.

By default only active and errored connections are shown; --all
includes disconnected ones. --stats prints aggregate counts and
--activity shows the recent task-linking event trail.`,
	RunE: runConnections,
}

func init() {
	rootCmd.AddCommand(connectionsCmd)

	connectionsCmd.Flags().BoolVar(&connectionsStats, "stats", false, "Show aggregate connection health")
	connectionsCmd.Flags().BoolVar(&connectionsActivity, "activity", false, "Show recent linking activity")
	connectionsCmd.Flags().BoolVarP(&connectionsAll, "all", "a", false, "Include disconnected connections")
	connectionsCmd.Flags().IntVarP(&activityLimit, "limit", "n", 20, "Number of activity events to show")
}

func newMonitor() *health.Monitor {
	return health.NewMonitor(db.GetDB(), slog.Default())
}

func runConnections(cmd *cobra.Command, args []string) error {
	formatter := output.New(IsJSONOutput())

	if connectionsStats {
		stats, err := newMonitor().AggregateStats()
		if err != nil {
			return fmt.Errorf("failed to aggregate stats: %w", err)
		}
		formatter.Stats(stats)
		return nil
	}

	if connectionsActivity {
		events, err := activity.NewPublisher(db.GetDB(), slog.Default()).Recent(activityLimit)
		if err != nil {
			return fmt.Errorf("failed to load activity: %w", err)
		}
		if len(events) == 0 && !IsJSONOutput() {
			formatter.Info("No activity yet")
			return nil
		}
		formatter.ActivityList(events)
		return nil
	}

	query := db.GetDB().Order("id")
	if !connectionsAll {
		query = query.Where("status != ?", models.ConnectionDisconnected)
	}

	var conns []models.Connection
	if err := query.Find(&conns).Error; err != nil {
		return fmt.Errorf("failed to load connections: %w", err)
	}

	if len(conns) == 0 && !IsJSONOutput() {
		formatter.Info("No connections. Use 'tbr connect <owner/repo>' to add one.")
		return nil
	}

	if IsJSONOutput() {
		formatter.ConnectionList(conns, "")
		return nil
	}

	fmt.Printf("Connections (%d):\n", len(conns))
	monitor := newMonitor()
	for i := range conns {
		formatter.ConnectionBrief(&conns[i])
		for _, issue := range monitor.Issues(&conns[i]) {
			fmt.Printf("    ! %s\n", issue)
		}
	}

	return nil
}
