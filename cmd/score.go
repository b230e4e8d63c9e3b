package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/vetdispatch/core/model"
	"github.com/kilianp07/vetdispatch/core/reliability"
)

var profile model.ReliabilityProfile

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute a reliability score from cancellation counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		if profile.LateCancellations < 0 || profile.NoShows < 0 || profile.OnTimeCancellations < 0 || profile.EmergencyIncidents < 0 {
			return fmt.Errorf("counters must not be negative")
		}
		fmt.Fprintln(cmd.OutOrStdout(), reliability.Score(profile))
		return nil
	},
}

func init() {
	f := scoreCmd.Flags()
	f.IntVar(&profile.LateCancellations, "late", 0, "late cancellations")
	f.IntVar(&profile.NoShows, "no-shows", 0, "no-shows")
	f.IntVar(&profile.OnTimeCancellations, "on-time", 0, "on-time cancellations")
	f.IntVar(&profile.EmergencyIncidents, "incidents", 0, "post-acceptance emergency incidents")
	rootCmd.AddCommand(scoreCmd)
}
