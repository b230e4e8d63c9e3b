package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/vetdispatch/qa/scenarios"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>...",
	Short: "Replay dispatch scenarios on a virtual clock",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	failed := 0
	out := cmd.OutOrStdout()
	for _, path := range args {
		sc, err := scenarios.Load(path)
		if err != nil {
			return err
		}
		res, err := scenarios.Run(cmd.Context(), sc)
		if err == nil {
			err = scenarios.Verify(sc, res)
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", sc.Name, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s: %s after %d attempt(s)\n", sc.Name, res.Request.Status, res.Request.Attempts)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenario(s) failed", failed, len(args))
	}
	return nil
}
