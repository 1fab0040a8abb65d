//go:build linux

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"henkan/internal/logging"
)

var crashesCmd = &cobra.Command{
	Use:   "crashes",
	Short: "List recorded engine crashes",
	RunE: func(cmd *cobra.Command, args []string) error {
		h := logging.NewCrashHandler(logging.CrashHandlerConfig{CrashDir: logging.DefaultCrashDir()})

		if maxAge, _ := cmd.Flags().GetDuration("prune"); maxAge > 0 {
			if err := h.CleanupOldCrashReports(maxAge); err != nil {
				return err
			}
		}

		reports, err := h.CrashReports()
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Println("No crash reports")
			return nil
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		for _, r := range reports {
			fmt.Printf("%s  %s  %s  %s\n", r.Timestamp.Format(time.RFC3339), r.Version, r.Goroutine, r.PanicValue)
			if verbose {
				fmt.Println(r.StackTrace)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(crashesCmd)
	crashesCmd.Flags().Duration("prune", 0, "Delete reports older than this first")
	crashesCmd.Flags().BoolP("verbose", "v", false, "Print stack traces")
}
