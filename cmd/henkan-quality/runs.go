package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"henkan/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored quality runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.Runs(limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tCASES\tLABEL")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.ID, r.StartedAt.Format(time.RFC3339), r.CaseCount, r.Label)
		}
		return w.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the per-source means of a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.Run(args[0])
		if err != nil {
			return err
		}
		scores, err := st.SourceScores(run.ID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "run %s (%s) %s\n", run.ID, run.Label, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
		for _, s := range scores {
			fmt.Fprintf(out, "%s : %g (%d cases)\n", s.Source, s.Mean, s.Cases)
		}

		if failures, _ := cmd.Flags().GetBool("failures"); failures {
			results, err := st.Results(run.ID)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Error != "" {
					fmt.Fprintf(out, "FAILED %s %s: %s\n", r.Source, r.Input, r.Error)
				}
			}
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a stored run and its results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		return st.DeleteRun(args[0])
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the results database schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		status, err := store.GetMigrationStatus(st.DB())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "schema version %d of %d\n", status.CurrentVersion, status.LatestVersion)
		for _, m := range status.Pending {
			fmt.Fprintf(out, "pending %d: %s\n", m.Version, m.Description)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd, showCmd, deleteCmd, schemaCmd)
	runsCmd.Flags().Int("limit", 20, "Maximum runs to list (0 for all)")
	showCmd.Flags().Bool("failures", false, "Also list failed cases")
}
