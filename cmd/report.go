package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deep-research/internal/model"
	"github.com/sells-group/deep-research/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Work with final reports",
}

var reportRegenerateCmd = &cobra.Command{
	Use:   "regenerate <research-id>",
	Short: "Rebuild the final report of a finished research from its stored phase results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := checkRegenerable(ctx, env.Store, args[0]); err != nil {
			return err
		}

		report, err := env.Pipeline.Regenerate(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "report regenerate")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, report)
		}
		fmt.Fprintln(os.Stdout, report.FullReport)
		return nil
	},
}

func init() {
	reportRegenerateCmd.Flags().Bool("json", false, "print the report as JSON")
	reportCmd.AddCommand(reportRegenerateCmd)
	rootCmd.AddCommand(reportCmd)
}

// checkRegenerable rejects research whose pipeline is still running.
func checkRegenerable(ctx context.Context, st store.Store, id string) error {
	r, err := st.GetResearch(ctx, id)
	if err != nil {
		return eris.Wrap(err, "report regenerate")
	}
	if r.Status == model.StatusPending || r.Status.IsActive() {
		return eris.Errorf("research %s is %s, wait for it to finish", id, r.Status)
	}
	return nil
}
