package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deep-research/internal/events"
	"github.com/sells-group/deep-research/internal/model"
	"github.com/sells-group/deep-research/internal/store"
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Inspect and manage research runs",
	Long:  "Commands for listing, viewing, cancelling, deleting and sharing research runs.",
}

// -- research list --

var researchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List research runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		user, _ := cmd.Flags().GetString("user")
		status, _ := cmd.Flags().GetString("status")
		topic, _ := cmd.Flags().GetString("topic")
		limit, _ := cmd.Flags().GetInt("limit")

		list, err := st.ListResearch(ctx, store.ResearchFilter{
			UserID: user,
			Status: model.ResearchStatus(status),
			Topic:  topic,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "research list")
		}

		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No research found.")
			return nil
		}

		formatResearchList(os.Stdout, list)
		return nil
	},
}

// -- research get --

var researchGetCmd = &cobra.Command{
	Use:   "get <research-id>",
	Short: "Show a research with its tasks, fact checks and report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		detail, err := st.GetDetail(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "research get")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, detail)
		}
		formatDetail(os.Stdout, detail)
		return nil
	},
}

// -- research cancel --

var researchCancelCmd = &cobra.Command{
	Use:   "cancel <research-id>",
	Short: "Cancel a running research",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pub := events.Publisher(events.NewRegistry())
		if cfg.Redis.URL != "" {
			client, err := newRedisClient(ctx, cfg.Redis.URL)
			if err != nil {
				zap.L().Warn("redis unavailable, live streams will not be notified", zap.Error(err))
			} else {
				defer client.Close() //nolint:errcheck
				pub = events.NewRedisBridge(client, events.NewRegistry())
			}
		}

		if err := cancelResearch(ctx, st, pub, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Cancelled %s\n", args[0])
		return nil
	},
}

// -- research delete --

var researchDeleteCmd = &cobra.Command{
	Use:   "delete <research-id>",
	Short: "Delete a finished research and everything it produced",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := deleteResearch(ctx, st, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Deleted %s\n", args[0])
		return nil
	},
}

// -- research share --

var researchShareCmd = &cobra.Command{
	Use:   "share <research-id>",
	Short: "Create or show the public share link of a completed research",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		token, err := shareResearch(ctx, st, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "token: %s\nurl:   /api/share/%s\n", token, token)
		return nil
	},
}

func init() {
	researchListCmd.Flags().String("user", "", "filter by owner user id")
	researchListCmd.Flags().String("status", "", "filter by status (pending, collecting, phase1..phase4, finalizing, completed, failed)")
	researchListCmd.Flags().String("topic", "", "filter by topic substring")
	researchListCmd.Flags().Int("limit", 20, "max number of research runs to display")

	researchGetCmd.Flags().Bool("json", false, "print as JSON")

	researchCmd.AddCommand(researchListCmd)
	researchCmd.AddCommand(researchGetCmd)
	researchCmd.AddCommand(researchCancelCmd)
	researchCmd.AddCommand(researchDeleteCmd)
	researchCmd.AddCommand(researchShareCmd)
	rootCmd.AddCommand(researchCmd)
}

// cancelResearch marks an active research failed with the cancellation
// message and tells live streams. The running pipeline notices at its
// next checkpoint.
func cancelResearch(ctx context.Context, st store.Store, pub events.Publisher, id string) error {
	r, err := st.GetResearch(ctx, id)
	if err != nil {
		return eris.Wrap(err, "research cancel")
	}
	if !r.Status.IsActive() {
		return eris.Errorf("research %s is %s, only running research can be cancelled", id, r.Status)
	}

	failed := model.StatusFailed
	msg := model.CancelledMessage
	now := time.Now().UTC()
	if err := st.UpdateResearch(ctx, id, model.ResearchUpdate{
		Status:       &failed,
		ErrorMessage: &msg,
		CompletedAt:  &now,
	}); err != nil {
		return eris.Wrap(err, "research cancel")
	}

	pub.Publish(model.Event{
		Type:       model.EventPipelineError,
		ResearchID: id,
		Message:    msg,
		Error:      msg,
		Timestamp:  now,
	})
	return nil
}

func deleteResearch(ctx context.Context, st store.Store, id string) error {
	r, err := st.GetResearch(ctx, id)
	if err != nil {
		return eris.Wrap(err, "research delete")
	}
	if r.Status.IsActive() {
		return eris.Errorf("research %s is still running, cancel it first", id)
	}
	return eris.Wrap(st.DeleteResearch(ctx, id), "research delete")
}

func shareResearch(ctx context.Context, st store.Store, id string) (string, error) {
	r, err := st.GetResearch(ctx, id)
	if err != nil {
		return "", eris.Wrap(err, "research share")
	}
	if r.Status != model.StatusCompleted {
		return "", eris.Errorf("research %s is %s, only completed research can be shared", id, r.Status)
	}
	token, err := st.EnsureShareToken(ctx, id)
	if err != nil {
		return "", eris.Wrap(err, "research share")
	}
	return token, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatResearchList writes a tabular list of research runs to out.
func formatResearchList(out io.Writer, list []model.Research) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTOPIC\tMODE\tSTATUS\tPROGRESS\tCREATED")
	for _, r := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%s\n",
			r.ID,
			truncateTopic(r.Topic, 40),
			r.Mode,
			r.Status,
			r.ProgressPercent,
			r.CreatedAt.Format(time.DateTime),
		)
	}
	_ = w.Flush()
}

// formatDetail writes a human-readable summary of a research.
func formatDetail(out io.Writer, d *model.ResearchDetail) {
	_, _ = fmt.Fprintf(out, "Research %s\n", d.ID)
	_, _ = fmt.Fprintf(out, "  Topic:    %s\n", d.Topic)
	_, _ = fmt.Fprintf(out, "  Mode:     %s\n", d.Mode)
	_, _ = fmt.Fprintf(out, "  Status:   %s (%d%%)\n", d.Status, d.ProgressPercent)
	if d.ErrorMessage != "" {
		_, _ = fmt.Fprintf(out, "  Error:    %s\n", d.ErrorMessage)
	}
	_, _ = fmt.Fprintf(out, "  Sources:  %d\n", len(d.Sources))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "\nTASK\tNAME\tSTATUS")
	for _, t := range d.Tasks {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", t.TaskID, t.TaskName, t.Status)
	}
	_ = w.Flush()

	if len(d.FactChecks) > 0 {
		_, _ = fmt.Fprintln(out, "\nFact checks:")
		for _, fc := range d.FactChecks {
			_, _ = fmt.Fprintf(out, "  [%s] %s\n", fc.Grade, fc.Claim)
		}
	}

	if d.Report != nil {
		_, _ = fmt.Fprintf(out, "\nExecutive summary:\n%s\n", strings.TrimSpace(d.Report.ExecutiveSummary))
	}
}

func truncateTopic(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
