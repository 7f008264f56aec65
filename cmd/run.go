package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deep-research/internal/model"
	"github.com/sells-group/deep-research/internal/pipeline"
	"github.com/sells-group/deep-research/internal/store"
)

const (
	defaultCLIUser = "cli"
	maxTopicRunes  = 500
	maxDescRunes   = 2000
)

var (
	runMode        string
	runDescription string
	runUser        string
	runJSON        bool
	runOutput      string
)

var runCmd = &cobra.Command{
	Use:   "run <topic>",
	Short: "Run one research in the foreground",
	Long:  "Creates a research for <topic>, runs the whole pipeline in this process and prints the result.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		r, err := newResearch(args[0], runDescription, runMode, runUser)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		detail, err := runResearch(ctx, env.Store, env.Pipeline, r)
		if err != nil {
			return err
		}

		if runOutput != "" && detail.Report != nil {
			if err := os.WriteFile(runOutput, []byte(detail.Report.FullReport), 0o644); err != nil {
				return eris.Wrap(err, "write report")
			}
			zap.L().Info("report written", zap.String("path", runOutput))
		}

		if runJSON {
			return writeJSON(os.Stdout, detail)
		}
		formatDetail(os.Stdout, detail)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", string(model.ModeFull), "pipeline mode (quick, full)")
	runCmd.Flags().StringVar(&runDescription, "description", "", "extra context for the research topic")
	runCmd.Flags().StringVar(&runUser, "user", defaultCLIUser, "owner user id")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full research detail as JSON")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "write the final report markdown to this file")
	rootCmd.AddCommand(runCmd)
}

// newResearch validates CLI input the same way the API does.
func newResearch(topic, description, mode, user string) (*model.Research, error) {
	topic = strings.TrimSpace(topic)
	description = strings.TrimSpace(description)
	if topic == "" || utf8.RuneCountInString(topic) > maxTopicRunes {
		return nil, eris.New("topic must be 1-500 characters")
	}
	if utf8.RuneCountInString(description) > maxDescRunes {
		return nil, eris.New("description must be at most 2000 characters")
	}
	m := model.Mode(mode)
	if !m.Valid() {
		return nil, eris.Errorf("unknown mode %q (want quick or full)", mode)
	}
	if user == "" {
		user = defaultCLIUser
	}
	return &model.Research{UserID: user, Topic: topic, Description: description, Mode: m}, nil
}

// researchRunner is satisfied by *pipeline.Pipeline.
type researchRunner interface {
	Run(ctx context.Context, req pipeline.Request)
}

// runResearch persists r, runs it to a terminal state and returns the
// stored detail. A failed run is returned as an error carrying its message.
func runResearch(ctx context.Context, st store.Store, runner researchRunner, r *model.Research) (*model.ResearchDetail, error) {
	active, err := st.CountActive(ctx, r.UserID)
	if err != nil {
		return nil, eris.Wrap(err, "count active research")
	}
	if limit := cfg.Pipeline.MaxActivePerUser; limit > 0 && active >= limit {
		return nil, eris.Errorf("user %s already has %d active research runs", r.UserID, active)
	}

	if err := st.CreateResearch(ctx, r); err != nil {
		return nil, eris.Wrap(err, "create research")
	}
	zap.L().Info("research created",
		zap.String("research_id", r.ID),
		zap.String("topic", r.Topic),
		zap.String("mode", string(r.Mode)),
	)

	runner.Run(ctx, pipeline.Request{
		ResearchID:  r.ID,
		Topic:       r.Topic,
		Description: r.Description,
		Mode:        r.Mode,
	})

	detail, err := st.GetDetail(context.WithoutCancel(ctx), r.ID)
	if err != nil {
		return nil, eris.Wrap(err, "load research")
	}
	if detail.Status == model.StatusFailed {
		return detail, eris.Errorf("research %s failed: %s", r.ID, detail.ErrorMessage)
	}
	return detail, nil
}
