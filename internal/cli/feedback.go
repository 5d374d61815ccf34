package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strandlabs/strand-memory/internal/model"
	"github.com/strandlabs/strand-memory/internal/preference"
)

func init() {
	cmd := &cobra.Command{
		Use:   "feedback [content snapshot]",
		Short: "Record task feedback and fold it into preferences",
		Long: "Append a feedback record for a completed task, then incrementally update\n" +
			"the user's preferences. The snapshot can be a positional arg or stdin.",
		Run: runFeedback,
	}

	cmd.Flags().StringP("user", "u", "", "User ID (required)")
	cmd.Flags().String("task", "", "Task ID (required)")
	cmd.Flags().String("strand", "", "Strand ID")
	cmd.Flags().IntP("rating", "r", 0, "Rating 1-5 (required)")
	cmd.Flags().Float64("confidence", 0, "Generation confidence 0.0-1.0")
	cmd.Flags().Bool("citations", false, "Output carried citations")
	cmd.Flags().String("topics", "", "Topics mentioned (comma-separated)")
	cmd.Flags().String("formats", "", "Formats mentioned (comma-separated)")
	cmd.Flags().Float64("dwell", 0, "Engagement: dwell seconds")
	cmd.Flags().Int("shares", 0, "Engagement: shares")
	cmd.Flags().Int("saves", 0, "Engagement: saves")

	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("task")
	cmd.MarkFlagRequired("rating")

	RootCmd.AddCommand(cmd)
}

func runFeedback(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	task, _ := cmd.Flags().GetString("task")
	strand, _ := cmd.Flags().GetString("strand")
	rating, _ := cmd.Flags().GetInt("rating")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	citations, _ := cmd.Flags().GetBool("citations")
	topicsStr, _ := cmd.Flags().GetString("topics")
	formatsStr, _ := cmd.Flags().GetString("formats")
	dwell, _ := cmd.Flags().GetFloat64("dwell")
	shares, _ := cmd.Flags().GetInt("shares")
	saves, _ := cmd.Flags().GetInt("saves")

	var snapshot string
	if len(args) > 0 {
		snapshot = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			snapshot = string(b)
		}
	}

	rec := model.FeedbackRecord{
		UserID:          user,
		TaskID:          task,
		StrandID:        strand,
		Rating:          rating,
		Confidence:      confidence,
		HadCitations:    citations,
		Topics:          splitList(topicsStr),
		Formats:         splitList(formatsStr),
		ContentSnapshot: strings.TrimSpace(snapshot),
	}
	if dwell > 0 || shares > 0 || saves > 0 {
		rec.Engagement = &model.EngagementMetrics{DwellSeconds: dwell, Shares: shares, Saves: saves}
	}

	s, logger, metrics := openStore(cmd)
	defer s.Close()

	if err := s.AppendFeedback(cmd.Context(), rec); err != nil {
		exitErr("feedback", err)
	}

	engine, err := preference.NewEngine(s, logger, metrics)
	if err != nil {
		exitErr("feedback", err)
	}
	prefs, err := engine.Update(cmd.Context(), user, rec)
	if err != nil {
		exitErr("update preferences", err)
	}

	b, _ := json.MarshalIndent(prefs, "", "  ")
	fmt.Println(string(b))
}
