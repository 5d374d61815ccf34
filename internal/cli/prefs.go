package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandlabs/strand-memory/internal/preference"
)

func init() {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or relearn user preferences",
		Run:   runPrefs,
	}

	cmd.Flags().StringP("user", "u", "", "User ID (required)")
	cmd.Flags().Bool("learn", false, "Recompute from the full feedback history")
	cmd.Flags().Int("history", 200, "Feedback records to load when relearning")

	cmd.MarkFlagRequired("user")

	RootCmd.AddCommand(cmd)
}

func runPrefs(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	learn, _ := cmd.Flags().GetBool("learn")
	history, _ := cmd.Flags().GetInt("history")

	s, logger, metrics := openStore(cmd)
	defer s.Close()

	engine, err := preference.NewEngine(s, logger, metrics)
	if err != nil {
		exitErr("prefs", err)
	}

	if learn {
		records, err := s.ListFeedback(cmd.Context(), user, history)
		if err != nil {
			exitErr("list feedback", err)
		}
		prefs, err := engine.Learn(cmd.Context(), user, records)
		if err != nil {
			exitErr("learn preferences", err)
		}
		b, _ := json.MarshalIndent(prefs, "", "  ")
		fmt.Println(string(b))
		return
	}

	prefs, err := engine.Get(cmd.Context(), user)
	if err != nil {
		exitErr("get preferences", err)
	}
	b, _ := json.MarshalIndent(prefs, "", "  ")
	fmt.Println(string(b))
}
