package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/strandlabs/strand-memory/internal/model"
	"github.com/strandlabs/strand-memory/internal/preference"
)

func init() {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Rewrite a task's parameters from learned preferences",
		Long:  "Read a task as JSON from stdin, apply the user's preferences, print the adjusted task.",
		Run:   runApply,
	}

	cmd.Flags().StringP("user", "u", "", "User ID (required)")
	cmd.MarkFlagRequired("user")

	RootCmd.AddCommand(cmd)
}

func runApply(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")

	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}
	var task model.Task
	if err := json.Unmarshal(b, &task); err != nil {
		exitErr("parse task", err)
	}

	s, logger, metrics := openStore(cmd)
	defer s.Close()

	engine, err := preference.NewEngine(s, logger, metrics)
	if err != nil {
		exitErr("apply", err)
	}

	// A failed preference read degrades to neutral defaults; the task
	// still runs.
	prefs, err := engine.Get(cmd.Context(), user)
	if err != nil {
		logger.Warn("using default preferences")
	}

	adjusted := preference.Apply(task, prefs)
	out, _ := json.MarshalIndent(adjusted, "", "  ")
	fmt.Println(string(out))
}
