package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strandlabs/strand-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "remember [content]",
		Short: "Store a memory entry",
		Long:  "Store a memory entry. Content can be a positional arg or piped via stdin.",
		Run:   runRemember,
	}

	cmd.Flags().StringP("owner", "o", "", "Owner ID, user+strand composite (required)")
	cmd.Flags().String("type", "context", "Type: task, context, knowledge, feedback, pattern")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().Float64P("importance", "i", 0.5, "Importance 0.0-1.0, fixed at creation")

	cmd.MarkFlagRequired("owner")

	RootCmd.AddCommand(cmd)
}

func runRemember(cmd *cobra.Command, args []string) {
	owner, _ := cmd.Flags().GetString("owner")
	typeStr, _ := cmd.Flags().GetString("type")
	tagsStr, _ := cmd.Flags().GetString("tags")
	importance, _ := cmd.Flags().GetFloat64("importance")

	// Content: positional arg first, then stdin.
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("remember", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	entry := model.MemoryEntry{
		OwnerID:    owner,
		Type:       model.MemoryType(typeStr),
		Content:    strings.TrimSpace(content),
		Tags:       splitList(tagsStr),
		Importance: importance,
	}

	s, _, _ := openStore(cmd)
	defer s.Close()

	result, err := s.Persist(cmd.Context(), owner, []model.MemoryEntry{entry})
	if err != nil {
		exitErr("remember", err)
	}
	if len(result.Failed) > 0 {
		exitErr("remember", fmt.Errorf("%s", result.Failed[0].Reason))
	}

	b, _ := json.Marshal(result)
	fmt.Println(string(b))
}
