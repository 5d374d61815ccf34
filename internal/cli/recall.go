package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/strandlabs/strand-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Retrieve memory entries",
		Run:   runRecall,
	}

	cmd.Flags().StringP("owner", "o", "", "Owner ID (required)")
	cmd.Flags().String("types", "", "Filter by types (comma-separated)")
	cmd.Flags().StringP("tags", "t", "", "Filter by tags (comma-separated)")
	cmd.Flags().String("since", "", "Only entries newer than this age (e.g. 7d)")
	cmd.Flags().IntP("limit", "l", 20, "Max results")

	cmd.MarkFlagRequired("owner")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	owner, _ := cmd.Flags().GetString("owner")
	typesStr, _ := cmd.Flags().GetString("types")
	tagsStr, _ := cmd.Flags().GetString("tags")
	sinceStr, _ := cmd.Flags().GetString("since")
	limit, _ := cmd.Flags().GetInt("limit")

	f := store.Filters{
		Types: parseTypes(typesStr),
		Tags:  splitList(tagsStr),
		Limit: limit,
	}
	if sinceStr != "" {
		age, err := parseAge(sinceStr)
		if err != nil {
			exitErr("recall", err)
		}
		f.Since = time.Now().Add(-age)
	}

	s, _, _ := openStore(cmd)
	defer s.Close()

	entries, err := s.Retrieve(cmd.Context(), owner, f)
	if err != nil {
		exitErr("recall", err)
	}

	b, _ := json.MarshalIndent(entries, "", "  ")
	fmt.Println(string(b))
}
