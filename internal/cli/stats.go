package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandlabs/strand-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Run:   runStats,
	}

	cmd.Flags().StringP("owner", "o", "", "Limit the owner breakdown to one owner")

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	owner, _ := cmd.Flags().GetString("owner")

	s, _, _ := openStore(cmd)
	defer s.Close()

	stats, err := s.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	if owner != "" {
		var filtered []store.OwnerStats
		for _, o := range stats.Owners {
			if o.OwnerID == owner {
				filtered = append(filtered, o)
			}
		}
		stats.Owners = filtered
	}

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}
