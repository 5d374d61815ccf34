package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strandlabs/strand-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Compact aged memories into summarized records",
		Long:  "Group aged entries by type and week, replace each group with one summarized record.",
		Run:   runConsolidate,
	}

	cmd.Flags().StringP("owner", "o", "", "Owner ID (required)")
	cmd.Flags().String("older-than", "", "Age cutoff (e.g. 30d; default from config)")

	cmd.MarkFlagRequired("owner")

	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	owner, _ := cmd.Flags().GetString("owner")
	olderStr, _ := cmd.Flags().GetString("older-than")

	cfg := loadConfig()
	olderThan := cfg.ConsolidateOlderThan
	if olderStr != "" {
		age, err := parseAge(olderStr)
		if err != nil {
			exitErr("consolidate", err)
		}
		olderThan = age
	}

	s, logger, metrics := openStore(cmd)
	defer s.Close()

	report, err := store.NewConsolidator(s, logger, metrics).Consolidate(cmd.Context(), owner, olderThan)
	if err != nil {
		exitErr("consolidate", err)
	}

	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))
}
