package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Hard-delete memory entries",
		Long:  "Permanently delete entries by ID, for user-initiated memory clearing.",
		Run:   runForget,
	}

	cmd.Flags().StringP("owner", "o", "", "Owner ID (required)")
	cmd.Flags().String("ids", "", "Comma-separated entry IDs (required)")

	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("ids")

	RootCmd.AddCommand(cmd)
}

func runForget(cmd *cobra.Command, args []string) {
	owner, _ := cmd.Flags().GetString("owner")
	idsStr, _ := cmd.Flags().GetString("ids")

	ids := splitList(idsStr)
	if len(ids) == 0 {
		exitErr("forget", fmt.Errorf("no entry IDs given"))
	}

	s, _, _ := openStore(cmd)
	defer s.Close()

	if err := s.Delete(cmd.Context(), owner, ids); err != nil {
		exitErr("forget", err)
	}
	fmt.Printf("deleted %d entries\n", len(ids))
}
