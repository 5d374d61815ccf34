package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strandlabs/strand-memory/internal/window"
)

func init() {
	cmd := &cobra.Command{
		Use:   "window [task description]",
		Short: "Build a ranked context window for a task",
		Long:  "Retrieve, score and rank memories relevant to a task, bounded by size and recency.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runWindow,
	}

	cmd.Flags().StringP("owner", "o", "", "Owner ID (required)")
	cmd.Flags().IntP("max", "m", 0, "Max entries in the window (default from config)")
	cmd.Flags().String("within", "", "Only consider entries newer than this age (e.g. 14d)")
	cmd.Flags().String("types", "", "Filter by types (comma-separated)")
	cmd.Flags().Float64("min-relevance", -1, "Relevance threshold 0.0-1.0 (default from config)")

	cmd.MarkFlagRequired("owner")

	RootCmd.AddCommand(cmd)
}

func runWindow(cmd *cobra.Command, args []string) {
	owner, _ := cmd.Flags().GetString("owner")
	maxSize, _ := cmd.Flags().GetInt("max")
	withinStr, _ := cmd.Flags().GetString("within")
	typesStr, _ := cmd.Flags().GetString("types")
	minRelevance, _ := cmd.Flags().GetFloat64("min-relevance")
	task := strings.Join(args, " ")

	cfg := loadConfig()
	wcfg := window.Config{
		MaxSize:      cfg.WindowMaxSize,
		TimeWindow:   cfg.WindowTimeWindow,
		Types:        parseTypes(typesStr),
		MinRelevance: cfg.WindowMinRelevance,
	}
	if maxSize > 0 {
		wcfg.MaxSize = maxSize
	}
	if withinStr != "" {
		age, err := parseAge(withinStr)
		if err != nil {
			exitErr("window", err)
		}
		wcfg.TimeWindow = age
	}
	if minRelevance >= 0 {
		wcfg.MinRelevance = minRelevance
	}

	s, logger, metrics := openStore(cmd)
	defer s.Close()

	mgr := window.New(s, logger, metrics)
	result, err := mgr.Create(cmd.Context(), owner, task, wcfg)
	if err != nil {
		exitErr("window", err)
	}

	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
}
