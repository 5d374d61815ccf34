// Package cli implements the strand-memory CLI commands.
package cli

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/strandlabs/strand-memory/internal/config"
	"github.com/strandlabs/strand-memory/internal/model"
	"github.com/strandlabs/strand-memory/internal/observability"
	"github.com/strandlabs/strand-memory/internal/store"
)

var (
	dbPath  string
	verbose bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "strand-memory",
	Short: "Persistent memory and preferences for AI task agents",
	Long: "Long-lived memory for AI agent strands: store entries, build ranked context\n" +
		"windows, consolidate aged memories, and learn preferences from feedback.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite path (default: $STRAND_MEMORY_DB or ~/.strand-memory/memory.db)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr")
}

func loadConfig() config.Config {
	cfg, err := config.Load()
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
		cfg.DatabaseURL = ""
	}
	return cfg
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openStore(cmd *cobra.Command) (store.Store, *zap.Logger, *observability.Metrics) {
	cfg := loadConfig()
	logger := newLogger()
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	s, err := store.NewStore(cmd.Context(), cfg.DatabaseURL, cfg.DBPath, logger)
	if err != nil {
		exitErr("open store", err)
	}
	return s, logger, metrics
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseTypes(s string) []model.MemoryType {
	var out []model.MemoryType
	for _, name := range splitList(s) {
		t := model.MemoryType(name)
		if !t.Valid() {
			exitErr("parse types", fmt.Errorf("unknown memory type %q (use task, context, knowledge, feedback, pattern)", name))
		}
		out = append(out, t)
	}
	return out
}

// parseAge parses an age string like "30d", "24h", "15m" into a duration.
var ageRegex = regexp.MustCompile(`^(\d+)([dhms])$`)

func parseAge(s string) (time.Duration, error) {
	m := ageRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid format %q (use e.g. 30d, 24h, 15m, 60s)", s)
	}
	n, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "s":
		return time.Duration(n) * time.Second, nil
	}
	return 0, fmt.Errorf("unknown unit %q", m[2])
}
