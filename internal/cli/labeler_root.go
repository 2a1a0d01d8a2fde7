package cli

import (
	"fmt"
	"io"
	"os"

	"labeler_server/config"
	"labeler_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	// version is set via ldflags at build time.
	version = "dev"

	// jsonFlag enables JSON output for the one-shot commands.
	jsonFlag bool
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "labeler",
		Short:         "Gmail labeling service",
		Long:          "Classifies Gmail messages with an LLM and applies the suggested labels exactly once per message.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")

	root.AddCommand(newServeCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newAllCmd())
	root.AddCommand(newReconcileCmd())
	root.AddCommand(newCheckCmd())
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		logger.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{Level: logger.ParseLevel(cfg.LogLevel), Service: "labeler"})
	return cfg, nil
}

// fprintJSON encodes v as indented JSON to w.
func fprintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
