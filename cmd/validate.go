package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/dissect/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without running anything.

DISSECT_ environment overrides are applied as they would be at run time.

Examples:
  dissect validate -f dissect.yaml`,
	// validate reports its own errors instead of failing in the root pre-run
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		path := validateConfigFile
		if path == "" {
			path = configFile
		}
		if err := runValidate(cmd.OutOrStdout(), path); err != nil {
			exitWithError("INVALID", err)
		}
	},
}

var validateConfigFile string

func init() {
	validateCmd.Flags().StringVarP(&validateConfigFile, "file", "f", "",
		"configuration file to validate (defaults to --config)")
}

func runValidate(w io.Writer, path string) error {
	if path == "" {
		return fmt.Errorf("no configuration file given")
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "VALID: %s: sink %s (%s), log %s, m3ap ports %v, rtsp ports %v\n",
		path, cfg.Sink.Type, cfg.Sink.Format, cfg.Log.Level, cfg.Ports.M3APSCTP, cfg.Ports.RTSPTCP)
	return nil
}
