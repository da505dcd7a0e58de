// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/dissect/internal/config"
	"firestige.xyz/dissect/internal/log"
	"firestige.xyz/dissect/internal/protocols"
	"firestige.xyz/dissect/internal/reassembly"
	_ "firestige.xyz/dissect/plugins" // register built-in plugins
)

var (
	// Global flags
	configFile string
	logLevel   string

	// globalConfig is loaded before any subcommand runs
	globalConfig *config.GlobalConfig
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dissect",
	Short: "dissect - protocol dissectors for M3AP, T.38, RTSP and RDT",
	Long: `dissect decodes telecom signaling and media protocols into annotated field trees.

It decodes single payloads given on the command line, replays pcap and pcapng
captures through the parsers in frame order, and serves decode requests over
a ZeroMQ endpoint.

Protocols:
  - M3AP (aligned PER over SCTP) and the H.460 generic data elements
  - T.38 IFP over UDPTL or TPKT, with T.30 HDLC and T.4 page reassembly
  - RTSP with interleaved channels, and the conversations it sets up
  - RDT, RTP and RTCP`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if err := log.Init(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		globalConfig = cfg
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override the configured log level")

	// Add subcommands
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(validateCmd)
}

// newProtocols builds the decoder set from the loaded configuration.
func newProtocols(cfg *config.GlobalConfig) (*protocols.Set, error) {
	return protocols.New(protocols.Config{
		MaxDepth: cfg.Decoder.MaxDepth,
		Reassembly: reassembly.Config{
			MaxFragments: cfg.Reassembly.MaxFragments,
			MaxBytes:     cfg.Reassembly.MaxBytes,
		},
	})
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
