package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/dissect/internal/protocols"
	"firestige.xyz/dissect/pkg/dissect"
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode one payload",
	Long: `Decode a single payload of the given protocol and print its field tree.

The payload is given as hex on the command line or read raw from a file.
T.38 packets decoded this way are not reassembled.

Examples:
  dissect decode --proto m3ap --hex 000100...
  dissect decode --proto rtsp --file options.txt --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := newProtocols(globalConfig)
		if err != nil {
			return err
		}
		return runDecode(cmd.OutOrStdout(), set, decodeOpts)
	},
}

type decodeOptions struct {
	proto  string
	hex    string
	file   string
	format string
}

var decodeOpts decodeOptions

func init() {
	decodeCmd.Flags().StringVarP(&decodeOpts.proto, "proto", "p", "",
		"protocol to decode: m3ap, h460, t38, t30, rtsp, rtp, rtcp or rdt")
	decodeCmd.Flags().StringVarP(&decodeOpts.hex, "hex", "x", "",
		"payload as hex; spaces and colons are ignored")
	decodeCmd.Flags().StringVarP(&decodeOpts.file, "file", "f", "",
		"read the raw payload from a file")
	decodeCmd.Flags().StringVarP(&decodeOpts.format, "format", "o", dissect.FormatText,
		"output format: text, json or yaml")
	decodeCmd.MarkFlagRequired("proto")
}

func runDecode(w io.Writer, set *protocols.Set, opts decodeOptions) error {
	payload, err := loadPayload(opts)
	if err != nil {
		return err
	}
	res, err := set.Decode(opts.proto, payload)
	if err != nil {
		return fmt.Errorf("%w (known: %s)", err, strings.Join(set.Names(), ", "))
	}
	out, err := dissect.Render(res, opts.format)
	if err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	if len(out) == 0 || out[len(out)-1] != '\n' {
		fmt.Fprintln(w)
	}
	return nil
}

func loadPayload(opts decodeOptions) ([]byte, error) {
	switch {
	case opts.hex != "" && opts.file != "":
		return nil, fmt.Errorf("--hex and --file are mutually exclusive")
	case opts.file != "":
		b, err := os.ReadFile(opts.file)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		return b, nil
	case opts.hex != "":
		clean := strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(opts.hex)
		clean = strings.TrimPrefix(clean, "0x")
		b, err := hex.DecodeString(clean)
		if err != nil {
			return nil, fmt.Errorf("invalid hex payload: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("a payload is required: use --hex or --file")
}
