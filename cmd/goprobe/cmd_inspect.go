package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/probe"
)

var (
	inspectType    string
	inspectSummary bool
	inspectFields  bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <address>...",
	Short: "Decode values in target memory",
	Long: `Decodes each address as a value of --type and prints it. Addresses accept
decimal or 0x-prefixed hex.

Example:
  goprobe inspect --pid 4242 --catalog dump.yaml --type Game.Player 0x7f12a0c4b0`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectType, "type", "t", "System.Object", "Declared type of the value")
	inspectCmd.Flags().BoolVar(&inspectSummary, "summary", false, "Print the compact summary only")
	inspectCmd.Flags().BoolVar(&inspectFields, "fields", false, "Print one row per previewed field")
}

func runInspect(cmd *cobra.Command, args []string) error {
	addrs := make([]host.Pointer, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseUint(a, 0, 64)
		if err != nil {
			return fmt.Errorf("bad address %q: %w", a, err)
		}
		addrs = append(addrs, host.Pointer(v))
	}

	h, err := openHost()
	if err != nil {
		return err
	}
	s := probe.New(h, cfg, logger.Named("probe"))
	defer s.Close()

	for _, p := range addrs {
		printValue(cmd, s, p, inspectType)
	}
	return nil
}

func printValue(cmd *cobra.Command, s *probe.Session, p host.Pointer, typeName string) {
	out := cmd.OutOrStdout()
	v := s.Decode(p, typeName)
	if inspectSummary {
		fmt.Fprintf(out, "%s  %s\n", p, s.Summary(v))
		return
	}
	fmt.Fprintf(out, "%s  %s\n", p, s.Format(v))
	if !inspectFields {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, f := range s.Fields(v) {
		static := ""
		if f.Static {
			static = "static"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", f.Name, f.Type, static, f.Text)
	}
	_ = tw.Flush()
}
