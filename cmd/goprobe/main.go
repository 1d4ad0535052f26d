package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daimatz/goprobe/internal/sample"
	"github.com/daimatz/goprobe/pkg/config"
	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/host/catalog"
	"github.com/daimatz/goprobe/pkg/host/procmem"
)

var (
	// Global flags
	cfgPath     string
	verbose     bool
	catalogPath string
	pid         int

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "goprobe",
	Short: "Introspect classes and objects of a managed game runtime",
	Long: `goprobe resolves classes in a managed runtime's metadata, lists their
hookable methods and decodes heap objects into bounded, readable text.

Metadata comes from a YAML catalog (--catalog). With --pid the catalog is
bound to a live process whose memory is read in place. Without a catalog the
commands run against a small built-in sample world.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", cfgPath, err)
		}
		logger, err = cfg.Logging.BuildLogger(verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "goprobe.yaml", "Config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Metadata catalog (YAML dump)")
	rootCmd.PersistentFlags().IntVarP(&pid, "pid", "p", 0, "Target process id (needs --catalog)")

	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(methodsCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(demoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openHost returns the host selected by --catalog and --pid.
func openHost() (host.Host, error) {
	if catalogPath == "" {
		if pid != 0 {
			return nil, errors.New("--pid requires --catalog")
		}
		return sample.NewWorld(), nil
	}
	cat, err := catalog.LoadFile(catalogPath, nil)
	if err != nil {
		return nil, err
	}
	if pid == 0 {
		return procmem.Offline(cat), nil
	}
	return procmem.Open(pid, cat)
}
