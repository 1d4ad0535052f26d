package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daimatz/goprobe/pkg/probe"
	"github.com/daimatz/goprobe/pkg/resolve"
)

// targetFlags override the configured target when set.
type targetFlags struct {
	assembly  string
	namespace string
	class     string
	fullName  string
	partial   bool
	pick      int
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.assembly, "assembly", "", "Restrict the search to one assembly")
	cmd.Flags().StringVar(&f.namespace, "namespace", "", "Class namespace")
	cmd.Flags().StringVar(&f.class, "class", "", "Class name")
	cmd.Flags().StringVar(&f.fullName, "full-name", "", "Namespace-qualified class name")
	cmd.Flags().BoolVar(&f.partial, "partial", false, "Match class names by substring")
	cmd.Flags().IntVar(&f.pick, "pick", 0, "Index of the candidate to use")
}

func (f *targetFlags) apply(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("assembly") {
		cfg.Target.Assembly = f.assembly
	}
	if flags.Changed("namespace") {
		cfg.Target.Namespace = f.namespace
	}
	if flags.Changed("class") {
		cfg.Target.Class = f.class
	}
	if flags.Changed("full-name") {
		cfg.Target.FullName = f.fullName
	}
	if flags.Changed("partial") {
		cfg.Target.PartialMatch = f.partial
	}
	if flags.Changed("pick") {
		cfg.Target.PickIndex = f.pick
	}
}

var (
	resolveTarget targetFlags
	methodsTarget targetFlags

	methodsContains   string
	methodsPattern    string
	methodsExclude    []string
	methodsSkipStatic bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the target class",
	Long: `Resolves the configured target class, or the one named by flags, and
prints every candidate. The selected candidate is marked with '*'.

Example:
  goprobe resolve --catalog dump.yaml --class Player`,
	Args: cobra.NoArgs,
	RunE: runResolve,
}

var methodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "List the hookable methods of the target class",
	Args:  cobra.NoArgs,
	RunE:  runMethods,
}

func init() {
	resolveTarget.register(resolveCmd)
	methodsTarget.register(methodsCmd)

	methodsCmd.Flags().StringVar(&methodsContains, "contains", "", "Keep methods whose name contains this text")
	methodsCmd.Flags().StringVar(&methodsPattern, "pattern", "", "Keep methods matching this regular expression")
	methodsCmd.Flags().StringSliceVar(&methodsExclude, "exclude", nil, "Drop methods with these names")
	methodsCmd.Flags().BoolVar(&methodsSkipStatic, "skip-static", false, "Drop static methods")
}

// openSession resolves the configured target on a new session.
func openSession(cmd *cobra.Command) (*probe.Session, *resolve.Resolution, error) {
	h, err := openHost()
	if err != nil {
		return nil, nil, err
	}
	s := probe.New(h, cfg, logger.Named("probe"))
	res, err := s.ResolveConfigured()
	if err != nil {
		var nf *resolve.NotFoundError
		if errors.As(err, &nf) {
			printSuggestions(cmd, s, cfg.ResolveTarget())
		}
		_ = s.Close()
		return nil, nil, err
	}
	return s, res, nil
}

func printSuggestions(cmd *cobra.Command, s *probe.Session, t resolve.Target) {
	sugg := s.Suggest(t, 5)
	if len(sugg) == 0 {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "did you mean: %s\n", strings.Join(sugg, ", "))
}

func runResolve(cmd *cobra.Command, args []string) error {
	resolveTarget.apply(cmd)
	s, res, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	for i, c := range res.Candidates {
		mark := " "
		if i == res.Index {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %d  %s  [%s]  fields=%d methods=%d\n",
			mark, i, c.FullName(), c.Assembly, len(c.Fields), len(c.Methods))
	}
	if fields := s.PreviewFields(res.Class); len(fields) > 0 {
		fmt.Fprintf(out, "preview: %s\n", strings.Join(fields, ", "))
	}
	return nil
}

func runMethods(cmd *cobra.Command, args []string) error {
	methodsTarget.apply(cmd)
	flags := cmd.Flags()
	if flags.Changed("contains") {
		cfg.Methods.Contains = methodsContains
	}
	if flags.Changed("pattern") {
		cfg.Methods.Pattern = methodsPattern
	}
	if flags.Changed("exclude") {
		cfg.Methods.Exclude = methodsExclude
	}
	if flags.Changed("skip-static") {
		cfg.Methods.SkipStatic = methodsSkipStatic
	}

	s, res, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	methods, err := s.ConfiguredMethods(res.Class)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, m := range methods {
		static := ""
		if m.IsStatic {
			static = "static "
		}
		fmt.Fprintf(out, "%s  %s%s -> %s\n", m.Entry, static, m.Signature(), m.ReturnTypeName)
	}
	fmt.Fprintf(out, "%d of %d methods\n", len(methods), len(res.Class.Methods))
	return nil
}
