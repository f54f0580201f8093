package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/raymyers/ralph-irc/pkg/ir"
	"github.com/raymyers/ralph-irc/pkg/regalloc"
	"github.com/raymyers/ralph-irc/pkg/target"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/xyproto/env/v2"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

var version = "0.1.0"

// Dump flags
var (
	dLive  bool
	dGraph bool
	dAlloc bool
	dState bool
)

// Allocation options
var (
	targetName string
	targetFile string
	noCoalesce bool
	maxPasses  int
	trace      string
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	rootCmd.SetArgs(normalizeFlags(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// dumpFlagNames lists the dump flags that also accept a single dash.
var dumpFlagNames = []string{"dlive", "dgraph", "dalloc", "dstate"}

// normalizeFlags converts single-dash dump flags like -dlive to --dlive
func normalizeFlags(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		for _, flagName := range dumpFlagNames {
			if arg == "-"+flagName {
				result[i] = "--" + flagName
				break
			}
		}
		if result[i] == "" {
			result[i] = arg
		}
	}
	return result
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ralph-irc [program.yaml]",
		Short: "ralph-irc colors register allocation problems",
		Long: `ralph-irc runs an iterated register coalescing allocator over
functions written in a small YAML instruction format and prints
where every temp ended up.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cmd.Help()
				return nil
			}
			if trace != "" {
				tlog.SetVerbosity(trace)
			}
			err := process(cmd, args[0], out)
			if err != nil {
				fmt.Fprintf(errOut, "ralph-irc: %v\n", err)
			}
			return err
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.Flags().BoolVar(&dLive, "dlive", false, "Dump block liveness")
	rootCmd.Flags().BoolVar(&dGraph, "dgraph", false, "Dump the interference graph in DOT form")
	rootCmd.Flags().BoolVar(&dAlloc, "dalloc", false, "Dump the allocated program (default)")
	rootCmd.Flags().BoolVar(&dState, "dstate", false, "Dump the allocation results")

	rootCmd.Flags().StringVar(&targetName, "target", env.Str("RALPH_IRC_TARGET", "arm64"), "Built-in target machine")
	rootCmd.Flags().StringVar(&targetFile, "target-file", "", "YAML target description")
	rootCmd.Flags().BoolVar(&noCoalesce, "no-coalesce", false, "Disable move coalescing")
	rootCmd.Flags().IntVar(&maxPasses, "max-passes", regalloc.DefaultMaxPasses, "Give up after this many spill code rewrites")
	rootCmd.Flags().StringVar(&trace, "trace", env.Str("RALPH_IRC_TRACE"), "Trace topics (regalloc, regalloc_edges)")

	// --max_passes and --max-passes are the same flag.
	rootCmd.Flags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	return rootCmd
}

// loadTarget picks the machine: a target file, then an explicit --target,
// then the target the program names, then the default.
func loadTarget(cmd *cobra.Command, data []byte) (*target.Machine, error) {
	if targetFile != "" {
		return target.Load(targetFile)
	}
	name := targetName
	if !cmd.Flags().Changed("target") {
		named, err := ir.ProgramTarget(data)
		if err != nil {
			return nil, err
		}
		if named != "" {
			name = named
		}
	}
	return target.Lookup(name)
}

func process(cmd *cobra.Command, filename string, out io.Writer) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	m, err := loadTarget(cmd, data)
	if err != nil {
		return err
	}
	prog, err := ir.ParseProgram(data, m)
	if err != nil {
		return errors.Wrap(err, "%s", filename)
	}

	if dLive {
		if err := doLive(prog, m, out); err != nil {
			return err
		}
	}
	if dGraph {
		if err := doGraph(prog, m, out); err != nil {
			return err
		}
	}
	if !dAlloc && !dState && (dLive || dGraph) {
		return nil
	}

	opts := regalloc.Options{NoCoalesce: noCoalesce, MaxPasses: maxPasses}
	results, err := regalloc.AllocateProgram(prog, m, opts)
	if err != nil {
		return err
	}
	if dState {
		cfg := spew.ConfigState{Indent: "  ", SortKeys: true, DisablePointerAddresses: true}
		cfg.Fdump(out, results)
	}
	if dAlloc || !dState {
		printResults(results, out)
	}
	return nil
}

// doLive prints the block liveness of every function
func doLive(prog *ir.Program, m *target.Machine, out io.Writer) error {
	for _, fn := range prog.Functions {
		li, err := regalloc.AnalyzeLiveness(fn, m)
		if err != nil {
			return err
		}
		li.Format(out)
	}
	return nil
}

// doGraph prints the first interference graph of every function
func doGraph(prog *ir.Program, m *target.Machine, out io.Writer) error {
	for _, fn := range prog.Functions {
		g, err := regalloc.BuildGraph(fn, m)
		if err != nil {
			return err
		}
		if err := g.WriteDOT(out, fn.Name); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}
	return nil
}

// printResults prints each allocated function with temps replaced by their
// locations, followed by what the prologue and epilogue have to do.
func printResults(results []*regalloc.Result, out io.Writer) {
	for i, res := range results {
		m := res.Machine()
		pr := ir.NewPrinter(out, m)
		pr.Resolve = res.Resolve
		pr.PrintFunction(res.Func)

		fmt.Fprintf(out, "; %s\n", res.Summary())
		for _, t := range res.Temps() {
			fmt.Fprintf(out, ";   %v -> %s\n", t, res.FormatLocation(t))
		}
		for j, r := range res.CalleeSave.Regs {
			fmt.Fprintf(out, "; save %%%s at %s\n", m.RegName(r),
				ir.FormatOperand(m, ir.Mem(res.CalleeSave.SaveOffsets[j], m.RegClass(r))))
		}
		for _, sm := range res.SaveMoves {
			fmt.Fprintf(out, "; keep %%%s in %%%s\n", m.RegName(sm.Reg), m.RegName(sm.To))
		}
		if i < len(results)-1 {
			fmt.Fprintln(out)
		}
	}
}
