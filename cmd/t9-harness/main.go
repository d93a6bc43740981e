// Command t9-harness runs a conformance suite against a t9search binary.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/lattice-substrate/t9-conformance/compare"
	"github.com/lattice-substrate/t9-conformance/evidence"
	"github.com/lattice-substrate/t9-conformance/harness"
	"github.com/lattice-substrate/t9-conformance/invoke"
	"github.com/lattice-substrate/t9-conformance/suite"
	"github.com/lattice-substrate/t9-conformance/synth"
	"github.com/lattice-substrate/t9-conformance/t9err"
)

const (
	exitSuccess  = 0
	exitFailed   = 1
	exitInvalid  = 2
	exitInternal = 10
)

const (
	defaultProgram = "./t9search"
	programEnv     = "T9_HARNESS_PROGRAM"
)

type options struct {
	program   string
	suitePath string
	bonus     bool
	strict    bool
	timeout   time.Duration
	report    string
	noColor   bool
	verbose   bool
	env       map[string]string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	code := exitSuccess
	cmd := newRootCommand(stdout, stderr, &code)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(os.Stdin)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if _, werr := fmt.Fprintf(stderr, "error: %v\n", err); werr != nil {
			return exitInternal
		}
		if class, ok := t9err.ClassOf(err); ok {
			return class.ExitCode()
		}
		if ctx.Err() != nil {
			return exitInternal
		}
		return exitInvalid
	}
	return code
}

func newRootCommand(stdout, stderr io.Writer, code *int) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "t9-harness",
		Short: "Run the t9search conformance suite",
		Long: "Feeds synthetic contacts to a t9search binary, invokes it with digit queries\n" +
			"and checks stdout, the exit code and stderr against the suite's expectations.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := execute(cmd, opts, stdout, stderr)
			*code = c
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.program, "program", "p", defaultProgram, "path of the program under test (env "+programEnv+")")
	f.StringVarP(&opts.suitePath, "suite", "s", "", "suite file (.yaml, .yml or .json); default is the embedded suite")
	f.BoolVar(&opts.bonus, "bonus", true, "merge bonus matches and run extended cases")
	f.BoolVar(&opts.strict, "strict", false, "also require every expected line to be printed")
	f.DurationVar(&opts.timeout, "timeout", invoke.DefaultTimeout, "per-invocation time limit, 0 disables it")
	f.StringVar(&opts.report, "report", "", "write canonical JSON run evidence to this file")
	f.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log per-case details to stderr")
	f.StringToStringVar(&opts.env, "env", nil, "extra subject environment as KEY=VALUE, overrides the suite's env (repeatable)")

	cmd.AddCommand(newVerifyCommand(stderr, code))
	return cmd
}

func newVerifyCommand(stderr io.Writer, code *int) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "verify [file|-]",
		Short: "Check that an evidence file is valid and canonical",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args, cmd.InOrStdin())
			if err != nil {
				return t9err.Wrap(t9err.InternalIO, -1, "read evidence", err)
			}
			if _, err := evidence.Verify(data); err != nil {
				*code = exitFailed
				return writef(stderr, "verify failed: %v\n", err)
			}
			*code = exitSuccess
			if quiet {
				return nil
			}
			return writef(stderr, "ok\n")
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress the success message")
	return cmd
}

//nolint:gosec // evidence path is explicit operator input.
func readInput(args []string, stdin io.Reader) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(args[0])
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return t9err.Wrap(t9err.InternalIO, -1, "write stream", err)
	}
	return nil
}

func execute(cmd *cobra.Command, opts options, stdout, stderr io.Writer) (int, error) {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	s, source, err := loadSuite(opts.suitePath)
	if err != nil {
		return exitInvalid, err
	}
	cases, err := s.TestCases()
	if err != nil {
		return exitInvalid, err
	}
	if opts.timeout < 0 {
		return exitInvalid, t9err.Newf(t9err.ConfigInvalid, "timeout must not be negative")
	}

	env, err := mergeEnv(s.Env, opts.env)
	if err != nil {
		return exitInvalid, err
	}

	program := resolveProgram(cmd, opts.program, s.Program)
	bonus := opts.bonus
	if !cmd.Flags().Changed("bonus") && s.BonusMerge != nil {
		bonus = *s.BonusMerge
	}
	mode := compare.Subset
	if opts.strict {
		mode = compare.Strict
	}

	cfg := harness.Config{
		Program: program,
		Policy:  synth.MergePolicy{BonusMergeEnabled: bonus},
		Mode:    mode,
	}
	logger.Info("running suite",
		"suite", s.Name,
		"source", source,
		"program", program,
		"bonus_merge", bonus,
		"compare_mode", mode.String(),
		"timeout", opts.timeout,
		"env", len(env),
	)

	runner := harness.NewRunner(cfg, invoke.ProcessInvoker{Timeout: opts.timeout, Env: env}, harness.NewConsoleReporter(stdout, opts.noColor), logger)
	started := time.Now()
	out, runErr := runner.Run(cmd.Context(), cases)
	completed := time.Now()

	if opts.report != "" {
		rec := evidence.FromOutcome(evidence.Meta{
			Suite:       s.Name,
			Program:     program,
			BonusMerge:  bonus,
			CompareMode: mode.String(),
			StartedAt:   started,
			CompletedAt: completed,
		}, out, runErr)
		if err := evidence.Write(opts.report, rec); err != nil {
			logger.Error("write evidence", "path", opts.report, "error", err)
			if runErr == nil {
				return exitInternal, t9err.Wrap(t9err.InternalIO, -1, "write evidence", err)
			}
		}
	}

	if runErr != nil {
		return exitInternal, runErr
	}
	if out.Stats.Failed() > 0 {
		return exitFailed, nil
	}
	return exitSuccess, nil
}

func loadSuite(path string) (*suite.Suite, string, error) {
	if path == "" {
		s, err := suite.Default()
		return s, "embedded", err
	}
	s, err := suite.Load(path)
	return s, path, err
}

// mergeEnv layers the command-line environment over the suite's.
func mergeEnv(fromSuite, fromFlags map[string]string) (map[string]string, error) {
	env := make(map[string]string, len(fromSuite)+len(fromFlags))
	for k, v := range fromSuite {
		env[k] = v
	}
	for k, v := range fromFlags {
		env[k] = v
	}
	if err := suite.ValidateEnv(env); err != nil {
		return nil, err
	}
	return env, nil
}

// resolveProgram picks the program path: an explicit flag wins, then the
// environment, then the suite file, then the built-in default.
func resolveProgram(cmd *cobra.Command, flagValue, suiteValue string) string {
	if cmd.Flags().Changed("program") {
		return flagValue
	}
	if v := os.Getenv(programEnv); v != "" {
		return v
	}
	if suiteValue != "" {
		return suiteValue
	}
	return flagValue
}
