package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wfscript/pkg/config"
	"wfscript/pkg/engine"
)

// Version is set at build time with -ldflags "-X wfscript/internal/cli.Version=...".
var Version = "dev"

const (
	ExitSuccess = 0
	// ExitError covers failed checks, rejected scripts and bad usage.
	ExitError = 1
	// ExitConfigError is returned when the environment or policy file is invalid.
	ExitConfigError = 10
)

// exitError carries an exit code through cobra. A silent one has already
// written its own report.
type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func failed() error { return &exitError{code: ExitError, silent: true} }

// app holds what every subcommand shares once the configuration is loaded.
type app struct {
	lookup func(string) (string, bool)
	cfg    *config.Config

	policyName string
	policyFile string
}

// NewRootCommand builds the wfscript command tree. lookup supplies the
// environment; pass os.LookupEnv outside of tests.
func NewRootCommand(lookup func(string) (string, bool)) *cobra.Command {
	a := &app{lookup: lookup}

	root := &cobra.Command{
		Use:   "wfscript",
		Short: "Secure interpreter for workflow SDK code",
		Long: `wfscript evaluates workflow SDK scripts without executing them as
JavaScript. Scripts are parsed, checked against an allowlist policy and
then interpreted node by node, producing workflow JSON.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}
	root.PersistentFlags().StringVar(&a.policyName, "policy", "", "policy preset: sdk or code (default from WFSCRIPT_POLICY)")
	root.PersistentFlags().StringVar(&a.policyFile, "policy-file", "", "YAML file extending the policy (default from WFSCRIPT_POLICY_FILE)")

	root.AddCommand(
		a.checkCommand(),
		a.runCommand(),
		a.serveCommand(),
		a.policyCommand(),
		versionCommand(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromLookup(a.lookup)
	if err != nil {
		return &exitError{code: ExitConfigError, err: err}
	}
	if a.policyName != "" {
		cfg.Policy = a.policyName
	}
	if a.policyFile != "" {
		cfg.PolicyFile = a.policyFile
	}
	a.cfg = cfg
	return nil
}

func (a *app) policy() (*engine.Policy, error) {
	p, err := a.cfg.BuildPolicy()
	if err != nil {
		return nil, &exitError{code: ExitConfigError, err: err}
	}
	return p, nil
}

// Execute runs the command line and returns the process exit code.
// SIGINT and SIGTERM cancel the command context.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := NewRootCommand(os.LookupEnv)
	return execute(ctx, root, args, stdout, stderr)
}

func execute(ctx context.Context, root *cobra.Command, args []string, stdout, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.silent {
			fmt.Fprintf(stderr, "❌ %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "❌ %v\n", err)
	return ExitError
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wfscript %s\n", Version)
		},
	}
}
