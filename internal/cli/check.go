package cli

import (
	"fmt"
	"os"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"wfscript/pkg/analysis"
	"wfscript/pkg/engine"
	"wfscript/pkg/workflow"
)

func (a *app) checkCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check [--json] <script.js>",
		Short: "Statically analyse a script without running it",
		Long: `check reports every policy violation, unknown identifier and parse
error in the script at once, plus warnings for unused bindings and
unreachable code. It exits with status 1 when any error is found.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.check(cmd, args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func (a *app) check(cmd *cobra.Command, path string, asJSON bool) error {
	policy, err := a.policy()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	analyzer := analysis.NewAnalyzer(policy, workflow.Table().Names())
	result := analyzer.Analyze(path, string(data))
	out := cmd.OutOrStdout()

	if asJSON {
		errs, warnings := result.Errors, result.Warnings
		if errs == nil {
			errs = []*engine.Diagnostic{}
		}
		if warnings == nil {
			warnings = []*engine.Diagnostic{}
		}
		b, err := gojson.MarshalIndent(map[string]any{
			"success":  result.Success(),
			"errors":   errs,
			"warnings": warnings,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(b))
		if !result.Success() {
			return failed()
		}
		return nil
	}

	if len(result.Errors) > 0 {
		fmt.Fprintf(out, "❌ Static Analysis Failed (%d errors):\n", len(result.Errors))
		for _, diag := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", where(diag), diag.Message)
		}
		for _, diag := range result.Warnings {
			fmt.Fprintf(out, "⚠️  Warning: [%s] %s\n", where(diag), diag.Message)
		}
		return failed()
	}

	for _, diag := range result.Warnings {
		fmt.Fprintf(out, "⚠️  Warning: [%s] %s\n", where(diag), diag.Message)
	}
	fmt.Fprintln(out, "✅ Code Valid (Static Analysis Passed)")
	return nil
}

func where(d *engine.Diagnostic) string {
	if d.Line == 0 {
		return d.Filename
	}
	return fmt.Sprintf("%s:%d:%d", d.Filename, d.Line, d.Col)
}
