package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wfscript/pkg/engine"
	"wfscript/pkg/logger"
	"wfscript/pkg/workflow"
)

func (a *app) runCommand() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "run [--out file] <script.js>",
		Short: "Interpret a script and print the workflow JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, args[0], outPath)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the workflow JSON to a file instead of stdout")
	return cmd
}

func (a *app) run(cmd *cobra.Command, path, outPath string) error {
	policy, err := a.policy()
	if err != nil {
		return err
	}
	log := logger.New(a.cfg.Env, cmd.ErrOrStderr())

	prog, err := engine.LoadScript(path)
	if err != nil {
		return report(cmd, err)
	}
	interp := engine.New(policy, engine.WithLogger(log), engine.WithFilename(path))
	result, err := interp.Run(cmd.Context(), prog, workflow.Table())
	if err != nil {
		return report(cmd, err)
	}
	wf, err := workflow.FromResult(result)
	if err != nil {
		return report(cmd, err)
	}
	data, err := wf.JSON()
	if err != nil {
		return err
	}

	if outPath == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	log.Info("✅ Workflow written", "file", outPath, "nodes", len(wf.Nodes()))
	return nil
}

// report prints a rejected script with its code frame.
func report(cmd *cobra.Command, err error) error {
	if _, ok := engine.AsDiagnostic(err); !ok {
		return &exitError{code: ExitError, err: err}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "❌ %v\n", err)
	return failed()
}
