package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// policyView is the resolved policy in the same keys a policy file uses.
type policyView struct {
	Name             string   `yaml:"name"`
	Export           string   `yaml:"export"`
	AllowedFunctions []string `yaml:"allowed_functions"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	DangerousGlobals []string `yaml:"dangerous_globals"`
	MaxDepth         int      `yaml:"max_depth"`
	MaxSourceBytes   int      `yaml:"max_source_bytes"`
}

func (a *app) policyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the effective policy as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.policy()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(policyView{
				Name:             p.Name,
				Export:           string(p.ExportStyle),
				AllowedFunctions: p.Functions(),
				AllowedMethods:   p.Methods(),
				DangerousGlobals: p.Globals(),
				MaxDepth:         p.MaxDepth,
				MaxSourceBytes:   p.MaxSourceBytes,
			})
		},
	}
}
