package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/timvw/sightcheck/internal/provider"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List providers and whether they are configured",
	Long: `List the supported VLM providers with the model each would use.

A provider is configured when every value it needs (usually an API key)
is available from flags, the environment or the config file. The default
provider is marked with *.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\tPROVIDER\tMODEL\tSTATUS")
		for _, name := range provider.Names() {
			mark := ""
			if name == cfg.DefaultProvider {
				mark = "*"
			}
			spec, err := provider.SpecFor(name, cfg)
			switch {
			case err == nil:
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, name, specModel(spec), "configured")
			case errors.Is(err, provider.ErrMissingCredentials):
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, name, "-", "missing credentials")
			default:
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", mark, name, "-", err)
			}
		}
		return tw.Flush()
	},
}

func specModel(spec provider.Spec) string {
	switch s := spec.(type) {
	case provider.ClaudeSpec:
		return s.Model
	case provider.OpenAICompatSpec:
		return s.Model
	case provider.GeminiSpec:
		return s.Model
	default:
		return "-"
	}
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
