package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/fabrix/internal/app"
	"github.com/KafClaw/fabrix/internal/tools"
)

var (
	toolsJSON        bool
	toolsDefinitions bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered tool manifests",
	RunE:  runTools,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader(cmd.OutOrStdout(), "🏷️ fabrix version")
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", app.Version)
	},
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Print manifests as JSON")
	toolsCmd.Flags().BoolVar(&toolsDefinitions, "definitions", false, "Print function-calling definitions as JSON")
}

func runTools(cmd *cobra.Command, args []string) error {
	reg, err := tools.NewRegistry(tools.DefaultManifests()...)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if toolsJSON || toolsDefinitions {
		var v any = reg.List()
		if toolsDefinitions {
			v = reg.Definitions()
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	for _, m := range reg.List() {
		fmt.Fprintf(out, "%s  %s\n", color.GreenString("%-16s", m.Name), m.Description)
		fmt.Fprintf(out, "    required: %s  rate: %d/min  timeout: %dms\n",
			strings.Join(m.RequiredFields(), ", "), m.RateLimit, m.TimeoutMs)
	}
	return nil
}
