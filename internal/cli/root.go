package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	logo = "\n" +
		"  __       _          _\n" +
		" / _| __ _| |__  _ __(_)_  __\n" +
		"| |_ / _` | '_ \\| '__| \\ \\/ /\n" +
		"|  _| (_| | |_) | |  | |>  <\n" +
		"|_|  \\__,_|_.__/|_|  |_/_/\\_\\\n"

	logFormat string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "fabrix",
	Short: "fabrix - governed chat turn orchestration",
	Long:  color.CyanString(logo) + "\nPolicy-checked chat turns with grid tools, cited retrieval and UI state.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logFormat, logLevel)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(toolsCmd)
}

func setupLogging(format, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid --log-format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
