package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fpt/chatdesk/internal/app"
)

var rootCmd = &cobra.Command{
	Use:   "chatdesk",
	Short: "Terminal chat client for OpenAI, GitHub Models, Anthropic, Gemini and Ollama",
	Long: `chatdesk keeps several named conversations, sends each message to the
selected provider and model, and saves everything locally so the next start
can offer to restore it.

Run without arguments for the interactive mode.`,
	Example: `  chatdesk                                  # Interactive mode
  chatdesk send "Explain Go channels"       # One message to the active conversation
  chatdesk -p anthropic send --new "Hello"  # New conversation on Anthropic
  chatdesk export -f md -o -                # Markdown export to stdout`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnvironment()
		if err != nil {
			return err
		}
		defer env.Close()
		return app.StartInteractiveMode(cmd.Context(), env.chat, env.dirs, env.colored)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("settings", "", "Path to settings file")
	flags.StringP("provider", "p", "", "Provider (openai, github, anthropic, gemini or ollama)")
	flags.StringP("model", "m", "", "Model id")
	flags.String("api-key", "", "API key for the provider (overrides the environment)")
	flags.String("persistence", "", "Where conversations are saved (file, sqlite or memory)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolP("verbose", "v", false, "Mirror the log to stderr at debug level")
	flags.Bool("no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		newSendCommand(),
		newSessionsCommand(),
		newModelsCommand(),
		newExportCommand(),
		newImportCommand(),
		newSchemaCommand(),
	)
}

// initConfig layers CHATDESK_* environment variables under the flags
func initConfig(cmd *cobra.Command) error {
	viper.SetEnvPrefix("chatdesk")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
