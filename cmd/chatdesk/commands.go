package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fpt/chatdesk/internal/app"
	"github.com/fpt/chatdesk/internal/export"
	"github.com/fpt/chatdesk/internal/session"
)

func newSendCommand() *cobra.Command {
	var newSession bool
	var sessionRef string
	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send one message and print the reply",
		Long: `Send one message to the active conversation, or to --session, and print
the reply. With no arguments the message is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read message: %w", err)
				}
				text = string(data)
			}

			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.Close()
			ctx := cmd.Context()
			if err := env.loadSaved(ctx); err != nil {
				return err
			}

			switch {
			case newSession:
				env.chat.NewSession(ctx)
			case sessionRef != "":
				id, err := env.chat.ResolveSession(sessionRef)
				if err != nil {
					return err
				}
				if _, err := env.chat.Switch(ctx, id); err != nil {
					return err
				}
			}

			res, err := env.chat.Send(ctx, text)
			if err != nil {
				return err
			}
			if !res.Dispatched {
				return errors.New(res.Notice)
			}
			out := cmd.OutOrStdout()
			app.WriteReply(out, res.Turn.Reply, false)
			if res.Saved.Err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", app.DescribeError(res.Saved.Err))
			}
			if res.Turn.Outcome != session.OutcomeSuccess {
				return res.Turn.Err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&newSession, "new", false, "Start a new conversation")
	cmd.Flags().StringVarP(&sessionRef, "session", "s", "", "Conversation number or id")
	return cmd
}

func newSessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List saved conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.Close()
			if err := env.loadSaved(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), app.RenderSessions(env.chat.Sessions()))
			return nil
		},
	}
}

func newModelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models of the selected provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.Close()
			if err := env.loadSaved(cmd.Context()); err != nil {
				return err
			}
			_, model := env.chat.Selection()
			fmt.Fprintln(cmd.OutOrStdout(), app.RenderModels(env.chat.ListModels(cmd.Context()), model))
			return nil
		},
	}
}

func newExportCommand() *cobra.Command {
	var format, sessionRef, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export saved conversations without the API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.Close()
			if err := env.loadSaved(cmd.Context()); err != nil {
				return err
			}

			id := ""
			if sessionRef != "" {
				if id, err = env.chat.ResolveSession(sessionRef); err != nil {
					return err
				}
			}
			if output == "-" {
				return env.chat.ExportTo(cmd.OutOrStdout(), format, id)
			}
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				return env.chat.ExportTo(f, format, id)
			}
			path, err := env.chat.Export(format, id, env.dirs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Export format ("+strings.Join(export.Formats(), ", ")+")")
	cmd.Flags().StringVarP(&sessionRef, "session", "s", "", "Export only this conversation")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, - for stdout (default: a timestamped file in the export directory)")
	return cmd
}

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Merge conversations from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment()
			if err != nil {
				return err
			}
			defer env.Close()
			ctx := cmd.Context()
			if err := env.loadSaved(ctx); err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			n, err := env.chat.Import(ctx, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d conversation(s)\n", n)
			return nil
		},
	}
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the export format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := export.Schema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}
