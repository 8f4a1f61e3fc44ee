package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/fpt/chatdesk/internal/preset"
	"github.com/fpt/chatdesk/internal/session"
	"github.com/fpt/chatdesk/pkg/chat/domain"
)

// SlashCommand represents a command that starts with /
type SlashCommand struct {
	Name        string
	Description string
	Handler     func(r *REPL, args string) bool // Returns true if should exit
}

// getSlashCommands returns all available slash commands
func getSlashCommands() []SlashCommand {
	return []SlashCommand{
		{Name: "help", Description: "Show available commands", Handler: func(r *REPL, _ string) bool {
			r.showInteractiveHelp()
			return false
		}},
		{Name: "new", Description: "Start a new conversation", Handler: cmdNew},
		{Name: "sessions", Description: "List conversations", Handler: func(r *REPL, _ string) bool {
			fmt.Fprintln(r.out, RenderSessions(r.chat.Sessions()))
			return false
		}},
		{Name: "switch", Description: "Switch to another conversation: /switch [#|id]", Handler: cmdSwitch},
		{Name: "delete", Description: "Delete a conversation: /delete [#|id]", Handler: cmdDelete},
		{Name: "history", Description: "Show the active conversation", Handler: func(r *REPL, _ string) bool {
			s := r.chat.Store().Active()
			if s == nil || s.IsEmpty() {
				fmt.Fprintln(r.out, "📜 No messages yet.")
				return false
			}
			WriteTranscript(r.out, s.Messages(), 0, r.colored)
			return false
		}},
		{Name: "model", Description: "Choose the model: /model [id]", Handler: cmdModel},
		{Name: "models", Description: "List models of the provider: /models [refresh]", Handler: cmdModels},
		{Name: "provider", Description: "Choose the provider: /provider [name]", Handler: cmdProvider},
		{Name: "key", Description: "Set the API key for the provider", Handler: cmdKey},
		{Name: "test", Description: "Test the connection with the selected model", Handler: cmdTest},
		{Name: "system", Description: "Show or set the system prompt: /system [text|clear]", Handler: cmdSystem},
		{Name: "preset", Description: "Apply a persona preset: /preset [name]", Handler: cmdPreset},
		{Name: "quick", Description: "Send a quick follow-up prompt", Handler: cmdQuick},
		{Name: "clear", Description: "Clear the active conversation, keeping its system prompt", Handler: func(r *REPL, _ string) bool {
			if err := r.chat.ClearHistory(r.ctx); err != nil {
				fmt.Fprintf(r.out, "❌ %s\n", DescribeError(err))
				return false
			}
			fmt.Fprintln(r.out, "🧹 Conversation cleared.")
			return false
		}},
		{Name: "regen", Description: "Ask again for the last reply", Handler: func(r *REPL, _ string) bool {
			var res *SendResult
			var err error
			canceled := r.withInterrupt(func(ctx context.Context) {
				res, err = r.chat.Regenerate(ctx)
			})
			r.printResult(res, err, canceled)
			return false
		}},
		{Name: "last", Description: "Show the last reply again", Handler: func(r *REPL, _ string) bool {
			m, ok := r.chat.LastReply()
			if !ok {
				fmt.Fprintln(r.out, "📜 No reply yet.")
				return false
			}
			WriteReply(r.out, m, r.colored)
			return false
		}},
		{Name: "stats", Description: "Show usage statistics", Handler: func(r *REPL, _ string) bool {
			fmt.Fprint(r.out, RenderStats(r.chat.Stats()))
			return false
		}},
		{Name: "export", Description: "Export conversations: /export [json|yaml|md] [current]", Handler: cmdExport},
		{Name: "import", Description: "Import conversations from a JSON export: /import <path>", Handler: cmdImport},
		{Name: "restore", Description: "Load the saved conversations offered at startup", Handler: func(r *REPL, _ string) bool {
			if err := r.chat.AcceptRestore(); err != nil {
				fmt.Fprintf(r.out, "❌ %s\n", DescribeError(err))
				return false
			}
			fmt.Fprintf(r.out, "💾 Restored %d conversation(s).\n", r.chat.Store().Len())
			if s := r.chat.Store().Active(); s != nil {
				WriteTranscript(r.out, s.Messages(), 6, r.colored)
			}
			return false
		}},
		{Name: "discard", Description: "Delete the saved conversations offered at startup", Handler: func(r *REPL, _ string) bool {
			if err := r.chat.DeclineRestore(r.ctx); err != nil {
				fmt.Fprintf(r.out, "❌ %s\n", DescribeError(err))
				return false
			}
			fmt.Fprintln(r.out, "🗑  Saved conversations deleted.")
			return false
		}},
		{Name: "quit", Description: "Exit", Handler: func(r *REPL, _ string) bool {
			fmt.Fprintln(r.out, "👋 Goodbye!")
			return true
		}},
		{Name: "exit", Description: "Exit (alias for quit)", Handler: func(r *REPL, _ string) bool {
			fmt.Fprintln(r.out, "👋 Goodbye!")
			return true
		}},
	}
}

func cmdNew(r *REPL, _ string) bool {
	s, saved := r.chat.NewSession(r.ctx)
	fmt.Fprintf(r.out, "🆕 New conversation %s\n", shortID(s.ID()))
	if saved.Err != nil {
		fmt.Fprintf(r.out, "💾 Could not save conversations: %s\n", DescribeError(saved.Err))
	}
	return false
}

func cmdSwitch(r *REPL, args string) bool {
	id, ok := r.resolveOrSelect(args, "Switch to")
	if !ok {
		return false
	}
	s, err := r.chat.Switch(r.ctx, id)
	if err != nil {
		fmt.Fprintf(r.out, "❌ %s\n", DescribeError(err))
		return false
	}
	fmt.Fprintf(r.out, "🗂  %s\n", s.Title())
	WriteTranscript(r.out, s.Messages(), 6, r.colored)
	return false
}

func cmdDelete(r *REPL, args string) bool {
	id, ok := r.resolveOrSelect(args, "Delete")
	if !ok {
		return false
	}
	if args == "" && !confirm("Delete this conversation") {
		return false
	}
	if err := r.chat.Delete(r.ctx, id); err != nil {
		if errors.Is(err, session.ErrTurnInProgress) {
			fmt.Fprintln(r.out, "⏳ That conversation is waiting for a reply.")
			return false
		}
		fmt.Fprintf(r.out, "❌ %s\n", DescribeError(err))
		return false
	}
	fmt.Fprintf(r.out, "🗑  Deleted %s\n", shortID(id))
	return false
}

func cmdModel(r *REPL, args string) bool {
	model := args
	if model == "" {
		listing := r.chat.ListModels(r.ctx)
		_, current := r.chat.Selection()
		idx, ok := selectFrom("Choose a model", listing.Models, func(m domain.ModelDescriptor) string {
			label := m.ID
			if m.ID == current {
				label += " (current)"
			}
			if m.Description != "" {
				label += " - " + m.Description
			}
			return label
		})
		if !ok {
			return false
		}
		model = listing.Models[idx].ID
	}
	if err := r.chat.SetModel(r.ctx, model); err != nil {
		fmt.Fprintf(r.out, "❌ %s\n", DescribeError(err))
		return false
	}
	fmt.Fprintf(r.out, "🧠 Model: %s\n", model)
	return false
}

func cmdModels(r *REPL, args string) bool {
	if args == "refresh" {
		r.chat.RefreshModels()
	}
	_, current := r.chat.Selection()
	fmt.Fprintln(r.out, RenderModels(r.chat.ListModels(r.ctx), current))
	return false
}

func cmdProvider(r *REPL, args string) bool {
	name := args
	if name == "" {
		providers := domain.Providers()
		idx, ok := selectFrom("Choose a provider", providers, func(p domain.ProviderID) string { return string(p) })
		if !ok {
			return false
		}
		name = string(providers[idx])
	}
	p, err := r.chat.SetProvider(r.ctx, name)
	if err != nil {
		fmt.Fprintf(r.out, "❌ %s\n", DescribeError(err))
		return false
	}
	_, model := r.chat.Selection()
	fmt.Fprintf(r.out, "🔌 Provider: %s, model: %s\n", p, model)
	if !r.chat.HasCredential() {
		fmt.Fprintf(r.out, "🔑 Set an API key with /key or %s.\n", r.chat.Settings().CredentialEnvFor(p))
	}
	return false
}

func cmdKey(r *REPL, args string) bool {
	key := args
	if key == "" {
		prompt := promptui.Prompt{Label: "API key", Mask: '*'}
		var err error
		if key, err = prompt.Run(); err != nil {
			return false
		}
	}
	saved := r.chat.SetCredential(r.ctx, key)
	if strings.TrimSpace(key) == "" {
		fmt.Fprintln(r.out, "🔑 API key removed.")
	} else {
		fmt.Fprintf(r.out, "🔑 API key set (%s). It is saved in plaintext at %s.\n",
			r.chat.CredentialFingerprint(), r.chat.Gateway().Location())
	}
	if saved.Err != nil {
		fmt.Fprintf(r.out, "💾 Could not save: %s\n", DescribeError(saved.Err))
	}
	return false
}

func cmdTest(r *REPL, _ string) bool {
	provider, model := r.chat.Selection()
	fmt.Fprintf(r.out, "🔎 Testing %s/%s...\n", provider, model)
	var err error
	r.withInterrupt(func(ctx context.Context) { err = r.chat.TestConnection(ctx) })
	if err != nil {
		fmt.Fprintf(r.out, "❌ %s\n", DescribeError(err))
		return false
	}
	fmt.Fprintln(r.out, "✅ Connection OK")
	return false
}

func cmdSystem(r *REPL, args string) bool {
	switch args {
	case "":
		if p := r.chat.SystemPrompt(); p != "" {
			fmt.Fprintf(r.out, "⚙️  System prompt:\n%s\n", p)
		} else {
			fmt.Fprintln(r.out, "⚙️  No system prompt.")
		}
		return false
	case "clear":
		args = ""
	}
	if err := r.chat.SetSystemPrompt(r.ctx, args); err != nil {
		fmt.Fprintf(r.out, "❌ %s\n", DescribeError(err))
		return false
	}
	fmt.Fprintln(r.out, "⚙️  System prompt updated.")
	return false
}

func cmdPreset(r *REPL, args string) bool {
	name := args
	if name == "" {
		presets := r.chat.Presets().List()
		idx, ok := selectFrom("Choose a preset", presets, func(p preset.Preset) string { return p.Label() })
		if !ok {
			return false
		}
		name = presets[idx].Name
	}
	p, err := r.chat.ApplyPreset(r.ctx, name)
	if err != nil {
		fmt.Fprintf(r.out, "❌ %s\n", DescribeError(err))
		return false
	}
	fmt.Fprintf(r.out, "%s preset applied.\n", p.Label())
	return false
}

func cmdQuick(r *REPL, _ string) bool {
	prompts := r.chat.Presets().QuickPrompts()
	idx, ok := selectFrom("Quick prompt", prompts, func(s string) string { return s })
	if !ok {
		return false
	}
	fmt.Fprintf(r.out, "> %s\n", prompts[idx])
	r.send(prompts[idx])
	return false
}

func cmdExport(r *REPL, args string) bool {
	fields := strings.Fields(args)
	format := ""
	sessionID := ""
	for _, f := range fields {
		if f == "current" {
			sessionID = r.chat.Store().ActiveID()
			if sessionID == "" {
				fmt.Fprintln(r.out, "❌ No active conversation.")
				return false
			}
			continue
		}
		format = f
	}
	path, err := r.chat.Export(format, sessionID, r.dirs)
	if err != nil {
		fmt.Fprintf(r.out, "❌ %s\n", DescribeError(err))
		return false
	}
	fmt.Fprintf(r.out, "📤 Exported to %s\n", path)
	return false
}

func cmdImport(r *REPL, args string) bool {
	if args == "" {
		fmt.Fprintln(r.out, "Usage: /import <path>")
		return false
	}
	f, err := os.Open(args)
	if err != nil {
		fmt.Fprintf(r.out, "❌ %s\n", err)
		return false
	}
	defer f.Close()
	n, err := r.chat.Import(r.ctx, f)
	if err != nil {
		fmt.Fprintf(r.out, "❌ %s\n", DescribeError(err))
		return false
	}
	fmt.Fprintf(r.out, "📥 Imported %d conversation(s).\n", n)
	return false
}

// resolveOrSelect maps a command argument to a session id, showing a
// selector when there is no argument
func (r *REPL) resolveOrSelect(args, label string) (string, bool) {
	if args != "" {
		id, err := r.chat.ResolveSession(args)
		if err != nil {
			fmt.Fprintf(r.out, "❌ %s\n", DescribeError(err))
			return "", false
		}
		return id, true
	}
	list := r.chat.Sessions()
	if len(list) == 0 {
		fmt.Fprintln(r.out, "📜 No conversations yet.")
		return "", false
	}
	idx, ok := selectFrom(label, list, func(s session.Summary) string {
		mark := " "
		if s.Active {
			mark = "*"
		}
		return fmt.Sprintf("%s %s  %s (%d messages)", mark, shortID(s.ID), s.Title, s.MessageCount)
	})
	if !ok {
		return "", false
	}
	return list[idx].ID, true
}

// selectFrom shows a searchable promptui list and returns the chosen index
func selectFrom[T any](label string, items []T, render func(T) string) (int, bool) {
	if len(items) == 0 {
		return 0, false
	}
	labels := make([]string, len(items))
	for i, it := range items {
		labels[i] = render(it)
	}
	prompt := promptui.Select{
		Label: label,
		Items: labels,
		Size:  10,
		Searcher: func(input string, index int) bool {
			return strings.Contains(strings.ToLower(labels[index]), strings.ToLower(strings.TrimSpace(input)))
		},
	}
	i, _, err := prompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			fmt.Println("\nCancelled.")
		}
		return 0, false
	}
	return i, true
}

func confirm(label string) bool {
	prompt := promptui.Prompt{Label: label, IsConfirm: true}
	_, err := prompt.Run()
	return err == nil
}

// showCommandSelector shows an interactive command selector using promptui
func (r *REPL) showCommandSelector() bool {
	commands := getSlashCommands()

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}?",
		Active:   "▸ {{ .Name | cyan }} - {{ .Description | faint }}",
		Inactive: "  {{ .Name | cyan }} - {{ .Description | faint }}",
		Selected: "{{ .Name | cyan }}",
	}
	prompt := promptui.Select{
		Label:     "Choose a command",
		Items:     commands,
		Templates: templates,
		Size:      10,
		Searcher: func(input string, index int) bool {
			return strings.Contains(commands[index].Name, strings.ToLower(strings.TrimSpace(input)))
		},
	}
	i, _, err := prompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			fmt.Fprintln(r.out, "\nCancelled.")
			return false
		}
		fmt.Fprintf(r.out, "Command selection failed: %v\n", err)
		return false
	}
	return commands[i].Handler(r, "")
}
