package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/fpt/chatdesk/internal/config"
	"github.com/fpt/chatdesk/internal/session"
	pkgLogger "github.com/fpt/chatdesk/pkg/logger"
	"github.com/fpt/chatdesk/pkg/message"
)

// REPL is the interactive front end over one Chat
type REPL struct {
	chat    *Chat
	dirs    *config.UserDirs
	out     io.Writer
	colored bool
	ctx     context.Context
	display *ContextDisplay
	logger  *pkgLogger.Logger
}

func NewREPL(ctx context.Context, chat *Chat, dirs *config.UserDirs, out io.Writer, colored bool) *REPL {
	if out == nil {
		out = os.Stdout
	}
	return &REPL{
		chat:    chat,
		dirs:    dirs,
		out:     out,
		colored: colored,
		ctx:     ctx,
		display: NewContextDisplay(nil),
		logger:  pkgLogger.NewComponentLogger("repl"),
	}
}

// StartInteractiveMode runs the readline-based REPL until /quit or EOF
func StartInteractiveMode(ctx context.Context, chat *Chat, dirs *config.UserDirs, colored bool) error {
	r := NewREPL(ctx, chat, dirs, os.Stdout, colored)
	return r.Run()
}

func (r *REPL) Run() error {
	paste := NewPasteReader(readline.Stdin)

	// bracketed paste mode
	fmt.Print("\x1b[?2004h")
	defer fmt.Print("\x1b[?2004l")

	historyFile := ""
	if r.dirs != nil {
		historyFile = r.dirs.HistoryFile
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:              "> ",
		HistoryFile:         historyFile,
		AutoComplete:        r.autoCompleter(),
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		HistorySearchFold:   true,
		HistoryLimit:        2000,
		FuncFilterInputRune: filterInput,
		Stdin:               paste,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize interactive mode: %w", err)
	}
	defer rl.Close()
	r.out = rl.Stdout()

	WriteSplashScreen(r.out, r.colored)
	provider, model := r.chat.Selection()
	fmt.Fprintf(r.out, "🧠 Model: %s/%s\n", provider, model)
	if !r.chat.HasCredential() {
		fmt.Fprintf(r.out, "🔑 No API key for %s yet. Set one with /key or the %s variable.\n",
			provider, r.chat.Settings().CredentialEnvFor(provider))
	}
	fmt.Fprintln(r.out, "💬 Commands start with '/', everything else goes to the model. Type / for a menu.")
	fmt.Fprintln(r.out, strings.Repeat("=", 60))

	r.offerRestore()

	for {
		if s := r.chat.Store().Active(); s != nil {
			provider, model := r.chat.Selection()
			var line string
			s.View(func(t *message.Transcript) {
				line = r.display.ShowContextUsage(t, r.chat.Generation().ContextWindow, provider, model)
			})
			if line != "" {
				fmt.Fprintln(r.out, line)
			}
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				break
			}
			continue
		} else if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			paste.Expand("")
			continue
		}
		if strings.HasPrefix(input, "/") {
			paste.Expand("")
			if r.handleSlashCommand(input) {
				break
			}
			continue
		}
		r.send(paste.Expand(input))
	}
	r.chat.Save(r.ctx)
	return nil
}

func (r *REPL) offerRestore() {
	offered, ps := r.chat.OfferRestore(r.ctx, func() {
		fmt.Fprintln(r.out, "\n⏱  Restore offer expired; saved conversations were kept. Starting fresh.")
	})
	if !offered {
		return
	}
	fmt.Fprintf(r.out, "💾 Found %d saved conversation(s) with %d message(s).\n", len(ps.Sessions), ps.MessageCount())
	fmt.Fprintf(r.out, "   /restore to load them, /discard to delete them (offer expires in %s).\n",
		r.chat.Settings().RestoreOfferTimeout())
}

// withInterrupt runs fn with a context cancelled by Ctrl+C
func (r *REPL) withInterrupt(fn func(ctx context.Context)) (canceled bool) {
	execCtx, cancel := context.WithCancel(r.ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(r.out)
			cancel()
		case <-execCtx.Done():
		}
	}()

	fn(execCtx)

	canceled = errors.Is(execCtx.Err(), context.Canceled)
	signal.Stop(sigChan)
	cancel()
	return canceled
}

// send delivers one user message and prints the outcome
func (r *REPL) send(text string) {
	var res *SendResult
	var err error
	canceled := r.withInterrupt(func(ctx context.Context) {
		res, err = r.chat.Send(ctx, text)
	})
	r.printResult(res, err, canceled)
}

func (r *REPL) printResult(res *SendResult, err error, canceled bool) {
	if err != nil {
		if errors.Is(err, session.ErrTurnInProgress) {
			fmt.Fprintln(r.out, "⏳ Still waiting for the previous reply.")
			return
		}
		fmt.Fprintf(r.out, "❌ %s\n", DescribeError(err))
		return
	}
	if !res.Dispatched {
		fmt.Fprintf(r.out, "🔑 %s\n", res.Notice)
		return
	}
	if canceled {
		fmt.Fprintln(r.out, "🛑 Request cancelled.")
	}
	WriteReply(r.out, res.Turn.Reply, r.colored)
	if res.Saved.Err != nil {
		fmt.Fprintf(r.out, "💾 Could not save conversations: %s\n", DescribeError(res.Saved.Err))
	}
}

// handleSlashCommand processes commands that start with /.
// Returns true if the command requests program exit.
func (r *REPL) handleSlashCommand(input string) bool {
	if strings.TrimSpace(input) == "/" {
		return r.showCommandSelector()
	}

	name, args, _ := strings.Cut(strings.TrimPrefix(input, "/"), " ")
	args = strings.TrimSpace(args)
	commands := getSlashCommands()
	for _, cmd := range commands {
		if cmd.Name == name {
			return cmd.Handler(r, args)
		}
	}

	fmt.Fprintf(r.out, "❌ Unknown command: /%s\n", name)
	fmt.Fprintln(r.out, "💡 Type /help for the list, or just '/' for a menu.")
	return false
}

// autoCompleter completes commands and, where it helps, their arguments
func (r *REPL) autoCompleter() *readline.PrefixCompleter {
	presetItems := func(string) []string { return r.chat.Presets().Names() }
	sessionItems := func(string) []string {
		var ids []string
		for _, s := range r.chat.Sessions() {
			ids = append(ids, shortID(s.ID))
		}
		return ids
	}
	var items []readline.PrefixCompleterInterface
	for _, cmd := range getSlashCommands() {
		switch cmd.Name {
		case "preset":
			items = append(items, readline.PcItem("/preset", readline.PcItemDynamic(presetItems)))
		case "switch", "delete":
			items = append(items, readline.PcItem("/"+cmd.Name, readline.PcItemDynamic(sessionItems)))
		case "export":
			items = append(items, readline.PcItem("/export", readline.PcItem("json"), readline.PcItem("yaml"), readline.PcItem("md")))
		case "provider":
			items = append(items, readline.PcItem("/provider",
				readline.PcItem("openai"), readline.PcItem("github"), readline.PcItem("anthropic"),
				readline.PcItem("gemini"), readline.PcItem("ollama")))
		default:
			items = append(items, readline.PcItem("/"+cmd.Name))
		}
	}
	items = append(items, readline.PcItem("/"))
	return readline.NewPrefixCompleter(items...)
}

// filterInput drops Ctrl+Z so it cannot suspend the process mid-turn
func filterInput(r rune) (rune, bool) {
	switch r {
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (r *REPL) showInteractiveHelp() {
	fmt.Fprintln(r.out, "\n📚 Interactive Commands:")
	fmt.Fprintln(r.out, "  /                - Show interactive command selector")
	for _, cmd := range getSlashCommands() {
		fmt.Fprintf(r.out, "  /%-15s - %s\n", cmd.Name, cmd.Description)
	}
	fmt.Fprintln(r.out, "\n⌨️  Keys:")
	fmt.Fprintln(r.out, "  Ctrl+C           - Cancel the pending reply, or the current input")
	fmt.Fprintln(r.out, "  Ctrl+R           - Search input history")
	fmt.Fprintln(r.out, "  Tab              - Complete commands, presets and conversation ids")
	fmt.Fprintln(r.out, "  Paste            - Multi-line pastes are sent as one message")
}
