package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/fpt/chatdesk/internal/catalog"
	"github.com/fpt/chatdesk/internal/session"
	"github.com/fpt/chatdesk/pkg/chat/domain"
	"github.com/fpt/chatdesk/pkg/message"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	activeStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Bold(true).
			Foreground(lipgloss.Color("212"))

	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	replyHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// terminalWidth returns the width of stdout, or 80 when it is not a terminal
func terminalWidth() int {
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	return 80
}

// WriteSplashScreen writes the banner centered on the terminal.
// When colored is true, uses ANSI color codes; otherwise plain text.
func WriteSplashScreen(w io.Writer, colored bool) {
	if w == nil {
		return
	}
	lines := []string{
		"┌─┐┬ ┬┌─┐┌┬┐┌┬┐┌─┐┌─┐┬┌─",
		"│  ├─┤├─┤ │  ││├┤ └─┐├┴┐",
		"└─┘┴ ┴┴ ┴ ┴ ─┴┘└─┘└─┘┴ ┴",
		"",
		"multi-provider chat",
	}
	block := 0
	for _, l := range lines {
		if n := runeLen(l); n > block {
			block = n
		}
	}
	indent := 2
	if tw := terminalWidth(); tw > block {
		if pad := (tw - block) / 2; pad > indent {
			indent = pad
		}
	}

	prefix, suffix := "", ""
	if colored {
		prefix, suffix = "\x1b[90m", "\x1b[0m"
	}
	for _, l := range lines {
		inner := (block - runeLen(l)) / 2
		fmt.Fprintf(w, "%s%s%s%s\n", strings.Repeat(" ", indent+inner), prefix, l, suffix)
	}
	fmt.Fprintln(w)
}

// WriteResponseHeader writes the line printed above each reply.
// When colored is true, prints in bright cyan; otherwise plain text.
func WriteResponseHeader(w io.Writer, model string, colored bool) {
	if w == nil {
		return
	}
	text := fmt.Sprintf("assistant (%s)", model)
	if colored {
		text = replyHeaderStyle.Render(text)
	}
	fmt.Fprintln(w, text)
}

// WriteReply prints one assistant message, error explanations highlighted
func WriteReply(w io.Writer, m *message.Message, colored bool) {
	if m == nil {
		return
	}
	WriteResponseHeader(w, m.Model(), colored)
	if m.IsError() && colored {
		fmt.Fprintln(w, errorStyle.Render("⚠ "+m.Content()))
		return
	}
	fmt.Fprintln(w, m.Content())
}

// WriteTranscript prints the last n non-system messages of a conversation
func WriteTranscript(w io.Writer, msgs []*message.Message, n int, colored bool) {
	var shown []*message.Message
	for _, m := range msgs {
		if m.Role() != message.RoleSystem {
			shown = append(shown, m)
		}
	}
	if n > 0 && len(shown) > n {
		fmt.Fprintf(w, "… %d earlier messages\n", len(shown)-n)
		shown = shown[len(shown)-n:]
	}
	for _, m := range shown {
		if m.Role() == message.RoleUser {
			fmt.Fprintf(w, "👤 %s\n", m.Content())
			continue
		}
		WriteReply(w, m, colored)
	}
}

// RenderSessions renders the conversation list as a table; the active row is highlighted.
func RenderSessions(list []session.Summary) string {
	if len(list) == 0 {
		return dimStyle.Render("No conversations yet.")
	}
	rows := make([][]string, 0, len(list))
	activeRow := -1
	for i, s := range list {
		if s.Active {
			activeRow = i
		}
		rows = append(rows, []string{
			fmt.Sprint(i + 1),
			shortID(s.ID),
			s.Title,
			fmt.Sprint(s.MessageCount),
			string(s.Provider) + "/" + s.Model,
			formatUpdated(s.UpdatedAt),
		})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("#", "ID", "TITLE", "MSGS", "MODEL", "UPDATED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row == activeRow:
				return activeStyle
			default:
				return cellStyle
			}
		})
	return t.String()
}

// RenderModels renders a catalog listing, marking the selected model
func RenderModels(listing catalog.Listing, selected string) string {
	rows := make([][]string, 0, len(listing.Models))
	selectedRow := -1
	for i, m := range listing.Models {
		if m.ID == selected {
			selectedRow = i
		}
		rows = append(rows, []string{m.ID, m.Label(), strings.Join(m.CapabilityTags, ",")})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "NAME", "CAPABILITIES").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row == selectedRow:
				return activeStyle
			default:
				return cellStyle
			}
		})
	footer := fmt.Sprintf("source: %s", listing.Source)
	if listing.Err != nil {
		footer += fmt.Sprintf(" (listing failed: %s)", message.Truncate(listing.Err.Error(), 120))
	}
	return t.String() + "\n" + dimStyle.Render(footer)
}

// RenderStats renders the /stats report
func RenderStats(st Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Usage\n")
	if st.SessionID != "" {
		fmt.Fprintf(&b, "  Conversation   %s\n", shortID(st.SessionID))
		fmt.Fprintf(&b, "  Messages       %d (you %d, assistant %d, errors %d)\n",
			st.Session.TotalMessages, st.Session.UserMessages, st.Session.AssistantMessages, st.Session.ErrorMessages)
		fmt.Fprintf(&b, "  Characters     %d\n", st.Session.TotalChars)
		fmt.Fprintf(&b, "  Turns          %d\n", st.Turns)
		fmt.Fprintf(&b, "  Tokens         ~%d\n", st.Usage.Tokens)
	} else {
		fmt.Fprintf(&b, "  No active conversation\n")
	}
	fmt.Fprintf(&b, "  All sessions   %d conversations, %d turns, ~%d tokens, %d chars\n",
		st.Sessions, st.TotalTurns, st.TotalTokens, st.TotalChars)
	fmt.Fprintf(&b, "  Model          %s/%s\n", st.Provider, st.Model)
	fmt.Fprintf(&b, "  Saved to       %s\n", st.StoreLocation)
	return b.String()
}

// DescribeError turns a command failure into one line for the user
func DescribeError(err error) string {
	if err == nil {
		return ""
	}
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return perr.Explain()
	}
	return err.Error()
}

// shortID keeps the random tail of the ULID and the counter suffix.
// ULIDs created in the same millisecond share their leading characters.
func shortID(id string) string {
	if runeLen(id) <= 14 {
		return id
	}
	base, suffix := id, ""
	if i := strings.LastIndex(id, "-"); i >= 0 {
		base, suffix = id[:i], id[i:]
	}
	if len(base) > 6 {
		base = base[len(base)-6:]
	}
	return "…" + base + suffix
}

func formatUpdated(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	local := t.Local()
	if y, m, d := local.Date(); y == time.Now().Year() && m == time.Now().Month() && d == time.Now().Day() {
		return local.Format("15:04")
	}
	return local.Format("2006-01-02 15:04")
}

// runeLen returns the number of runes in s.
func runeLen(s string) int { return utf8.RuneCountInString(s) }
