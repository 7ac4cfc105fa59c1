package dispatch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/rama-kairi/termcore/internal/database"
	terrors "github.com/rama-kairi/termcore/internal/errors"
	"github.com/rama-kairi/termcore/internal/parser"
	"github.com/rama-kairi/termcore/internal/session"
	"github.com/rama-kairi/termcore/internal/utils"
)

// HandlerFunc runs a built-in. Returned errors are written to the terminal.
type HandlerFunc func(ctx context.Context, inv *Invocation) error

// Builtin is a command handled without the shell
type Builtin struct {
	Name    string
	Usage   string
	Summary string
	Run     HandlerFunc
}

// Invocation is everything a handler may touch
type Invocation struct {
	Command    parser.Command
	SessionID  string
	Terminal   Context
	Store      *session.Store
	Dispatcher *Dispatcher
}

// Dir is the directory relative paths resolve against
func (inv *Invocation) Dir() string {
	return inv.Terminal.GetCurrentDirectory()
}

// Printf writes one formatted line to the terminal
func (inv *Invocation) Printf(format string, args ...interface{}) {
	inv.Terminal.WriteToTerminal(fmt.Sprintf(format, args...))
}

// target returns --name when given, else the first positional argument
func (inv *Invocation) target(flag string) string {
	if v, ok := inv.Command.Flag(flag); ok && v != "" {
		return v
	}
	return inv.Command.Arg(0)
}

func standardBuiltins() []Builtin {
	return []Builtin{
		{Name: "help", Usage: "help [command]", Summary: "List built-in commands", Run: runHelp},
		{Name: "open", Usage: "open <path|url> [--line N]", Summary: "Open a file in the editor or preview, or a URL in the browser", Run: runOpen},
		{Name: "edit", Usage: "edit <path> [--line N]", Summary: "Open a file in the editor", Run: runEdit},
		{Name: "new-file", Usage: "new-file <path> [--content text] [--force]", Summary: "Create a file and open it in the editor", Run: runNewFile},
		{Name: "preview", Usage: "preview <path|url>", Summary: "Open a file or URL in the preview panel", Run: runPreview},
		{Name: "pwd", Usage: "pwd", Summary: "Print the session directory", Run: runPwd},
		{Name: "cd", Usage: "cd [dir]", Summary: "Change the session directory", Run: runCd},
		{Name: "ls", Usage: "ls [dir|pattern] [--all]", Summary: "List files, ** globs supported", Run: runLs},
		{Name: "clear", Usage: "clear", Summary: "Clear the terminal output", Run: runClear},
		{Name: "history", Usage: "history [--limit N] [--search text] [--all]", Summary: "Show command history", Run: runHistory},
		{Name: "title", Usage: "title <text>", Summary: "Rename the session", Run: runTitle},
		{Name: "echo", Usage: "echo [text...]", Summary: "Print arguments", Run: runEcho},
	}
}

func runHelp(_ context.Context, inv *Invocation) error {
	if name := inv.Command.Arg(0); name != "" {
		b, ok := inv.Dispatcher.builtin(name)
		if !ok {
			return terrors.InvalidInput("command", fmt.Sprintf("%s is not a built-in; it runs in the shell", name))
		}
		inv.Printf("usage: %s\n%s", b.Usage, b.Summary)
		return nil
	}

	var b strings.Builder
	b.WriteString("Built-in commands:\n")
	for _, builtin := range inv.Dispatcher.Builtins() {
		fmt.Fprintf(&b, "  %-10s %s\n", builtin.Name, builtin.Summary)
	}
	b.WriteString("Anything else runs in the session shell.")
	inv.Terminal.WriteToTerminal(b.String())
	return nil
}

func runOpen(_ context.Context, inv *Invocation) error {
	target := inv.target("file")
	if target == "" {
		return terrors.InvalidInput("path", "usage: open <path|url>")
	}

	if isWebURL(target) {
		tab, err := browserTab(target, TabBrowser)
		if err != nil {
			return err
		}
		return addTab(inv, tab, target)
	}

	path, err := statFile(inv.Dir(), target)
	if err != nil {
		return err
	}
	tab, err := fileTab(path, false)
	if err != nil {
		return err
	}
	tab.Line = inv.Command.IntFlag("line", 0)
	return addTab(inv, tab, path)
}

func runEdit(_ context.Context, inv *Invocation) error {
	target := inv.target("file")
	if target == "" {
		return terrors.InvalidInput("path", "usage: edit <path>")
	}

	path, err := statFile(inv.Dir(), target)
	if err != nil {
		if terrors.Is(err, terrors.ErrCodeFileNotFound) {
			return err.(*terrors.TerminalError).WithSuggestion("Use new-file to create it")
		}
		return err
	}
	tab, _ := fileTab(path, true)
	tab.Line = inv.Command.IntFlag("line", 0)
	return addTab(inv, tab, path)
}

func runNewFile(_ context.Context, inv *Invocation) error {
	target := inv.target("file")
	if target == "" {
		return terrors.InvalidInput("path", "usage: new-file <path>")
	}

	path := utils.ResolvePath(inv.Dir(), target)
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return terrors.InvalidPath(path, "is a directory")
		}
		if !inv.Command.BoolFlag("force") {
			return terrors.InvalidPath(path, "file already exists").
				WithSuggestion("Use open to edit it or pass --force to overwrite")
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return terrors.HandlerFailed(err, "new-file")
	}
	content, _ := inv.Command.Flag("content")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return terrors.HandlerFailed(err, "new-file")
	}

	inv.Printf("created %s", utils.DisplayPath(path))
	tab, _ := fileTab(path, true)
	return addTab(inv, tab, path)
}

func runPreview(_ context.Context, inv *Invocation) error {
	target := inv.target("file")
	if target == "" {
		return terrors.InvalidInput("path", "usage: preview <path|url>")
	}

	if isWebURL(target) {
		tab, err := browserTab(target, TabPreview)
		if err != nil {
			return err
		}
		return addTab(inv, tab, target)
	}

	path, err := statFile(inv.Dir(), target)
	if err != nil {
		return err
	}
	tab, err := previewTab(path)
	if err != nil {
		return terrors.HandlerFailed(err, "preview")
	}
	return addTab(inv, tab, path)
}

func addTab(inv *Invocation, tab TabDescriptor, shown string) error {
	if err := inv.Terminal.AddTab(tab); err != nil {
		return terrors.HandlerFailed(err, inv.Command.Name)
	}
	if tab.Path != "" {
		shown = utils.DisplayPath(tab.Path)
	}
	inv.Printf("opened %s in %s", shown, tab.Kind)
	return nil
}

func runPwd(_ context.Context, inv *Invocation) error {
	dir := inv.Dir()
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return terrors.HandlerFailed(err, "pwd")
		}
		dir = wd
	}
	if known, ok := inv.Store.Directory(inv.SessionID); ok && known == "" {
		inv.Store.UpdateSession(inv.SessionID, session.Update{CurrentDirectory: &dir})
	}
	inv.Terminal.WriteToTerminal(dir)
	return nil
}

func runCd(ctx context.Context, inv *Invocation) error {
	target := inv.Command.Arg(0)
	if target == "" {
		target = "~"
	}

	dir := utils.ResolvePath(inv.Dir(), target)
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return terrors.InvalidPath(dir, "no such directory")
	}
	if err != nil {
		return terrors.InvalidPath(dir, err.Error())
	}
	if !info.IsDir() {
		return terrors.InvalidPath(dir, "not a directory")
	}

	inv.Store.UpdateSession(inv.SessionID, session.Update{CurrentDirectory: &dir})

	if follower, ok := inv.Dispatcher.forwarder.(DirectoryFollower); ok {
		if err := follower.Chdir(ctx, inv.SessionID, dir); err != nil {
			inv.Dispatcher.logger.Warn("Shell did not follow cd", map[string]interface{}{
				"session_id": inv.SessionID,
				"dir":        dir,
				"error":      err.Error(),
			})
		}
	}
	return nil
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

func runLs(_ context.Context, inv *Invocation) error {
	base := inv.Dir()
	pattern := "*"
	glob := ""
	if arg := inv.Command.Arg(0); arg != "" {
		if hasGlobMeta(arg) {
			glob = arg
		} else {
			base = utils.ResolvePath(base, arg)
		}
	}
	if p, ok := inv.Command.Flag("pattern"); ok && p != "" {
		glob = p
	}
	// The static prefix of a glob ("..", "~", "/abs") is resolved like a
	// path; only the rest is matched
	if glob != "" {
		var dir string
		dir, pattern = doublestar.SplitPattern(filepath.ToSlash(glob))
		base = utils.ResolvePath(base, filepath.FromSlash(dir))
	}

	info, err := os.Stat(base)
	if err != nil {
		return terrors.InvalidPath(base, "no such directory")
	}
	if !info.IsDir() {
		inv.Terminal.WriteToTerminal(filepath.Base(base))
		return nil
	}

	fsys := os.DirFS(base)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return terrors.InvalidInput("pattern", err.Error())
	}

	showAll := inv.Command.BoolFlag("all")
	var entries []string
	for _, m := range matches {
		if !showAll && isHidden(m) {
			continue
		}
		if st, err := fs.Stat(fsys, m); err == nil && st.IsDir() {
			m += "/"
		}
		entries = append(entries, m)
	}
	sort.Strings(entries)

	if len(entries) == 0 {
		inv.Terminal.WriteToTerminal("(no matches)")
		return nil
	}
	inv.Terminal.WriteToTerminal(strings.Join(entries, "\n"))
	return nil
}

func isHidden(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

func runClear(_ context.Context, inv *Invocation) error {
	if c, ok := inv.Terminal.(Clearer); ok {
		c.ClearTerminal()
		return nil
	}
	inv.Store.ClearOutput(inv.SessionID)
	return nil
}

func runHistory(ctx context.Context, inv *Invocation) error {
	limit := inv.Command.IntFlag("limit", 20)
	if limit <= 0 {
		return terrors.InvalidInput("limit", "must be a positive number")
	}
	search, _ := inv.Command.Flag("search")

	if inv.Command.BoolFlag("all") {
		journal := inv.Dispatcher.journal
		if journal == nil {
			return terrors.InvalidInput("all", "no command journal is configured")
		}
		records, err := journal.SearchCommands(ctx, database.SearchQuery{Text: search, Limit: limit})
		if err != nil {
			return terrors.DatabaseError(err, "search commands")
		}
		if len(records) == 0 {
			inv.Terminal.WriteToTerminal("(no history)")
			return nil
		}

		lines := make([]string, 0, len(records))
		// newest first from the journal, printed oldest first
		for i := len(records) - 1; i >= 0; i-- {
			rec := records[i]
			lines = append(lines, fmt.Sprintf("%s  %-8.8s  %s", rec.Timestamp.Local().Format("01-02 15:04:05"), rec.SessionID, rec.Line))
		}
		inv.Terminal.WriteToTerminal(strings.Join(lines, "\n"))
		return nil
	}

	entries, _ := inv.Store.History(inv.SessionID, 0)
	type numbered struct {
		n    int
		line string
	}
	var matched []numbered
	for i, line := range entries {
		if search == "" || strings.Contains(line, search) {
			matched = append(matched, numbered{n: i + 1, line: line})
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	if len(matched) == 0 {
		inv.Terminal.WriteToTerminal("(no history)")
		return nil
	}

	lines := make([]string, 0, len(matched))
	for _, m := range matched {
		lines = append(lines, fmt.Sprintf("%5d  %s", m.n, m.line))
	}
	inv.Terminal.WriteToTerminal(strings.Join(lines, "\n"))
	return nil
}

func runTitle(_ context.Context, inv *Invocation) error {
	title := strings.TrimSpace(strings.Join(inv.Command.Args, " "))
	if title == "" {
		return terrors.InvalidInput("title", "usage: title <text>")
	}
	inv.Store.UpdateSession(inv.SessionID, session.Update{Title: &title})
	inv.Printf("title set to %q", title)
	return nil
}

func runEcho(_ context.Context, inv *Invocation) error {
	inv.Terminal.WriteToTerminal(strings.Join(inv.Command.Args, " "))
	return nil
}
