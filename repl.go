package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/rama-kairi/termcore/internal/dispatch"
	"github.com/rama-kairi/termcore/internal/session"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	dirStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	tabStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// consoleContext renders handler output and tab requests on a plain terminal
type consoleContext struct {
	mu  sync.Mutex
	out io.Writer
	dir string
}

func (c *consoleContext) WriteToTerminal(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.HasPrefix(text, "error:") {
		text = errorStyle.Render(text)
	}
	fmt.Fprintln(c.out, text)
}

func (c *consoleContext) AddTab(tab dispatch.TabDescriptor) error {
	target := tab.Path
	if target == "" {
		target = tab.URL
	}
	if tab.Line > 0 {
		target = fmt.Sprintf("%s:%d", target, tab.Line)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, tabStyle.Render(fmt.Sprintf("[%s] %s", tab.Kind, tab.Title))+" "+target)
	return nil
}

func (c *consoleContext) GetCurrentDirectory() string {
	return c.dir
}

func (c *consoleContext) ClearTerminal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, "\033[H\033[2J")
}

// prompt renders "<title> <dir> $ " with the home directory shortened to ~
func prompt(title, dir string) string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		if dir == home {
			dir = "~"
		} else if rel, err := filepath.Rel(home, dir); err == nil && !strings.HasPrefix(rel, "..") {
			dir = filepath.Join("~", rel)
		}
	}
	return promptStyle.Render(title) + " " + dirStyle.Render(dir) + " $ "
}

// runREPL reads lines from in and runs each in one session until EOF, exit or
// ctx is done. A session removed by the janitor is replaced on the next line.
func runREPL(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cwd, _ := os.Getwd()
	ui := &consoleContext{out: out, dir: cwd}

	newSession := func() string {
		id := a.store.CreateSession("")
		if dir, ok := a.store.Directory(id); !ok || dir == "" {
			a.store.UpdateSession(id, session.Update{CurrentDirectory: &cwd})
		}
		a.store.SetActiveSession(id)
		return id
	}
	id := newSession()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		if !a.store.Exists(id) {
			id = newSession()
		}
		snap, _ := a.store.GetSession(id)
		fmt.Fprint(out, prompt(snap.Title, snap.CurrentDirectory))

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = l
		}

		switch strings.TrimSpace(line) {
		case "exit", "quit":
			return nil
		}

		select {
		case err := <-a.dispatcher.Submit(ctx, id, line, ui):
			if err != nil && ctx.Err() == nil {
				ui.WriteToTerminal("error: " + err.Error())
			}
		case <-ctx.Done():
			return nil
		}
	}
}
