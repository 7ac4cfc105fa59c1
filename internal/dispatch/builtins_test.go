package dispatch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestHelp(t *testing.T) {
	f := setup(t)

	f.run(t, "help")
	text := f.ui.text()
	for _, name := range []string{"help", "open", "new-file", "preview", "pwd", "cd", "edit", "ls", "clear", "history", "title", "echo"} {
		assert.Contains(t, text, "  "+name)
	}

	f.ui.writes = nil
	f.run(t, "help open")
	assert.Contains(t, f.ui.text(), "usage: open <path|url>")

	f.ui.writes = nil
	f.run(t, "help git")
	assert.Contains(t, f.ui.text(), "git is not a built-in")
}

func TestPwdAndCd(t *testing.T) {
	f := setup(t)
	sub := filepath.Join(f.ui.dir, "project")
	require.NoError(t, os.Mkdir(sub, 0o755))

	f.run(t, "pwd")
	assert.Equal(t, f.ui.dir, f.ui.text())
	sess, _ := f.store.GetSession(f.id)
	assert.Equal(t, f.ui.dir, sess.CurrentDirectory)

	f.run(t, "cd project")
	sess, _ = f.store.GetSession(f.id)
	assert.Equal(t, sub, sess.CurrentDirectory)
	assert.Equal(t, []string{sub}, f.fwd.dirs)

	f.ui.writes = nil
	f.run(t, "pwd")
	assert.Equal(t, sub, f.ui.text())

	f.run(t, "cd ..")
	sess, _ = f.store.GetSession(f.id)
	assert.Equal(t, f.ui.dir, sess.CurrentDirectory)
}

func TestCdFailures(t *testing.T) {
	f := setup(t)
	writeFile(t, filepath.Join(f.ui.dir, "file.txt"), "x")

	f.run(t, "cd nowhere")
	assert.Contains(t, f.ui.text(), "no such directory")

	f.run(t, "cd file.txt")
	assert.Contains(t, f.ui.text(), "not a directory")

	dir, _ := f.store.Directory(f.id)
	assert.Empty(t, dir, "failed cd leaves the directory alone")
}

func TestOpenTextFileInEditor(t *testing.T) {
	f := setup(t)
	writeFile(t, filepath.Join(f.ui.dir, "main.go"), "package main\n")

	f.run(t, "open main.go --line 3")
	tab := f.ui.lastTab(t)
	assert.Equal(t, TabEditor, tab.Kind)
	assert.Equal(t, "main.go", tab.Title)
	assert.Equal(t, filepath.Join(f.ui.dir, "main.go"), tab.Path)
	assert.Equal(t, 3, tab.Line)
	assert.Contains(t, tab.MimeType, "text/plain")
	assert.Contains(t, f.ui.text(), "in editor")
}

func TestOpenFileFlagWithSpaces(t *testing.T) {
	f := setup(t)
	writeFile(t, filepath.Join(f.ui.dir, "a b.txt"), "hello")

	f.run(t, `open --file "a b.txt" --line 3`)
	tab := f.ui.lastTab(t)
	assert.Equal(t, "a b.txt", tab.Title)
	assert.Equal(t, 3, tab.Line)
}

func TestOpenImageInPreview(t *testing.T) {
	f := setup(t)
	png := "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00"
	writeFile(t, filepath.Join(f.ui.dir, "logo.png"), png)

	f.run(t, "open logo.png")
	tab := f.ui.lastTab(t)
	assert.Equal(t, TabPreview, tab.Kind)
	assert.Equal(t, "image/png", tab.MimeType)
	assert.Empty(t, tab.Content)
}

func TestOpenHTMLIsSanitized(t *testing.T) {
	f := setup(t)
	writeFile(t, filepath.Join(f.ui.dir, "page.html"),
		`<html><body><p>hi</p><script>alert(1)</script><a href="https://example.com" onclick="x()">x</a></body></html>`)

	f.run(t, "open page.html")
	tab := f.ui.lastTab(t)
	assert.Equal(t, TabPreview, tab.Kind)
	assert.Contains(t, tab.Content, "<p>hi</p>")
	assert.NotContains(t, tab.Content, "script")
	assert.NotContains(t, tab.Content, "onclick")
}

func TestOpenURL(t *testing.T) {
	f := setup(t)

	f.run(t, "open https://example.com/docs")
	tab := f.ui.lastTab(t)
	assert.Equal(t, TabBrowser, tab.Kind)
	assert.Equal(t, "example.com", tab.Title)
	assert.Equal(t, "https://example.com/docs", tab.URL)
}

func TestOpenFailuresAreReported(t *testing.T) {
	f := setup(t)
	require.NoError(t, os.Mkdir(filepath.Join(f.ui.dir, "dir"), 0o755))

	f.run(t, "open missing.txt")
	assert.Contains(t, f.ui.text(), "no such file")

	f.run(t, "open dir")
	assert.Contains(t, f.ui.text(), "is a directory")

	f.run(t, "open")
	assert.Contains(t, f.ui.text(), "usage: open")

	assert.Empty(t, f.ui.tabs)
	assert.True(t, f.store.Exists(f.id))
}

func TestOpenTabError(t *testing.T) {
	f := setup(t)
	f.ui.tabErr = errors.New("window closed")
	writeFile(t, filepath.Join(f.ui.dir, "a.txt"), "x")

	f.run(t, "open a.txt")
	assert.Contains(t, f.ui.text(), "open failed: window closed")
}

func TestEdit(t *testing.T) {
	f := setup(t)
	writeFile(t, filepath.Join(f.ui.dir, "page.html"), "<p>x</p>")

	f.run(t, "edit page.html")
	assert.Equal(t, TabEditor, f.ui.lastTab(t).Kind)

	f.run(t, "edit nothing.txt")
	assert.Contains(t, f.ui.text(), "Use new-file to create it")
}

func TestNewFile(t *testing.T) {
	f := setup(t)
	path := filepath.Join(f.ui.dir, "notes", "today.md")

	f.run(t, `new-file notes/today.md --content "# Today"`)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Today", string(data))

	tab := f.ui.lastTab(t)
	assert.Equal(t, TabEditor, tab.Kind)
	assert.Equal(t, path, tab.Path)

	f.run(t, "new-file notes/today.md")
	assert.Contains(t, f.ui.text(), "file already exists")

	f.run(t, "new-file notes/today.md --force")
	data, _ = os.ReadFile(path)
	assert.Empty(t, data)
}

func TestPreview(t *testing.T) {
	f := setup(t)
	writeFile(t, filepath.Join(f.ui.dir, "README.md"), "# Title\n\nbody\n")

	f.run(t, "preview README.md")
	tab := f.ui.lastTab(t)
	assert.Equal(t, TabPreview, tab.Kind)
	assert.Equal(t, "# Title\n\nbody\n", tab.Content)

	f.run(t, "preview http://localhost:3000")
	tab = f.ui.lastTab(t)
	assert.Equal(t, TabPreview, tab.Kind)
	assert.Equal(t, "http://localhost:3000", tab.URL)
}

func TestLs(t *testing.T) {
	f := setup(t)
	writeFile(t, filepath.Join(f.ui.dir, "a.go"), "")
	writeFile(t, filepath.Join(f.ui.dir, "b.txt"), "")
	writeFile(t, filepath.Join(f.ui.dir, "pkg", "c.go"), "")
	writeFile(t, filepath.Join(f.ui.dir, ".hidden"), "")

	f.run(t, "ls")
	assert.Equal(t, "a.go\nb.txt\npkg/", f.ui.text())

	f.ui.writes = nil
	f.run(t, "ls --all")
	assert.Equal(t, ".hidden\na.go\nb.txt\npkg/", f.ui.text())

	f.ui.writes = nil
	f.run(t, "ls **/*.go")
	assert.Equal(t, "a.go\npkg/c.go", f.ui.text())

	f.ui.writes = nil
	f.run(t, "ls pkg")
	assert.Equal(t, "c.go", f.ui.text())

	f.ui.writes = nil
	f.run(t, "ls *.rs")
	assert.Equal(t, "(no matches)", f.ui.text())

	f.ui.writes = nil
	f.run(t, "ls missing")
	assert.Contains(t, f.ui.text(), "no such directory")
}

func TestLsGlobOutsideSessionDir(t *testing.T) {
	f := setup(t)
	writeFile(t, filepath.Join(f.ui.dir, "a.go"), "")
	writeFile(t, filepath.Join(f.ui.dir, "b.txt"), "")
	writeFile(t, filepath.Join(f.ui.dir, "pkg", "c.go"), "")
	root := f.ui.dir
	t.Setenv("HOME", root)
	f.ui.dir = filepath.Join(root, "pkg")

	tests := []struct {
		line string
		want string
	}{
		{"ls ../*.txt", "b.txt"},
		{"ls ~/*.go", "a.go"},
		{"ls " + filepath.ToSlash(root) + "/**/*.go", "a.go\npkg/c.go"},
		{"ls --pattern ../pkg/*.go", "c.go"},
		{"ls *.go", "c.go"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			f.ui.writes = nil
			f.run(t, tt.line)
			assert.Equal(t, tt.want, f.ui.text())
		})
	}
}

func TestClear(t *testing.T) {
	f := setup(t)
	f.store.AddOutput(f.id, "old\noutput")

	f.run(t, "clear")
	out, _ := f.store.Output(f.id, 0)
	assert.Empty(t, out)
	assert.Equal(t, 1, f.ui.cleared)
}

func TestHistory(t *testing.T) {
	f := setup(t)
	f.run(t, "echo one")
	f.run(t, "git status")
	f.run(t, "echo two")

	f.ui.writes = nil
	f.run(t, "history")
	assert.Equal(t, "    1  echo one\n    2  git status\n    3  echo two\n    4  history", f.ui.text())

	f.ui.writes = nil
	f.run(t, "history --search echo --limit 2")
	assert.Equal(t, "    3  echo two\n    5  history --search echo --limit 2", f.ui.text())

	f.ui.writes = nil
	f.run(t, "history --limit 0")
	assert.Contains(t, f.ui.text(), "must be a positive number")

	f.ui.writes = nil
	f.run(t, "history --all")
	assert.Contains(t, f.ui.text(), "no command journal is configured")
}

func TestTitle(t *testing.T) {
	f := setup(t)

	f.run(t, "title build server")
	sess, _ := f.store.GetSession(f.id)
	assert.Equal(t, "build server", sess.Title)

	f.run(t, "title")
	assert.Contains(t, f.ui.text(), "usage: title")
}
