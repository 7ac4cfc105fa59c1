package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name     string
		base     string
		target   string
		expected string
	}{
		{"relative", "/srv/app", "logs", "/srv/app/logs"},
		{"parent", "/srv/app", "..", "/srv"},
		{"absolute", "/srv/app", "/etc", "/etc"},
		{"empty target", "/srv/app", "", "/srv/app"},
		{"dot", "/srv/app/", ".", "/srv/app"},
		{"home", "/srv", "~", home},
		{"home child", "/srv", "~/notes", filepath.Join(home, "notes")},
		{"home base", "~", "docs", filepath.Join(home, "docs")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolvePath(tt.base, tt.target))
		})
	}
}

func TestResolvePathEmptyBaseUsesWorkingDir(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "x"), ResolvePath("", "x"))
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, "~user/x", ExpandHome("~user/x"))
	assert.Equal(t, "/tmp", ExpandHome("/tmp"))
}

func TestDisplayPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	assert.Equal(t, "~", DisplayPath(home))
	assert.Equal(t, "~/a/b", DisplayPath(filepath.Join(home, "a", "b")))
	assert.Equal(t, "/definitely/elsewhere", DisplayPath("/definitely/elsewhere"))
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.com"))
	assert.True(t, IsURL("HTTP://example.com"))
	assert.True(t, IsURL("file:///tmp/a.html"))
	assert.False(t, IsURL("example.com"))
	assert.False(t, IsURL("./https"))
}

func TestShellEscape(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"", "''"},
		{"/usr/local/bin", "/usr/local/bin"},
		{"my dir", "'my dir'"},
		{"it's", `'it'"'"'s'`},
		{"$HOME", "'$HOME'"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ShellEscape(tt.in))
	}
}
