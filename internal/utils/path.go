package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome replaces a leading "~" with the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ResolvePath resolves target against base. Absolute and "~" targets ignore
// base; an empty target resolves to base itself.
func ResolvePath(base, target string) string {
	target = ExpandHome(strings.TrimSpace(target))
	if target == "" {
		target = "."
	}

	resolved := target
	if !filepath.IsAbs(target) {
		if base == "" {
			if wd, err := os.Getwd(); err == nil {
				base = wd
			}
		}
		resolved = filepath.Join(ExpandHome(base), target)
	}

	if abs, err := filepath.Abs(resolved); err == nil {
		return abs
	}
	return filepath.Clean(resolved)
}

// DisplayPath shortens paths under the home directory to "~/..."
func DisplayPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if rel, ok := strings.CutPrefix(path, home+string(filepath.Separator)); ok {
		return "~/" + filepath.ToSlash(rel)
	}
	return path
}

// IsURL reports whether s looks like an http(s) or file URL
func IsURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "file://")
}

// ShellEscape quotes s for a POSIX shell when it contains special characters
func ShellEscape(s string) string {
	if s == "" {
		return "''"
	}

	needsEscape := false
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '_' || c == '-' ||
			c == '.' || c == '/' || c == ':') {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
