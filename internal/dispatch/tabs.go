package dispatch

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"

	terrors "github.com/rama-kairi/termcore/internal/errors"
	"github.com/rama-kairi/termcore/internal/utils"
)

// TabKind selects the panel a tab opens in
type TabKind string

const (
	TabEditor  TabKind = "editor"
	TabPreview TabKind = "preview"
	TabBrowser TabKind = "browser"
)

// TabDescriptor describes a tab for the UI to open
type TabDescriptor struct {
	Kind     TabKind `json:"kind"`
	Title    string  `json:"title"`
	Path     string  `json:"path,omitempty"`
	URL      string  `json:"url,omitempty"`
	Content  string  `json:"content,omitempty"`
	MimeType string  `json:"mime_type,omitempty"`
	Line     int     `json:"line,omitempty"`
}

// maxPreviewBytes bounds the content inlined into preview tabs
const maxPreviewBytes = 1 << 20

var htmlPolicy = bluemonday.UGCPolicy()

// statFile resolves target against dir and requires a regular file
func statFile(dir, target string) (string, error) {
	path := utils.ResolvePath(dir, strings.TrimPrefix(target, "file://"))

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", terrors.FileNotFound(path)
	}
	if err != nil {
		return "", terrors.InvalidPath(path, err.Error())
	}
	if info.IsDir() {
		return "", terrors.InvalidPath(path, "is a directory").
			WithSuggestion("Use cd or ls for directories")
	}
	return path, nil
}

// isWebURL reports http(s) targets; file:// URLs are treated as paths
func isWebURL(target string) bool {
	return utils.IsURL(target) && !strings.HasPrefix(strings.ToLower(target), "file://")
}

func browserTab(target string, kind TabKind) (TabDescriptor, error) {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return TabDescriptor{}, terrors.InvalidInput("url", fmt.Sprintf("cannot parse %q", target))
	}
	return TabDescriptor{Kind: kind, Title: u.Host, URL: u.String()}, nil
}

// detect returns the MIME type of a file and whether it belongs in a preview tab
func detect(path string) (*mimetype.MIME, bool, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, false, err
	}

	switch {
	case strings.HasPrefix(mt.String(), "image/"),
		mt.Is("application/pdf"),
		mt.Is("text/html"):
		return mt, true, nil
	}
	return mt, false, nil
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// previewTab builds a preview tab, inlining text content. HTML is sanitized.
func previewTab(path string) (TabDescriptor, error) {
	mt, _, err := detect(path)
	if err != nil {
		return TabDescriptor{}, err
	}

	tab := TabDescriptor{
		Kind:     TabPreview,
		Title:    filepath.Base(path),
		Path:     path,
		MimeType: mt.String(),
	}
	if !isText(mt) || strings.HasPrefix(mt.String(), "image/") {
		return tab, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return TabDescriptor{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxPreviewBytes))
	if err != nil {
		return TabDescriptor{}, err
	}

	if mt.Is("text/html") {
		tab.Content = htmlPolicy.Sanitize(string(data))
	} else {
		tab.Content = string(data)
	}
	return tab, nil
}

// fileTab picks editor or preview for an existing file. forceEditor skips detection.
func fileTab(path string, forceEditor bool) (TabDescriptor, error) {
	if forceEditor {
		return TabDescriptor{Kind: TabEditor, Title: filepath.Base(path), Path: path}, nil
	}

	mt, preview, err := detect(path)
	if err != nil {
		return TabDescriptor{}, err
	}
	if preview {
		return previewTab(path)
	}
	return TabDescriptor{
		Kind:     TabEditor,
		Title:    filepath.Base(path),
		Path:     path,
		MimeType: mt.String(),
	}, nil
}
