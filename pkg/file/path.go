package file

import (
	"path/filepath"
	"strings"
)

// ReplaceExt swaps the extension of path for ext. A leading dot on ext is
// optional; an empty ext strips the extension.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	dir, name := filepath.Split(path)
	if dot := strings.LastIndex(name, "."); dot > 0 {
		name = name[:dot]
	}
	return filepath.Join(dir, name+ext)
}

// Sibling returns path with suffix inserted before its extension, e.g.
// "ep01.srt" + "enriched" gives "ep01.enriched.srt".
func Sibling(path, suffix string) string {
	ext := filepath.Ext(path)
	if strings.HasPrefix(filepath.Base(path), ".") && ext == filepath.Base(path) {
		ext = ""
	}
	return ReplaceExt(path, strings.TrimPrefix(suffix, ".")+ext)
}
