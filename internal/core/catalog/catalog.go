// Package catalog builds the data catalogs the orchestration platform uses
// to offer archive files in its data-selection UI.
// This is part of the Functional Core - callers list directories and write
// files; this package decides what goes in them.
package catalog

import (
	"io/fs"
	"path"
	"strings"
)

// =============================================================================
// Media Kinds
// =============================================================================

// Kind is a media kind; each has its own subdirectory of the storage path.
type Kind string

const (
	KindText  Kind = "text"
	KindVideo Kind = "video"
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

// Kinds lists every media kind in the order catalogs are generated.
var Kinds = []Kind{KindText, KindVideo, KindImage, KindAudio}

// Filename is the catalog file name for a kind.
//
// Example:
//
//	KindVideo.Filename() // "videodb.loc"
func (k Kind) Filename() string {
	return string(k) + "db.loc"
}

// =============================================================================
// Entries
// =============================================================================

// Entry maps one asset file to its in-container path.
type Entry struct {
	Name          string
	ContainerPath string
}

// Entries selects the catalog entries for one media kind directory.
// Hidden files and anything that is not a regular file are skipped.
// containerRoot is where the storage path is mounted inside containers.
func Entries(kind Kind, containerRoot string, files []fs.FileInfo) []Entry {
	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		if strings.HasPrefix(f.Name(), ".") || !f.Mode().IsRegular() {
			continue
		}
		entries = append(entries, Entry{
			Name:          f.Name(),
			ContainerPath: path.Join(containerRoot, string(kind), f.Name()),
		})
	}
	return entries
}

// Format renders entries as tab-separated lines, one per entry.
func Format(entries []Entry) []byte {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Name)
		b.WriteByte('\t')
		b.WriteString(e.ContainerPath)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
