// Package workspace owns the on-disk layout of a provisioning run: unit
// source trees, the platform tree with its registries and generated
// descriptors, data catalogs and the topology file.
//
// All access goes through an afero.Fs so the compiler can run against an
// in-memory filesystem in tests.
package workspace

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/beevik/etree"
	"github.com/clamsproject/appliance/internal/core/catalog"
	"github.com/clamsproject/appliance/internal/core/deployment"
	"github.com/spf13/afero"
)

// =============================================================================
// Layout
// =============================================================================

// Layout names the fixed locations inside a workspace.
type Layout struct {
	Root        string // directory holding every tree, e.g. "."
	Platform    string // platform tree directory name, e.g. "clams-galaxy"
	Topology    string // topology file name, e.g. "docker-compose.yml"
	ImagePrefix string // prefix of descriptor file names, e.g. "clams-"
}

// Workspace reads and writes the files of one provisioning run.
type Workspace struct {
	fs     afero.Fs
	layout Layout
}

// New creates a Workspace over fsys.
func New(fsys afero.Fs, layout Layout) *Workspace {
	return &Workspace{fs: fsys, layout: layout}
}

// UnitDir is where a unit's source tree lives.
func (w *Workspace) UnitDir(serviceName string) string {
	return filepath.Join(w.layout.Root, serviceName)
}

// PlatformDir is where the platform's source tree lives.
func (w *Workspace) PlatformDir() string {
	return filepath.Join(w.layout.Root, w.layout.Platform)
}

// Dockerfile is the build descriptor inside a source tree.
func (w *Workspace) Dockerfile(dir string) string {
	return filepath.Join(dir, "Dockerfile")
}

// ShippedDescriptorPath is the tool descriptor a unit may ship with its source.
func (w *Workspace) ShippedDescriptorPath(serviceName string) string {
	return filepath.Join(w.UnitDir(serviceName), "config.xml")
}

// ToolRegistryPath is the platform's tool registry.
func (w *Workspace) ToolRegistryPath() string {
	return filepath.Join(w.PlatformDir(), "config", "tool_conf.xml")
}

// DatatypeRegistryPath is the platform's data-type registry.
func (w *Workspace) DatatypeRegistryPath() string {
	return filepath.Join(w.PlatformDir(), "config", "datatypes_conf.xml")
}

// ToolDescriptorPath is where an application's generated descriptor goes.
func (w *Workspace) ToolDescriptorPath(serviceName string) string {
	return filepath.Join(w.PlatformDir(), "tools", deployment.DescriptorFilename(w.layout.ImagePrefix, serviceName))
}

// DisplayDescriptorPath is where a consumer's generated descriptor goes.
func (w *Workspace) DisplayDescriptorPath(serviceName string) string {
	return filepath.Join(w.PlatformDir(), "display_applications", deployment.DescriptorFilename(w.layout.ImagePrefix, serviceName))
}

// CatalogPath is the data catalog for one media kind.
func (w *Workspace) CatalogPath(kind catalog.Kind) string {
	return filepath.Join(w.PlatformDir(), "tool-data", kind.Filename())
}

// TopologyPath is the generated compose file.
func (w *Workspace) TopologyPath() string {
	return filepath.Join(w.layout.Root, w.layout.Topology)
}

// =============================================================================
// File Operations
// =============================================================================

// Exists reports whether path exists.
func (w *Workspace) Exists(path string) (bool, error) {
	ok, err := afero.Exists(w.fs, path)
	if err != nil {
		return false, NewError("Exists", path, err)
	}
	return ok, nil
}

// ReadXML loads an XML document, keeping CDATA sections as written.
func (w *Workspace) ReadXML(path string) (*etree.Document, error) {
	f, err := w.fs.Open(path)
	if err != nil {
		return nil, NewError("ReadXML", path, err)
	}
	defer f.Close()

	doc := etree.NewDocument()
	doc.ReadSettings.PreserveCData = true
	if _, err := doc.ReadFrom(f); err != nil {
		return nil, NewError("ReadXML", path, err)
	}
	return doc, nil
}

// WriteXML replaces path with doc. Readers see either the old or the new
// document, never a partial one.
func (w *Workspace) WriteXML(path string, doc *etree.Document) error {
	err := w.writeAtomic(path, func(out io.Writer) error {
		_, err := doc.WriteTo(out)
		return err
	})
	if err != nil {
		return NewError("WriteXML", path, err)
	}
	return nil
}

// WriteFile replaces path with data atomically.
func (w *Workspace) WriteFile(path string, data []byte) error {
	err := w.writeAtomic(path, func(out io.Writer) error {
		_, err := out.Write(data)
		return err
	})
	if err != nil {
		return NewError("WriteFile", path, err)
	}
	return nil
}

// writeAtomic writes into a temp file next to path and renames it over path.
func (w *Workspace) writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := afero.TempFile(w.fs, dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		w.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		w.fs.Remove(tmpName)
		return err
	}
	if err := w.fs.Chmod(tmpName, 0o644); err != nil {
		w.fs.Remove(tmpName)
		return err
	}
	if err := w.fs.Rename(tmpName, path); err != nil {
		w.fs.Remove(tmpName)
		return err
	}
	return nil
}

// =============================================================================
// Reset
// =============================================================================

// Reset removes the given unit trees, the platform tree and the topology
// file. Paths that are already absent are ignored. Symlinked unit trees
// are unlinked; their targets are left alone.
func (w *Workspace) Reset(serviceNames []string) ([]string, error) {
	paths := make([]string, 0, len(serviceNames)+2)
	for _, name := range serviceNames {
		paths = append(paths, w.UnitDir(name))
	}
	paths = append(paths, w.PlatformDir(), w.TopologyPath())

	var removed []string
	for _, p := range paths {
		present, err := w.lexists(p)
		if err != nil {
			return removed, NewError("Reset", p, err)
		}
		if !present {
			continue
		}
		if err := w.fs.RemoveAll(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, NewError("Reset", p, err)
		}
		removed = append(removed, p)
	}
	return removed, nil
}

// lexists reports whether path exists without following a final symlink.
func (w *Workspace) lexists(path string) (bool, error) {
	var err error
	if l, ok := w.fs.(afero.Lstater); ok {
		_, _, err = l.LstatIfPossible(path)
	} else {
		_, err = w.fs.Stat(path)
	}
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// =============================================================================
// Data Catalogs
// =============================================================================

// WriteCatalogs regenerates one catalog per media kind found under
// storagePath. Each catalog is fully replaced. Kinds without a
// subdirectory are skipped. Symlinks count as the file they point to.
// The result maps each written kind to its entry count.
func (w *Workspace) WriteCatalogs(storagePath, containerRoot string) (map[catalog.Kind]int, error) {
	written := make(map[catalog.Kind]int)
	for _, kind := range catalog.Kinds {
		dir := filepath.Join(storagePath, string(kind))

		info, err := w.fs.Stat(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return written, NewError("WriteCatalogs", dir, err)
		}
		if !info.IsDir() {
			continue
		}

		files, err := afero.ReadDir(w.fs, dir)
		if err != nil {
			return written, NewError("WriteCatalogs", dir, err)
		}

		files, err = w.followLinks(dir, files)
		if err != nil {
			return written, NewError("WriteCatalogs", dir, err)
		}

		entries := catalog.Entries(kind, containerRoot, files)
		if err := w.WriteFile(w.CatalogPath(kind), catalog.Format(entries)); err != nil {
			return written, err
		}
		written[kind] = len(entries)
	}
	return written, nil
}

// followLinks replaces symlink entries with the info of their targets.
// Dangling links keep their own info and so are not catalogued.
func (w *Workspace) followLinks(dir string, files []fs.FileInfo) ([]fs.FileInfo, error) {
	for i, f := range files {
		if f.Mode()&fs.ModeSymlink == 0 {
			continue
		}
		target, err := w.fs.Stat(filepath.Join(dir, f.Name()))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		files[i] = target
	}
	return files, nil
}
