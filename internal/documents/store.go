// Package documents manages the files behind bb_document_application rows.
package documents

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"

	"github.com/PorticoEstate/PorticoEstate-v2-sub004/internal/model"
)

// Store keeps application documents under root as
// <root>/application/<owner id>/<name>.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore returns a store rooted at root on fs.
func NewStore(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

// NewOSStore returns a store on the operating system filesystem.
func NewOSStore(root string) *Store {
	return NewStore(afero.NewOsFs(), root)
}

// Path returns where the file of doc is stored.
func (s *Store) Path(doc model.Document) string {
	return filepath.Join(s.root, "application", strconv.FormatUint(doc.OwnerID, 10), filepath.Base(doc.Name))
}

// Save writes data as the file of doc.
func (s *Store) Save(doc model.Document, data []byte) error {
	p := s.Path(doc)
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(s.fs, p, data, 0o644)
}

// Delete removes the file of doc.  A file that is already gone is not an
// error.  The owner directory is removed once it is empty.
func (s *Store) Delete(doc model.Document) error {
	p := s.Path(doc)
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	dir := filepath.Dir(p)
	if empty, err := afero.IsEmpty(s.fs, dir); err == nil && empty {
		_ = s.fs.Remove(dir)
	}
	return nil
}
