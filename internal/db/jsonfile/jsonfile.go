// Package jsonfile stores a KCIDB database as a single report document on
// disk. Files ending in ".lz4" are LZ4 frame compressed.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/db/memory"
	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// Storage reads the file on every view and rewrites it atomically after
// every successful update.
type Storage struct {
	path string
	mu   sync.RWMutex
}

// Open returns a read-write driver over the file at path.
func Open(path string) *db.Leaf {
	return db.NewLeaf(NewStorage(path), db.ReadWrite)
}

// NewStorage returns storage over the file at path. Nothing is read until
// the first call.
func NewStorage(path string) *Storage {
	return &Storage{path: path}
}

func (s *Storage) compressed() bool {
	return strings.HasSuffix(s.path, ".lz4")
}

func (s *Storage) Provision(_ context.Context, v schema.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err == nil {
		return errs.New(errs.AlreadyExists, "init", "%s already exists", s.path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return errs.Wrap(errs.ConnectionError, "init", err)
	}
	return s.write(report.New(v))
}

func (s *Storage) Teardown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", s.path, err)
	}
	return nil
}

func (s *Storage) Version(context.Context) (schema.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, err := s.read()
	if err != nil {
		return schema.Version{}, err
	}
	return doc.Version, nil
}

func (s *Storage) Migrate(_ context.Context, _, to schema.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.Version = to
	return s.write(doc)
}

func (s *Storage) View(_ context.Context, fn func(db.Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	return fn(newSnapshot(doc))
}

func (s *Storage) Update(_ context.Context, fn func(db.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	snap := newSnapshot(doc)
	if err := fn(snap); err != nil {
		return err
	}
	return s.write(snap.document(doc.Version))
}

func (s *Storage) Close() error {
	return nil
}

func (s *Storage) read() (*report.Document, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.ErrUninitialized
	}
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionError, "open", err)
	}
	defer f.Close()

	var r io.Reader = f
	if s.compressed() {
		r = lz4.NewReader(f)
	}
	var doc report.Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return &doc, nil
}

// write replaces the file through a temporary file in the same directory.
func (s *Storage) write(doc *report.Document) error {
	var buf bytes.Buffer
	var w io.Writer = &buf
	var zw *lz4.Writer
	if s.compressed() {
		zw = lz4.NewWriter(&buf)
		w = zw
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode %s: %w", s.path, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress %s: %w", s.path, err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp*")
	if err != nil {
		return errs.Wrap(errs.ConnectionError, "write", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp.Name(), err)
	}
	return nil
}

// snapshot is an id-indexed copy of the file contents.
type snapshot struct {
	objects map[*schema.Type]map[string]report.Object
}

func newSnapshot(doc *report.Document) *snapshot {
	s := &snapshot{objects: make(map[*schema.Type]map[string]report.Object)}
	for _, t := range schema.Types {
		set := make(map[string]report.Object)
		for _, o := range doc.Objects(t) {
			set[o.ID()] = o
		}
		s.objects[t] = set
	}
	return s
}

func (s *snapshot) Select(_ context.Context, f orm.Fetch) ([]report.Object, error) {
	return memory.Select(s.objects[f.Type], f), nil
}

func (s *snapshot) Put(_ context.Context, t *schema.Type, objs []report.Object) error {
	for _, o := range objs {
		s.objects[t][o.ID()] = o.Clone()
	}
	return nil
}

func (s *snapshot) document(v schema.Version) *report.Document {
	doc := report.New(v)
	for _, t := range schema.Types {
		doc.Add(t, memory.Select(s.objects[t], orm.Fetch{Type: t})...)
	}
	return doc
}
