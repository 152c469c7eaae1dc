// Package store persists the artifact and marker documents as JSON files.
//
// Each document is one file rewritten whole on every save. Saves go through a
// temp file and a rename, so concurrent readers see either the previous or the
// new document. Loads never fail: a missing or damaged file yields an empty
// document and a LoadResult describing what happened.
package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/kimhsiao/arcache/internal/atomicfile"
	"github.com/kimhsiao/arcache/internal/config"
	apperrors "github.com/kimhsiao/arcache/internal/errors"
	"github.com/kimhsiao/arcache/internal/logging"
	"github.com/kimhsiao/arcache/internal/telemetry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Status describes how a document was obtained by a load.
type Status string

const (
	// StatusLoaded means the file was read and decoded.
	StatusLoaded Status = "loaded"
	// StatusAbsent means no file exists yet; the empty document was returned.
	StatusAbsent Status = "absent"
	// StatusCorrupt means the file could not be decoded; the empty document was returned.
	StatusCorrupt Status = "corrupt"
	// StatusUnreadable means the file could not be read; the empty document was returned.
	StatusUnreadable Status = "unreadable"
)

// LoadResult reports the outcome of a load. Err is set for corrupt and
// unreadable documents.
type LoadResult struct {
	Status Status
	Err    error
}

// Recovered reports whether the returned document is a fallback for a file
// that exists but could not be used.
func (r LoadResult) Recovered() bool {
	return r.Status == StatusCorrupt || r.Status == StatusUnreadable
}

// Options configures a store.
type Options struct {
	Rename  atomicfile.Options
	Metrics *telemetry.Metrics
	// Now stamps LastUpdate on save. Defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig builds Options from the storage configuration.
func OptionsFromConfig(cfg *config.Config, metrics *telemetry.Metrics) Options {
	return Options{
		Rename: atomicfile.Options{
			RenameAttempts: cfg.Store.RenameAttempts,
			RenameDelay:    cfg.Store.RenameDelay,
		},
		Metrics: metrics,
	}
}

// document is implemented by the persisted document types.
type document interface {
	Touch(now time.Time)
	Normalize()
}

// documentFile is one JSON document on disk. mu serializes every write and
// every load-modify-save sequence; plain loads take no lock.
type documentFile[T document] struct {
	name   string
	path   string
	newDoc func() T
	opts   Options
	mu     sync.Mutex
}

func newDocumentFile[T document](name, path string, newDoc func() T, opts Options) *documentFile[T] {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &documentFile[T]{
		name:   name,
		path:   path,
		newDoc: newDoc,
		opts:   opts,
	}
}

func (f *documentFile[T]) load() (T, LoadResult) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.opts.Metrics.ObserveLoad(f.name, string(StatusAbsent))
		return f.newDoc(), LoadResult{Status: StatusAbsent}
	}
	if err != nil {
		logging.ErrorWithCode("Failed to read document", string(apperrors.ErrIOFailure), err,
			map[string]interface{}{"document": f.name, "path": f.path})
		f.opts.Metrics.ObserveLoad(f.name, string(StatusUnreadable))
		return f.newDoc(), LoadResult{
			Status: StatusUnreadable,
			Err:    apperrors.Wrap(apperrors.ErrIOFailure, "failed to read "+f.name+" document", err),
		}
	}

	doc := f.newDoc()
	if len(bytes.TrimSpace(data)) == 0 {
		err = errors.New("document is empty")
	} else {
		err = json.Unmarshal(data, doc)
	}
	if err != nil {
		logging.Warn("Document is corrupt, starting from an empty document",
			map[string]interface{}{"document": f.name, "path": f.path, "bytes": len(data), "error": err.Error()})
		f.opts.Metrics.ObserveLoad(f.name, string(StatusCorrupt))
		return f.newDoc(), LoadResult{
			Status: StatusCorrupt,
			Err:    apperrors.Wrap(apperrors.ErrCorruptData, "failed to decode "+f.name+" document", err),
		}
	}
	doc.Normalize()

	f.opts.Metrics.ObserveLoad(f.name, string(StatusLoaded))
	return doc, LoadResult{Status: StatusLoaded}
}

// save stamps and writes doc. The caller holds mu.
func (f *documentFile[T]) save(doc T) error {
	doc.Normalize()
	doc.Touch(f.opts.Now())

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		f.opts.Metrics.ObserveSave(f.name, err)
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode "+f.name+" document", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		f.opts.Metrics.ObserveSave(f.name, err)
		return apperrors.Wrap(apperrors.ErrIOFailure, "failed to create document directory", err)
	}

	err = atomicfile.WriteBytes(f.path, data, f.opts.Rename)
	f.opts.Metrics.ObserveSave(f.name, err)
	if err != nil {
		logging.ErrorWithCode("Failed to save document", string(apperrors.ErrIOFailure), err,
			map[string]interface{}{"document": f.name, "path": f.path})
		return apperrors.Wrap(apperrors.ErrIOFailure, "failed to save "+f.name+" document", err)
	}

	logging.Debug("Document saved",
		map[string]interface{}{"document": f.name, "bytes": len(data)})
	return nil
}

func (f *documentFile[T]) store(doc T) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(doc)
}

// update loads, applies fn and saves under the write lock. fn returning an
// error aborts without saving. An unreadable file aborts too, so a transient
// read failure never overwrites the document with an empty one.
func (f *documentFile[T]) update(fn func(doc T) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, res := f.load()
	if res.Status == StatusUnreadable {
		return res.Err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return f.save(doc)
}

// remove deletes the file. A missing file is success.
func (f *documentFile[T]) remove() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(apperrors.ErrIOFailure, "failed to delete "+f.name+" document", err)
	}
	return nil
}

// errSkip aborts an update without saving and without reporting an error.
var errSkip = errors.New("no change")

func (f *documentFile[T]) updateIfChanged(fn func(doc T) error) error {
	err := f.update(fn)
	if errors.Is(err, errSkip) {
		return nil
	}
	return err
}
