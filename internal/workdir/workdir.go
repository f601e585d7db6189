// Package workdir mirrors workspace files into a local directory, one file per
// id named "<fileId>" or "<fileId>.<ext>". Local writes become buffered edits;
// remote updates are written back atomically.
//
// The directory also holds a hidden state file with the digest of the content
// last known to match the remote, so edits made while nothing was watching are
// pushed on the next start instead of being overwritten.
package workdir

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/and161185/cafe-collab/internal/crypto"
	"github.com/and161185/cafe-collab/internal/model"
)

// Buffer receives local edits.
type Buffer interface {
	Enqueue(id model.FileID, content []byte, op model.Operation) error
}

// StateName is the base name of the sync state file.
const StateName = ".cafe-sync"

// Dir watches a directory and keeps it in sync with a Buffer.
type Dir struct {
	root string
	buf  Buffer
	ext  string
	log  *zap.Logger

	mu     sync.Mutex
	known  map[model.FileID]crypto.Digest // last content seen on disk or written
	synced map[model.FileID]crypto.Digest // last content known to match the remote
	dirty  map[model.FileID]struct{}      // edited offline, not yet enqueued
	names  map[model.FileID]string

	stateMu sync.Mutex // serializes state file writes
}

// New prepares root, creating it when missing. ext names newly created files
// (".txt" gives "7.txt"); empty means bare ids.
func New(root string, buf Buffer, ext string, log *zap.Logger) (*Dir, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("workdir: %w", err)
	}
	return &Dir{
		root:   root,
		buf:    buf,
		ext:    ext,
		log:    log,
		known:  map[model.FileID]crypto.Digest{},
		synced: map[model.FileID]crypto.Digest{},
		dirty:  map[model.FileID]struct{}{},
		names:  map[model.FileID]string{},
	}, nil
}

// ParseName extracts the file id from a base name. Hidden files never match.
func ParseName(name string) (model.FileID, bool) {
	if name == "" || strings.HasPrefix(name, ".") {
		return 0, false
	}
	stem := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		stem = name[:i]
	}
	v, err := strconv.ParseUint(stem, 10, 32)
	if err != nil {
		return 0, false
	}
	return model.FileID(v), true
}

// Scan records every existing file and loads the sync state. A file whose content
// differs from its synced digest, or that was never synced, counts as a local
// edit: Apply leaves it alone until Push has enqueued it.
func (d *Dir) Scan() error {
	synced, err := d.loadState()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return fmt.Errorf("workdir scan: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.synced = synced
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := ParseName(e.Name())
		if !ok {
			continue
		}
		content, err := os.ReadFile(filepath.Join(d.root, e.Name()))
		if err != nil {
			return fmt.Errorf("workdir scan: %w", err)
		}
		sum := crypto.Sum(content)
		d.known[id] = sum
		d.names[id] = e.Name()
		if prev, ok := synced[id]; !ok || prev != sum {
			d.dirty[id] = struct{}{}
		}
	}
	if len(d.dirty) > 0 {
		d.log.Info("local edits found", zap.Int("files", len(d.dirty)))
	}
	return nil
}

// Push enqueues the local edits Scan found. Call it once the buffer accepts edits.
func (d *Dir) Push() error {
	d.mu.Lock()
	ids := make([]model.FileID, 0, len(d.dirty))
	for id := range d.dirty {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	slices.Sort(ids)

	var failed []error
	for _, id := range ids {
		content, err := os.ReadFile(d.Path(id))
		if errors.Is(err, os.ErrNotExist) {
			d.mu.Lock()
			delete(d.dirty, id)
			d.mu.Unlock()
			continue
		}
		if err != nil {
			failed = append(failed, fmt.Errorf("workdir push %d: %w", id, err))
			continue
		}
		if err := d.buf.Enqueue(id, content, model.OpUpdate); err != nil {
			failed = append(failed, fmt.Errorf("workdir push %d: %w", id, err))
			continue
		}
		d.mu.Lock()
		d.known[id] = crypto.Sum(content)
		delete(d.dirty, id)
		d.mu.Unlock()
	}
	return errors.Join(failed...)
}

// Checkpoint records the current content of every file as synced. Call it once
// the buffer has been flushed.
func (d *Dir) Checkpoint() error {
	d.mu.Lock()
	for id, sum := range d.known {
		if _, ok := d.dirty[id]; !ok {
			d.synced[id] = sum
		}
	}
	d.mu.Unlock()
	return d.saveState()
}

type syncState struct {
	Files map[model.FileID]string `json:"files"`
}

func (d *Dir) loadState() (map[model.FileID]crypto.Digest, error) {
	out := map[model.FileID]crypto.Digest{}
	data, err := os.ReadFile(filepath.Join(d.root, StateName))
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workdir state: %w", err)
	}
	var st syncState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("workdir state: %w", err)
	}
	for id, h := range st.Files {
		var sum crypto.Digest
		b, err := hex.DecodeString(h)
		if err != nil || len(b) != len(sum) {
			d.log.Warn("bad digest in state file", zap.Uint32("file", uint32(id)))
			continue
		}
		copy(sum[:], b)
		out[id] = sum
	}
	return out, nil
}

func (d *Dir) saveState() error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	d.mu.Lock()
	st := syncState{Files: make(map[model.FileID]string, len(d.synced))}
	for id, sum := range d.synced {
		st.Files[id] = hex.EncodeToString(sum[:])
	}
	d.mu.Unlock()

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("workdir state: %w", err)
	}
	if err := d.replace(StateName, data); err != nil {
		return fmt.Errorf("workdir state: %w", err)
	}
	return nil
}

// Run watches the directory until ctx is done.
func (d *Dir) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("workdir watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(d.root); err != nil {
		return fmt.Errorf("workdir watch %s: %w", d.root, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.log.Warn("workdir watcher error", zap.Error(err))
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := d.changed(ev.Name); err != nil {
				d.log.Warn("workdir change", zap.String("path", ev.Name), zap.Error(err))
			}
		}
	}
}

// changed enqueues the content of path unless it is what we last saw or wrote.
func (d *Dir) changed(path string) error {
	name := filepath.Base(path)
	id, ok := ParseName(name)
	if !ok {
		return nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	sum := crypto.Sum(content)
	d.mu.Lock()
	if d.known[id] == sum {
		d.mu.Unlock()
		return nil
	}
	d.known[id] = sum
	d.names[id] = name
	d.mu.Unlock()
	d.log.Debug("local edit", zap.Uint32("file", uint32(id)), zap.Int("bytes", len(content)))
	if err := d.buf.Enqueue(id, content, model.OpUpdate); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.dirty, id)
	d.mu.Unlock()
	return nil
}

// Apply writes remote content for id. Its signature matches the file update
// callback of the collaboration client. A file with an unpushed local edit is
// left as is.
func (d *Dir) Apply(id model.FileID, content []byte, updatedBy string) {
	d.mu.Lock()
	_, dirty := d.dirty[id]
	d.mu.Unlock()
	if dirty {
		d.log.Info("kept local edit over remote content", zap.Uint32("file", uint32(id)), zap.String("by", updatedBy))
		return
	}
	if err := d.write(id, content); err != nil {
		d.log.Warn("workdir apply", zap.Uint32("file", uint32(id)), zap.String("by", updatedBy), zap.Error(err))
	}
}

func (d *Dir) write(id model.FileID, content []byte) error {
	sum := crypto.Sum(content)
	d.mu.Lock()
	name, ok := d.names[id]
	if !ok {
		name = strconv.FormatUint(uint64(id), 10) + d.ext
		d.names[id] = name
	}
	d.known[id] = sum
	d.mu.Unlock()

	if err := d.replace(name, content); err != nil {
		return err
	}
	d.mu.Lock()
	d.synced[id] = sum
	d.mu.Unlock()
	return d.saveState()
}

// replace atomically writes content to name inside the directory.
func (d *Dir) replace(name string, content []byte) error {
	tmp, err := os.CreateTemp(d.root, ".incoming-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.root, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Path returns where id lives on disk.
func (d *Dir) Path(id model.FileID) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	name, ok := d.names[id]
	if !ok {
		name = strconv.FormatUint(uint64(id), 10) + d.ext
	}
	return filepath.Join(d.root, name)
}
