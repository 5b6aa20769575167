package vsi

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Manager routes paths to filesystem handlers by longest matching prefix.
// Paths without a registered prefix go to the default handler.
type Manager struct {
	mu             sync.RWMutex
	handlers       map[string]FilesystemHandler
	retired        []FilesystemHandler
	defaultHandler FilesystemHandler
	logger         *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for registry events.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a registry whose unprefixed paths are served by
// defaultHandler.
func NewManager(defaultHandler FilesystemHandler, opts ...Option) *Manager {
	m := &Manager{
		handlers:       make(map[string]FilesystemHandler),
		defaultHandler: defaultHandler,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler returns the handler for path.
func (m *Manager) Handler(path string) FilesystemHandler {
	_, h := m.resolve(path)
	return h
}

// resolve returns the matched prefix ("" for the default handler) and its
// handler.
func (m *Manager) resolve(path string) (string, FilesystemHandler) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	best := ""
	var handler FilesystemHandler
	for prefix, h := range m.handlers {
		if len(prefix) <= len(best) {
			continue
		}
		// "/vsimem" reaches the "/vsimem/" handler.
		if strings.HasPrefix(path, prefix) || path+"/" == prefix {
			best = prefix
			handler = h
		}
	}
	if handler == nil {
		return "", m.defaultHandler
	}
	return best, handler
}

// InstallHandler registers h for prefix, replacing any previous handler.
// Handles opened through a replaced handler stay valid; the replaced handler
// is released when the Manager is closed.
func (m *Manager) InstallHandler(prefix string, h FilesystemHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.handlers[prefix]; ok {
		m.retired = append(m.retired, old)
		m.logger.Debug("replacing filesystem handler", zap.String("prefix", prefix))
	} else {
		m.logger.Debug("installing filesystem handler", zap.String("prefix", prefix))
	}
	m.handlers[prefix] = h
}

// RemoveHandler unregisters prefix. Later lookups fall back to the default
// handler.
func (m *Manager) RemoveHandler(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.handlers[prefix]; ok {
		m.retired = append(m.retired, old)
		delete(m.handlers, prefix)
		m.logger.Debug("removed filesystem handler", zap.String("prefix", prefix))
	}
}

// Prefixes returns the registered prefixes in sorted order.
func (m *Manager) Prefixes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefixes := make([]string, 0, len(m.handlers))
	for prefix := range m.handlers {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	return prefixes
}

// Close releases every handler the Manager owns. Handlers that implement
// io.Closer are closed once each; all errors are reported.
func (m *Manager) Close() error {
	m.mu.Lock()
	owned := make([]FilesystemHandler, 0, len(m.handlers)+len(m.retired)+1)
	for _, h := range m.handlers {
		owned = append(owned, h)
	}
	owned = append(owned, m.retired...)
	owned = append(owned, m.defaultHandler)
	m.handlers = make(map[string]FilesystemHandler)
	m.retired = nil
	m.mu.Unlock()

	var errs []error
	seen := make(map[io.Closer]bool)
	for _, h := range owned {
		c, ok := h.(io.Closer)
		if !ok || seen[c] {
			continue
		}
		seen[c] = true
		if err := c.Close(); err != nil {
			m.logger.Warn("closing filesystem handler failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) invalidators() []Invalidator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Invalidator
	for _, h := range m.handlers {
		if inv, ok := h.(Invalidator); ok {
			out = append(out, inv)
		}
	}
	return out
}

// notify tells every installed Invalidator that paths changed.
func (m *Manager) notify(paths ...string) {
	for _, inv := range m.invalidators() {
		inv.Invalidate(paths...)
	}
}

// Open opens path through its handler. Opening for writing counts as a
// mutation of path, and so does every later Flush or Close of the handle.
func (m *Manager) Open(ctx context.Context, path string, flag int) (FileHandle, error) {
	h, err := m.Handler(path).Open(ctx, path, flag)
	if err != nil {
		return nil, err
	}
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_TRUNC|os.O_APPEND) == 0 {
		return h, nil
	}
	m.notify(path)
	return &writeHandle{FileHandle: h, m: m, path: path}, nil
}

// writeHandle notifies invalidators when written data may have reached the
// underlying file.
type writeHandle struct {
	FileHandle
	m    *Manager
	path string
}

func (w *writeHandle) Flush() error {
	err := w.FileHandle.Flush()
	w.m.notify(w.path)
	return err
}

func (w *writeHandle) Close() error {
	err := w.FileHandle.Close()
	w.m.notify(w.path)
	return err
}

func (w *writeHandle) ReadMultiRange(ranges []Range) error {
	return ReadMultiRange(w.FileHandle, ranges)
}

func (w *writeHandle) NativeDescriptor() (uintptr, bool) {
	return NativeDescriptor(w.FileHandle)
}

// CleanPath returns the canonical spelling of p so that equivalent
// spellings of one file compare equal. Handlers implementing PathCleaner
// clean their own paths; otherwise the part after the scheme prefix is
// cleaned like a slash-separated path.
func (m *Manager) CleanPath(p string) string {
	prefix, h := m.resolve(p)
	if pc, ok := h.(PathCleaner); ok && prefix != "" {
		return pc.CleanPath(p)
	}
	if p == "" {
		return p
	}
	if prefix == "" {
		return path.Clean(p)
	}
	rest := strings.TrimPrefix(p, prefix)
	if rest == "" || rest+"/" == prefix {
		return prefix
	}
	return prefix + strings.TrimPrefix(path.Clean("/"+rest), "/")
}

// Stat stats path through its handler.
func (m *Manager) Stat(ctx context.Context, path string, flags StatFlag) (*FileStat, error) {
	return m.Handler(path).Stat(ctx, path, flags)
}

// ReadDir lists path through its handler.
func (m *Manager) ReadDir(ctx context.Context, path string) ([]string, error) {
	return m.Handler(path).ReadDir(ctx, path)
}

// Unlink removes path.
func (m *Manager) Unlink(ctx context.Context, path string) error {
	if err := m.Handler(path).Unlink(ctx, path); err != nil {
		return err
	}
	m.notify(path)
	return nil
}

// Mkdir creates the directory path.
func (m *Manager) Mkdir(ctx context.Context, path string, perm fs.FileMode) error {
	if err := m.Handler(path).Mkdir(ctx, path, perm); err != nil {
		return err
	}
	m.notify(path)
	return nil
}

// Rmdir removes the empty directory path.
func (m *Manager) Rmdir(ctx context.Context, path string) error {
	if err := m.Handler(path).Rmdir(ctx, path); err != nil {
		return err
	}
	m.notify(path)
	return nil
}

// Rename moves oldpath to newpath. Both must be served by the same handler.
func (m *Manager) Rename(ctx context.Context, oldpath, newpath string) error {
	oldPrefix, h := m.resolve(oldpath)
	if newPrefix, _ := m.resolve(newpath); newPrefix != oldPrefix {
		return &fs.PathError{Op: "rename", Path: oldpath + " -> " + newpath, Err: ErrNotSupported}
	}
	if err := h.Rename(ctx, oldpath, newpath); err != nil {
		return err
	}
	m.notify(oldpath, newpath)
	return nil
}

// IsCaseSensitive reports the case sensitivity of the handler serving path.
func (m *Manager) IsCaseSensitive(path string) bool {
	return m.Handler(path).IsCaseSensitive(path)
}

// ReadFile reads the whole content of path.
func (m *Manager) ReadFile(ctx context.Context, path string) ([]byte, error) {
	h, err := m.Open(ctx, path, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(h)
	closeErr := h.Close()
	if err != nil {
		return nil, err
	}
	return data, closeErr
}

// WriteFile creates or truncates path and writes data to it.
func (m *Manager) WriteFile(ctx context.Context, path string, data []byte) error {
	h, err := m.Open(ctx, path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := h.Write(data); err != nil {
		h.Close()
		return err
	}
	return h.Close()
}
