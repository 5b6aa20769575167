package archive

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vsifs/vsifs-go/internal/vsi"
)

// Format supplies the archive-specific parts of a Handler.
type Format interface {
	// Prefix is the scheme prefix, such as "/vsizip/".
	Prefix() string
	// Extensions lists the recognized archive extensions, lower case and
	// with the leading dot.
	Extensions() []string
	CreateReader(ctx context.Context, archivePath string) (Reader, error)
}

// Handler exposes the members of archives as a read-only filesystem under
// the format's prefix. Archive listings are scanned once and cached.
type Handler struct {
	vsi.UnimplementedHandler
	m             *vsi.Manager
	format        Format
	cache         *ContentCache
	caseSensitive bool
	logger        *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithContentCache replaces the scheme's shared content cache.
func WithContentCache(c *ContentCache) Option {
	return func(h *Handler) {
		if c != nil {
			h.cache = c
		}
	}
}

// WithLogger sets the handler's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithCaseSensitivity controls member name matching. Matching is case
// sensitive by default.
func WithCaseSensitivity(sensitive bool) Option {
	return func(h *Handler) {
		h.caseSensitive = sensitive
	}
}

// New returns a Handler for format. Archive files are opened through m.
func New(m *vsi.Manager, format Format, opts ...Option) *Handler {
	h := &Handler{
		m:             m,
		format:        format,
		caseSensitive: true,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.cache == nil {
		h.cache = SharedContentCache(format.Prefix())
	}
	return h
}

// Cache returns the content cache used by h.
func (h *Handler) Cache() *ContentCache {
	return h.cache
}

// stripPrefix removes the scheme prefix. "/vsizip/vsimem/a.zip" is read as
// "/vsizip//vsimem/a.zip" when "/vsimem/" is a registered scheme.
func (h *Handler) stripPrefix(p string) string {
	rest, ok := strings.CutPrefix(p, h.format.Prefix())
	if !ok {
		return p
	}
	if !strings.HasPrefix(rest, "/") && strings.HasPrefix(rest, "vsi") {
		for _, prefix := range h.m.Prefixes() {
			if strings.HasPrefix("/"+rest, prefix) || "/"+rest+"/" == prefix {
				return "/" + rest
			}
		}
	}
	return rest
}

// CleanPath cleans the archive path embedded in p through the Manager and
// the member path inside it, keeping the separator between the prefix and an
// absolute archive path.
func (h *Handler) CleanPath(p string) string {
	prefix := h.format.Prefix()
	if !strings.HasPrefix(p, prefix) {
		return prefix
	}
	return prefix + h.m.CleanPath(h.stripPrefix(p))
}

// matchExtension returns the end of an archive extension starting at i, or
// -1. The extension must end the path or be followed by a separator.
func (h *Handler) matchExtension(rest string, i int) int {
	for _, ext := range h.format.Extensions() {
		end := i + len(ext)
		if end > len(rest) || !strings.EqualFold(rest[i:end], ext) {
			continue
		}
		if end == len(rest) || rest[end] == '/' || rest[end] == '\\' {
			return end
		}
	}
	return -1
}

func (h *Handler) archiveExists(ctx context.Context, archivePath string) bool {
	if h.cache.Has(archivePath) {
		return true
	}
	st, err := h.m.Stat(ctx, archivePath, vsi.StatNature)
	return err == nil && st.IsRegular()
}

// SplitFilename separates path into the archive file path and the member
// path inside it. The member path is "" for the archive root. With
// checkMainFileExists, candidates that are not existing regular files are
// skipped and the scan continues.
func (h *Handler) SplitFilename(ctx context.Context, p string, checkMainFileExists bool) (string, string, error) {
	rest := h.stripPrefix(p)
	candidates := 0
	for i := 0; i < len(rest); i++ {
		if rest[i] != '.' {
			continue
		}
		end := h.matchExtension(rest, i)
		if end < 0 {
			continue
		}
		candidates++
		archivePath := h.m.CleanPath(rest[:end])
		if checkMainFileExists && !h.archiveExists(ctx, archivePath) {
			continue
		}
		member, _ := normalizeName(rest[end:])
		return archivePath, member, nil
	}
	if candidates == 0 {
		return "", "", vsi.PathError("split", p, vsi.ErrInvalidPath)
	}
	return "", "", vsi.PathError("split", p, vsi.ErrNotFound)
}

// GetContentOfArchive returns the member listing of archivePath, scanning it
// on first use. A non-nil reader is used for the scan and left open;
// otherwise a reader is created and closed. Equivalent spellings of
// archivePath share one cache entry.
func (h *Handler) GetContentOfArchive(ctx context.Context, archivePath string, reader Reader) (*Content, error) {
	archivePath = h.m.CleanPath(archivePath)
	return h.cache.Get(archivePath, func() (*Content, error) {
		r := reader
		if r == nil {
			var err error
			r, err = h.format.CreateReader(ctx, archivePath)
			if err != nil {
				return nil, err
			}
			defer r.Close()
		}
		content, err := scan(r)
		if err != nil {
			h.logger.Warn("archive scan failed", zap.String("archive", archivePath), zap.Error(err))
			return nil, vsi.IOError("scan", archivePath, err)
		}
		h.logger.Debug("scanned archive",
			zap.String("archive", archivePath),
			zap.Int("entries", content.Len()))
		return content, nil
	})
}

func scan(r Reader) (*Content, error) {
	content := newContent()
	ok, err := r.GotoFirstFile()
	for ; ok && err == nil; ok, err = r.GotoNextFile() {
		name, isDir := normalizeName(r.FileName())
		content.add(Entry{
			Name:    name,
			Size:    r.FileSize(),
			ModTime: r.ModifiedTime(),
			IsDir:   isDir,
			Offset:  r.FileOffset(),
		})
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

// FindFileInArchive looks up a member of archivePath.
func (h *Handler) FindFileInArchive(ctx context.Context, archivePath, name string) (Entry, bool, error) {
	content, err := h.GetContentOfArchive(ctx, archivePath, nil)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := content.Find(name, h.IsCaseSensitive(archivePath))
	return e, ok, nil
}

// OpenArchiveFile returns a Reader positioned on member name of archivePath.
// An empty name selects the only regular member of the archive.
func (h *Handler) OpenArchiveFile(ctx context.Context, archivePath, name string) (Reader, error) {
	content, err := h.GetContentOfArchive(ctx, archivePath, nil)
	if err != nil {
		return nil, err
	}

	var e Entry
	if name == "" {
		files := content.regularFiles()
		switch len(files) {
		case 0:
			return nil, vsi.PathError("open", archivePath, vsi.ErrNotFound)
		case 1:
			e = files[0]
		default:
			return nil, vsi.PathError("open", archivePath, vsi.ErrInvalidPath)
		}
	} else {
		var ok bool
		e, ok = content.Find(name, h.IsCaseSensitive(archivePath))
		if !ok {
			return nil, vsi.PathError("open", archivePath+"/"+name, vsi.ErrNotFound)
		}
		if e.IsDir {
			return nil, vsi.PathError("open", archivePath+"/"+name, vsi.ErrIsDirectory)
		}
	}

	r, err := h.format.CreateReader(ctx, archivePath)
	if err != nil {
		return nil, err
	}
	if !r.GotoFileOffset(e.Offset) {
		r.Close()
		return nil, vsi.PathError("open", archivePath+"/"+e.Name, vsi.ErrIO)
	}
	return r, nil
}

// Open opens an archive member for reading. Write access is not supported.
func (h *Handler) Open(ctx context.Context, p string, flag int) (vsi.FileHandle, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, vsi.NotSupported("open", p)
	}
	archivePath, member, err := h.SplitFilename(ctx, p, true)
	if err != nil {
		return nil, err
	}
	r, err := h.OpenArchiveFile(ctx, archivePath, member)
	if err != nil {
		return nil, err
	}
	fh, err := r.Open()
	if err != nil {
		r.Close()
		return nil, vsi.IOError("open", p, err)
	}
	return &memberHandle{FileHandle: fh, r: r}, nil
}

// Stat reports the archive root as a directory carrying the archive file's
// modification time.
func (h *Handler) Stat(ctx context.Context, p string, _ vsi.StatFlag) (*vsi.FileStat, error) {
	archivePath, member, err := h.SplitFilename(ctx, p, true)
	if err != nil {
		return nil, err
	}
	content, err := h.GetContentOfArchive(ctx, archivePath, nil)
	if err != nil {
		return nil, err
	}
	if member == "" {
		st := &vsi.FileStat{Mode: fs.ModeDir | 0o555}
		if archiveStat, err := h.m.Stat(ctx, archivePath, vsi.StatAll); err == nil {
			st.ModTime = archiveStat.ModTime
		}
		return st, nil
	}

	e, ok := content.Find(member, h.IsCaseSensitive(archivePath))
	if !ok {
		return nil, vsi.PathError("stat", p, vsi.ErrNotFound)
	}
	st := &vsi.FileStat{
		Size:    e.Size,
		ModTime: time.Unix(e.ModTime, 0),
		Mode:    0o444,
	}
	if e.IsDir {
		st.Size = 0
		st.Mode = fs.ModeDir | 0o555
	}
	return st, nil
}

// ReadDir lists the immediate children of a directory inside an archive.
func (h *Handler) ReadDir(ctx context.Context, p string) ([]string, error) {
	archivePath, member, err := h.SplitFilename(ctx, p, true)
	if err != nil {
		return nil, err
	}
	content, err := h.GetContentOfArchive(ctx, archivePath, nil)
	if err != nil {
		return nil, err
	}
	if member != "" {
		e, ok := content.Find(member, h.IsCaseSensitive(archivePath))
		if !ok {
			return nil, vsi.PathError("readdir", p, vsi.ErrNotFound)
		}
		if !e.IsDir {
			return nil, vsi.PathError("readdir", p, vsi.ErrNotDirectory)
		}
		member = e.Name
	}
	return content.Children(member), nil
}

// Invalidate drops cached listings for archives at or below paths. Paths
// inside this scheme are ignored since its archives cannot be modified
// through it.
func (h *Handler) Invalidate(paths ...string) {
	var dropped []string
	for _, p := range paths {
		if strings.HasPrefix(p, h.format.Prefix()) {
			continue
		}
		dropped = append(dropped, h.m.CleanPath(p))
	}
	if len(dropped) > 0 {
		h.cache.Invalidate(dropped...)
	}
}

func (h *Handler) IsCaseSensitive(string) bool {
	return h.caseSensitive
}
