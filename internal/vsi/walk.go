package vsi

import (
	"context"
	"errors"
	"io/fs"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// WalkFunc is called for every path visited by Walk. Returning fs.SkipDir on
// a directory skips its children.
type WalkFunc func(path string, st *FileStat, err error) error

// Walk visits root and everything below it, depth first, in ReadDir order.
func Walk(ctx context.Context, m *Manager, root string, fn WalkFunc) error {
	st, err := m.Stat(ctx, root, StatNature)
	if err != nil {
		return fn(root, nil, err)
	}
	err = walk(ctx, m, root, st, fn)
	if errors.Is(err, fs.SkipDir) || errors.Is(err, fs.SkipAll) {
		return nil
	}
	return err
}

func walk(ctx context.Context, m *Manager, path string, st *FileStat, fn WalkFunc) error {
	if err := fn(path, st, nil); err != nil {
		return err
	}
	if !st.IsDir() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	names, err := m.ReadDir(ctx, path)
	if err != nil {
		return fn(path, st, err)
	}
	for _, name := range names {
		child := joinPath(path, name)
		childStat, err := m.Stat(ctx, child, StatNature)
		if err != nil {
			if err := fn(child, nil, err); err != nil && !errors.Is(err, fs.SkipDir) {
				return err
			}
			continue
		}
		if err := walk(ctx, m, child, childStat, fn); err != nil {
			if errors.Is(err, fs.SkipDir) {
				continue
			}
			return err
		}
	}
	return nil
}

// Glob returns every path below the static part of pattern that matches it.
// Patterns use doublestar syntax, so "**" crosses directory boundaries,
// including into archives served by an archive handler.
func Glob(ctx context.Context, m *Manager, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, PathError("glob", pattern, ErrInvalidPath)
	}
	base, _ := doublestar.SplitPattern(pattern)

	var matches []string
	err := Walk(ctx, m, base, func(path string, _ *FileStat, err error) error {
		if err != nil {
			if KindOf(err) == KindNotFound || KindOf(err) == KindNotSupported {
				return nil
			}
			return err
		}
		ok, err := doublestar.Match(pattern, path)
		if err != nil {
			return err
		}
		if ok {
			matches = append(matches, path)
		}
		return nil
	})
	return matches, err
}

func joinPath(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}
