package fuse

import (
	"context"
	"errors"
	"fmt"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"go.uber.org/zap"

	"github.com/vsifs/vsifs-go/internal/vsi"
)

// MountOptions configures Mount.
type MountOptions struct {
	// Root is the virtual directory shown at the mountpoint, for example
	// "/vsis3/" or "/vsizip//data/a.zip". Defaults to "/".
	Root     string
	ReadOnly bool
	Logger   *zap.Logger
}

// Mount serves opts.Root at mountpoint until ctx is cancelled or the
// filesystem is unmounted externally.
func Mount(ctx context.Context, mountpoint string, m *vsi.Manager, opts MountOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mountOpts := []fuse.MountOption{
		fuse.FSName("vsifs"),
		fuse.Subtype("vsifs"),
	}
	if opts.ReadOnly {
		mountOpts = append(mountOpts, fuse.ReadOnly())
	}
	c, err := fuse.Mount(mountpoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("failed to mount %s: %w", mountpoint, err)
	}
	defer c.Close()

	logger.Info("mounted filesystem",
		zap.String("mountpoint", mountpoint),
		zap.String("root", opts.Root),
		zap.Bool("read_only", opts.ReadOnly))

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fs.Serve(c, NewFS(serveCtx, m, opts.Root, opts.ReadOnly, logger))
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if err := fuse.Unmount(mountpoint); err != nil {
			logger.Warn("unmount failed", zap.String("mountpoint", mountpoint), zap.Error(err))
		}
		if err := <-done; err != nil {
			return err
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	}
}
