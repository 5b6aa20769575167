package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/vsifs/vsifs-go/internal/fuse"
	"github.com/vsifs/vsifs-go/internal/metrics"
	"github.com/vsifs/vsifs-go/internal/vsi"
)

func lsFlags(fset *pflag.FlagSet) {
	fset.BoolP("long", "l", false, "print type, size and modification time")
}

func runLs(e *env, fset *pflag.FlagSet, args []string) error {
	if len(args) != 1 {
		return usageError("ls takes exactly one path")
	}
	long, _ := fset.GetBool("long")
	dir := args[0]

	names, err := e.reg.ReadDir(e.ctx, dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if !long {
			fmt.Fprintln(e.stdout, name)
			continue
		}
		st, err := e.reg.Stat(e.ctx, childPath(dir, name), vsi.StatAll)
		if err != nil {
			fmt.Fprintf(e.stdout, "%-10s %12s %-20s %s\n", "?", "?", "?", name)
			continue
		}
		fmt.Fprintf(e.stdout, "%s %12d %s %s\n", st.Mode, st.Size, st.ModTime.UTC().Format(time.RFC3339), name)
	}
	return nil
}

// childPath appends name without cleaning dir, which would fold the double
// slash of chained paths such as /vsizip//data/a.zip.
func childPath(dir, name string) string {
	return strings.TrimSuffix(dir, "/") + "/" + name
}

func runStat(e *env, _ *pflag.FlagSet, args []string) error {
	if len(args) == 0 {
		return usageError("stat needs at least one path")
	}
	var errs []error
	for _, p := range args {
		st, err := e.reg.Stat(e.ctx, p, vsi.StatAll)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		kind := "file"
		if st.IsDir() {
			kind = "directory"
		}
		fmt.Fprintf(e.stdout, "%s\t%s\t%d\t%s\t%s\n", p, kind, st.Size, st.Mode, st.ModTime.UTC().Format(time.RFC3339))
	}
	return errors.Join(errs...)
}

func runCat(e *env, _ *pflag.FlagSet, args []string) error {
	if len(args) == 0 {
		return usageError("cat needs at least one path")
	}
	for _, p := range args {
		h, err := e.reg.Open(e.ctx, p, os.O_RDONLY)
		if err != nil {
			return err
		}
		_, err = io.Copy(e.stdout, h)
		h.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func runCp(e *env, _ *pflag.FlagSet, args []string) error {
	if len(args) != 2 {
		return usageError("cp takes a source and a destination")
	}
	src, dst := args[0], args[1]

	in, err := e.reg.Open(e.ctx, src, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := e.reg.Open(e.ctx, dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	e.logger.Debug("copied file", zap.String("src", src), zap.String("dst", dst), zap.Int64("bytes", n))
	return nil
}

func runFind(e *env, _ *pflag.FlagSet, args []string) error {
	if len(args) != 1 {
		return usageError("find takes exactly one pattern")
	}
	matches, err := vsi.Glob(e.ctx, e.reg.Manager, args[0])
	if err != nil {
		return err
	}
	for _, m := range matches {
		fmt.Fprintln(e.stdout, m)
	}
	return nil
}

func mountFlags(fset *pflag.FlagSet) {
	fset.Bool("read-only", false, "reject every modification")
	fset.String("metrics-addr", "", "serve Prometheus metrics on this address (defaults to VSIFS_METRICS_ADDR)")
}

func runMount(e *env, fset *pflag.FlagSet, args []string) error {
	if len(args) != 2 {
		return usageError("mount takes a virtual root and a mountpoint")
	}
	readOnly, _ := fset.GetBool("read-only")
	addr := e.cfg.Metrics.Addr
	if fset.Changed("metrics-addr") {
		addr, _ = fset.GetString("metrics-addr")
	}

	if addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
			}
		}()
		defer srv.Close()
		e.logger.Info("serving metrics", zap.String("addr", addr))
	}

	return fuse.Mount(e.ctx, args[1], e.reg.Manager, fuse.MountOptions{
		Root:     args[0],
		ReadOnly: readOnly,
		Logger:   e.logger.Named("fuse"),
	})
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
