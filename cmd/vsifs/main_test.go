package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"VSIFS_S3_BUCKET", "VSIFS_PG_DSN", "VSIFS_MONGO_URI", "VSIFS_METRICS_ADDR"} {
		t.Setenv(key, "")
	}
	t.Setenv("VSIFS_LOG_LEVEL", "error")
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsage(t *testing.T) {
	isolateEnv(t)

	code, _, stderr := runCLI(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Commands:")

	code, _, stderr = runCLI(t, "--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stderr, "mount")

	code, _, stderr = runCLI(t, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "frobnicate"`)

	code, _, _ = runCLI(t, "ls", "--no-such-flag", "/")
	assert.Equal(t, 2, code)

	code, _, stderr = runCLI(t, "cp", "only-one")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Usage: vsifs cp SRC DST")

	code, _, _ = runCLI(t, "mount", "/vsimem/")
	assert.Equal(t, 2, code)
}

func TestLsStatCat(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bravo"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	code, stdout, stderr := runCLI(t, "ls", dir)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "a.txt\nb.txt\nsub\n", stdout)

	code, stdout, _ = runCLI(t, "ls", "-l", dir)
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[2], "d"), lines[2])
	assert.Contains(t, lines[0], " 5 ")

	code, stdout, _ = runCLI(t, "stat", filepath.Join(dir, "a.txt"), filepath.Join(dir, "sub"))
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "\tfile\t5\t")
	assert.Contains(t, stdout, "\tdirectory\t")

	code, stdout, _ = runCLI(t, "cat", filepath.Join(dir, "a.txt"), filepath.Join(dir, "b.txt"))
	require.Equal(t, 0, code)
	assert.Equal(t, "alphabravo", stdout)

	code, _, stderr = runCLI(t, "cat", filepath.Join(dir, "missing.txt"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "vsifs cat:")
}

func TestCpThroughGzip(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "plain.txt")
	payload := strings.Repeat("compress me\n", 100)
	require.NoError(t, os.WriteFile(src, []byte(payload), 0o644))
	gz := filepath.Join(dir, "plain.txt.gz")

	code, _, stderr := runCLI(t, "cp", src, "/vsigzip/"+gz)
	require.Equal(t, 0, code, stderr)

	raw, err := os.ReadFile(gz)
	require.NoError(t, err)
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, payload, string(decoded))

	code, stdout, _ := runCLI(t, "cat", "/vsigzip/"+gz)
	require.Equal(t, 0, code)
	assert.Equal(t, payload, stdout)
}

func TestZipListingAndFind(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range [][2]string{{"docs/a.txt", "A"}, {"docs/deep/b.txt", "B"}, {"img.png", "P"}} {
		w, err := zw.Create(m[0])
		require.NoError(t, err)
		_, err = io.WriteString(w, m[1])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	archive := filepath.Join(dir, "bundle.zip")
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o644))
	root := "/vsizip/" + archive

	code, stdout, stderr := runCLI(t, "ls", root)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "docs\nimg.png\n", stdout)

	code, stdout, _ = runCLI(t, "cat", root+"/docs/deep/b.txt")
	require.Equal(t, 0, code)
	assert.Equal(t, "B", stdout)

	code, stdout, _ = runCLI(t, "find", root+"/**/*.txt")
	require.Equal(t, 0, code)
	assert.Equal(t, root+"/docs/a.txt\n"+root+"/docs/deep/b.txt\n", stdout)
}

func TestMetricsMux(t *testing.T) {
	rec := httptest.NewRecorder()
	metricsMux().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "vsifs_")
}

func TestChildPath(t *testing.T) {
	assert.Equal(t, "/vsizip//data/a.zip/x", childPath("/vsizip//data/a.zip", "x"))
	assert.Equal(t, "/vsimem/x", childPath("/vsimem/", "x"))
	assert.Equal(t, "/x", childPath("/", "x"))
}
