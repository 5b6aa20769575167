package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLikePrefix(t *testing.T) {
	assert.Equal(t, "dir/%", likePrefix("dir/"))
	assert.Equal(t, `a\_b\%c/%`, likePrefix("a_b%c/"))
	assert.Equal(t, `x\\y%`, likePrefix(`x\y`))
	assert.Equal(t, "%", likePrefix(""))
}

func TestNullJSON(t *testing.T) {
	assert.Nil(t, nullJSON(nil))
	assert.Equal(t, `{"a":"b"}`, nullJSON([]byte(`{"a":"b"}`)))
}

// sql.Open with lib/pq does not dial, so a bad DSN only fails on first use.
func TestNewPostgresBackend_Unreachable(t *testing.T) {
	_, err := NewPostgresBackend("postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1", "files", "default")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize schema")
}

func TestClosedDB(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://localhost/none?sslmode=disable")
	require.NoError(t, err)
	b := newWithDB(db, "files", "default")
	require.NoError(t, b.Close())

	_, err = b.Read(context.Background(), "a")
	assert.Error(t, err)
}
