// Package storage selects the object store behind a blob scheme.
package storage

import (
	"github.com/vsifs/vsifs-go/internal/storage/types"
)

// Backend is the object store interface every blob scheme is served from.
type Backend = types.Backend

// Attr represents object attributes.
type Attr = types.Attr
