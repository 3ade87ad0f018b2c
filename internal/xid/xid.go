package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns an opaque identifier such as "pa-2f6c0e0a9b1d4c51a0c1e2b3c4d5e6f7".
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
