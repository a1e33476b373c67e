package encoding

import (
	"context"
	"errors"
)

// ErrIsoUnsupported is returned by NopIsoManager.Mount.
var ErrIsoUnsupported = errors.New("iso mounting not supported")

// IsoManager mounts disc images so the encoder can read their contents.
type IsoManager interface {
	CanMount(path string) bool
	Mount(ctx context.Context, path string) (IsoMount, error)
}

// NopIsoManager never mounts anything. Images are then handed to the encoder
// as plain files.
type NopIsoManager struct{}

// CanMount always reports false.
func (NopIsoManager) CanMount(string) bool { return false }

// Mount always fails.
func (NopIsoManager) Mount(context.Context, string) (IsoMount, error) {
	return nil, ErrIsoUnsupported
}
