package thin

import (
	"context"

	"github.com/havenvirt/stratum/pkg/lvm"
)

// Ops is the set of mutating storage operations available inside an
// Update. *lvm.Tx satisfies it; tests provide an in-memory fake.
type Ops interface {
	Create(name string, size uint64) error
	Snapshot(source, dest string) error
	Remove(name string) error
	Rename(oldName, newName string) error
	Extend(name string, size uint64) error
}

// Backend is the storage access surface a pool and its volumes run
// against. The production implementation wraps *lvm.Client.
type Backend interface {
	// Volumes returns the cached attribute listing for the pool,
	// keyed by LV name. The map is read-only.
	Volumes(ctx context.Context) (map[string]lvm.Volume, error)
	// PoolInfo returns the pool's capacity and allocation.
	PoolInfo(ctx context.Context) (lvm.PoolInfo, error)
	// Update runs fn under the process-wide mutation lock and
	// invalidates the metadata cache when it returns.
	Update(ctx context.Context, fn func(Ops) error) error
	// Invalidate forces the next read to re-query the tool.
	Invalidate()
	// DevicePath returns the device node path for an LV name.
	DevicePath(name string) string
	// VolumeGroup names the volume group backing the pool.
	VolumeGroup() string
}

// clientBackend adapts *lvm.Client to the Backend interface.
type clientBackend struct {
	*lvm.Client
}

func (b clientBackend) Update(ctx context.Context, fn func(Ops) error) error {
	return b.Client.Update(ctx, func(tx *lvm.Tx) error {
		return fn(tx)
	})
}

// NewBackend wraps an lvm client for use by a Pool.
func NewBackend(client *lvm.Client) Backend {
	return clientBackend{client}
}
