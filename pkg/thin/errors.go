package thin

import "errors"

var (
	// ErrNotFound is returned when an operation references a volume,
	// revision, or source image that does not exist on disk.
	ErrNotFound = errors.New("volume not found")

	// ErrNoSpace is returned when the thin pool cannot hold the
	// requested allocation.
	ErrNoSpace = errors.New("insufficient space in thin pool")

	// ErrShrink is returned when a resize would shrink a volume.
	// Volumes only grow.
	ErrShrink = errors.New("shrinking volumes is not supported")

	// ErrBusy is returned when a lifecycle operation is attempted while
	// a data import is in progress on the same volume.
	ErrBusy = errors.New("volume import in progress")

	// ErrDirty is returned when an operation requires a committed
	// volume but an overlay with uncommitted changes exists.
	ErrDirty = errors.New("volume has uncommitted changes")
)
