package thin

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// VolumeConfig describes one volume at InitVolume time. It is consumed
// once; the resulting Volume is immutable except for its size.
type VolumeConfig struct {
	// Name is the volume's role within its owner (e.g. "root",
	// "private").
	Name string
	// Size is the virtual size in bytes.
	Size uint64
	// RW marks the volume writable by its consumer.
	RW bool
	// SaveOnStop persists overlay changes into a new base (and a
	// revision) on every clean stop. Without it the overlay is
	// discarded.
	SaveOnStop bool
	// SnapOnStart makes the volume snapshot Source's current base at
	// every activation instead of owning an independent base.
	SnapOnStart bool
	// Source is the origin volume for SnapOnStart volumes, or an
	// optional clone source for SaveOnStop volumes at creation.
	Source *Volume
	// RevisionsToKeep bounds the retained history. Zero disables
	// history: the old base is deleted, not filed, at commit.
	RevisionsToKeep int
}

// Source is a volume image that can be imported into a Volume. Volumes
// from other pools (or other storage drivers entirely) satisfy it by
// exporting their committed byte image.
type Source interface {
	VolumeSize(ctx context.Context) (uint64, error)
	Export(ctx context.Context) (io.ReadCloser, error)
}

// Volume is one versioned copy-on-write volume in a thin pool.
//
// Its lifecycle state is never stored: it is derived on demand from the
// LV listing by naming convention. Base existing with no overlay is
// clean; an overlay means uncommitted writes; a missing base with both a
// revision and an overlay present is a commit interrupted between its
// rename steps, which the next Stop completes.
//
// Operations assume at most one in-flight call per volume; callers
// provide per-volume mutual exclusion (one operation per VM at a time).
type Volume struct {
	pool    *Pool
	backend Backend
	logger  zerolog.Logger

	vid             string
	name            string
	rw              bool
	saveOnStop      bool
	snapOnStart     bool
	source          *Volume
	revisionsToKeep int

	mu        sync.Mutex
	size      uint64
	importing bool

	// now is the commit clock, injectable for tests.
	now func() time.Time
}

// Name returns the volume's role name.
func (v *Volume) Name() string { return v.name }

// VID returns the volume's stable logical-volume base name.
func (v *Volume) VID() string { return v.vid }

// Pool returns the owning pool.
func (v *Volume) Pool() *Pool { return v.pool }

// SaveOnStop reports whether the volume persists changes across stops.
func (v *Volume) SaveOnStop() bool { return v.saveOnStop }

// SnapOnStart reports whether the volume snapshots its source at every
// activation.
func (v *Volume) SnapOnStart() bool { return v.snapOnStart }

// Size returns the volume's current virtual size: the active overlay's
// when one exists, the base's when clean, the configured size before
// any storage exists.
func (v *Volume) Size(ctx context.Context) (uint64, error) {
	volumes, err := v.backend.Volumes(ctx)
	if err != nil {
		return 0, err
	}
	if lv, ok := volumes[snapName(v.vid)]; ok {
		return lv.Size, nil
	}
	if lv, ok := volumes[v.vid]; ok {
		return lv.Size, nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.size, nil
}

// Path returns the device path of the volume's committed image: the base
// when it exists, the newest revision while a commit is in flight.
func (v *Volume) Path(ctx context.Context) (string, error) {
	volumes, err := v.backend.Volumes(ctx)
	if err != nil {
		return "", err
	}
	st := reconstructState(v.vid, volumes)
	return v.backend.DevicePath(st.currentName(v.vid)), nil
}

// OverlayPath returns the device path a running VM writes to: the
// overlay for persistent and snapshot-sourced volumes, the LV itself
// for volatile ones. It only exists while the volume is active (or a
// commit is pending).
func (v *Volume) OverlayPath() string {
	if !v.saveOnStop && !v.snapOnStart {
		return v.backend.DevicePath(v.vid)
	}
	return v.backend.DevicePath(snapName(v.vid))
}

// IsDirty reports whether uncommitted changes exist: true iff the volume
// persists changes and its overlay is present on disk. Snapshot-sourced
// and volatile volumes have disposable overlays and are never dirty.
func (v *Volume) IsDirty(ctx context.Context) (bool, error) {
	if !v.saveOnStop {
		return false, nil
	}
	volumes, err := v.backend.Volumes(ctx)
	if err != nil {
		return false, err
	}
	_, ok := volumes[snapName(v.vid)]
	return ok, nil
}

// IsOutdated reports whether a snapshot-sourced volume's overlay no
// longer descends from its source's current base. Always false for
// other volumes and while the volume is not active.
func (v *Volume) IsOutdated(ctx context.Context) (bool, error) {
	if !v.snapOnStart || v.source == nil {
		return false, nil
	}
	volumes, err := v.backend.Volumes(ctx)
	if err != nil {
		return false, err
	}
	snap, ok := volumes[snapName(v.vid)]
	if !ok {
		return false, nil
	}
	srcState := reconstructState(v.source.vid, volumes)
	srcBase, ok := volumes[srcState.currentName(v.source.vid)]
	if !ok {
		return false, fmt.Errorf("source image %s: %w", v.source.vid, ErrNotFound)
	}
	return snap.OriginUUID != srcBase.UUID, nil
}

// Revisions returns the retained history as revision identifier →
// ISO-8601 display string.
func (v *Volume) Revisions(ctx context.Context) (map[string]string, error) {
	volumes, err := v.backend.Volumes(ctx)
	if err != nil {
		return nil, err
	}
	st := reconstructState(v.vid, volumes)
	revisions := make(map[string]string, len(st.revisions))
	for _, id := range st.revisions {
		revisions[id] = revisionDisplay(id)
	}
	return revisions, nil
}

// Verify checks that the volume's backing image exists: the source's
// base for snapshot-sourced volumes, the own base for persistent ones.
// Volatile volumes need no backing image.
func (v *Volume) Verify(ctx context.Context) error {
	var img string
	switch {
	case v.snapOnStart:
		img = v.source.vid
	case v.saveOnStop:
		img = v.vid
	default:
		return nil
	}
	volumes, err := v.backend.Volumes(ctx)
	if err != nil {
		return err
	}
	st := reconstructState(img, volumes)
	if !st.base && len(st.revisions) == 0 {
		return fmt.Errorf("backing image %s: %w", img, ErrNotFound)
	}
	return nil
}

// Create allocates the volume's base image. Only volumes that persist
// changes own independent storage; snapshot-sourced and volatile volumes
// allocate nothing until started. Idempotent: creating a volume whose
// base already exists is a no-op, which crash recovery at boot relies
// on.
func (v *Volume) Create(ctx context.Context) error {
	if err := v.notImporting(); err != nil {
		return err
	}
	if !v.saveOnStop {
		return nil
	}
	volumes, err := v.backend.Volumes(ctx)
	if err != nil {
		return err
	}
	if _, ok := volumes[v.vid]; ok {
		return nil
	}

	if v.source != nil {
		srcState := reconstructState(v.source.vid, volumes)
		src := srcState.currentName(v.source.vid)
		if _, ok := volumes[src]; !ok {
			return fmt.Errorf("clone source %s: %w", src, ErrNotFound)
		}
		v.logger.Info().Str("source", src).Msg("creating volume as clone")
		return v.backend.Update(ctx, func(ops Ops) error {
			return ops.Snapshot(src, v.vid)
		})
	}

	v.mu.Lock()
	size := v.size
	v.mu.Unlock()
	info, err := v.backend.PoolInfo(ctx)
	if err != nil {
		return err
	}
	if size > info.Size {
		return fmt.Errorf("%d bytes requested, pool holds %d: %w",
			size, info.Size, ErrNoSpace)
	}
	v.logger.Info().Uint64("size", size).Msg("creating volume")
	return v.backend.Update(ctx, func(ops Ops) error {
		return ops.Create(v.vid, size)
	})
}

// Start activates the volume for a VM boot.
//
// Persistent volumes get a writable overlay snapshotted from the base;
// if a dirty overlay already exists (crash, or interrupted commit) it is
// kept untouched so pending changes survive to the next Stop.
// Snapshot-sourced volumes discard any stale overlay and snapshot their
// source's current base. Volatile volumes are recreated from scratch.
func (v *Volume) Start(ctx context.Context) error {
	if err := v.notImporting(); err != nil {
		return err
	}
	volumes, err := v.backend.Volumes(ctx)
	if err != nil {
		return err
	}
	st := reconstructState(v.vid, volumes)

	if !v.saveOnStop && !v.snapOnStart {
		// Volatile scratch volume: fresh LV every start.
		v.mu.Lock()
		size := v.size
		v.mu.Unlock()
		v.logger.Debug().Msg("resetting volatile volume")
		return v.backend.Update(ctx, func(ops Ops) error {
			if st.base {
				if err := ops.Remove(v.vid); err != nil {
					return err
				}
			}
			return ops.Create(v.vid, size)
		})
	}

	if v.saveOnStop && st.overlay {
		// Uncommitted changes pending; the overlay carries them and
		// must survive the restart.
		v.logger.Debug().Msg("start with dirty overlay, keeping it")
		return nil
	}

	origin := st.currentName(v.vid)
	if v.snapOnStart {
		srcState := reconstructState(v.source.vid, volumes)
		origin = srcState.currentName(v.source.vid)
	}
	if _, ok := volumes[origin]; !ok {
		return fmt.Errorf("origin image %s: %w", origin, ErrNotFound)
	}

	v.logger.Debug().Str("origin", origin).Msg("creating overlay")
	return v.backend.Update(ctx, func(ops Ops) error {
		if st.overlay {
			if err := ops.Remove(snapName(v.vid)); err != nil {
				return err
			}
		}
		return ops.Snapshot(origin, snapName(v.vid))
	})
}

// Stop deactivates the volume after a VM shutdown. Persistent volumes
// commit their overlay; snapshot-sourced volumes discard it; volatile
// volumes are deleted. Stopping a clean volume is a no-op.
func (v *Volume) Stop(ctx context.Context) error {
	if err := v.notImporting(); err != nil {
		return err
	}
	if v.saveOnStop {
		return v.commit(ctx, snapName(v.vid), false)
	}

	volumes, err := v.backend.Volumes(ctx)
	if err != nil {
		return err
	}
	remove := v.vid
	if v.snapOnStart {
		remove = snapName(v.vid)
	}
	if _, ok := volumes[remove]; !ok {
		return nil
	}
	v.logger.Debug().Str("lv", remove).Msg("discarding working volume")
	return v.backend.Update(ctx, func(ops Ops) error {
		return ops.Remove(remove)
	})
}

// commit runs the commit protocol, promoting the LV named from into the
// new base:
//
//  1. rename the old base to a revision timestamped now (or delete it
//     when no history is kept),
//  2. promote from — rename, or snapshot when keepSource is set,
//  3. prune revisions beyond the retention count.
//
// Each step is a single atomic rename/delete; the whole sequence runs
// under the tool lock so no listing observes a half-committed state. The
// protocol is resumable from on-disk naming alone: a missing base means
// step 1 already ran in a previous, interrupted attempt, so promotion
// proceeds without minting a duplicate revision.
func (v *Volume) commit(ctx context.Context, from string, keepSource bool) error {
	if !v.rw {
		return fmt.Errorf("cannot commit into read-only volume %s", v.vid)
	}
	volumes, err := v.backend.Volumes(ctx)
	if err != nil {
		return err
	}
	if _, ok := volumes[from]; !ok {
		// Nothing to commit.
		return nil
	}
	st := reconstructState(v.vid, volumes)
	if st.legacy {
		v.logger.Debug().Msg("committing legacy-layout volume")
	}

	revisions := append([]string(nil), st.revisions...)
	logger := v.logger.With().Str("from", from).Logger()
	return v.backend.Update(ctx, func(ops Ops) error {
		if st.base {
			if v.revisionsToKeep > 0 {
				id := newRevisionID(v.now())
				logger.Info().Str("revision", id).Msg("filing base as revision")
				if err := ops.Rename(v.vid, revisionName(v.vid, id)); err != nil {
					return err
				}
				revisions = append(revisions, id)
			} else {
				logger.Info().Msg("discarding old base, no history kept")
				if err := ops.Remove(v.vid); err != nil {
					return err
				}
			}
		}

		if keepSource {
			if err := ops.Snapshot(from, v.vid); err != nil {
				return err
			}
		} else {
			if err := ops.Rename(from, v.vid); err != nil {
				return err
			}
		}

		for _, id := range selectPruneSet(revisions, v.revisionsToKeep) {
			logger.Debug().Str("revision", id).Msg("pruning revision")
			if err := ops.Remove(revisionName(v.vid, id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Revert replaces the base with a writable snapshot of the chosen
// revision. revision may be empty to pick the newest one. History is
// unchanged: revert moves the live lineage, it does not rewrite it.
func (v *Volume) Revert(ctx context.Context, revision string) error {
	if err := v.notImporting(); err != nil {
		return err
	}
	dirty, err := v.IsDirty(ctx)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("revert of %s: %w", v.vid, ErrDirty)
	}
	volumes, err := v.backend.Volumes(ctx)
	if err != nil {
		return err
	}
	st := reconstructState(v.vid, volumes)
	if revision == "" {
		if len(st.revisions) == 0 {
			return fmt.Errorf("no revisions of %s: %w", v.vid, ErrNotFound)
		}
		revision = st.revisions[len(st.revisions)-1]
	} else if _, ok := volumes[revisionName(v.vid, revision)]; !ok {
		return fmt.Errorf("revision %s of %s: %w", revision, v.vid, ErrNotFound)
	}

	v.logger.Info().Str("revision", revision).Msg("reverting volume")
	return v.backend.Update(ctx, func(ops Ops) error {
		if st.base {
			if err := ops.Remove(v.vid); err != nil {
				return err
			}
		}
		return ops.Snapshot(revisionName(v.vid, revision), v.vid)
	})
}

// Resize grows the volume to size bytes. While active the overlay is
// grown; the base inherits the size at the next commit, since promotion
// carries the overlay's geometry. Shrinking is never supported.
func (v *Volume) Resize(ctx context.Context, size uint64) error {
	if err := v.notImporting(); err != nil {
		return err
	}
	current, err := v.Size(ctx)
	if err != nil {
		return err
	}
	if size < current {
		return fmt.Errorf("resize %s from %d to %d: %w", v.vid, current, size, ErrShrink)
	}
	if size == current {
		return nil
	}
	volumes, err := v.backend.Volumes(ctx)
	if err != nil {
		return err
	}
	st := reconstructState(v.vid, volumes)

	target := ""
	switch {
	case st.overlay && v.saveOnStop:
		target = snapName(v.vid)
	case st.base:
		target = v.vid
	}
	if target != "" {
		v.logger.Info().Str("lv", target).Uint64("size", size).Msg("extending volume")
		err = v.backend.Update(ctx, func(ops Ops) error {
			return ops.Extend(target, size)
		})
		if err != nil {
			return err
		}
	}
	v.mu.Lock()
	v.size = size
	v.mu.Unlock()
	return nil
}

// ImportData opens an import session: a writable staging snapshot of the
// current base is created and its device path returned for the caller to
// overwrite. The session ends with ImportDataEnd. Lifecycle operations
// fail with ErrBusy while a session is open.
func (v *Volume) ImportData(ctx context.Context) (string, error) {
	if err := v.notImporting(); err != nil {
		return "", err
	}
	if !v.saveOnStop {
		return "", fmt.Errorf("cannot import data into non-persistent volume %s", v.vid)
	}
	dirty, err := v.IsDirty(ctx)
	if err != nil {
		return "", err
	}
	if dirty {
		return "", fmt.Errorf("import into %s: %w", v.vid, ErrDirty)
	}
	volumes, err := v.backend.Volumes(ctx)
	if err != nil {
		return "", err
	}
	st := reconstructState(v.vid, volumes)
	base := st.currentName(v.vid)
	if _, ok := volumes[base]; !ok {
		return "", fmt.Errorf("base image %s: %w", base, ErrNotFound)
	}

	v.logger.Info().Msg("starting data import")
	err = v.backend.Update(ctx, func(ops Ops) error {
		return ops.Snapshot(base, importName(v.vid))
	})
	if err != nil {
		return "", err
	}
	v.mu.Lock()
	v.importing = true
	v.mu.Unlock()
	return v.backend.DevicePath(importName(v.vid)), nil
}

// ImportDataEnd closes an import session. On success the staging
// snapshot is committed exactly like an overlay, producing one new
// revision of the old base; otherwise staging is discarded and the
// volume is unchanged.
func (v *Volume) ImportDataEnd(ctx context.Context, success bool) error {
	v.mu.Lock()
	open := v.importing
	v.mu.Unlock()
	if !open {
		return fmt.Errorf("no import in progress on %s", v.vid)
	}

	var err error
	if success {
		v.logger.Info().Msg("committing imported data")
		err = v.commit(ctx, importName(v.vid), false)
	} else {
		v.logger.Info().Msg("discarding imported data")
		err = v.backend.Update(ctx, func(ops Ops) error {
			return ops.Remove(importName(v.vid))
		})
	}
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.importing = false
	v.mu.Unlock()
	return nil
}

// ImportVolume replaces the volume's content with src's committed image,
// producing exactly one new revision. A source in the same pool is
// imported as a cheap copy-on-write clone; anything else is streamed
// byte-for-byte through an import session.
func (v *Volume) ImportVolume(ctx context.Context, src Source) error {
	if err := v.notImporting(); err != nil {
		return err
	}
	if sv, ok := src.(*Volume); ok && sv.pool == v.pool {
		dirty, err := v.IsDirty(ctx)
		if err != nil {
			return err
		}
		if dirty {
			return fmt.Errorf("import into %s: %w", v.vid, ErrDirty)
		}
		volumes, err := v.backend.Volumes(ctx)
		if err != nil {
			return err
		}
		srcState := reconstructState(sv.vid, volumes)
		srcName := srcState.currentName(sv.vid)
		if _, ok := volumes[srcName]; !ok {
			return fmt.Errorf("import source %s: %w", srcName, ErrNotFound)
		}
		v.logger.Info().Str("source", srcName).Msg("importing volume as clone")
		return v.commit(ctx, srcName, true)
	}

	size, err := src.VolumeSize(ctx)
	if err != nil {
		return err
	}
	current, err := v.Size(ctx)
	if err != nil {
		return err
	}
	if size > current {
		if err := v.Resize(ctx, size); err != nil {
			return err
		}
	}

	staging, err := v.ImportData(ctx)
	if err != nil {
		return err
	}
	if err := v.copyInto(ctx, src, staging); err != nil {
		if endErr := v.ImportDataEnd(ctx, false); endErr != nil {
			v.logger.Error().Err(endErr).Msg("failed to discard staging after copy error")
		}
		return err
	}
	return v.ImportDataEnd(ctx, true)
}

func (v *Volume) copyInto(ctx context.Context, src Source, devicePath string) error {
	reader, err := src.Export(ctx)
	if err != nil {
		return fmt.Errorf("failed to export source volume: %w", err)
	}
	defer reader.Close()

	dev, err := os.OpenFile(devicePath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open staging device: %w", err)
	}
	if _, err := io.Copy(dev, reader); err != nil {
		dev.Close()
		return fmt.Errorf("failed to copy volume data: %w", err)
	}
	if err := dev.Sync(); err != nil {
		dev.Close()
		return fmt.Errorf("failed to sync staging device: %w", err)
	}
	return dev.Close()
}

// Remove deletes every on-disk variant of the volume: overlay, staging,
// revisions, base. Removing an already-removed volume is a no-op.
func (v *Volume) Remove(ctx context.Context) error {
	volumes, err := v.backend.Volumes(ctx)
	if err != nil {
		return err
	}
	st := reconstructState(v.vid, volumes)

	v.logger.Info().Msg("removing volume")
	err = v.backend.Update(ctx, func(ops Ops) error {
		if st.overlay {
			if err := ops.Remove(snapName(v.vid)); err != nil {
				return err
			}
		}
		if st.staging {
			if err := ops.Remove(importName(v.vid)); err != nil {
				return err
			}
		}
		for _, id := range st.revisions {
			if err := ops.Remove(revisionName(v.vid, id)); err != nil {
				return err
			}
		}
		if st.base {
			if err := ops.Remove(v.vid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.importing = false
	v.mu.Unlock()
	return nil
}

// VolumeSize implements Source for cross-pool imports.
func (v *Volume) VolumeSize(ctx context.Context) (uint64, error) {
	return v.Size(ctx)
}

// Export implements Source: it opens the committed image read-only.
// Callers must close the reader. The overlay is not included; export
// reflects the last commit.
func (v *Volume) Export(ctx context.Context) (io.ReadCloser, error) {
	path, err := v.Path(ctx)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open volume image: %w", err)
	}
	return f, nil
}

func (v *Volume) notImporting() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.importing {
		return fmt.Errorf("%s: %w", v.vid, ErrBusy)
	}
	return nil
}

var _ Source = (*Volume)(nil)
