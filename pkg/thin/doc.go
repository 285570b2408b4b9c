// Package thin implements versioned copy-on-write volumes on LVM thin
// pools.
//
// Every volume is a small family of logical volumes in one thin pool,
// related purely by naming convention:
//
//	vm-work-root                  base (last committed image)
//	vm-work-root-snap             overlay (uncommitted writes)
//	vm-work-root-import           staging (data import in progress)
//	vm-work-root-1521065904-back  revision (archived base)
//
// There is no journal and no metadata file. The set of LVs that exist,
// and what they are named, is the complete persistent state, so any
// volume's lifecycle position is reconstructible from a single listing
// after a crash.
//
// # Lifecycle
//
// A persistent (save-on-stop) volume cycles through commit on every
// clean shutdown:
//
//	        Start                    Stop (commit)
//	base ───────────▶ base + overlay ─────────────▶ base' + revision
//	                        │
//	                        │ crash
//	                        ▼
//	                  base + overlay   (dirty; overlay survives restart,
//	                                    next Stop commits it)
//
// Commit is three steps, each a single atomic rename or delete: file the
// old base as a timestamped revision, promote the overlay to base,
// prune revisions beyond the retention count. An interruption between
// steps leaves a recognizable on-disk shape (newest revision present,
// base absent, overlay present) and the next Stop resumes from step two
// without minting a duplicate revision.
//
// Snapshot-sourced (snap-on-start) volumes own no base: each Start
// snapshots the source volume's current base, and Stop discards the
// overlay. They are never dirty, but become outdated when the source
// commits underneath them. Volumes with neither flag are volatile
// scratch space, recreated empty on every Start.
//
// # Typical usage
//
//	client := lvm.New(lvm.Config{VolumeGroup: "vg_host0", ThinPool: "vm-pool"})
//	pool := thin.NewPool("default", thin.NewBackend(client))
//
//	root, err := pool.InitVolume("work", thin.VolumeConfig{
//		Name:            "root",
//		Size:            10 << 30,
//		RW:              true,
//		SaveOnStop:      true,
//		RevisionsToKeep: 2,
//	})
//	if err != nil {
//		return err
//	}
//	if err := root.Create(ctx); err != nil {
//		return err
//	}
//	if err := root.Start(ctx); err != nil {
//		return err
//	}
//	// ... VM runs against root.OverlayPath() ...
//	if err := root.Stop(ctx); err != nil { // commits the overlay
//		return err
//	}
//
// All mutations of a pool run under its backend's process-wide lock, so
// concurrent operations on different volumes of the same pool serialize
// at the storage layer. Operations on a single volume are not safe to
// run concurrently with each other; callers serialize per volume.
package thin
