/*
Package registry provides BoltDB-backed persistence for Stratum's pool
and volume configuration.

LVM itself is the source of truth for which logical volumes exist; the
registry holds only what a listing cannot reconstruct: which pools are
managed, who owns each volume, its lifecycle flags and how many
revisions to retain. All records are serialized as JSON and stored in
separate buckets.

# Buckets

	pools    PoolRecord, keyed by record ID
	volumes  VolumeRecord, keyed by record ID

Record IDs are UUIDs assigned on first create. Names are the human
handles; lookups by name scan the bucket, which is fine at the scale of
one host's pools and VMs.

# Usage

	store, err := registry.NewBoltStore("/var/lib/stratum")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	err = store.CreatePool(&registry.PoolRecord{
		Name:        "default",
		VolumeGroup: "vg_host0",
		ThinPool:    "vm-pool",
		CreatedAt:   time.Now(),
	})

	pool, err := store.GetPoolByName("default")
	volumes, err := store.ListVolumesByPool(pool.Name)

# Design Patterns

Upsert Pattern:
  - Create and Update use the same method (db.Put)
  - No separate "exists" check needed
  - Atomic replacement

Idempotent Deletes:
  - Delete returns no error if key doesn't exist
  - Safe to call multiple times

Error Wrapping:
  - Missing records wrap ErrNotFound for errors.Is checks
  - All errors carry the record identity

# See Also

  - pkg/thin for the volumes the records describe
  - pkg/config for bootstrapping pools from a config file
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package registry
