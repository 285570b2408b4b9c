package registry

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPoolCRUD(t *testing.T) {
	store := newTestStore(t)

	pool := &PoolRecord{
		Name:        "default",
		VolumeGroup: "vg0",
		ThinPool:    "pool00",
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.CreatePool(pool); err != nil {
		t.Fatalf("CreatePool() error = %v", err)
	}
	if pool.ID == "" {
		t.Fatal("CreatePool() did not assign an ID")
	}

	got, err := store.GetPool(pool.ID)
	if err != nil {
		t.Fatalf("GetPool() error = %v", err)
	}
	if got.VolumeGroup != "vg0" || got.ThinPool != "pool00" {
		t.Errorf("GetPool() = %+v", got)
	}

	byName, err := store.GetPoolByName("default")
	if err != nil {
		t.Fatalf("GetPoolByName() error = %v", err)
	}
	if byName.ID != pool.ID {
		t.Errorf("GetPoolByName().ID = %q, want %q", byName.ID, pool.ID)
	}

	pool.ThinPool = "pool01"
	if err := store.UpdatePool(pool); err != nil {
		t.Fatalf("UpdatePool() error = %v", err)
	}
	got, _ = store.GetPool(pool.ID)
	if got.ThinPool != "pool01" {
		t.Errorf("updated ThinPool = %q, want pool01", got.ThinPool)
	}

	pools, err := store.ListPools()
	if err != nil || len(pools) != 1 {
		t.Fatalf("ListPools() = %v, %v, want one pool", pools, err)
	}

	if err := store.DeletePool(pool.ID); err != nil {
		t.Fatalf("DeletePool() error = %v", err)
	}
	if _, err := store.GetPool(pool.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPool() after delete error = %v, want ErrNotFound", err)
	}
	// Deleting again is a no-op.
	if err := store.DeletePool(pool.ID); err != nil {
		t.Errorf("repeated DeletePool() error = %v", err)
	}
}

func TestVolumeCRUD(t *testing.T) {
	store := newTestStore(t)

	volume := &VolumeRecord{
		Pool:            "default",
		Owner:           "work",
		Name:            "root",
		Size:            10 << 30,
		RW:              true,
		SaveOnStop:      true,
		RevisionsToKeep: 2,
		CreatedAt:       time.Now().UTC(),
	}
	if err := store.CreateVolume(volume); err != nil {
		t.Fatalf("CreateVolume() error = %v", err)
	}
	other := &VolumeRecord{Pool: "default", Owner: "banking", Name: "private", Size: 2 << 30}
	if err := store.CreateVolume(other); err != nil {
		t.Fatalf("CreateVolume() error = %v", err)
	}

	got, err := store.GetVolumeByName("default", "work", "root")
	if err != nil {
		t.Fatalf("GetVolumeByName() error = %v", err)
	}
	if got.ID != volume.ID || got.RevisionsToKeep != 2 {
		t.Errorf("GetVolumeByName() = %+v", got)
	}
	if _, err := store.GetVolumeByName("default", "work", "private"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetVolumeByName() miss error = %v, want ErrNotFound", err)
	}

	byOwner, err := store.ListVolumesByOwner("banking")
	if err != nil || len(byOwner) != 1 || byOwner[0].ID != other.ID {
		t.Fatalf("ListVolumesByOwner() = %v, %v", byOwner, err)
	}
	byPool, err := store.ListVolumesByPool("default")
	if err != nil || len(byPool) != 2 {
		t.Fatalf("ListVolumesByPool() = %v, %v, want two volumes", byPool, err)
	}

	if err := store.DeleteVolume(volume.ID); err != nil {
		t.Fatalf("DeleteVolume() error = %v", err)
	}
	if _, err := store.GetVolume(volume.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetVolume() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	pool := &PoolRecord{Name: "default", VolumeGroup: "vg0", ThinPool: "pool00"}
	if err := store.CreatePool(pool); err != nil {
		t.Fatalf("CreatePool() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	store, err = NewBoltStore(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer store.Close()
	got, err := store.GetPoolByName("default")
	if err != nil {
		t.Fatalf("GetPoolByName() after reopen error = %v", err)
	}
	if got.ID != pool.ID {
		t.Errorf("record changed across reopen: %+v", got)
	}
}
