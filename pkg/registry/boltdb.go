package registry

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketPools   = []byte("pools")
	bucketVolumes = []byte("volumes")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "stratum.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketPools,
			bucketVolumes,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Pool operations
func (s *BoltStore) CreatePool(pool *PoolRecord) error {
	if pool.ID == "" {
		pool.ID = uuid.New().String()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPools)
		data, err := json.Marshal(pool)
		if err != nil {
			return err
		}
		return b.Put([]byte(pool.ID), data)
	})
}

func (s *BoltStore) GetPool(id string) (*PoolRecord, error) {
	var pool PoolRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPools)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("pool %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &pool)
	})
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (s *BoltStore) GetPoolByName(name string) (*PoolRecord, error) {
	var found *PoolRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPools)
		return b.ForEach(func(k, v []byte) error {
			var pool PoolRecord
			if err := json.Unmarshal(v, &pool); err != nil {
				return err
			}
			if pool.Name == name {
				found = &pool
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("pool %s: %w", name, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListPools() ([]*PoolRecord, error) {
	var pools []*PoolRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPools)
		return b.ForEach(func(k, v []byte) error {
			var pool PoolRecord
			if err := json.Unmarshal(v, &pool); err != nil {
				return err
			}
			pools = append(pools, &pool)
			return nil
		})
	})
	return pools, err
}

func (s *BoltStore) UpdatePool(pool *PoolRecord) error {
	return s.CreatePool(pool) // Same as create (upsert)
}

func (s *BoltStore) DeletePool(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPools)
		return b.Delete([]byte(id))
	})
}

// Volume operations
func (s *BoltStore) CreateVolume(volume *VolumeRecord) error {
	if volume.ID == "" {
		volume.ID = uuid.New().String()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumes)
		data, err := json.Marshal(volume)
		if err != nil {
			return err
		}
		return b.Put([]byte(volume.ID), data)
	})
}

func (s *BoltStore) GetVolume(id string) (*VolumeRecord, error) {
	var volume VolumeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumes)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("volume %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &volume)
	})
	if err != nil {
		return nil, err
	}
	return &volume, nil
}

func (s *BoltStore) GetVolumeByName(pool, owner, name string) (*VolumeRecord, error) {
	var found *VolumeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumes)
		return b.ForEach(func(k, v []byte) error {
			var volume VolumeRecord
			if err := json.Unmarshal(v, &volume); err != nil {
				return err
			}
			if volume.Pool == pool && volume.Owner == owner && volume.Name == name {
				found = &volume
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("volume %s/%s/%s: %w", pool, owner, name, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListVolumes() ([]*VolumeRecord, error) {
	var volumes []*VolumeRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumes)
		return b.ForEach(func(k, v []byte) error {
			var volume VolumeRecord
			if err := json.Unmarshal(v, &volume); err != nil {
				return err
			}
			volumes = append(volumes, &volume)
			return nil
		})
	})
	return volumes, err
}

func (s *BoltStore) ListVolumesByPool(pool string) ([]*VolumeRecord, error) {
	volumes, err := s.ListVolumes()
	if err != nil {
		return nil, err
	}

	var filtered []*VolumeRecord
	for _, volume := range volumes {
		if volume.Pool == pool {
			filtered = append(filtered, volume)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListVolumesByOwner(owner string) ([]*VolumeRecord, error) {
	volumes, err := s.ListVolumes()
	if err != nil {
		return nil, err
	}

	var filtered []*VolumeRecord
	for _, volume := range volumes {
		if volume.Owner == owner {
			filtered = append(filtered, volume)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateVolume(volume *VolumeRecord) error {
	return s.CreateVolume(volume)
}

func (s *BoltStore) DeleteVolume(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumes)
		return b.Delete([]byte(id))
	})
}
