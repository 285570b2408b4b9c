package registry

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// PoolRecord is the persistent definition of a managed thin pool.
type PoolRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	VolumeGroup string    `json:"volume_group"`
	ThinPool    string    `json:"thin_pool"`
	Sudo        bool      `json:"sudo,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// VolumeRecord is the persistent configuration of one volume. The LVs
// themselves live in LVM; the record holds what cannot be reconstructed
// from a listing: ownership, lifecycle flags and the retention count.
type VolumeRecord struct {
	ID              string    `json:"id"`
	Pool            string    `json:"pool"`
	Owner           string    `json:"owner"`
	Name            string    `json:"name"`
	Size            uint64    `json:"size"`
	RW              bool      `json:"rw"`
	SaveOnStop      bool      `json:"save_on_stop"`
	SnapOnStart     bool      `json:"snap_on_start"`
	SourceOwner     string    `json:"source_owner,omitempty"`
	SourceName      string    `json:"source_name,omitempty"`
	RevisionsToKeep int       `json:"revisions_to_keep"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store defines the interface for pool and volume configuration storage.
type Store interface {
	// Pools
	CreatePool(pool *PoolRecord) error
	GetPool(id string) (*PoolRecord, error)
	GetPoolByName(name string) (*PoolRecord, error)
	ListPools() ([]*PoolRecord, error)
	UpdatePool(pool *PoolRecord) error
	DeletePool(id string) error

	// Volumes
	CreateVolume(volume *VolumeRecord) error
	GetVolume(id string) (*VolumeRecord, error)
	GetVolumeByName(pool, owner, name string) (*VolumeRecord, error)
	ListVolumes() ([]*VolumeRecord, error)
	ListVolumesByPool(pool string) ([]*VolumeRecord, error)
	ListVolumesByOwner(owner string) ([]*VolumeRecord, error)
	UpdateVolume(volume *VolumeRecord) error
	DeleteVolume(id string) error

	// Utility
	Close() error
}
