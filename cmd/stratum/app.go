package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/havenvirt/stratum/pkg/config"
	"github.com/havenvirt/stratum/pkg/log"
	"github.com/havenvirt/stratum/pkg/lvm"
	"github.com/havenvirt/stratum/pkg/metrics"
	"github.com/havenvirt/stratum/pkg/registry"
	"github.com/havenvirt/stratum/pkg/thin"
)

// app bundles the shared state every command needs: configuration, the
// registry database and one thin.Pool per registered pool.
type app struct {
	cfg   *config.Config
	store *registry.BoltStore
	pools map[string]*thin.Pool
}

// loadApp builds the app from the config file and the registry. A
// missing file at the default path falls back to defaults so read-only
// commands work on a fresh host.
func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || rootCmd.PersistentFlags().Changed("config") {
			return nil, err
		}
		cfg = config.Default()
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := registry.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, store: store, pools: make(map[string]*thin.Pool)}
	if err := a.seedPools(); err != nil {
		store.Close()
		return nil, err
	}
	if err := a.openPools(); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	a.store.Close()
}

// seedPools upserts pools declared in the config file into the
// registry, so a config edit is enough to add a pool.
func (a *app) seedPools() error {
	for _, pc := range a.cfg.Pools {
		record, err := a.store.GetPoolByName(pc.Name)
		if err != nil {
			record = &registry.PoolRecord{Name: pc.Name, CreatedAt: time.Now().UTC()}
		}
		record.VolumeGroup = pc.VolumeGroup
		record.ThinPool = pc.ThinPool
		record.Sudo = pc.Sudo
		if err := a.store.UpdatePool(record); err != nil {
			return fmt.Errorf("failed to register pool %s: %w", pc.Name, err)
		}
	}
	return nil
}

func (a *app) openPools() error {
	records, err := a.store.ListPools()
	if err != nil {
		return err
	}
	for _, record := range records {
		client := lvm.New(lvm.Config{
			VolumeGroup: record.VolumeGroup,
			ThinPool:    record.ThinPool,
			Sudo:        record.Sudo,
			Exec:        metrics.InstrumentExec(nil),
		})
		a.pools[record.Name] = thin.NewPool(record.Name, thin.NewBackend(client))
	}
	return nil
}

func (a *app) pool(name string) (*thin.Pool, error) {
	pool, ok := a.pools[name]
	if !ok {
		return nil, fmt.Errorf("pool %s is not registered", name)
	}
	return pool, nil
}

// volume resolves a registry record into a live handle, chasing the
// source chain for snapshot volumes.
func (a *app) volume(record *registry.VolumeRecord) (*thin.Volume, error) {
	pool, err := a.pool(record.Pool)
	if err != nil {
		return nil, err
	}

	var source *thin.Volume
	if record.SourceOwner != "" {
		sourceRecord, err := a.store.GetVolumeByName(record.Pool, record.SourceOwner, record.SourceName)
		if err != nil {
			return nil, fmt.Errorf("resolving source of %s/%s: %w", record.Owner, record.Name, err)
		}
		source, err = a.volume(sourceRecord)
		if err != nil {
			return nil, err
		}
	}

	return pool.InitVolume(record.Owner, thin.VolumeConfig{
		Name:            record.Name,
		Size:            record.Size,
		RW:              record.RW,
		SaveOnStop:      record.SaveOnStop,
		SnapOnStart:     record.SnapOnStart,
		Source:          source,
		RevisionsToKeep: record.RevisionsToKeep,
	})
}

// parseSize parses a byte count with an optional binary suffix
// (K, M, G, T).
func parseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("size must not be empty")
	}
	shift := 0
	switch s[len(s)-1] {
	case 'K', 'k':
		shift = 10
	case 'M', 'm':
		shift = 20
	case 'G', 'g':
		shift = 30
	case 'T', 't':
		shift = 40
	}
	if shift != 0 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n << shift, nil
}

// formatSize renders a byte count with the largest exact binary suffix.
func formatSize(n uint64) string {
	suffixes := []struct {
		shift uint
		unit  string
	}{{40, "T"}, {30, "G"}, {20, "M"}, {10, "K"}}
	for _, s := range suffixes {
		if n >= 1<<s.shift && n%(1<<s.shift) == 0 {
			return strconv.FormatUint(n>>s.shift, 10) + s.unit
		}
	}
	return strconv.FormatUint(n, 10)
}
