package thin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/havenvirt/stratum/pkg/log"
)

// vidPrefix namespaces every LV this package manages inside its volume
// group. LVs without the prefix (swap, the pool itself, unrelated data)
// are never touched.
const vidPrefix = "vm-"

// Pool is one managed thin pool. It hands out Volume handles and
// answers capacity queries; all Volumes of a pool share its backend and
// therefore its metadata cache and mutation lock.
type Pool struct {
	name    string
	backend Backend
	logger  zerolog.Logger
}

// NewPool wraps a backend as a named pool.
func NewPool(name string, backend Backend) *Pool {
	return &Pool{
		name:    name,
		backend: backend,
		logger:  log.WithPool(name),
	}
}

// Name returns the pool's configured name.
func (p *Pool) Name() string { return p.name }

// VolumeGroup returns the LVM volume group backing the pool.
func (p *Pool) VolumeGroup() string { return p.backend.VolumeGroup() }

// Size returns the pool's total capacity in bytes.
func (p *Pool) Size(ctx context.Context) (uint64, error) {
	info, err := p.backend.PoolInfo(ctx)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// Usage returns the pool's allocated bytes.
func (p *Pool) Usage(ctx context.Context) (uint64, error) {
	info, err := p.backend.PoolInfo(ctx)
	if err != nil {
		return 0, err
	}
	return info.Usage, nil
}

// Invalidate drops the pool's metadata cache so the next read re-queries
// the tools. Callers use it after out-of-band changes, e.g. a manual
// lvremove.
func (p *Pool) Invalidate() {
	p.backend.Invalidate()
}

// InitVolume builds a Volume handle for owner's volume described by cfg.
// It validates the configuration but touches no storage; Create and
// Start do that.
func (p *Pool) InitVolume(owner string, cfg VolumeConfig) (*Volume, error) {
	if owner == "" {
		return nil, fmt.Errorf("volume owner must not be empty")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("volume name must not be empty")
	}
	if strings.ContainsAny(owner+cfg.Name, "/ \t\n") {
		return nil, fmt.Errorf("invalid volume identifier %q/%q", owner, cfg.Name)
	}
	if cfg.SaveOnStop && cfg.SnapOnStart {
		return nil, fmt.Errorf("volume %s: save-on-stop and snap-on-start are mutually exclusive", cfg.Name)
	}
	if cfg.SnapOnStart {
		if cfg.Source == nil {
			return nil, fmt.Errorf("volume %s: snap-on-start requires a source volume", cfg.Name)
		}
		if cfg.Source.pool != p {
			return nil, fmt.Errorf("volume %s: source must live in pool %s", cfg.Name, p.name)
		}
	}
	if cfg.Size == 0 && !cfg.SnapOnStart {
		return nil, fmt.Errorf("volume %s: size must be positive", cfg.Name)
	}
	if cfg.RevisionsToKeep < 0 {
		return nil, fmt.Errorf("volume %s: revisions to keep must not be negative", cfg.Name)
	}

	vid := vidPrefix + owner + "-" + cfg.Name
	return &Volume{
		pool:            p,
		backend:         p.backend,
		logger:          log.WithVolume(vid),
		vid:             vid,
		name:            cfg.Name,
		rw:              cfg.RW,
		saveOnStop:      cfg.SaveOnStop,
		snapOnStart:     cfg.SnapOnStart,
		source:          cfg.Source,
		revisionsToKeep: cfg.RevisionsToKeep,
		size:            cfg.Size,
		now:             time.Now,
	}, nil
}

// ListVolumes enumerates every managed volume found on disk, one handle
// per distinct vid. Variants (overlay, staging, revisions) are folded
// into their owning volume, so a volume caught mid-commit, base already
// renamed away, still appears exactly once. Enumerated handles carry
// conservative settings: persistent, writable, one revision kept.
func (p *Pool) ListVolumes(ctx context.Context) ([]*Volume, error) {
	lvs, err := p.backend.Volumes(ctx)
	if err != nil {
		return nil, err
	}

	vids := make(map[string]bool)
	for name := range lvs {
		if !strings.HasPrefix(name, vidPrefix) {
			continue
		}
		switch {
		case strings.HasSuffix(name, snapSuffix):
			vids[strings.TrimSuffix(name, snapSuffix)] = true
		case strings.HasSuffix(name, importSuffix):
			vids[strings.TrimSuffix(name, importSuffix)] = true
		default:
			if vid, _, ok := splitRevision(name); ok {
				vids[vid] = true
			} else {
				vids[name] = true
			}
		}
	}

	names := make([]string, 0, len(vids))
	for vid := range vids {
		names = append(names, vid)
	}
	sort.Strings(names)

	volumes := make([]*Volume, 0, len(names))
	for _, vid := range names {
		size := lvs[vid].Size
		if size == 0 {
			st := reconstructState(vid, lvs)
			size = lvs[st.currentName(vid)].Size
		}
		volumes = append(volumes, &Volume{
			pool:            p,
			backend:         p.backend,
			logger:          log.WithVolume(vid),
			vid:             vid,
			name:            strings.TrimPrefix(vid, vidPrefix),
			rw:              true,
			saveOnStop:      true,
			revisionsToKeep: 1,
			size:            size,
			now:             time.Now,
		})
	}
	return volumes, nil
}
