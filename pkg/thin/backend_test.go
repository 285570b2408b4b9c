package thin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/havenvirt/stratum/pkg/lvm"
)

// fakeBackend is an in-memory Backend. Each LV is tracked as an
// lvm.Volume plus a regular file standing in for its device node, so
// data imports can be exercised end to end.
type fakeBackend struct {
	t        *testing.T
	vg       string
	dir      string
	poolSize uint64
	volumes  map[string]lvm.Volume
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	return &fakeBackend{
		t:        t,
		vg:       "vg0",
		dir:      t.TempDir(),
		poolSize: 1 << 30,
		volumes:  make(map[string]lvm.Volume),
	}
}

func (f *fakeBackend) Volumes(_ context.Context) (map[string]lvm.Volume, error) {
	out := make(map[string]lvm.Volume, len(f.volumes))
	for name, lv := range f.volumes {
		out[name] = lv
	}
	return out, nil
}

func (f *fakeBackend) PoolInfo(_ context.Context) (lvm.PoolInfo, error) {
	var used uint64
	for _, lv := range f.volumes {
		used += lv.Size / 10
	}
	return lvm.PoolInfo{Size: f.poolSize, Usage: used}, nil
}

func (f *fakeBackend) Update(_ context.Context, fn func(Ops) error) error {
	return fn(f)
}

func (f *fakeBackend) Invalidate() {}

func (f *fakeBackend) DevicePath(name string) string {
	return filepath.Join(f.dir, name)
}

func (f *fakeBackend) VolumeGroup() string { return f.vg }

func (f *fakeBackend) Create(name string, size uint64) error {
	if _, ok := f.volumes[name]; ok {
		return fmt.Errorf("lv %s already exists", name)
	}
	f.volumes[name] = lvm.Volume{
		Name: name,
		Size: size,
		UUID: uuid.NewString(),
		Pool: "pool00",
	}
	return os.WriteFile(f.DevicePath(name), nil, 0o600)
}

func (f *fakeBackend) Snapshot(source, dest string) error {
	src, ok := f.volumes[source]
	if !ok {
		return fmt.Errorf("lv %s does not exist", source)
	}
	if _, ok := f.volumes[dest]; ok {
		return fmt.Errorf("lv %s already exists", dest)
	}
	f.volumes[dest] = lvm.Volume{
		Name:       dest,
		Size:       src.Size,
		Origin:     source,
		UUID:       uuid.NewString(),
		OriginUUID: src.UUID,
		Pool:       src.Pool,
	}
	data, err := os.ReadFile(f.DevicePath(source))
	if err != nil {
		return err
	}
	return os.WriteFile(f.DevicePath(dest), data, 0o600)
}

func (f *fakeBackend) Remove(name string) error {
	if _, ok := f.volumes[name]; !ok {
		return fmt.Errorf("lv %s does not exist", name)
	}
	delete(f.volumes, name)
	return os.Remove(f.DevicePath(name))
}

func (f *fakeBackend) Rename(oldName, newName string) error {
	lv, ok := f.volumes[oldName]
	if !ok {
		return fmt.Errorf("lv %s does not exist", oldName)
	}
	if _, ok := f.volumes[newName]; ok {
		return fmt.Errorf("lv %s already exists", newName)
	}
	lv.Name = newName
	delete(f.volumes, oldName)
	f.volumes[newName] = lv
	// lvrename keeps snapshot relationships; origins track the LV, not
	// its name.
	for name, other := range f.volumes {
		if other.Origin == oldName {
			other.Origin = newName
			f.volumes[name] = other
		}
	}
	return os.Rename(f.DevicePath(oldName), f.DevicePath(newName))
}

func (f *fakeBackend) Extend(name string, size uint64) error {
	lv, ok := f.volumes[name]
	if !ok {
		return fmt.Errorf("lv %s does not exist", name)
	}
	if size < lv.Size {
		return fmt.Errorf("lv %s cannot shrink", name)
	}
	lv.Size = size
	f.volumes[name] = lv
	return nil
}

// seed installs an LV directly, bypassing Ops, for crafting on-disk
// layouts such as an interrupted commit.
func (f *fakeBackend) seed(t *testing.T, lv lvm.Volume) {
	t.Helper()
	if lv.UUID == "" {
		lv.UUID = uuid.NewString()
	}
	f.volumes[lv.Name] = lv
	if err := os.WriteFile(f.DevicePath(lv.Name), nil, 0o600); err != nil {
		t.Fatalf("seed %s: %v", lv.Name, err)
	}
}

var _ Backend = (*fakeBackend)(nil)
var _ Ops = (*fakeBackend)(nil)
