package lvm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/havenvirt/stratum/pkg/log"
)

// Volume holds the attributes of one logical volume as reported by lvs.
type Volume struct {
	Name        string
	Size        uint64
	Origin      string
	UUID        string
	OriginUUID  string
	Pool        string
	DataPercent float64
}

// PoolInfo holds the capacity view of a thin pool LV.
type PoolInfo struct {
	Size  uint64
	Usage uint64
}

// ExecFunc runs an external command and returns its stdout. Tests inject
// a fake implementation; the default shells out via os/exec.
type ExecFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// CommandError reports a failed lvm invocation with captured stderr.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("lvm command %q failed (exit %d): %s",
		strings.Join(e.Args, " "), e.ExitCode, strings.TrimSpace(e.Stderr))
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Config identifies the volume-group/thin-pool pair a Client operates on.
type Config struct {
	VolumeGroup string
	ThinPool    string
	// Sudo prefixes every invocation with sudo. Required unless the
	// process already runs with device-mapper privileges.
	Sudo bool
	// Exec overrides command execution (used by tests).
	Exec ExecFunc
}

// Client serializes invocations of the lvm command-line tools against one
// volume group and caches the resulting metadata. All mutating operations
// run under a single process-wide lock via Update; read-only queries go
// through the metadata cache and may proceed without the lock.
type Client struct {
	vg       string
	thinPool string
	sudo     bool
	exec     ExecFunc
	logger   zerolog.Logger

	// mu serializes mutating lvm invocations. The lvm tools are not safe
	// for concurrent metadata writers on the same host.
	mu    sync.Mutex
	cache cache

	// originUUID tracks whether the installed lvm supports the
	// origin_uuid report column. Old releases do not; the value is then
	// derived by a secondary lookup of the origin name.
	originUUIDMu          sync.Mutex
	originUUIDUnsupported bool
}

// New creates a Client bound to the configured volume group and thin pool.
func New(cfg Config) *Client {
	execFn := cfg.Exec
	if execFn == nil {
		execFn = DefaultExec
	}
	return &Client{
		vg:       cfg.VolumeGroup,
		thinPool: cfg.ThinPool,
		sudo:     cfg.Sudo,
		exec:     execFn,
		logger:   log.WithComponent("lvm"),
	}
}

// VolumeGroup returns the volume group this client operates on.
func (c *Client) VolumeGroup() string { return c.vg }

// ThinPool returns the thin pool LV name this client operates on.
func (c *Client) ThinPool() string { return c.thinPool }

// DevicePath returns the device node path for a logical volume.
func (c *Client) DevicePath(name string) string {
	return "/dev/" + c.vg + "/" + name
}

// Volumes returns the attributes of every thin volume backed by this
// client's pool, keyed by LV name. The listing is served from the cache;
// one lvs call populates a whole pool generation. The returned map must
// be treated as read-only.
func (c *Client) Volumes(ctx context.Context) (map[string]Volume, error) {
	vols, _, err := c.cached(ctx)
	return vols, err
}

// PoolInfo returns the capacity and allocated bytes of the thin pool.
func (c *Client) PoolInfo(ctx context.Context) (PoolInfo, error) {
	_, info, err := c.cached(ctx)
	return info, err
}

// Invalidate forces the next read to re-query the lvm tools. Callers that
// change volumes out-of-band (directly via lvm, or from another process)
// must call this before trusting subsequent reads.
func (c *Client) Invalidate() {
	c.cache.invalidate()
}

// Update runs fn under the process-wide mutation lock. All changes made
// through the Tx are a single serialized sequence: no other mutation and
// no cache refill observes a half-applied state. The cache is invalidated
// when fn returns, whether it succeeded or not, so a crash or error mid
// sequence leaves the next read re-querying the tool.
func (c *Client) Update(ctx context.Context, fn func(*Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.cache.invalidate()
	return fn(&Tx{client: c, ctx: ctx})
}

// Tx exposes the mutating lvm operations inside an Update.
type Tx struct {
	client *Client
	ctx    context.Context
}

// Create allocates a new thin volume of the given size in the pool.
func (tx *Tx) Create(name string, size uint64) error {
	_, err := tx.client.run(tx.ctx,
		"lvcreate", "-q", "-T", tx.client.vg+"/"+tx.client.thinPool,
		"-n", name, "-V", strconv.FormatUint(size, 10)+"b")
	return err
}

// Snapshot creates a writable thin snapshot of source named dest.
func (tx *Tx) Snapshot(source, dest string) error {
	_, err := tx.client.run(tx.ctx,
		"lvcreate", "-q", "-kn", "-ay",
		"-s", tx.client.vg+"/"+source, "-n", dest)
	return err
}

// Remove deletes a logical volume.
func (tx *Tx) Remove(name string) error {
	_, err := tx.client.run(tx.ctx,
		"lvremove", "-q", "-f", tx.client.vg+"/"+name)
	return err
}

// Rename renames a logical volume within the volume group.
func (tx *Tx) Rename(oldName, newName string) error {
	_, err := tx.client.run(tx.ctx,
		"lvrename", "-q", tx.client.vg, oldName, newName)
	return err
}

// Extend grows a logical volume to the given size. Shrinking is refused
// by lvextend itself.
func (tx *Tx) Extend(name string, size uint64) error {
	_, err := tx.client.run(tx.ctx,
		"lvextend", "-q", "-L", strconv.FormatUint(size, 10)+"b",
		tx.client.vg+"/"+name)
	return err
}

// run executes one lvm command, prefixing sudo when configured, and wraps
// failures in *CommandError.
func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	full := args
	if c.sudo {
		full = append([]string{"sudo"}, args...)
	}
	c.logger.Debug().Strs("args", full).Msg("running lvm command")
	out, err := c.exec(ctx, full[0], full[1:]...)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			cmdErr.Args = full
			return nil, cmdErr
		}
		exitCode := -1
		stderr := ""
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			stderr = string(exitErr.Stderr)
		}
		return nil, &CommandError{Args: full, ExitCode: exitCode, Stderr: stderr, Err: err}
	}
	return out, nil
}

// listColumns are the lvs report fields, in parse order. origin_uuid is
// appended only when the installed lvm supports it.
const listColumns = "lv_name,lv_size,origin,lv_uuid,pool_lv,data_percent"

// listAll performs one full lvs listing of the volume group and splits it
// into the thin volumes of our pool and the pool's own capacity row.
// Volumes belonging to other pools or LV types in the same group are
// filtered out.
func (c *Client) listAll(ctx context.Context) (map[string]Volume, PoolInfo, error) {
	c.originUUIDMu.Lock()
	withOriginUUID := !c.originUUIDUnsupported
	c.originUUIDMu.Unlock()

	out, err := c.runList(ctx, withOriginUUID)
	if err != nil && withOriginUUID && isUnknownFieldError(err) {
		// Old lvm: no origin_uuid report column. Remember and fall back
		// to deriving it from the origin name.
		c.originUUIDMu.Lock()
		c.originUUIDUnsupported = true
		c.originUUIDMu.Unlock()
		withOriginUUID = false
		out, err = c.runList(ctx, false)
	}
	if err != nil {
		return nil, PoolInfo{}, err
	}

	all, err := parseList(out, withOriginUUID)
	if err != nil {
		return nil, PoolInfo{}, err
	}

	volumes := make(map[string]Volume)
	var info PoolInfo
	for name, vol := range all {
		switch {
		case name == c.thinPool:
			info = PoolInfo{
				Size:  vol.Size,
				Usage: uint64(float64(vol.Size) * vol.DataPercent / 100),
			}
		case vol.Pool == c.thinPool:
			volumes[name] = vol
		}
	}

	// Derive missing origin UUIDs from the same listing. All origins of
	// our thin snapshots live in the same volume group.
	for name, vol := range volumes {
		if vol.OriginUUID == "" && vol.Origin != "" {
			if origin, ok := all[vol.Origin]; ok {
				vol.OriginUUID = origin.UUID
				volumes[name] = vol
			}
		}
	}
	return volumes, info, nil
}

func (c *Client) runList(ctx context.Context, withOriginUUID bool) ([]byte, error) {
	cols := listColumns
	if withOriginUUID {
		cols += ",origin_uuid"
	}
	return c.run(ctx, "lvs", "--noheadings", "--units", "b", "--nosuffix",
		"--separator", ";", "-o", cols, c.vg)
}

// parseList parses the semicolon-separated lvs report into Volume rows
// keyed by LV name.
func parseList(out []byte, withOriginUUID bool) (map[string]Volume, error) {
	want := 6
	if withOriginUUID {
		want = 7
	}
	volumes := make(map[string]Volume)
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ";")
		if len(fields) != want {
			return nil, fmt.Errorf("unparsable lvs line %q: got %d fields, want %d",
				line, len(fields), want)
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		size, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unparsable lv_size in lvs line %q: %w", line, err)
		}
		vol := Volume{
			Name:   fields[0],
			Size:   size,
			Origin: fields[2],
			UUID:   fields[3],
			Pool:   fields[4],
		}
		if fields[5] != "" {
			percent, err := strconv.ParseFloat(fields[5], 64)
			if err != nil {
				return nil, fmt.Errorf("unparsable data_percent in lvs line %q: %w", line, err)
			}
			vol.DataPercent = percent
		}
		if withOriginUUID {
			vol.OriginUUID = fields[6]
		}
		volumes[vol.Name] = vol
	}
	return volumes, nil
}

func isUnknownFieldError(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return strings.Contains(strings.ToLower(cmdErr.Stderr), "origin_uuid")
}

// DefaultExec is the ExecFunc used when Config.Exec is nil. Wrappers,
// e.g. command instrumentation, compose around it.
var DefaultExec ExecFunc = runCommand

// runCommand is the default ExecFunc. LC_ALL=C keeps the report output
// locale-independent.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitErr.Stderr = stderr.Bytes()
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
