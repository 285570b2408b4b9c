package lvm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// scriptedExec records every invocation and replays canned responses.
type scriptedExec struct {
	calls     [][]string
	responses []scriptedResponse
}

type scriptedResponse struct {
	out []byte
	err error
}

func (s *scriptedExec) exec(_ context.Context, name string, args ...string) ([]byte, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	if len(s.responses) == 0 {
		return nil, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp.out, resp.err
}

func newTestClient(script *scriptedExec) *Client {
	return New(Config{
		VolumeGroup: "vg0",
		ThinPool:    "pool00",
		Exec:        script.exec,
	})
}

const listingWithOriginUUID = `
  pool00;1073741824;;POOL-UUID;;42.50;
  vm-work-root;33554432;;AAAA-1111;pool00;1.00;
  vm-work-root-snap;33554432;vm-work-root;BBBB-2222;pool00;0.00;AAAA-1111
  other-lv;8388608;;CCCC-3333;otherpool;0.00;
  swap;4194304;;DDDD-4444;;;
`

func TestVolumesFiltersToThinPool(t *testing.T) {
	script := &scriptedExec{responses: []scriptedResponse{
		{out: []byte(listingWithOriginUUID)},
	}}
	client := newTestClient(script)

	volumes, err := client.Volumes(context.Background())
	if err != nil {
		t.Fatalf("Volumes() error = %v", err)
	}

	if len(volumes) != 2 {
		t.Fatalf("Volumes() returned %d entries, want 2: %v", len(volumes), volumes)
	}
	if _, ok := volumes["other-lv"]; ok {
		t.Error("Volumes() included an LV from another pool")
	}
	if _, ok := volumes["swap"]; ok {
		t.Error("Volumes() included a non-thin LV")
	}

	snap := volumes["vm-work-root-snap"]
	if snap.Origin != "vm-work-root" {
		t.Errorf("snap.Origin = %q, want vm-work-root", snap.Origin)
	}
	if snap.OriginUUID != "AAAA-1111" {
		t.Errorf("snap.OriginUUID = %q, want AAAA-1111", snap.OriginUUID)
	}
	if volumes["vm-work-root"].Size != 33554432 {
		t.Errorf("root size = %d, want 33554432", volumes["vm-work-root"].Size)
	}
}

func TestPoolInfo(t *testing.T) {
	script := &scriptedExec{responses: []scriptedResponse{
		{out: []byte(listingWithOriginUUID)},
	}}
	client := newTestClient(script)

	info, err := client.PoolInfo(context.Background())
	if err != nil {
		t.Fatalf("PoolInfo() error = %v", err)
	}
	if info.Size != 1073741824 {
		t.Errorf("PoolInfo().Size = %d, want 1073741824", info.Size)
	}
	// 42.50% of 1 GiB
	if info.Usage != 456340275 {
		t.Errorf("PoolInfo().Usage = %d, want 456340275", info.Usage)
	}
}

func TestOriginUUIDFallback(t *testing.T) {
	// Old lvm releases reject the origin_uuid column; the client must
	// retry without it and derive the value from the origin name.
	oldListing := `
  pool00;1073741824;;POOL-UUID;;0.00
  vm-work-root;33554432;;AAAA-1111;pool00;1.00
  vm-work-root-snap;33554432;vm-work-root;BBBB-2222;pool00;0.00
`
	script := &scriptedExec{responses: []scriptedResponse{
		{err: &CommandError{ExitCode: 3, Stderr: "Unrecognised field: origin_uuid"}},
		{out: []byte(oldListing)},
	}}
	client := newTestClient(script)

	volumes, err := client.Volumes(context.Background())
	if err != nil {
		t.Fatalf("Volumes() error = %v", err)
	}
	if len(script.calls) != 2 {
		t.Fatalf("expected fallback retry, got %d lvs calls", len(script.calls))
	}
	secondCols := script.calls[1][len(script.calls[1])-2]
	if strings.Contains(secondCols, "origin_uuid") {
		t.Errorf("fallback listing still requested origin_uuid: %v", script.calls[1])
	}
	if got := volumes["vm-work-root-snap"].OriginUUID; got != "AAAA-1111" {
		t.Errorf("derived OriginUUID = %q, want AAAA-1111", got)
	}
}

func TestVolumesCachedUntilUpdate(t *testing.T) {
	script := &scriptedExec{responses: []scriptedResponse{
		{out: []byte(listingWithOriginUUID)},
		{out: nil}, // lvremove inside Update
		{out: []byte(listingWithOriginUUID)},
	}}
	client := newTestClient(script)
	ctx := context.Background()

	if _, err := client.Volumes(ctx); err != nil {
		t.Fatalf("Volumes() error = %v", err)
	}
	if _, err := client.Volumes(ctx); err != nil {
		t.Fatalf("Volumes() error = %v", err)
	}
	if len(script.calls) != 1 {
		t.Fatalf("expected one lvs call for repeated reads, got %d", len(script.calls))
	}

	err := client.Update(ctx, func(tx *Tx) error {
		return tx.Remove("vm-work-root-snap")
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if _, err := client.Volumes(ctx); err != nil {
		t.Fatalf("Volumes() error = %v", err)
	}
	if len(script.calls) != 3 {
		t.Fatalf("expected re-query after Update, got %d calls", len(script.calls))
	}
}

func TestUpdateInvalidatesCacheOnFailure(t *testing.T) {
	script := &scriptedExec{responses: []scriptedResponse{
		{out: []byte(listingWithOriginUUID)},
		{err: errors.New("boom")},
		{out: []byte(listingWithOriginUUID)},
	}}
	client := newTestClient(script)
	ctx := context.Background()

	if _, err := client.Volumes(ctx); err != nil {
		t.Fatalf("Volumes() error = %v", err)
	}
	err := client.Update(ctx, func(tx *Tx) error {
		return tx.Remove("vm-work-root")
	})
	if err == nil {
		t.Fatal("Update() with failing command should return error")
	}

	// The cache must not be trusted after a failed mutation.
	if _, err := client.Volumes(ctx); err != nil {
		t.Fatalf("Volumes() error = %v", err)
	}
	if len(script.calls) != 3 {
		t.Fatalf("expected re-query after failed Update, got %d calls", len(script.calls))
	}
}

func TestExplicitInvalidate(t *testing.T) {
	script := &scriptedExec{responses: []scriptedResponse{
		{out: []byte(listingWithOriginUUID)},
		{out: []byte(listingWithOriginUUID)},
	}}
	client := newTestClient(script)
	ctx := context.Background()

	if _, err := client.Volumes(ctx); err != nil {
		t.Fatalf("Volumes() error = %v", err)
	}
	client.Invalidate()
	if _, err := client.Volumes(ctx); err != nil {
		t.Fatalf("Volumes() error = %v", err)
	}
	if len(script.calls) != 2 {
		t.Fatalf("expected re-query after Invalidate, got %d calls", len(script.calls))
	}
}

func TestTxCommands(t *testing.T) {
	script := &scriptedExec{}
	client := newTestClient(script)
	ctx := context.Background()

	err := client.Update(ctx, func(tx *Tx) error {
		if err := tx.Create("vm-work-root", 33554432); err != nil {
			return err
		}
		if err := tx.Snapshot("vm-work-root", "vm-work-root-snap"); err != nil {
			return err
		}
		if err := tx.Rename("vm-work-root", "vm-work-root-100-back"); err != nil {
			return err
		}
		if err := tx.Extend("vm-work-root-snap", 67108864); err != nil {
			return err
		}
		return tx.Remove("vm-work-root-100-back")
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	want := [][]string{
		{"lvcreate", "-q", "-T", "vg0/pool00", "-n", "vm-work-root", "-V", "33554432b"},
		{"lvcreate", "-q", "-kn", "-ay", "-s", "vg0/vm-work-root", "-n", "vm-work-root-snap"},
		{"lvrename", "-q", "vg0", "vm-work-root", "vm-work-root-100-back"},
		{"lvextend", "-q", "-L", "67108864b", "vg0/vm-work-root-snap"},
		{"lvremove", "-q", "-f", "vg0/vm-work-root-100-back"},
	}
	if len(script.calls) != len(want) {
		t.Fatalf("got %d commands, want %d: %v", len(script.calls), len(want), script.calls)
	}
	for i := range want {
		if strings.Join(script.calls[i], " ") != strings.Join(want[i], " ") {
			t.Errorf("command %d = %v, want %v", i, script.calls[i], want[i])
		}
	}
}

func TestSudoPrefix(t *testing.T) {
	script := &scriptedExec{}
	client := New(Config{
		VolumeGroup: "vg0",
		ThinPool:    "pool00",
		Sudo:        true,
		Exec:        script.exec,
	})

	err := client.Update(context.Background(), func(tx *Tx) error {
		return tx.Remove("vm-work-root")
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if script.calls[0][0] != "sudo" || script.calls[0][1] != "lvremove" {
		t.Errorf("expected sudo prefix, got %v", script.calls[0])
	}
}

func TestCommandErrorWrapping(t *testing.T) {
	script := &scriptedExec{responses: []scriptedResponse{
		{err: errors.New("exec failed")},
	}}
	client := newTestClient(script)

	err := client.Update(context.Background(), func(tx *Tx) error {
		return tx.Remove("vm-work-root")
	})
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error %v is not a *CommandError", err)
	}
	if cmdErr.Args[0] != "lvremove" {
		t.Errorf("CommandError.Args = %v, want lvremove invocation", cmdErr.Args)
	}
}

func TestParseListRejectsMalformedOutput(t *testing.T) {
	script := &scriptedExec{responses: []scriptedResponse{
		{out: []byte("not;a;listing")},
	}}
	client := newTestClient(script)

	if _, err := client.Volumes(context.Background()); err == nil {
		t.Fatal("Volumes() with malformed lvs output should return error")
	}
}
