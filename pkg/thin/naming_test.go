package thin

import (
	"reflect"
	"testing"
	"time"

	"github.com/havenvirt/stratum/pkg/lvm"
)

func TestRevisionNameRoundTrip(t *testing.T) {
	vid := "vm-work-root"
	name := revisionName(vid, "1521065904")
	if name != "vm-work-root-1521065904-back" {
		t.Fatalf("revisionName = %q", name)
	}
	id, ok := parseRevision(vid, name)
	if !ok || id != "1521065904" {
		t.Fatalf("parseRevision(%q) = %q, %v", name, id, ok)
	}
}

func TestParseRevisionRejectsOtherVolumes(t *testing.T) {
	// "vm-work-root-old" is a distinct volume whose revisions must not
	// be attributed to "vm-work-root".
	if _, ok := parseRevision("vm-work-root", "vm-work-root-old-1521065904-back"); ok {
		t.Error("parseRevision matched a revision of a longer-named volume")
	}
	if _, ok := parseRevision("vm-work-root", "vm-work-root-snap"); ok {
		t.Error("parseRevision matched an overlay name")
	}
}

func TestSplitRevision(t *testing.T) {
	vid, id, ok := splitRevision("vm-work-private-1521065904-back")
	if !ok || vid != "vm-work-private" || id != "1521065904" {
		t.Fatalf("splitRevision = %q, %q, %v", vid, id, ok)
	}
	if _, _, ok := splitRevision("vm-work-private-snap"); ok {
		t.Error("splitRevision matched a non-revision name")
	}
}

func TestNewRevisionID(t *testing.T) {
	at := time.Date(2018, 3, 14, 22, 18, 24, 0, time.UTC)
	if id := newRevisionID(at); id != "1521065904" {
		t.Fatalf("newRevisionID = %q, want 1521065904", id)
	}
}

func TestRevisionDisplay(t *testing.T) {
	if got := revisionDisplay("1521065904"); got != "2018-03-14T22:18:24" {
		t.Fatalf("revisionDisplay = %q, want 2018-03-14T22:18:24", got)
	}
	if got := revisionDisplay("not-a-number"); got != "not-a-number" {
		t.Fatalf("revisionDisplay fallthrough = %q", got)
	}
}

func TestSelectPruneSet(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		keep int
		want []string
	}{
		{"under limit", []string{"100", "200"}, 3, nil},
		{"at limit", []string{"100", "200"}, 2, nil},
		{"over limit prunes oldest", []string{"300", "100", "200"}, 1, []string{"100", "200"}},
		{"keep zero prunes all", []string{"200", "100"}, 0, []string{"100", "200"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectPruneSet(tt.ids, tt.keep)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("selectPruneSet(%v, %d) = %v, want %v", tt.ids, tt.keep, got, tt.want)
			}
		})
	}
}

func TestReconstructState(t *testing.T) {
	volumes := map[string]lvm.Volume{
		"vm-work-root":                 {Name: "vm-work-root"},
		"vm-work-root-snap":            {Name: "vm-work-root-snap", Origin: "vm-work-root-1521065904-back"},
		"vm-work-root-import":          {Name: "vm-work-root-import"},
		"vm-work-root-1521065904-back": {Name: "vm-work-root-1521065904-back"},
		"vm-work-root-1521065903-back": {Name: "vm-work-root-1521065903-back"},
		"vm-other-root":                {Name: "vm-other-root"},
	}
	st := reconstructState("vm-work-root", volumes)
	if !st.base || !st.overlay || !st.staging {
		t.Fatalf("state = %+v, want base, overlay and staging present", st)
	}
	if !reflect.DeepEqual(st.revisions, []string{"1521065903", "1521065904"}) {
		t.Fatalf("revisions = %v, want oldest first", st.revisions)
	}
	if st.legacy {
		t.Error("volume with revisions classified as legacy layout")
	}
}

func TestReconstructStateLegacyLayout(t *testing.T) {
	volumes := map[string]lvm.Volume{
		"vm-work-root":      {Name: "vm-work-root"},
		"vm-work-root-snap": {Name: "vm-work-root-snap", Origin: "vm-work-root"},
	}
	st := reconstructState("vm-work-root", volumes)
	if !st.legacy {
		t.Error("base plus overlay-of-base with no revisions should be legacy")
	}
}

func TestCurrentName(t *testing.T) {
	tests := []struct {
		name string
		st   diskState
		want string
	}{
		{"base present", diskState{base: true, revisions: []string{"100"}}, "vm-work-root"},
		{"mid commit", diskState{overlay: true, revisions: []string{"100", "200"}}, "vm-work-root-200-back"},
		{"no storage yet", diskState{}, "vm-work-root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.st.currentName("vm-work-root"); got != tt.want {
				t.Errorf("currentName = %q, want %q", got, tt.want)
			}
		})
	}
}
