package thin

import (
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/havenvirt/stratum/pkg/lvm"
)

// On-disk variant suffixes. Every variant of a volume is derived from its
// vid by suffixing, so the full state of a volume is reconstructible from
// the LV listing alone — naming is the journal.
const (
	snapSuffix   = "-snap"
	importSuffix = "-import"
	backSuffix   = "-back"
)

// revisionPattern matches "<vid>-<unix seconds>-back".
var revisionPattern = regexp.MustCompile(`^(.+)-(\d+)-back$`)

// snapName returns the working overlay LV name for a volume.
func snapName(vid string) string {
	return vid + snapSuffix
}

// importName returns the import-staging LV name for a volume.
func importName(vid string) string {
	return vid + importSuffix
}

// revisionName returns the historical revision LV name for a volume and
// revision identifier.
func revisionName(vid, id string) string {
	return vid + "-" + id + backSuffix
}

// parseRevision extracts the revision identifier from an LV name, if the
// name is a revision of the given vid.
func parseRevision(vid, lvName string) (string, bool) {
	m := revisionPattern.FindStringSubmatch(lvName)
	if m == nil || m[1] != vid {
		return "", false
	}
	return m[2], true
}

// splitRevision splits any revision LV name into its owning vid and
// revision identifier, used when grouping pool listings by volume.
func splitRevision(lvName string) (vid, id string, ok bool) {
	m := revisionPattern.FindStringSubmatch(lvName)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// newRevisionID encodes a creation instant as a revision identifier.
func newRevisionID(at time.Time) string {
	return strconv.FormatInt(at.Unix(), 10)
}

// revisionDisplay renders a revision identifier as a second-granularity
// ISO-8601 UTC string for human consumption.
func revisionDisplay(id string) string {
	seconds, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		// Not an instant-encoded identifier; show it verbatim.
		return id
	}
	return time.Unix(seconds, 0).UTC().Format("2006-01-02T15:04:05")
}

// revisionLess orders revision identifiers by their embedded instant.
// Identifiers that do not parse as instants sort lexically, which only
// happens for hand-crafted names.
func revisionLess(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil && ai != bi {
		return ai < bi
	}
	return a < b
}

// sortRevisions sorts revision identifiers ascending, oldest first.
func sortRevisions(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return revisionLess(ids[i], ids[j]) })
}

// selectPruneSet returns the revision identifiers to delete so that at
// most keep revisions remain, oldest deleted first. keep == 0 means the
// volume retains no history at all, so every revision is pruned.
func selectPruneSet(ids []string, keep int) []string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sortRevisions(sorted)
	if keep <= 0 {
		return sorted
	}
	if len(sorted) <= keep {
		return nil
	}
	return sorted[:len(sorted)-keep]
}

// diskState is a volume's state reconstructed purely from the LV listing.
// There is no journal: variant existence and naming are the only source
// of truth, which is what makes the commit protocol crash-safe.
type diskState struct {
	base      bool
	overlay   bool
	staging   bool
	revisions []string // ascending, oldest first
	// legacy marks the pre-revision on-disk layout: an overlay whose
	// origin is the bare base, with no -back revisions recorded. Such
	// volumes were created before the revision naming scheme existed;
	// the next commit migrates them transparently.
	legacy bool
}

// reconstructState classifies every on-disk variant of a volume.
func reconstructState(vid string, volumes map[string]lvm.Volume) diskState {
	var st diskState
	_, st.base = volumes[vid]
	_, st.overlay = volumes[snapName(vid)]
	_, st.staging = volumes[importName(vid)]
	for name := range volumes {
		if id, ok := parseRevision(vid, name); ok {
			st.revisions = append(st.revisions, id)
		}
	}
	sortRevisions(st.revisions)
	if st.base && st.overlay && len(st.revisions) == 0 {
		st.legacy = volumes[snapName(vid)].Origin == vid
	}
	return st
}

// currentName returns the LV holding the volume's committed image: the
// base when it exists, otherwise the newest revision — the latter occurs
// while a commit is in flight (base already renamed, overlay not yet
// promoted). Falls back to the base name for volumes with no storage yet.
func (st diskState) currentName(vid string) string {
	if st.base {
		return vid
	}
	if n := len(st.revisions); n > 0 {
		return revisionName(vid, st.revisions[n-1])
	}
	return vid
}
