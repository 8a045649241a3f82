package detect

import "slices"

// ChangeSet lists the files whose content differs from the manifest.
// Deleted files are never reported; the remote keeps what it already has.
type ChangeSet struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`

	// Unreadable lists files that could not be hashed this scan. They are
	// neither changes nor part of the candidate manifest.
	Unreadable []string `json:"unreadable,omitempty"`
}

// IsEmpty returns true if there are no changes.
func (cs *ChangeSet) IsEmpty() bool {
	if cs == nil {
		return true
	}
	return len(cs.Added) == 0 && len(cs.Modified) == 0
}

// Len returns the number of changed files.
func (cs *ChangeSet) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.Added) + len(cs.Modified)
}

// Paths returns the sorted union of added and modified paths.
func (cs *ChangeSet) Paths() []string {
	if cs == nil {
		return nil
	}
	out := make([]string, 0, cs.Len())
	out = append(out, cs.Added...)
	out = append(out, cs.Modified...)
	slices.Sort(out)
	return out
}

func (cs *ChangeSet) sort() {
	slices.Sort(cs.Added)
	slices.Sort(cs.Modified)
	slices.Sort(cs.Unreadable)
}
