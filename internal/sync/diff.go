// Package sync reconciles remote folder state against the local cache and
// routes newly observed messages through the account's rules.
package sync

import (
	"sort"

	"github.com/mwhite/mailcached/pkg/types"
)

// Delta is the outcome of diffing a remote folder listing against the local
// cache: UIDs present only remotely, UIDs present in both with differing
// flags, and UIDs present only locally. All three sets are ordered by
// ascending UID so a sync pass applies them deterministically.
type Delta struct {
	New     []types.RemoteMessage
	Changed []types.RemoteMessage
	Removed []uint32
}

// Diff reconciles a folder's complete remote UID listing against the cached
// snapshot. The listing must be the folder's full current UID set; diffing
// an incremental slice would misreport every absent message as removed.
func Diff(remote []types.RemoteMessage, local map[uint32][]string) Delta {
	var d Delta

	seen := make(map[uint32]bool, len(remote))
	for _, msg := range remote {
		seen[msg.UID] = true
		flags, ok := local[msg.UID]
		switch {
		case !ok:
			d.New = append(d.New, msg)
		case !sameFlags(flags, msg.Flags):
			d.Changed = append(d.Changed, msg)
		}
	}

	for uid := range local {
		if !seen[uid] {
			d.Removed = append(d.Removed, uid)
		}
	}

	sort.Slice(d.New, func(i, j int) bool { return d.New[i].UID < d.New[j].UID })
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].UID < d.Changed[j].UID })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i] < d.Removed[j] })

	return d
}

// sameFlags compares two flag sets ignoring order and duplicates.
func sameFlags(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, f := range a {
		set[f] = true
	}
	for _, f := range b {
		if !set[f] {
			return false
		}
	}
	for _, f := range b {
		delete(set, f)
	}
	return len(set) == 0
}
