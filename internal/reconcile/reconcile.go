// Package reconcile classifies the difference between a local and a remote fingerprint set.
package reconcile

import (
	"sort"

	"github.com/openmined/vcsws/internal/fingerprint"
)

// Reconcile computes what local lacks relative to remote. Identity is hash first:
// a known hash at another path is a move, an unknown hash at a known path is an
// update, anything else is new. Local entries never matched are deletions.
// Swapping the arguments gives the converse diff.
func Reconcile(local, remote *fingerprint.Set) *Diff {
	diff := &Diff{}

	working := local.HashMap()
	localByPath := local.PathMap()

	remoteList := remote.List()
	sort.SliceStable(remoteList, func(i, j int) bool { return remoteList[i].Path < remoteList[j].Path })

	// hash matches are settled before any path is looked at
	var unmatched []fingerprint.Fingerprint
	for _, fp := range remoteList {
		localPath, ok := working[fp.Hash]
		if !ok {
			unmatched = append(unmatched, fp)
			continue
		}
		if localPath != fp.Path {
			diff.Moved = append(diff.Moved, Move{Hash: fp.Hash, From: localPath, To: fp.Path})
		}
		delete(working, fp.Hash)
	}

	for _, fp := range unmatched {
		if oldHash, ok := localByPath[fp.Path]; ok {
			diff.Updated = append(diff.Updated, Change{Hash: fp.Hash, Path: fp.Path})
			// the replaced content is accounted for by the update
			if working[oldHash] == fp.Path {
				delete(working, oldHash)
			}
			continue
		}
		diff.Created = append(diff.Created, Change{Hash: fp.Hash, Path: fp.Path})
	}

	for hash, p := range working {
		diff.Deleted = append(diff.Deleted, Change{Hash: hash, Path: p})
	}
	sort.Slice(diff.Deleted, func(i, j int) bool { return diff.Deleted[i].Path < diff.Deleted[j].Path })

	return diff
}
