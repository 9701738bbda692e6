// Package transfer implements the two halves every vcsws flow is built from: the
// offering side (announce fingerprints, stream requested bodies) and the fetching
// side (reconcile, request, store bodies atomically).
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/openmined/vcsws/internal/fingerprint"
	"github.com/openmined/vcsws/internal/reconcile"
	"github.com/openmined/vcsws/internal/utils"
	"github.com/openmined/vcsws/internal/wsproto"
)

// Stats summarises one transfer.
type Stats struct {
	Files int
	Bytes int64
}

func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("files", s.Files),
		slog.String("size", humanize.Bytes(uint64(s.Bytes))),
	)
}

// Offer sends the fingerprint set in its wire form {hash: path}.
func Offer(ctx context.Context, conn *wsproto.Conn, set *fingerprint.Set) error {
	if err := conn.SendJSON(ctx, set.HashMap()); err != nil {
		return fmt.Errorf("send fingerprints: %w", err)
	}
	return nil
}

// ReceiveOffer reads a peer's fingerprint set.
func ReceiveOffer(ctx context.Context, conn *wsproto.Conn) (*fingerprint.Set, error) {
	var m map[string]string
	if err := conn.RecvJSON(ctx, &m); err != nil {
		return nil, fmt.Errorf("receive fingerprints: %w", err)
	}
	return fingerprint.FromHashMap(m), nil
}

// ReceiveRequest reads the list of hashes the peer wants.
func ReceiveRequest(ctx context.Context, conn *wsproto.Conn) ([]string, error) {
	var wanted []string
	if err := conn.RecvJSON(ctx, &wanted); err != nil {
		return nil, fmt.Errorf("receive request: %w", err)
	}
	return wanted, nil
}

// Serve answers a request list: every requested body is streamed from root in the
// order the peer listed them.
func Serve(ctx context.Context, conn *wsproto.Conn, root string, set *fingerprint.Set) (Stats, error) {
	wanted, err := ReceiveRequest(ctx, conn)
	if err != nil {
		return Stats{}, err
	}
	return SendFiles(ctx, conn, root, set, wanted)
}

func SendFiles(ctx context.Context, conn *wsproto.Conn, root string, set *fingerprint.Set, hashes []string) (Stats, error) {
	var stats Stats
	for _, hash := range hashes {
		rel, ok := set.PathOf(hash)
		if !ok {
			return stats, fmt.Errorf("peer requested unknown hash %s", hash)
		}
		n, err := sendFile(ctx, conn, root, rel)
		if err != nil {
			return stats, err
		}
		stats.Files++
		stats.Bytes += n
		slog.Debug("file sent", "path", rel, "size", humanize.Bytes(uint64(n)))
	}
	return stats, nil
}

func sendFile(ctx context.Context, conn *wsproto.Conn, root, rel string) (int64, error) {
	abs, err := utils.LocalPath(root, rel)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()

	n, err := conn.SendFile(ctx, f)
	if err != nil {
		return n, fmt.Errorf("send %s: %w", rel, err)
	}
	return n, nil
}

var (
	errIgnoredPath = errors.New("path is ignored locally")
	errRootPath    = errors.New("path names the project root")
)

// Fetcher is the receiving side of a transfer into a project tree. Offered paths
// that Ignore excludes are never written; it must cover the metadata directory.
type Fetcher struct {
	Root   string
	TmpDir string
	Ignore fingerprint.Ignorer
}

// Fetch reconciles local against the offered remote set, applies moves, requests the
// missing bodies and stores each one atomically as it arrives. Files written before a
// failure stay in place.
func (f *Fetcher) Fetch(ctx context.Context, conn *wsproto.Conn, local, remote *fingerprint.Set) (*reconcile.Diff, Stats, error) {
	remote = f.accept(remote)
	diff := reconcile.Reconcile(local, remote)
	for _, line := range diff.Lines() {
		slog.Info(line)
	}

	wanted := diff.Wanted()
	if fallback := f.applyMoves(diff.Moved); len(fallback) > 0 {
		wanted = mergeSorted(wanted, fallback)
	}

	if err := conn.SendJSON(ctx, wanted); err != nil {
		return diff, Stats{}, fmt.Errorf("send request: %w", err)
	}

	stats, err := f.ReceiveFiles(ctx, conn, remote, wanted)
	return diff, stats, err
}

// accept drops offered entries that may not be written under Root: paths that
// escape it and paths the local ignore policy excludes.
func (f *Fetcher) accept(remote *fingerprint.Set) *fingerprint.Set {
	kept := fingerprint.NewSet()
	for _, fp := range remote.List() {
		abs, err := utils.LocalPath(f.Root, fp.Path)
		if err == nil && abs == filepath.Clean(f.Root) {
			err = errRootPath
		}
		if err == nil && f.Ignore != nil && f.Ignore.ShouldIgnore(abs) {
			err = errIgnoredPath
		}
		if err != nil {
			slog.Warn("unexpected entry dropped", "hash", fp.Hash, "path", fp.Path, "error", err)
			continue
		}
		kept.Add(fp)
	}
	return kept
}

// ReceiveFiles reads one binary frame per hash, in order, and stores it at the path
// remote gives for that hash.
func (f *Fetcher) ReceiveFiles(ctx context.Context, conn *wsproto.Conn, remote *fingerprint.Set, hashes []string) (Stats, error) {
	var stats Stats
	for _, hash := range hashes {
		rel, ok := remote.PathOf(hash)
		if !ok {
			return stats, fmt.Errorf("no path for hash %s", hash)
		}
		dst, err := utils.LocalPath(f.Root, rel)
		if err != nil {
			return stats, err
		}

		var n int64
		err = conn.RecvFile(ctx, func(r io.Reader) error {
			var werr error
			n, werr = utils.WriteFileAtomic(f.TmpDir, dst, r)
			return werr
		})
		if err != nil {
			return stats, fmt.Errorf("receive %s: %w", rel, err)
		}
		stats.Files++
		stats.Bytes += n
		slog.Debug("file received", "path", rel, "size", humanize.Bytes(uint64(n)))
	}
	return stats, nil
}

// applyMoves renames local files whose content reappeared under another path. A move
// is only done when the source is present and the destination is free; otherwise
// its hash is returned so the body is fetched instead.
func (f *Fetcher) applyMoves(moves []reconcile.Move) []string {
	var fallback []string
	for _, m := range moves {
		if err := f.move(m); err != nil {
			slog.Warn("move not applied, fetching instead", "from", m.From, "to", m.To, "error", err)
			fallback = append(fallback, m.Hash)
		}
	}
	sort.Strings(fallback)
	return fallback
}

func (f *Fetcher) move(m reconcile.Move) error {
	src, err := utils.LocalPath(f.Root, m.From)
	if err != nil {
		return err
	}
	dst, err := utils.LocalPath(f.Root, m.To)
	if err != nil {
		return err
	}
	if !utils.FileExists(src) {
		return fmt.Errorf("source missing")
	}
	if utils.PathExists(dst) {
		return fmt.Errorf("destination exists")
	}
	if err := utils.EnsureParent(dst); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

func mergeSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, h := range list {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	sort.Strings(out)
	return out
}
