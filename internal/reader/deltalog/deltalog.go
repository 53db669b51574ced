// Package deltalog resolves table snapshots by replaying Delta transaction
// logs: the JSON commit files under <table>/_delta_log. It implements the
// domain.TableReader port over a pluggable object store.
//
// Checkpoint parquet files are not read; tables whose JSON commits have
// been vacuumed away need a different TableReader implementation.
package deltalog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"time"

	"lakeshare/internal/domain"
)

// ObjectStore abstracts listing and fetching log objects. Paths are full
// storage URIs; List returns the object names directly under prefix.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, path string) ([]byte, error)
}

// Reader replays Delta logs into snapshots.
type Reader struct {
	store  ObjectStore
	logger *slog.Logger
}

var _ domain.TableReader = (*Reader)(nil)

// New builds a Reader over the given store.
func New(store ObjectStore, logger *slog.Logger) *Reader {
	return &Reader{store: store, logger: logger.With("component", "reader.deltalog")}
}

var commitFileRE = regexp.MustCompile(`^(\d{20})\.json$`)

func logDir(storagePath string) string { return storagePath + "/_delta_log" }

func commitPath(storagePath string, version int64) string {
	return fmt.Sprintf("%s/_delta_log/%020d.json", storagePath, version)
}

// commitVersions lists the commit versions present in the log, ascending.
func (r *Reader) commitVersions(ctx context.Context, storagePath string) ([]int64, error) {
	names, err := r.store.List(ctx, logDir(storagePath))
	if err != nil {
		return nil, domain.ErrNotFound("no transaction log at %s", storagePath)
	}
	var versions []int64
	for _, name := range names {
		m := commitFileRE.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return nil, domain.ErrNotFound("no commits in transaction log at %s", storagePath)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// resolveVersion maps a version selector onto a commit version.
func (r *Reader) resolveVersion(ctx context.Context, storagePath string, v domain.Version) (int64, []int64, error) {
	versions, err := r.commitVersions(ctx, storagePath)
	if err != nil {
		return 0, nil, err
	}
	latest := versions[len(versions)-1]

	if v.IsLatest() {
		return latest, versions, nil
	}
	if n, ok := v.Number(); ok {
		for _, have := range versions {
			if have == n {
				return n, versions, nil
			}
		}
		return 0, nil, domain.ErrNotFound("table version %d not found", n)
	}

	ts, _ := v.Timestamp()
	target := ts.UnixMilli()
	resolved := int64(-1)
	for _, have := range versions {
		commitTS, err := r.commitTimestamp(ctx, storagePath, have)
		if err != nil {
			return 0, nil, err
		}
		if commitTS > target {
			break
		}
		resolved = have
	}
	if resolved < 0 {
		return 0, nil, domain.ErrNotFound("no table version at or before %s", ts.Format(time.RFC3339))
	}
	return resolved, versions, nil
}

// commitTimestamp reads the commitInfo timestamp of one commit.
func (r *Reader) commitTimestamp(ctx context.Context, storagePath string, version int64) (int64, error) {
	acts, err := r.commitActions(ctx, storagePath, version)
	if err != nil {
		return 0, err
	}
	for _, a := range acts {
		if a.CommitInfo != nil && a.CommitInfo.Timestamp > 0 {
			return a.CommitInfo.Timestamp, nil
		}
	}
	// Commits without commitInfo sort as old as possible so they never
	// push a timestamp resolution forward.
	return 0, nil
}

func (r *Reader) commitActions(ctx context.Context, storagePath string, version int64) ([]action, error) {
	raw, err := r.store.Get(ctx, commitPath(storagePath, version))
	if err != nil {
		return nil, fmt.Errorf("read commit %d of %s: %w", version, storagePath, err)
	}
	var acts []action
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var a action
		if err := json.Unmarshal(line, &a); err != nil {
			return nil, fmt.Errorf("parse commit %d of %s: %w", version, storagePath, err)
		}
		acts = append(acts, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read commit %d of %s: %w", version, storagePath, err)
	}
	return acts, nil
}

// loadSnapshot replays commits up to and including version.
func (r *Reader) loadSnapshot(ctx context.Context, storagePath string, version int64, versions []int64, withFiles bool) (domain.TableSnapshot, error) {
	snap := domain.TableSnapshot{Version: version}
	live := map[string]domain.TableFile{}

	for _, v := range versions {
		if v > version {
			break
		}
		acts, err := r.commitActions(ctx, storagePath, v)
		if err != nil {
			return domain.TableSnapshot{}, err
		}
		for _, a := range acts {
			switch {
			case a.Protocol != nil:
				snap.Protocol = domain.TableProtocol{MinReaderVersion: a.Protocol.MinReaderVersion}
			case a.MetaData != nil:
				snap.Metadata = a.MetaData.toDomain()
			case a.Add != nil && withFiles:
				live[a.Add.Path] = domain.TableFile{
					Path:            a.Add.Path,
					PartitionValues: a.Add.PartitionValues,
					Size:            a.Add.Size,
					Stats:           a.Add.Stats,
				}
			case a.Remove != nil && withFiles:
				delete(live, a.Remove.Path)
			}
		}
	}

	if snap.Metadata.ID == "" {
		return domain.TableSnapshot{}, fmt.Errorf("transaction log at %s has no metadata action", storagePath)
	}
	if snap.Protocol.MinReaderVersion == 0 {
		snap.Protocol.MinReaderVersion = 1
	}

	if withFiles {
		snap.Files = make([]domain.TableFile, 0, len(live))
		for _, f := range live {
			snap.Files = append(snap.Files, f)
		}
		sort.Slice(snap.Files, func(i, j int) bool { return snap.Files[i].Path < snap.Files[j].Path })
	}
	return snap, nil
}

// TableVersion implements domain.TableReader.
func (r *Reader) TableVersion(ctx context.Context, storagePath string, v domain.Version) (int64, error) {
	resolved, _, err := r.resolveVersion(ctx, storagePath, v)
	return resolved, err
}

// TableMetadata implements domain.TableReader.
func (r *Reader) TableMetadata(ctx context.Context, storagePath string, v domain.Version) (domain.TableSnapshot, error) {
	resolved, versions, err := r.resolveVersion(ctx, storagePath, v)
	if err != nil {
		return domain.TableSnapshot{}, err
	}
	return r.loadSnapshot(ctx, storagePath, resolved, versions, false)
}

// TableFiles implements domain.TableReader.
func (r *Reader) TableFiles(ctx context.Context, storagePath string, v domain.Version) (domain.TableSnapshot, error) {
	resolved, versions, err := r.resolveVersion(ctx, storagePath, v)
	if err != nil {
		return domain.TableSnapshot{}, err
	}
	return r.loadSnapshot(ctx, storagePath, resolved, versions, true)
}
