package domain

import (
	"context"
	"fmt"
	"time"
)

type versionKind int

const (
	latestVersion versionKind = iota
	numberedVersion
	timestampVersion
)

// Version selects which snapshot of a table a read resolves against:
// the latest commit, an exact version number, or the last commit at or
// before a timestamp.
type Version struct {
	kind      versionKind
	number    int64
	timestamp time.Time
}

// LatestVersion selects the most recent snapshot.
func LatestVersion() Version { return Version{kind: latestVersion} }

// VersionNumber selects an exact snapshot version.
func VersionNumber(n int64) Version {
	return Version{kind: numberedVersion, number: n}
}

// VersionAsOf selects the last snapshot committed at or before t.
func VersionAsOf(t time.Time) Version {
	return Version{kind: timestampVersion, timestamp: t}
}

// IsLatest reports whether this selects the most recent snapshot.
func (v Version) IsLatest() bool { return v.kind == latestVersion }

// Number returns the exact version number, if one was selected.
func (v Version) Number() (int64, bool) {
	return v.number, v.kind == numberedVersion
}

// Timestamp returns the as-of timestamp, if one was selected.
func (v Version) Timestamp() (time.Time, bool) {
	return v.timestamp, v.kind == timestampVersion
}

func (v Version) String() string {
	switch v.kind {
	case numberedVersion:
		return fmt.Sprintf("version %d", v.number)
	case timestampVersion:
		return fmt.Sprintf("as of %s", v.timestamp.Format(time.RFC3339))
	default:
		return "latest"
	}
}

// TableProtocol is the reader-compatibility contract of a snapshot.
type TableProtocol struct {
	MinReaderVersion int
}

// TableMetadata describes the shape of a table at one snapshot.
type TableMetadata struct {
	ID               string
	Name             string
	Description      string
	Format           string
	SchemaString     string
	PartitionColumns []string
	Configuration    map[string]string
	CreatedTime      int64 // epoch millis, 0 if unknown
}

// TableFile is one data file of a snapshot. Path is relative to the table's
// storage root until a signer turns it into a fetchable URL.
type TableFile struct {
	Path            string
	PartitionValues map[string]string
	Size            int64
	Stats           string
}

// TableSnapshot is a table resolved at a single version. Version, Protocol
// and Metadata are always set; Files is populated only by TableFiles.
type TableSnapshot struct {
	Version  int64
	Protocol TableProtocol
	Metadata TableMetadata
	Files    []TableFile
}

// TableReader resolves table snapshots from their transaction logs. A
// single call observes a single consistent snapshot; two calls may not.
type TableReader interface {
	// TableVersion resolves the version a selector refers to.
	TableVersion(ctx context.Context, storagePath string, v Version) (int64, error)

	// TableMetadata resolves protocol and metadata at a version.
	TableMetadata(ctx context.Context, storagePath string, v Version) (TableSnapshot, error)

	// TableFiles resolves protocol, metadata, and the full data-file set
	// at a version.
	TableFiles(ctx context.Context, storagePath string, v Version) (TableSnapshot, error)
}
