// Package sharing is the service layer between the HTTP handlers and the
// ports: catalog lookups, snapshot resolution, file capping, and URL
// signing happen here, in that order.
package sharing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lakeshare/internal/domain"
	"lakeshare/internal/signer"
)

// Service executes sharing operations for one recipient at a time.
type Service struct {
	catalog   domain.Catalog
	reader    domain.TableReader
	signers   *signer.Registry
	urlExpiry time.Duration
	maxFiles  int
	logger    *slog.Logger
}

// New wires the service. maxFiles is the hard cap on file actions per
// response; urlExpiry is how long signed URLs stay valid.
func New(catalog domain.Catalog, reader domain.TableReader, signers *signer.Registry, urlExpiry time.Duration, maxFiles int, logger *slog.Logger) *Service {
	return &Service{
		catalog:   catalog,
		reader:    reader,
		signers:   signers,
		urlExpiry: urlExpiry,
		maxFiles:  maxFiles,
		logger:    logger.With("component", "sharing"),
	}
}

// Catalog exposes the underlying catalog for listing endpoints.
func (s *Service) Catalog() domain.Catalog { return s.catalog }

// QueryRequest carries the parsed body of a table query. Predicate hints
// are accepted for protocol compatibility and intentionally not evaluated;
// LimitHint trims the response below the hard cap when set.
type QueryRequest struct {
	PredicateHints     []string
	JSONPredicateHints json.RawMessage
	LimitHint          int
	Version            *int64
	Timestamp          string
}

// selector converts the request's version fields into a snapshot selector.
func (q QueryRequest) selector() (domain.Version, error) {
	if q.Version != nil && q.Timestamp != "" {
		return domain.Version{}, domain.ErrValidation("version and timestamp are mutually exclusive")
	}
	if q.Version != nil {
		if *q.Version < 0 {
			return domain.Version{}, domain.ErrValidation("version must not be negative")
		}
		return domain.VersionNumber(*q.Version), nil
	}
	if q.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, q.Timestamp)
		if err != nil {
			return domain.Version{}, domain.ErrValidation("malformed timestamp %q", q.Timestamp)
		}
		return domain.VersionAsOf(ts), nil
	}
	return domain.LatestVersion(), nil
}

// MetadataResult is a resolved snapshot without its file set.
type MetadataResult struct {
	Version  int64
	Protocol domain.TableProtocol
	Metadata domain.TableMetadata
}

// SignedFile is one data file with a fetchable URL.
type SignedFile struct {
	ID                  string
	URL                 string
	PartitionValues     map[string]string
	Size                int64
	Stats               string
	ExpirationTimestamp int64
}

// QueryResult is a resolved snapshot plus its signed file set. Truncated is
// set only when the hard cap cut the list, not when a limit hint did.
type QueryResult struct {
	MetadataResult
	Files     []SignedFile
	Truncated bool
}

// TableVersion resolves the version of a shared table. An empty
// startingTimestamp resolves the latest version.
func (s *Service) TableVersion(ctx context.Context, recipient domain.RecipientID, share, schema, table, startingTimestamp string) (int64, error) {
	sel := domain.LatestVersion()
	if startingTimestamp != "" {
		ts, err := time.Parse(time.RFC3339, startingTimestamp)
		if err != nil {
			return 0, domain.ErrValidation("malformed startingTimestamp %q", startingTimestamp)
		}
		sel = domain.VersionAsOf(ts)
	}

	tbl, err := s.catalog.GetTable(ctx, recipient, share, schema, table)
	if err != nil {
		return 0, err
	}
	return s.reader.TableVersion(ctx, tbl.StoragePath, sel)
}

// TableMetadata resolves protocol and metadata of a shared table.
func (s *Service) TableMetadata(ctx context.Context, recipient domain.RecipientID, share, schema, table string, req QueryRequest) (MetadataResult, error) {
	sel, err := req.selector()
	if err != nil {
		return MetadataResult{}, err
	}
	tbl, err := s.catalog.GetTable(ctx, recipient, share, schema, table)
	if err != nil {
		return MetadataResult{}, err
	}
	snap, err := s.reader.TableMetadata(ctx, tbl.StoragePath, sel)
	if err != nil {
		return MetadataResult{}, err
	}
	if err := checkReadable(snap); err != nil {
		return MetadataResult{}, err
	}
	return MetadataResult{Version: snap.Version, Protocol: snap.Protocol, Metadata: snap.Metadata}, nil
}

// QueryTable resolves a snapshot and signs its data files.
func (s *Service) QueryTable(ctx context.Context, recipient domain.RecipientID, share, schema, table string, req QueryRequest) (QueryResult, error) {
	sel, err := req.selector()
	if err != nil {
		return QueryResult{}, err
	}
	if req.LimitHint < 0 {
		return QueryResult{}, domain.ErrValidation("limitHint must not be negative")
	}

	tbl, err := s.catalog.GetTable(ctx, recipient, share, schema, table)
	if err != nil {
		return QueryResult{}, err
	}
	snap, err := s.reader.TableFiles(ctx, tbl.StoragePath, sel)
	if err != nil {
		return QueryResult{}, err
	}
	if err := checkReadable(snap); err != nil {
		return QueryResult{}, err
	}

	files := snap.Files
	truncated := false
	if len(files) > s.maxFiles {
		files = files[:s.maxFiles]
		truncated = true
		s.logger.Warn("file list truncated",
			"table", share+"."+schema+"."+table,
			"total", len(snap.Files),
			"cap", s.maxFiles)
	}
	if req.LimitHint > 0 && req.LimitHint < len(files) {
		files = files[:req.LimitHint]
	}

	expiresAt := time.Now().Add(s.urlExpiry).UnixMilli()
	out := QueryResult{
		MetadataResult: MetadataResult{Version: snap.Version, Protocol: snap.Protocol, Metadata: snap.Metadata},
		Truncated:      truncated,
	}
	for _, f := range files {
		objectPath := resolveFilePath(tbl.StoragePath, f.Path)
		url, err := s.signers.SignGetURL(ctx, objectPath, s.urlExpiry)
		if err != nil {
			return QueryResult{}, fmt.Errorf("sign %q: %w", objectPath, err)
		}
		out.Files = append(out.Files, SignedFile{
			ID:                  fileID(objectPath),
			URL:                 url,
			PartitionValues:     f.PartitionValues,
			Size:                f.Size,
			Stats:               f.Stats,
			ExpirationTimestamp: expiresAt,
		})
	}
	return out, nil
}

// checkReadable guards the parquet response format: tables that need newer
// reader features cannot be represented in it.
func checkReadable(snap domain.TableSnapshot) error {
	if snap.Protocol.MinReaderVersion > 1 {
		return domain.ErrValidation(
			"table requires delta reader version %d, which this response format cannot represent",
			snap.Protocol.MinReaderVersion)
	}
	return nil
}

// resolveFilePath joins a log-relative file path onto the table root.
// Absolute URIs (shallow-cloned or imported tables) pass through.
func resolveFilePath(storagePath, filePath string) string {
	if strings.Contains(filePath, "://") {
		return filePath
	}
	return strings.TrimSuffix(storagePath, "/") + "/" + filePath
}

// fileID derives the stable identifier recipients use to de-duplicate
// files across pages and refreshes.
func fileID(objectPath string) string {
	sum := sha256.Sum256([]byte(objectPath))
	return hex.EncodeToString(sum[:16])
}
