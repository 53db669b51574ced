package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"lakeshare/internal/domain"
	"lakeshare/internal/sharing"
)

// tableVersionHeader carries the resolved snapshot version on version,
// metadata, and query responses.
const tableVersionHeader = "Delta-Table-Version"

const ndjsonContentType = "application/x-ndjson; charset=utf-8"

// Listing bodies.

type listResponse[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

type shareResponse struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

type getShareResponse struct {
	Share shareResponse `json:"share"`
}

type schemaResponse struct {
	Name  string `json:"name"`
	Share string `json:"share"`
}

type tableResponse struct {
	Name    string `json:"name"`
	Schema  string `json:"schema"`
	Share   string `json:"share"`
	ID      string `json:"id,omitempty"`
	ShareID string `json:"shareId,omitempty"`
}

func toShareResponse(s domain.Share) shareResponse {
	return shareResponse{Name: s.Name, ID: s.ID}
}

func toSchemaResponse(s domain.Schema) schemaResponse {
	return schemaResponse{Name: s.Name, Share: s.Share}
}

func toTableResponse(t domain.Table) tableResponse {
	return tableResponse{Name: t.Name, Schema: t.Schema, Share: t.Share, ID: t.ID, ShareID: t.ShareID}
}

func mapItems[T, R any](items []T, fn func(T) R) []R {
	out := make([]R, len(items))
	for i, item := range items {
		out[i] = fn(item)
	}
	return out
}

// NDJSON action lines. One JSON document per line: protocol first, then
// metaData, then one line per file.

type protocolEnvelope struct {
	Protocol protocolResponse `json:"protocol"`
}

type protocolResponse struct {
	MinReaderVersion int `json:"minReaderVersion"`
}

type metadataEnvelope struct {
	MetaData metadataResponse `json:"metaData"`
}

type metadataResponse struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Format           formatResponse    `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration,omitempty"`
	Version          int64             `json:"version,omitempty"`
	CreatedTime      int64             `json:"createdTime,omitempty"`
}

type formatResponse struct {
	Provider string `json:"provider"`
}

type fileEnvelope struct {
	File fileResponse `json:"file"`
}

type fileResponse struct {
	URL                 string            `json:"url"`
	ID                  string            `json:"id"`
	PartitionValues     map[string]string `json:"partitionValues"`
	Size                int64             `json:"size"`
	Stats               string            `json:"stats,omitempty"`
	ExpirationTimestamp int64             `json:"expirationTimestamp,omitempty"`
}

func toProtocolLine(p domain.TableProtocol) protocolEnvelope {
	return protocolEnvelope{Protocol: protocolResponse{MinReaderVersion: p.MinReaderVersion}}
}

func toMetadataLine(res sharing.MetadataResult) metadataEnvelope {
	m := res.Metadata
	partitions := m.PartitionColumns
	if partitions == nil {
		partitions = []string{}
	}
	return metadataEnvelope{MetaData: metadataResponse{
		ID:               m.ID,
		Name:             m.Name,
		Description:      m.Description,
		Format:           formatResponse{Provider: m.Format},
		SchemaString:     m.SchemaString,
		PartitionColumns: partitions,
		Configuration:    m.Configuration,
		Version:          res.Version,
		CreatedTime:      m.CreatedTime,
	}}
}

func toFileLine(f sharing.SignedFile) fileEnvelope {
	partitions := f.PartitionValues
	if partitions == nil {
		partitions = map[string]string{}
	}
	return fileEnvelope{File: fileResponse{
		URL:                 f.URL,
		ID:                  f.ID,
		PartitionValues:     partitions,
		Size:                f.Size,
		Stats:               f.Stats,
		ExpirationTimestamp: f.ExpirationTimestamp,
	}}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeNDJSON streams action lines with the snapshot version header.
func writeNDJSON(w http.ResponseWriter, version int64, lines ...any) {
	w.Header().Set("Content-Type", ndjsonContentType)
	w.Header().Set(tableVersionHeader, strconv.FormatInt(version, 10))
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for _, line := range lines {
		if err := enc.Encode(line); err != nil {
			return
		}
	}
}
