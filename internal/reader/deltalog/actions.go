package deltalog

import "lakeshare/internal/domain"

// action is one line of a commit file. Exactly one field is set per line.
type action struct {
	Protocol   *protocolAction   `json:"protocol,omitempty"`
	MetaData   *metadataAction   `json:"metaData,omitempty"`
	Add        *addAction        `json:"add,omitempty"`
	Remove     *removeAction     `json:"remove,omitempty"`
	CommitInfo *commitInfoAction `json:"commitInfo,omitempty"`
}

type protocolAction struct {
	MinReaderVersion int `json:"minReaderVersion"`
	MinWriterVersion int `json:"minWriterVersion"`
}

type metadataAction struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	Format           formatSpec        `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration"`
	CreatedTime      int64             `json:"createdTime"`
}

type formatSpec struct {
	Provider string            `json:"provider"`
	Options  map[string]string `json:"options,omitempty"`
}

type addAction struct {
	Path            string            `json:"path"`
	PartitionValues map[string]string `json:"partitionValues"`
	Size            int64             `json:"size"`
	ModificationTime int64            `json:"modificationTime"`
	DataChange      bool              `json:"dataChange"`
	Stats           string            `json:"stats"`
}

type removeAction struct {
	Path       string `json:"path"`
	DataChange bool   `json:"dataChange"`
}

type commitInfoAction struct {
	Timestamp int64 `json:"timestamp"`
}

func (m *metadataAction) toDomain() domain.TableMetadata {
	format := m.Format.Provider
	if format == "" {
		format = "parquet"
	}
	return domain.TableMetadata{
		ID:               m.ID,
		Name:             m.Name,
		Description:      m.Description,
		Format:           format,
		SchemaString:     m.SchemaString,
		PartitionColumns: m.PartitionColumns,
		Configuration:    m.Configuration,
		CreatedTime:      m.CreatedTime,
	}
}
