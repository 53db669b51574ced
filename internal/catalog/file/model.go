package file

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"lakeshare/internal/domain"
)

// shareFile is the root of the declarative catalog document.
type shareFile struct {
	Shares []shareConfig `yaml:"shares"`
}

// shareConfig declares one share. A nil Recipients list means the share is
// public; an empty list means nobody sees it.
type shareConfig struct {
	Name       string         `yaml:"name"`
	ID         string         `yaml:"id"`
	Recipients []string       `yaml:"recipients"`
	Schemas    []schemaConfig `yaml:"schemas"`
}

// schemaConfig declares one schema. Recipients extend the share-level
// grant; they never narrow it.
type schemaConfig struct {
	Name       string        `yaml:"name"`
	Recipients []string      `yaml:"recipients"`
	Tables     []tableConfig `yaml:"tables"`
}

// tableConfig declares one table. Location is the table root in object
// storage. ID is optional; a stable one should be set whenever page tokens
// need to survive reloads.
type tableConfig struct {
	Name       string   `yaml:"name"`
	Location   string   `yaml:"location"`
	ID         string   `yaml:"id"`
	Recipients []string `yaml:"recipients"`
}

// snapshot is an immutable, validated, pre-sorted view of one parsed
// document. Listings paginate by offset into these slices, so tokens carry
// the fingerprint to detect that a reload invalidated their positions.
type snapshot struct {
	fingerprint string
	shares      []shareEntry
}

type shareEntry struct {
	share      domain.Share
	recipients grantList
	schemas    []schemaEntry
}

type schemaEntry struct {
	schema     domain.Schema
	recipients grantList
	tables     []tableEntry
}

type tableEntry struct {
	table      domain.Table
	recipients grantList
}

// grantList is an optional recipient allow-list. nil means "no grant at
// this level" which, at share level, means public.
type grantList []string

func (g grantList) isSet() bool { return g != nil }

func (g grantList) contains(r domain.RecipientID) bool {
	name := r.String()
	for _, want := range g {
		if want == name {
			return true
		}
	}
	return false
}

// parseSnapshot validates and indexes a raw document. Names are required
// and must be unique among siblings; missing IDs get generated ones.
func parseSnapshot(raw []byte) (*snapshot, error) {
	var doc shareFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse share file: %w", err)
	}

	sum := sha256.Sum256(raw)
	snap := &snapshot{fingerprint: hex.EncodeToString(sum[:8])}

	seenShares := map[string]bool{}
	for _, sc := range doc.Shares {
		if sc.Name == "" {
			return nil, fmt.Errorf("share with empty name")
		}
		if seenShares[sc.Name] {
			return nil, fmt.Errorf("duplicate share %q", sc.Name)
		}
		seenShares[sc.Name] = true

		entry := shareEntry{
			share:      domain.Share{ID: orGenerated(sc.ID), Name: sc.Name},
			recipients: sc.Recipients,
		}

		seenSchemas := map[string]bool{}
		for _, scm := range sc.Schemas {
			if scm.Name == "" {
				return nil, fmt.Errorf("share %q: schema with empty name", sc.Name)
			}
			if seenSchemas[scm.Name] {
				return nil, fmt.Errorf("share %q: duplicate schema %q", sc.Name, scm.Name)
			}
			seenSchemas[scm.Name] = true

			sentry := schemaEntry{
				schema:     domain.Schema{Name: scm.Name, Share: sc.Name},
				recipients: scm.Recipients,
			}

			seenTables := map[string]bool{}
			for _, tc := range scm.Tables {
				if tc.Name == "" {
					return nil, fmt.Errorf("share %q schema %q: table with empty name", sc.Name, scm.Name)
				}
				if tc.Location == "" {
					return nil, fmt.Errorf("table %s.%s.%s: missing location", sc.Name, scm.Name, tc.Name)
				}
				if seenTables[tc.Name] {
					return nil, fmt.Errorf("share %q schema %q: duplicate table %q", sc.Name, scm.Name, tc.Name)
				}
				seenTables[tc.Name] = true

				sentry.tables = append(sentry.tables, tableEntry{
					table: domain.Table{
						ID:          orGenerated(tc.ID),
						Name:        tc.Name,
						Schema:      scm.Name,
						Share:       sc.Name,
						ShareID:     entry.share.ID,
						StoragePath: tc.Location,
					},
					recipients: tc.Recipients,
				})
			}
			sortTables(sentry.tables)
			entry.schemas = append(entry.schemas, sentry)
		}
		sortSchemas(entry.schemas)
		snap.shares = append(snap.shares, entry)
	}
	sortShares(snap.shares)
	return snap, nil
}

func orGenerated(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func sortShares(s []shareEntry) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].share.Name != s[j].share.Name {
			return s[i].share.Name < s[j].share.Name
		}
		return s[i].share.ID < s[j].share.ID
	})
}

func sortSchemas(s []schemaEntry) {
	sort.Slice(s, func(i, j int) bool { return s[i].schema.Name < s[j].schema.Name })
}

func sortTables(s []tableEntry) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].table.Name != s[j].table.Name {
			return s[i].table.Name < s[j].table.Name
		}
		return s[i].table.ID < s[j].table.ID
	})
}

// Visibility. Grants are additive: a grant anywhere below a securable makes
// it listable (navigability), a grant anywhere above makes it readable
// (inheritance). A share with no recipients list at all is public, along
// with everything under it.

func (s *shareEntry) public() bool { return !s.recipients.isSet() }

// shareVisible reports whether the share itself or anything beneath it is
// granted to the recipient.
func (s *shareEntry) shareVisible(r domain.RecipientID) bool {
	if s.public() || s.recipients.contains(r) {
		return true
	}
	for i := range s.schemas {
		if s.schemas[i].recipients.contains(r) {
			return true
		}
		for j := range s.schemas[i].tables {
			if s.schemas[i].tables[j].recipients.contains(r) {
				return true
			}
		}
	}
	return false
}

func (s *shareEntry) schemaVisible(scm *schemaEntry, r domain.RecipientID) bool {
	if s.public() || s.recipients.contains(r) || scm.recipients.contains(r) {
		return true
	}
	for i := range scm.tables {
		if scm.tables[i].recipients.contains(r) {
			return true
		}
	}
	return false
}

func (s *shareEntry) tableVisible(scm *schemaEntry, tbl *tableEntry, r domain.RecipientID) bool {
	return s.public() || s.recipients.contains(r) ||
		scm.recipients.contains(r) || tbl.recipients.contains(r)
}
