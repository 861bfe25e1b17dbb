// Package forms covers records of a form structure and their attached
// documents: remote operations, cache-aware requests, and cache keys.
package forms

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Collection is the cache collection holding forms, records and documents.
const Collection = "forms"

// Cache key prefixes.
const (
	recordPrefix    = "recordId-"
	draftPrefix     = "draft-"
	structurePrefix = "structureId-"
	documentPrefix  = "document-"
)

// Attribute names on cached entries.
const (
	AttrRecord       = "record"
	AttrUserID       = "userId"
	AttrFilePrefix   = "filePrefix"
	AttrFolderID     = "folderId"
	AttrRepositoryID = "repositoryId"
	AttrGroupID      = "groupId"
	AttrName         = "name"
	AttrURL          = "url"
	AttrFileEntryID  = "fileEntryId"
)

// RecordKey is the key of a record with a durable id.
func RecordKey(recordID int64) string {
	return recordPrefix + strconv.FormatInt(recordID, 10)
}

// DraftKey returns a fresh placeholder key for a record without an id.
func DraftKey() string {
	return draftPrefix + uuid.NewString()
}

// StructureKey is the key of a cached form structure.
func StructureKey(structureID int64) string {
	return structurePrefix + strconv.FormatInt(structureID, 10)
}

// DocumentKey returns a fresh key for a document blob.
func DocumentKey() string {
	return documentPrefix + uuid.NewString()
}

// IsDraftKey reports whether key is a draft placeholder.
func IsDraftKey(key string) bool {
	return strings.HasPrefix(key, draftPrefix)
}

// IsDocumentKey reports whether key holds a document blob.
func IsDocumentKey(key string) bool {
	return strings.HasPrefix(key, documentPrefix)
}

// KeyFor returns RecordKey for an identified record, otherwise a new draft key.
func KeyFor(recordID *int64) string {
	if recordID != nil && *recordID > 0 {
		return RecordKey(*recordID)
	}
	return DraftKey()
}
