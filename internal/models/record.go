// Package models provides data model definitions for the fieldsync core.
package models

// Record is a schemaless domain entity belonging to exactly one collection.
// Field names and types are not statically known to the sync core; foreign
// keys are discovered dynamically by scanning string values for the
// temporary-identifier prefix.
type Record map[string]any

// ID returns the record identifier, or "" when absent or not a string.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Domain collections.
const (
	CollectionCustomers        = "customers"
	CollectionContacts         = "contacts"
	CollectionJobs             = "jobs"
	CollectionLightingAudits   = "lightingAudits"
	CollectionMechanicalAudits = "mechanicalAudits"
	CollectionAuditPhotos      = "auditPhotos"
)

// System collections.
const (
	CollectionMutationQueue = "mutationQueue"
	CollectionTempIDMap     = "tempIdMap"
	CollectionPhotoQueue    = "photoQueue"
	CollectionMeta          = "meta"
)

// Collections returns the full fixed set of collection names the store
// declares up front. Schema upgrades append to this list; existing
// collections are never touched.
func Collections() []string {
	return []string{
		CollectionCustomers,
		CollectionContacts,
		CollectionJobs,
		CollectionLightingAudits,
		CollectionMechanicalAudits,
		CollectionAuditPhotos,
		CollectionMutationQueue,
		CollectionTempIDMap,
		CollectionPhotoQueue,
		CollectionMeta,
	}
}

// remoteTableNames maps internal collection names to the remote backend's
// table names. Collections without an entry use their internal name
// unchanged.
var remoteTableNames = map[string]string{
	CollectionLightingAudits:   "lighting_audits",
	CollectionMechanicalAudits: "mechanical_audits",
	CollectionAuditPhotos:      "audit_photos",
}

// RemoteTableName returns the remote table name for a collection.
func RemoteTableName(collection string) string {
	if name, ok := remoteTableNames[collection]; ok {
		return name
	}
	return collection
}

// ClientOnlyFields lists bookkeeping fields that must never be transmitted
// to the remote backend.
var ClientOnlyFields = []string{"_tempId", "_pending", "_localOnly"}

// ImmutableUpdateFields lists server-owned fields stripped from update
// payloads before transmission.
var ImmutableUpdateFields = []string{"created_at"}

// TempIDMapping associates a client-generated temporary identifier with the
// server-assigned identifier. Created once, on successful insert; never
// mutated afterwards.
type TempIDMapping struct {
	ID     string `json:"id"`
	RealID string `json:"realId"`
}
