// Package models tests for data model definitions.
package models

import (
	"testing"
)

// TestRecordID verifies identifier extraction tolerates absent and
// non-string ids.
func TestRecordID(t *testing.T) {
	if got := (Record{"id": "abc"}).ID(); got != "abc" {
		t.Errorf("ID() = %q, want abc", got)
	}
	if got := (Record{}).ID(); got != "" {
		t.Errorf("ID() on empty record = %q, want empty", got)
	}
	if got := (Record{"id": 42}).ID(); got != "" {
		t.Errorf("ID() on numeric id = %q, want empty", got)
	}
	var nilRec Record
	if got := nilRec.ID(); got != "" {
		t.Errorf("ID() on nil record = %q, want empty", got)
	}
}

// TestRecordClone verifies the copy is independent of the original.
func TestRecordClone(t *testing.T) {
	orig := Record{"id": "a", "name": "x"}
	clone := orig.Clone()

	clone["name"] = "changed"
	if orig["name"] != "x" {
		t.Error("mutating the clone changed the original")
	}

	var nilRec Record
	if nilRec.Clone() != nil {
		t.Error("Clone() of nil record should be nil")
	}
}

// TestCollections verifies the declared set contains every domain and
// system collection exactly once.
func TestCollections(t *testing.T) {
	all := Collections()
	seen := make(map[string]bool)
	for _, name := range all {
		if seen[name] {
			t.Errorf("collection %s declared twice", name)
		}
		seen[name] = true
	}

	for _, want := range []string{
		CollectionCustomers, CollectionContacts, CollectionJobs,
		CollectionLightingAudits, CollectionMechanicalAudits, CollectionAuditPhotos,
		CollectionMutationQueue, CollectionTempIDMap, CollectionPhotoQueue, CollectionMeta,
	} {
		if !seen[want] {
			t.Errorf("collection %s missing from Collections()", want)
		}
	}
}

// TestRemoteTableName verifies the internal-to-remote name mapping.
func TestRemoteTableName(t *testing.T) {
	tests := []struct {
		collection string
		want       string
	}{
		{CollectionCustomers, "customers"},
		{CollectionLightingAudits, "lighting_audits"},
		{CollectionMechanicalAudits, "mechanical_audits"},
		{CollectionAuditPhotos, "audit_photos"},
		{"somethingElse", "somethingElse"},
	}
	for _, tt := range tests {
		if got := RemoteTableName(tt.collection); got != tt.want {
			t.Errorf("RemoteTableName(%s) = %s, want %s", tt.collection, got, tt.want)
		}
	}
}

// TestMutationEntryLifecycle verifies the stuck and eligible predicates
// around the retry limit.
func TestMutationEntryLifecycle(t *testing.T) {
	e := &MutationEntry{Status: MutationPending}
	if !e.Eligible() || e.Stuck() {
		t.Error("pending entries are eligible, not stuck")
	}

	e.Status = MutationSyncing
	if e.Eligible() {
		t.Error("syncing entries must not be re-attempted")
	}

	e.Status = MutationFailed
	e.Retries = RetryLimit - 1
	if !e.Eligible() || e.Stuck() {
		t.Error("failed entries below the limit stay eligible")
	}

	e.Retries = RetryLimit
	if e.Eligible() || !e.Stuck() {
		t.Error("failed entries at the limit are stuck, not eligible")
	}

	e.Status = MutationSynced
	if e.Eligible() || e.Stuck() {
		t.Error("synced entries are neither eligible nor stuck")
	}
}

// TestMutationEntryRecordRoundTrip verifies storage conversion keeps the
// fields the queue depends on.
func TestMutationEntryRecordRoundTrip(t *testing.T) {
	in := &MutationEntry{
		ID:            "e1",
		Table:         CollectionContacts,
		Operation:     OpInsert,
		Data:          Record{"id": "temp_x", "name": "c"},
		TempID:        "temp_x",
		ParentTempID:  "temp_p",
		ParentFkField: "customer_id",
		Status:        MutationFailed,
		Retries:       3,
		Error:         "boom",
		CreatedAt:     1700000000000,
		Seq:           7,
	}

	rec, err := in.ToRecord()
	if err != nil {
		t.Fatalf("ToRecord() failed: %v", err)
	}
	if rec.ID() != "e1" {
		t.Errorf("stored record id = %s, want e1", rec.ID())
	}

	out, err := MutationEntryFromRecord(rec)
	if err != nil {
		t.Fatalf("MutationEntryFromRecord() failed: %v", err)
	}
	if out.TempID != in.TempID || out.ParentTempID != in.ParentTempID || out.ParentFkField != in.ParentFkField {
		t.Error("parent linkage lost in round trip")
	}
	if out.Status != in.Status || out.Retries != in.Retries || out.Seq != in.Seq {
		t.Error("lifecycle state lost in round trip")
	}
	if out.Data["name"] != "c" {
		t.Error("payload lost in round trip")
	}
}

// TestPhotoEntryLifecycle verifies the photo predicates mirror the
// mutation queue's.
func TestPhotoEntryLifecycle(t *testing.T) {
	e := &PhotoEntry{Status: PhotoPending}
	if !e.Eligible() {
		t.Error("pending photo entries are eligible")
	}

	e.Status = PhotoFailed
	e.Retries = RetryLimit
	if e.Eligible() || !e.Stuck() {
		t.Error("exhausted photo entries are stuck")
	}

	e.Status = PhotoDone
	if e.Eligible() || e.Stuck() {
		t.Error("done photo entries are neither eligible nor stuck")
	}
}
