package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/auditcore/fieldsync/internal/errors"
	"github.com/auditcore/fieldsync/internal/models"
)

// TestInsert verifies method, headers, body and array-response decoding.
func TestInsert(t *testing.T) {
	var gotReq *http.Request
	var gotBody models.Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id":"srv-1","name":"Acme","created_at":"2026-01-02"}]`))
	}))
	defer srv.Close()

	backend := NewREST(srv.URL, "secret-key")
	rec, err := backend.Insert(context.Background(), "customers", models.Record{"name": "Acme"})
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	if gotReq.Method != http.MethodPost || gotReq.URL.Path != "/customers" {
		t.Errorf("request = %s %s, want POST /customers", gotReq.Method, gotReq.URL.Path)
	}
	if gotReq.Header.Get("apikey") != "secret-key" {
		t.Error("apikey header missing")
	}
	if gotReq.Header.Get("Authorization") != "Bearer secret-key" {
		t.Error("Authorization header missing")
	}
	if gotReq.Header.Get("Prefer") != "return=representation" {
		t.Error("insert must request the server representation back")
	}
	if gotBody["name"] != "Acme" {
		t.Errorf("body = %v, want the record", gotBody)
	}
	if rec.ID() != "srv-1" {
		t.Errorf("id = %s, want srv-1", rec.ID())
	}
}

// TestInsertObjectResponse verifies a bare-object response also decodes.
func TestInsertObjectResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"srv-2"}`))
	}))
	defer srv.Close()

	rec, err := NewREST(srv.URL, "").Insert(context.Background(), "jobs", models.Record{"x": 1})
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if rec.ID() != "srv-2" {
		t.Errorf("id = %s, want srv-2", rec.ID())
	}
}

// TestUpdate verifies the PATCH with an id filter.
func TestUpdate(t *testing.T) {
	var gotReq *http.Request
	var gotBody models.Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewREST(srv.URL, "k").Update(context.Background(), "jobs", "job-1",
		models.Record{"status": "complete"})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	if gotReq.Method != http.MethodPatch || gotReq.URL.Path != "/jobs" {
		t.Errorf("request = %s %s, want PATCH /jobs", gotReq.Method, gotReq.URL.Path)
	}
	if gotReq.URL.RawQuery != "id=eq.job-1" {
		t.Errorf("filter = %s, want id=eq.job-1", gotReq.URL.RawQuery)
	}
	if gotBody["status"] != "complete" {
		t.Errorf("body = %v, want the patch", gotBody)
	}
}

// TestDelete verifies the DELETE with an id filter and empty body.
func TestDelete(t *testing.T) {
	var gotReq *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewREST(srv.URL, "k").Delete(context.Background(), "jobs", "job-1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if gotReq.Method != http.MethodDelete || gotReq.URL.RawQuery != "id=eq.job-1" {
		t.Errorf("request = %s ?%s, want DELETE id=eq.job-1", gotReq.Method, gotReq.URL.RawQuery)
	}
}

// TestRemoteRejection verifies non-2xx responses surface as coded errors
// carrying the body excerpt.
func TestRemoteRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"duplicate key"}`))
	}))
	defer srv.Close()

	_, err := NewREST(srv.URL, "k").Insert(context.Background(), "customers", models.Record{"x": 1})
	if err == nil {
		t.Fatal("Insert() against a rejecting server must fail")
	}
	if apperrors.CodeOf(err) != apperrors.ErrRemoteRejected {
		t.Errorf("code = %s, want %s", apperrors.CodeOf(err), apperrors.ErrRemoteRejected)
	}
	if !strings.Contains(err.Error(), "duplicate key") {
		t.Errorf("error = %q, want the body excerpt", err.Error())
	}
	if !strings.Contains(err.Error(), "409") {
		t.Errorf("error = %q, want the status code", err.Error())
	}
}

// TestContextCancellation verifies requests honor their context.
func TestContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewREST(srv.URL, "k").Insert(ctx, "jobs", models.Record{"x": 1}); err == nil {
		t.Error("cancelled insert must fail")
	}
}
