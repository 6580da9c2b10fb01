package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relayd-dev/relayd/internal/adapter/echo"
	"github.com/relayd-dev/relayd/internal/adapter/sqlite"
	"github.com/relayd-dev/relayd/internal/config"
	"github.com/relayd-dev/relayd/internal/domain"
	"github.com/relayd-dev/relayd/internal/domain/envelope"
	"github.com/relayd-dev/relayd/internal/domain/session"
	"github.com/relayd-dev/relayd/internal/domain/turn"
	"github.com/relayd-dev/relayd/internal/logger"
	"github.com/relayd-dev/relayd/internal/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "relayd.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := sqlite.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	store := sqlite.NewStore(db)
	t.Cleanup(func() { store.Close() })

	cfg := config.Defaults()
	mgr := service.NewManager(store, echo.New(0), nil, nil, &cfg, logger.New(cfg.Logging))

	r := chi.NewRouter()
	MountRoutes(r, NewHandlers(mgr, cfg.Session), func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func createSessionHTTP(t *testing.T, base string) session.Session {
	t.Helper()
	var sess session.Session
	resp := doJSON(t, http.MethodPost, base+"/api/v1/sessions", session.CreateRequest{Model: "test-model"}, &sess)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d", resp.StatusCode)
	}
	return sess
}

func TestSessionCRUD(t *testing.T) {
	srv := newTestServer(t)
	sess := createSessionHTTP(t, srv.URL)

	var got session.Session
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+sess.ID, nil, &got)
	if resp.StatusCode != http.StatusOK || got.ID != sess.ID {
		t.Errorf("get: status %d id %q", resp.StatusCode, got.ID)
	}

	var list []session.Session
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions", nil, &list)
	if resp.StatusCode != http.StatusOK || len(list) != 1 {
		t.Errorf("list: status %d len %d", resp.StatusCode, len(list))
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/sessions/"+sess.ID, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+sess.ID, nil, &got)
	if resp.StatusCode != http.StatusOK || got.State != session.StateClosed {
		t.Errorf("after delete: status %d state %q", resp.StatusCode, got.State)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", session.CreateRequest{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/nope", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSubmitTurnAndReadEvents(t *testing.T) {
	srv := newTestServer(t)
	sess := createSessionHTTP(t, srv.URL)

	var tn turn.Turn
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+sess.ID+"/turns",
		envelope.SubmitTurnRequest{WriterID: "cli", Content: "hello there"}, &tn)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	if tn.State != turn.StateActive {
		t.Errorf("turn state = %q, want active", tn.State)
	}

	// Poll the paged endpoint until the turn's terminal envelope lands.
	deadline := time.Now().Add(5 * time.Second)
	for {
		var page struct {
			Events  []envelope.Envelope `json:"events"`
			HasMore bool                `json:"hasMore"`
		}
		resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+sess.ID+"/events?afterSeq=0", nil, &page)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("events status = %d", resp.StatusCode)
		}
		done := false
		for i, env := range page.Events {
			if env.Seq != uint64(i+1) {
				t.Fatalf("events[%d].Seq = %d, want %d", i, env.Seq, i+1)
			}
			if env.Event == envelope.TypeTurnCompleted {
				done = true
			}
		}
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("turn never completed; events = %+v", page.Events)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSubmitTurnValidation(t *testing.T) {
	srv := newTestServer(t)
	sess := createSessionHTTP(t, srv.URL)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+sess.ID+"/turns",
		envelope.SubmitTurnRequest{Content: "no writer"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSubmitTurnToClosedSessionConflicts(t *testing.T) {
	srv := newTestServer(t)
	sess := createSessionHTTP(t, srv.URL)
	doJSON(t, http.MethodDelete, srv.URL+"/api/v1/sessions/"+sess.ID, nil, nil)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+sess.ID+"/turns",
		envelope.SubmitTurnRequest{WriterID: "cli", Content: "hi"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestPermissionResolveConflictNamesWinner(t *testing.T) {
	srv := newTestServer(t)
	sess := createSessionHTTP(t, srv.URL)

	doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+sess.ID+"/turns",
		envelope.SubmitTurnRequest{WriterID: "cli", Content: "do the thing", Mode: "do"}, nil)

	// Wait for the permission_request envelope.
	var requestID string
	deadline := time.Now().Add(5 * time.Second)
	for requestID == "" {
		var page struct {
			Events []envelope.Envelope `json:"events"`
		}
		doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+sess.ID+"/events?afterSeq=0", nil, &page)
		for _, env := range page.Events {
			if env.Event == envelope.TypePermissionRequest {
				var pl envelope.PermissionRequested
				if err := env.Decode(&pl); err != nil {
					t.Fatalf("decode: %v", err)
				}
				requestID = pl.RequestID
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("no permission_request observed")
		}
		if requestID == "" {
			time.Sleep(20 * time.Millisecond)
		}
	}

	url := srv.URL + "/api/v1/sessions/" + sess.ID + "/permissions/" + requestID
	resp := doJSON(t, http.MethodPost, url, envelope.PermissionDecisionRequest{Decision: "allowed", DecidedBy: "alice"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first resolve status = %d", resp.StatusCode)
	}

	var conflict struct {
		Error    string `json:"error"`
		Winner   string `json:"winner"`
		Decision string `json:"decision"`
	}
	resp = doJSON(t, http.MethodPost, url, envelope.PermissionDecisionRequest{Decision: "denied", DecidedBy: "bob"}, &conflict)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second resolve status = %d, want 409", resp.StatusCode)
	}
	if conflict.Winner != "alice" || conflict.Decision != "allowed" {
		t.Errorf("conflict body = %+v", conflict)
	}
}

func TestSSEStreamDeliversEnvelopes(t *testing.T) {
	srv := newTestServer(t)
	sess := createSessionHTTP(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/sessions/"+sess.ID+"/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+sess.ID+"/turns",
		envelope.SubmitTurnRequest{WriterID: "cli", Content: "stream me"}, nil)

	scanner := bufio.NewScanner(resp.Body)
	var sawStarted, sawCompleted bool
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "event: ") {
			continue
		}
		switch envelope.Type(strings.TrimPrefix(line, "event: ")) {
		case envelope.TypeTurnStarted:
			sawStarted = true
		case envelope.TypeTurnCompleted:
			sawCompleted = true
		}
		if sawCompleted {
			break
		}
	}
	if !sawStarted || !sawCompleted {
		t.Errorf("sawStarted=%v sawCompleted=%v", sawStarted, sawCompleted)
	}
}

func TestEventsRejectsBadCursor(t *testing.T) {
	srv := newTestServer(t)
	sess := createSessionHTTP(t, srv.URL)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+sess.ID+"/events?afterSeq=banana", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSnapshotEndpointServesProjection(t *testing.T) {
	srv := newTestServer(t)
	sess := createSessionHTTP(t, srv.URL)

	var tn turn.Turn
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+sess.ID+"/turns",
		envelope.SubmitTurnRequest{WriterID: "cli", Content: "snapshot me"}, &tn)

	deadline := time.Now().Add(5 * time.Second)
	for {
		var proj session.Projection
		resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+sess.ID+"/snapshot", nil, &proj)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("snapshot status = %d", resp.StatusCode)
		}
		if proj.ActiveTurnID == "" && len(proj.Transcript) == 2 {
			if proj.Transcript[0].Content != "snapshot me" {
				t.Errorf("transcript = %+v", proj.Transcript)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("projection never settled: %+v", proj)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWriteDomainErrorMapping(t *testing.T) {
	// Exercised indirectly above; this covers the 410 path directly.
	rec := httptest.NewRecorder()
	writeDomainError(rec, fmt.Errorf("cursor too old: %w", domain.ErrReplayTooOld), "not found")
	if rec.Code != http.StatusGone {
		t.Errorf("status = %d, want 410", rec.Code)
	}
}
