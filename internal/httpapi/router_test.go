package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/archive"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/catalog"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/httpapi/handlers"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/store/objstore"
	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/wire"
)

const testSecret = "test-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	objects, err := objstore.New(db)
	if err != nil {
		t.Fatalf("object store: %v", err)
	}
	catalogs := map[string]*catalog.Store{
		"avatars": catalog.New(objects, nil, "avatars"),
	}
	archiver := archive.New(objects, nil, archive.Options{Compress: true})
	h := handlers.NewHandler(catalogs, archiver, nil, nil, nil)
	return NewRouter(h, testSecret)
}

func adminToken(t *testing.T) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid":  "admin1",
		"name": "Admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, r http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope from %s %s: %v (body %s)", method, path, err, w.Body.String())
	}
	return w, env
}

func TestEntityLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	token := adminToken(t)

	raw := json.RawMessage(`{"id":"prof-smith","name":"Prof. Smith","published":true}`)

	w, env := doJSON(t, r, http.MethodPost, "/avatars/add", token, wire.AddRequest{Entity: raw})
	if w.Code != http.StatusOK {
		t.Fatalf("add status = %d body %s", w.Code, w.Body.String())
	}
	var added wire.AddResponse
	if err := json.Unmarshal(env["data"], &added); err != nil {
		t.Fatalf("decode add response: %v", err)
	}
	if added.Version != 1 {
		t.Fatalf("add version = %d, want 1", added.Version)
	}

	w, env = doJSON(t, r, http.MethodGet, "/avatars/get?id=prof-smith", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var fetched wire.FetchResponse
	if err := json.Unmarshal(env["data"], &fetched); err != nil {
		t.Fatalf("decode fetch response: %v", err)
	}
	if fetched.Version != 1 {
		t.Fatalf("fetch version = %d, want 1", fetched.Version)
	}

	// Stale expected version is rejected.
	w, _ = doJSON(t, r, http.MethodPost, "/avatars/edit", token, wire.EditRequest{
		ID: "prof-smith", Entity: raw, ExpectedVersion: 7,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("stale edit status = %d, want 409", w.Code)
	}

	w, env = doJSON(t, r, http.MethodPost, "/avatars/edit", token, wire.EditRequest{
		ID: "prof-smith", Entity: raw, ExpectedVersion: 1,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("edit status = %d body %s", w.Code, w.Body.String())
	}
	var edited wire.EditResponse
	if err := json.Unmarshal(env["data"], &edited); err != nil {
		t.Fatalf("decode edit response: %v", err)
	}
	if edited.Version != 2 {
		t.Fatalf("edit version = %d, want 2", edited.Version)
	}

	w, env = doJSON(t, r, http.MethodPost, "/avatars/sync", "", wire.SyncRequest{
		LocalVersions: map[string]int64{"prof-smith": 1, "gone": 9},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("sync status = %d", w.Code)
	}
	var sync wire.SyncResponse
	if err := json.Unmarshal(env["data"], &sync); err != nil {
		t.Fatalf("decode sync response: %v", err)
	}
	if len(sync.NeedsUpdate) != 1 || sync.NeedsUpdate[0] != "prof-smith" {
		t.Fatalf("needsUpdate = %v", sync.NeedsUpdate)
	}
	if _, ok := sync.ServerVersions["gone"]; ok {
		t.Fatalf("deleted id still present in serverVersions")
	}

	w, _ = doJSON(t, r, http.MethodPost, "/avatars/delete", token, wire.DeleteRequest{ID: "prof-smith"})
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w, _ = doJSON(t, r, http.MethodGet, "/avatars/get?id=prof-smith", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", w.Code)
	}
}

func TestEntityMutationsRequireToken(t *testing.T) {
	r := newTestRouter(t)
	raw := json.RawMessage(`{"id":"x","name":"X"}`)

	w, _ := doJSON(t, r, http.MethodPost, "/avatars/add", "", wire.AddRequest{Entity: raw})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous add status = %d, want 401", w.Code)
	}

	w, _ = doJSON(t, r, http.MethodPost, "/avatars/add", "garbage-token", wire.AddRequest{Entity: raw})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token add status = %d, want 401", w.Code)
	}
}

func TestChatSaveAndRetrieve(t *testing.T) {
	r := newTestRouter(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	req := wire.ChatSaveRequest{
		SessionID:  "1767258000000_a1b2c3d4",
		AvatarID:   "prof-smith",
		AvatarName: "Prof. Smith",
		Messages: []wire.ChatMessage{
			{Role: "user", Content: "hello", Timestamp: base},
			{Role: "assistant", Content: "hi there", Timestamp: base.Add(time.Minute)},
		},
		IsKioskMode: true,
		Location:    "library-kiosk-1",
	}

	w, _ := doJSON(t, r, http.MethodPost, "/chat/save", "", req)
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d body %s", w.Code, w.Body.String())
	}

	w, env := doJSON(t, r, http.MethodGet, "/chat/sessions/"+req.SessionID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get session status = %d", w.Code)
	}
	var session wire.ChatSession
	if err := json.Unmarshal(env["data"], &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.Metadata.MessageCount != 2 || !session.Metadata.StartTime.Equal(base) {
		t.Fatalf("metadata = %+v", session.Metadata)
	}

	w, env = doJSON(t, r, http.MethodGet, "/chat/sessions?avatar_id=prof-smith", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var listing struct {
		Sessions []wire.ChatSessionMetadata `json:"sessions"`
	}
	if err := json.Unmarshal(env["data"], &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Sessions) != 1 || listing.Sessions[0].SessionID != req.SessionID {
		t.Fatalf("listing = %+v", listing.Sessions)
	}

	w, _ = doJSON(t, r, http.MethodPost, "/chat/delete", "", map[string]string{"sessionId": req.SessionID})
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w, _ = doJSON(t, r, http.MethodGet, "/chat/sessions/"+req.SessionID, "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", w.Code)
	}
}

func TestChatSaveRejectsEmptySessions(t *testing.T) {
	r := newTestRouter(t)

	w, _ := doJSON(t, r, http.MethodPost, "/chat/save", "", wire.ChatSaveRequest{
		SessionID: "123_deadbeef",
		AvatarID:  "prof-smith",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty save status = %d, want 400", w.Code)
	}
}

func TestAuthenticatedIdentityOverridesPayload(t *testing.T) {
	r := newTestRouter(t)
	token := adminToken(t)

	req := wire.ChatSaveRequest{
		SessionID:  "456_cafef00d",
		AvatarID:   "prof-smith",
		AvatarName: "Prof. Smith",
		UserID:     "spoofed",
		UserName:   "Spoofed",
		Messages: []wire.ChatMessage{
			{Role: "user", Content: "hi", Timestamp: time.Now().UTC()},
		},
	}
	w, _ := doJSON(t, r, http.MethodPost, "/chat/save", token, req)
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d", w.Code)
	}

	_, env := doJSON(t, r, http.MethodGet, "/chat/sessions/"+req.SessionID, "", nil)
	var session wire.ChatSession
	if err := json.Unmarshal(env["data"], &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.Metadata.UserID != "admin1" || session.Metadata.UserName != "Admin" {
		t.Fatalf("identity = %q/%q, want token identity", session.Metadata.UserID, session.Metadata.UserName)
	}
}

func TestAnalysisDisabledWithoutPipeline(t *testing.T) {
	r := newTestRouter(t)
	w, _ := doJSON(t, r, http.MethodGet, "/chat/sessions/123_abcd1234/analysis", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("analysis status = %d, want 503", w.Code)
	}
}
