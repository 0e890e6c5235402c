package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/chronovault/internal/inheritance"
	"github.com/celerix-dev/chronovault/internal/metrics"
	"github.com/celerix-dev/chronovault/pkg/engine"
	"github.com/celerix-dev/chronovault/pkg/schema"
	"github.com/celerix-dev/chronovault/pkg/sdk"
)

const (
	ownerAddr = "0x1111111111111111111111111111111111111111"
	heirA     = "0x00000000000000000000000000000000000000a1"
	heirB     = "0x00000000000000000000000000000000000000b2"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// failingStore fails every write of one field.
type failingStore struct {
	*engine.MemStore
	field string
}

func (s *failingStore) Put(owner, field string, val json.RawMessage) error {
	if field == s.field {
		return errors.New("disk full")
	}
	return s.MemStore.Put(owner, field, val)
}

func setupTestRouter(t *testing.T, store sdk.KVStore) (*gin.Engine, *metrics.Metrics) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctrl, err := inheritance.New(store, inheritance.Options{Clock: func() time.Time { return start }})
	if err != nil {
		t.Fatalf("inheritance.New failed: %v", err)
	}
	m := metrics.New()
	h := &Handler{Vault: ctrl, Metrics: m}
	if enum, ok := store.(sdk.OwnerEnumeration); ok {
		h.Store = enum
	}
	return NewEngine(h), m
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON body %q: %v", w.Body.String(), err)
	}
	return out
}

func ownerPath(suffix string) string {
	return "/api/owners/" + ownerAddr + suffix
}

func TestInvalidAddress(t *testing.T) {
	r, _ := setupTestRouter(t, engine.NewMemStore(nil, nil))

	w := do(r, "GET", "/api/owners/0x123/heirs", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	if code := decode(t, w)["code"]; code != "InvalidAddress" {
		t.Errorf("Expected InvalidAddress, got %v", code)
	}

	w = do(r, "POST", ownerPath("/heirs"), gin.H{"heir_address": "0xnope", "share": 10})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad heir address, got %d", w.Code)
	}
}

func TestHeirLifecycle(t *testing.T) {
	r, _ := setupTestRouter(t, engine.NewMemStore(nil, nil))

	w := do(r, "POST", ownerPath("/heirs"), gin.H{"heir_address": heirA, "share": 60})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}

	cases := []struct {
		body gin.H
		want int
		code string
	}{
		{gin.H{"heir_address": heirA, "share": 10}, http.StatusConflict, "DuplicateHeir"},
		{gin.H{"heir_address": heirB, "share": 50}, http.StatusConflict, "InvalidShare"}, // over 100%
		{gin.H{"heir_address": heirB, "share": 0}, http.StatusBadRequest, "InvalidShare"},
		{gin.H{"heir_address": heirB, "share": 101}, http.StatusBadRequest, "InvalidShare"},
		{gin.H{"heir_address": heirB, "share": -5}, http.StatusBadRequest, "InvalidShare"},
		{gin.H{"heir_address": ownerAddr, "share": 10}, http.StatusBadRequest, "InvalidInput"},
	}
	for _, tc := range cases {
		w := do(r, "POST", ownerPath("/heirs"), tc.body)
		if w.Code != tc.want {
			t.Errorf("%v: expected %d, got %d: %s", tc.body, tc.want, w.Code, w.Body)
			continue
		}
		if code := decode(t, w)["code"]; code != tc.code {
			t.Errorf("%v: expected code %s, got %v", tc.body, tc.code, code)
		}
	}

	w = do(r, "POST", ownerPath("/heirs/"+heirB+"/approve"), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown heir, got %d", w.Code)
	}

	w = do(r, "POST", ownerPath("/heirs/"+heirA+"/approve"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	verdict := decode(t, w)["verdict"].(map[string]any)
	if verdict["approved_heirs"].(float64) != 1 {
		t.Errorf("Expected one approval, got %v", verdict["approved_heirs"])
	}

	w = do(r, "GET", ownerPath("/heirs"), nil)
	var list []schema.HeirRecord
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list) != 1 || !list[0].Approved || list[0].Share != 60 {
		t.Errorf("Unexpected heirs: %+v", list)
	}
}

func TestPartialWriteIsAccepted(t *testing.T) {
	store := &failingStore{MemStore: engine.NewMemStore(nil, nil), field: schema.FieldActivities}
	r, _ := setupTestRouter(t, store)

	w := do(r, "POST", ownerPath("/heirs"), gin.H{"heir_address": heirA, "share": 40})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body)
	}
	if _, ok := decode(t, w)["pending"]; !ok {
		t.Error("Expected pending field in partial response")
	}

	// The heir itself was saved.
	w = do(r, "GET", ownerPath("/heirs"), nil)
	if !strings.Contains(w.Body.String(), heirA) {
		t.Errorf("Heir should be persisted, got %s", w.Body)
	}
}

func TestActivity(t *testing.T) {
	r, _ := setupTestRouter(t, engine.NewMemStore(nil, nil))

	w := do(r, "POST", ownerPath("/activity"), gin.H{"type": "Dancing"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown kind, got %d", w.Code)
	}
	w = do(r, "POST", ownerPath("/activity"), gin.H{"type": "QuorumRelease", "completed": true})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for release kind, got %d", w.Code)
	}

	w = do(r, "POST", ownerPath("/activity"), gin.H{"type": "VoiceVerification", "completed": true, "description": "phone"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}
	if state := decode(t, w)["verdict"].(map[string]any)["state"]; state != "Active" {
		t.Errorf("Expected Active after voice check, got %v", state)
	}

	w = do(r, "GET", ownerPath("/activity"), nil)
	var events []schema.ActivityEvent
	json.Unmarshal(w.Body.Bytes(), &events)
	if len(events) != 1 || events[0].Kind != schema.KindVoiceVerification || events[0].ID == "" {
		t.Errorf("Unexpected events: %+v", events)
	}
}

func TestRiddleFlow(t *testing.T) {
	r, _ := setupTestRouter(t, engine.NewMemStore(nil, nil))

	if w := do(r, "GET", ownerPath("/riddle"), nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without riddle, got %d", w.Code)
	}

	w := do(r, "POST", ownerPath("/riddle"), gin.H{"question": "first pet?", "answer": "rex"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}
	id := decode(t, w)["riddle"].(map[string]any)["id"].(string)

	w = do(r, "GET", ownerPath("/riddle"), nil)
	if strings.Contains(w.Body.String(), "commitment") || strings.Contains(w.Body.String(), "rex") {
		t.Errorf("Public riddle leaks secret material: %s", w.Body)
	}

	w = do(r, "POST", ownerPath("/riddle/verify"), gin.H{"riddle_id": id, "answer": "max"})
	if w.Code != http.StatusOK || decode(t, w)["verified"] != false {
		t.Errorf("Expected verified=false, got %d %s", w.Code, w.Body)
	}
	w = do(r, "POST", ownerPath("/riddle/verify"), gin.H{"riddle_id": id, "answer": "rex"})
	body := decode(t, w)
	if body["verified"] != true || body["verdict"].(map[string]any)["funds_locked"] != false {
		t.Errorf("Expected verified and unlocked, got %s", w.Body)
	}

	w = do(r, "POST", ownerPath("/riddle/verify"), gin.H{"riddle_id": id, "answer": "rex", "claimant": heirB})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unregistered claimant, got %d", w.Code)
	}

	w = do(r, "POST", ownerPath("/riddle/issue"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if words := strings.Fields(decode(t, w)["answer"].(string)); len(words) != 6 {
		t.Errorf("Expected a 6 word phrase, got %v", words)
	}
}

func TestLivenessFlow(t *testing.T) {
	r, _ := setupTestRouter(t, engine.NewMemStore(nil, nil))

	w := do(r, "POST", ownerPath("/liveness/verify"), gin.H{"face_tag": "A"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 before enrollment, got %d", w.Code)
	}

	w = do(r, "POST", ownerPath("/liveness/reference"), gin.H{"face_tag": "A"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}
	if w := do(r, "POST", ownerPath("/liveness/reference"), gin.H{"face_tag": "B"}); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 on second enrollment, got %d", w.Code)
	}

	w = do(r, "POST", ownerPath("/liveness/verify"), gin.H{"face_tag": "A"})
	if decode(t, w)["verified"] != true {
		t.Fatalf("Expected match, got %s", w.Body)
	}
	w = do(r, "POST", ownerPath("/liveness/verify"), gin.H{"face_tag": "B"})
	if decode(t, w)["verified"] != false {
		t.Errorf("Expected mismatch, got %s", w.Body)
	}

	w = do(r, "GET", ownerPath("/liveness"), nil)
	view := decode(t, w)
	if view["enrolled"] != true || view["funds_locked"] != false {
		t.Errorf("Unexpected liveness view: %v", view)
	}
	if strings.Contains(w.Body.String(), "reference_tag") {
		t.Error("Liveness view must not expose the reference tag")
	}

	w = do(r, "POST", ownerPath("/riddle"), gin.H{"question": "q", "answer": "a"})
	id := decode(t, w)["riddle"].(map[string]any)["id"].(string)
	w = do(r, "DELETE", ownerPath("/liveness/reference"), gin.H{"riddle_id": id, "answer": "wrong"})
	if decode(t, w)["removed"] != false {
		t.Errorf("Wrong proof must not remove the reference: %s", w.Body)
	}
	w = do(r, "DELETE", ownerPath("/liveness/reference"), gin.H{"riddle_id": id, "answer": "a"})
	if decode(t, w)["removed"] != true {
		t.Errorf("Expected removal, got %s", w.Body)
	}
}

func TestStateAndPolicy(t *testing.T) {
	r, _ := setupTestRouter(t, engine.NewMemStore(nil, nil))

	w := do(r, "GET", ownerPath("/state"), nil)
	if state := decode(t, w)["state"]; state != "Overdue" {
		t.Errorf("Expected Overdue without activity, got %v", state)
	}

	w = do(r, "PUT", ownerPath("/policy"), gin.H{"quorum_threshold": 2, "inactivity_threshold": "720h"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}
	w = do(r, "GET", ownerPath("/policy"), nil)
	p := decode(t, w)
	if p["quorum_threshold"].(float64) != 2 || p["inactivity_threshold"] != "720h0m0s" {
		t.Errorf("Unexpected policy: %v", p)
	}

	w = do(r, "PUT", ownerPath("/policy"), gin.H{"urgent_threshold": "9000h"})
	if w.Code != http.StatusBadRequest || decode(t, w)["code"] != "InvalidPolicy" {
		t.Errorf("Expected InvalidPolicy, got %d %s", w.Code, w.Body)
	}
	w = do(r, "PUT", ownerPath("/policy"), gin.H{"check_interval": 5})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for numeric duration, got %d", w.Code)
	}
}

func TestVoiceWebhook(t *testing.T) {
	r, _ := setupTestRouter(t, engine.NewMemStore(nil, nil))

	w := do(r, "POST", "/api/webhook/voice", gin.H{"owner_address": ownerAddr})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without verified flag, got %d", w.Code)
	}

	w = do(r, "POST", "/api/webhook/voice", gin.H{"owner_address": ownerAddr, "verified": false})
	if body := decode(t, w); body["success"] != false || body["verdict"].(map[string]any)["state"] != "Overdue" {
		t.Errorf("A failed voice check must not reset the timer: %s", w.Body)
	}

	w = do(r, "POST", "/api/webhook/voice", gin.H{"owner_address": ownerAddr, "verified": true})
	if body := decode(t, w); body["success"] != true || body["verdict"].(map[string]any)["state"] != "Active" {
		t.Errorf("Expected Active after voice check: %s", w.Body)
	}
}

func TestHealthMetricsAndStore(t *testing.T) {
	r, _ := setupTestRouter(t, engine.NewMemStore(nil, nil))

	if w := do(r, "GET", "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("Expected healthz 200, got %d", w.Code)
	}
	do(r, "POST", ownerPath("/heirs"), gin.H{"heir_address": heirA, "share": 10})

	w := do(r, "GET", "/api/store/owners", nil)
	if !strings.Contains(w.Body.String(), ownerAddr) {
		t.Errorf("Expected owner listed, got %s", w.Body)
	}
	w = do(r, "GET", "/api/store/owners/nope/fields", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed owner, got %d", w.Code)
	}
	w = do(r, "GET", "/api/store/owners/"+ownerAddr+"/fields", nil)
	if !strings.Contains(w.Body.String(), "heirs") || !strings.Contains(w.Body.String(), "activities") {
		t.Errorf("Expected heirs and activities fields, got %s", w.Body)
	}

	w = do(r, "GET", "/metrics", nil)
	if !strings.Contains(w.Body.String(), "chronovault_http_requests_total") {
		t.Error("Expected request counter in metrics output")
	}
	if w := do(r, "GET", "/nowhere", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
