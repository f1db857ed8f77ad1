package app

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/osuTitanic/keel/internal/status"
	"github.com/osuTitanic/keel/internal/store"
)

func newTestServer(m *memStore) *HTTPServer {
	service, _, _ := newTestService(m)
	return NewHTTPServer(service, "*", service.logger)
}

func doRequest(t *testing.T, server *HTTPServer, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	return recorder
}

func batHeaders() map[string]string {
	return map[string]string{
		"X-User-Id":   "2",
		"X-User-Name": "bat",
		"X-User-Role": "bat",
	}
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(newMemStore())
	recorder := doRequest(t, server, "GET", "/api/health", "", nil)
	if recorder.Code != 200 {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestStatusUpdateRequiresIdentity(t *testing.T) {
	m := newMemStore()
	seedSet(m, status.Pending, 0)
	server := newTestServer(m)

	recorder := doRequest(t, server, "PATCH", "/api/beatmapsets/100/status?status=3", "", nil)
	if recorder.Code != 401 {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestStatusUpdateViaQueryParam(t *testing.T) {
	m := newMemStore()
	seedSet(m, status.Pending, 0)
	nominate(m, 100, 20, 21)
	server := newTestServer(m)

	recorder := doRequest(t, server, "PATCH", "/api/beatmapsets/100/status?status=3", "", batHeaders())
	if recorder.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	if payload["status"] != float64(status.Qualified) {
		t.Fatalf("expected qualified, got %v", payload["status"])
	}
	if payload["approved_by"] != float64(2) {
		t.Fatalf("expected approver 2, got %v", payload["approved_by"])
	}
}

func TestStatusUpdateMapsDomainErrors(t *testing.T) {
	m := newMemStore()
	seedSet(m, status.Pending, 0)
	server := newTestServer(m)

	recorder := doRequest(t, server, "PATCH", "/api/beatmapsets/100/status?status=3", "", batHeaders())
	if recorder.Code != 400 {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	if payload["code"] != "INSUFFICIENT_NOMINATIONS" {
		t.Fatalf("unexpected code %v", payload["code"])
	}
}

func TestBulkStatusUpdateBody(t *testing.T) {
	m := newMemStore()
	seedSet(m, status.Approved, 0)
	server := newTestServer(m)

	recorder := doRequest(t, server, "PATCH", "/api/beatmapsets/100/status/beatmaps", `{"200": 1}`, batHeaders())
	if recorder.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	if payload["status"] != float64(status.Ranked) {
		t.Fatalf("expected ranked, got %v", payload["status"])
	}
}

func TestNominationRoutes(t *testing.T) {
	m := newMemStore()
	seedSet(m, status.Pending, 0)
	m.users[2] = store.User{ID: 2, Name: "bat", IsBAT: true}
	server := newTestServer(m)

	recorder := doRequest(t, server, "POST", "/api/beatmapsets/100/nominations", "", batHeaders())
	if recorder.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doRequest(t, server, "GET", "/api/beatmapsets/100/nominations", "", nil)
	if recorder.Code != 200 {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	items, ok := payload["nominations"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected one nomination, got %v", payload["nominations"])
	}

	recorder = doRequest(t, server, "DELETE", "/api/beatmapsets/100/nominations", "", batHeaders())
	if recorder.Code != 200 {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if len(m.nominations) != 0 {
		t.Fatalf("nominations should be cleared")
	}
}

func TestUnknownBeatmapsetReturns404(t *testing.T) {
	server := newTestServer(newMemStore())
	recorder := doRequest(t, server, "GET", "/api/beatmapsets/404", "", nil)
	if recorder.Code != 404 {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestMalformedSetIDRejected(t *testing.T) {
	server := newTestServer(newMemStore())
	recorder := doRequest(t, server, "GET", "/api/beatmapsets/abc", "", nil)
	if recorder.Code != 422 {
		t.Fatalf("expected 422, got %d", recorder.Code)
	}
}
