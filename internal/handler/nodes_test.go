package handler

import (
	"net/http"
	"strconv"
	"strings"
	"testing"
)

func TestNodes_RequireDashboardUser(t *testing.T) {
	env := newTestEnv(t)
	_, token, err := env.store.CreateNode(t.Context(), "web-01")
	if err != nil {
		t.Fatalf("CreateNode() error = %v", err)
	}

	if rec := env.do(t, http.MethodGet, "/nodes", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	rec := env.do(t, http.MethodGet, "/nodes", nil, withBearer(token))
	if rec.Code != http.StatusForbidden {
		t.Errorf("node status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if got := decodeJSON(t, rec)["error"]; got != "Forbidden" {
		t.Errorf("error = %v, want Forbidden", got)
	}
}

func TestNodes_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.login(t)
	auth := withCookies(cookies)

	rec := env.do(t, http.MethodGet, "/nodes", nil, auth)
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Fatalf("empty list = %d %q, want 200 []", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/nodes", map[string]string{"name": "web-01"}, auth)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d; body = %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	created := decodeJSON(t, rec)
	token, _ := created["token"].(string)
	if len(token) != 64 {
		t.Fatalf("token = %q, want 64 hex chars", token)
	}
	id := int64(created["id"].(float64))

	if rec := env.do(t, http.MethodPost, "/nodes", map[string]string{"name": "web-01"}, auth); rec.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if rec := env.do(t, http.MethodPost, "/nodes", map[string]string{"name": "  "}, auth); rec.Code != http.StatusBadRequest {
		t.Errorf("blank create status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	// The new token authenticates the node.
	if rec := env.do(t, http.MethodGet, "/auth/whoami", nil, withBearer(token)); rec.Code != http.StatusOK {
		t.Fatalf("whoami with new token = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = env.do(t, http.MethodGet, "/nodes", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if got := rec.Body.String(); got == "" || strings.Contains(got, token) {
		t.Errorf("list = %s, want nodes without tokens", got)
	}

	rec = env.do(t, http.MethodPost, "/nodes/"+strconv.FormatInt(id, 10)+"/rotate-token", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("rotate status = %d, want %d", rec.Code, http.StatusOK)
	}
	rotated, _ := decodeJSON(t, rec)["token"].(string)
	if rotated == "" || rotated == token {
		t.Fatalf("rotated token = %q, want a fresh token", rotated)
	}
	if rec := env.do(t, http.MethodGet, "/auth/whoami", nil, withBearer(token)); rec.Code != http.StatusUnauthorized {
		t.Errorf("old token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec := env.do(t, http.MethodGet, "/auth/whoami", nil, withBearer(rotated)); rec.Code != http.StatusOK {
		t.Errorf("rotated token status = %d, want %d", rec.Code, http.StatusOK)
	}

	if rec := env.do(t, http.MethodDelete, "/nodes/"+strconv.FormatInt(id, 10), nil, auth); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec := env.do(t, http.MethodDelete, "/nodes/"+strconv.FormatInt(id, 10), nil, auth); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec := env.do(t, http.MethodPost, "/nodes/abc/rotate-token", nil, auth); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if rec := env.do(t, http.MethodGet, "/auth/whoami", nil, withBearer(rotated)); rec.Code != http.StatusUnauthorized {
		t.Errorf("deleted node token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
