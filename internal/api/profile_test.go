package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type profileBody struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Settings    struct {
		WebSearchDefault bool   `json:"web_search_default"`
		Locale           string `json:"locale"`
		TZ               string `json:"tz"`
	} `json:"settings"`
}

func TestProfileCreatedOnFirstRead(t *testing.T) {
	env := setupTestRouter(t, Options{})
	token, userID := env.token(t, "dora")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, newJSONRequest(t, http.MethodGet, "/api/profile", nil, token))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got profileBody
	decodeBody(t, rec.Body.Bytes(), &got)
	if got.UserID != userID || got.DisplayName != "dora" {
		t.Fatalf("unexpected profile %+v", got)
	}
	if got.Settings.WebSearchDefault || got.Settings.Locale != "en" || got.Settings.TZ != "UTC" {
		t.Fatalf("expected default settings, got %+v", got.Settings)
	}

	if _, err := env.store.Profile(context.Background(), userID); err != nil {
		t.Fatalf("expected profile to be stored: %v", err)
	}
}

func TestProfileUpdateMergesSettings(t *testing.T) {
	env := setupTestRouter(t, Options{})
	token, userID := env.token(t, "eve")

	rec := httptest.NewRecorder()
	body := map[string]any{
		"display_name": "  Eve  ",
		"settings":     map[string]any{"web_search_default": true},
	}
	env.router.ServeHTTP(rec, newJSONRequest(t, http.MethodPut, "/api/profile", body, token))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got profileBody
	decodeBody(t, rec.Body.Bytes(), &got)
	if got.DisplayName != "Eve" || !got.Settings.WebSearchDefault || got.Settings.Locale != "en" {
		t.Fatalf("unexpected profile %+v", got)
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, newJSONRequest(t, http.MethodPut, "/api/profile", map[string]any{"settings": map[string]any{"locale": "fr"}}, token))
	decodeBody(t, rec.Body.Bytes(), &got)
	if !got.Settings.WebSearchDefault || got.Settings.Locale != "fr" || got.DisplayName != "Eve" {
		t.Fatalf("expected earlier fields to survive, got %+v", got)
	}

	stored, err := env.store.Profile(context.Background(), userID)
	if err != nil || !stored.Settings.WebSearchDefault {
		t.Fatalf("expected stored web search default, got %+v (%v)", stored, err)
	}
}

func TestProfileRequiresAuthAndValidJSON(t *testing.T) {
	env := setupTestRouter(t, Options{})
	token, _ := env.token(t, "finn")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, newJSONRequest(t, http.MethodGet, "/api/profile", nil, ""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/profile", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}
