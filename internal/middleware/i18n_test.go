package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestI18NLocaleDetection(t *testing.T) {
	tests := []struct {
		name           string
		xLocale        string
		acceptLanguage string
		want           string
	}{
		{"explicit header", "id", "", "id"},
		{"header with region", "id-ID", "", "id"},
		{"accept language", "", "ja-JP,en;q=0.8", "ja"},
		{"unsupported falls back", "", "fr-FR;q=1.0", "en"},
		{"garbage header falls back", "!!!", "", "en"},
		{"nothing falls back", "", "", "en"},
		{"header beats accept", "es", "ja", "es"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			handler := I18N("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = LocaleFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.xLocale != "" {
				req.Header.Set("X-Locale", tc.xLocale)
			}
			if tc.acceptLanguage != "" {
				req.Header.Set("Accept-Language", tc.acceptLanguage)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if got != tc.want {
				t.Fatalf("locale = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTenantIDMiddleware(t *testing.T) {
	var got string
	handler := TenantID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = TenantIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "acme" {
		t.Fatalf("tenant = %q, want acme", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "public" {
		t.Fatalf("tenant = %q, want public default", got)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RequestIDFromContext(r.Context()) == "" {
			t.Error("request id missing from context")
		}
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-supplied" {
		t.Fatalf("X-Request-ID = %q, want client value echoed", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}
}
