package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/crisp-sync/pkg/logger"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		max       int
		wantPage  int
		wantLimit int
		wantErr   bool
	}{
		{name: "defaults", query: "", max: 100, wantPage: 1, wantLimit: DefaultPageLimit},
		{name: "explicit", query: "page=3&limit=50", max: 100, wantPage: 3, wantLimit: 50},
		{name: "message max", query: "limit=1000", max: MaxMessagePageLimit, wantPage: 1, wantLimit: 1000},
		{name: "limit over max", query: "limit=101", max: MaxConversationPageLimit, wantErr: true},
		{name: "zero limit", query: "limit=0", max: 100, wantErr: true},
		{name: "zero page", query: "page=0", max: 100, wantErr: true},
		{name: "not a number", query: "page=abc", max: 100, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			page, limit, err := ParsePagination(r, tt.max)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantLimit, limit)
		})
	}
}

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID("session_700c65e6-4a3c-4d5b-a1f1-2b1c9c3f1e2a"))
	assert.Error(t, ValidateSessionID(""))
	assert.Error(t, ValidateSessionID("session/../x"))
	assert.NoError(t, ValidateWebsiteID("8c842203-7ed8-4e29-a608-7cf78a7d2fcc"))
	assert.Error(t, ValidateWebsiteID("has space"))
}

func TestLogging_PropagatesCorrelationID(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.Use(Logging(logger.Nop()))
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(CorrelationIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(CorrelationIDHeader))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, rec.Header().Get(CorrelationIDHeader))
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
