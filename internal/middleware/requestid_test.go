package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idEcho() (http.Handler, *string) {
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return h, &got
}

func TestRequestIDGenerated(t *testing.T) {
	h, got := idEcho()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/shares", nil))

	require.NotEmpty(t, *got)
	assert.Equal(t, *got, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDPreserved(t *testing.T) {
	h, got := idEcho()

	req := httptest.NewRequest(http.MethodGet, "/shares", nil)
	req.Header.Set("X-Request-ID", "upstream-id-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "upstream-id-123", *got)
	assert.Equal(t, "upstream-id-123", rec.Header().Get("X-Request-ID"))
}

func TestRequestIDReplacesForgeableIDs(t *testing.T) {
	tests := []struct {
		name     string
		headerID string
		wantNew  bool
	}{
		{name: "alphanumeric with separators", headerID: "abc-123_DEF", wantNew: false},
		{name: "newline injection", headerID: "fake-id\nlevel=ERROR forged", wantNew: true},
		{name: "carriage return injection", headerID: "fake-id\rforged", wantNew: true},
		{name: "spaces", headerID: "id with spaces", wantNew: true},
		{name: "markup", headerID: "id<script>", wantNew: true},
		{name: "over length bound", headerID: strings.Repeat("a", 129), wantNew: true},
		{name: "at length bound", headerID: strings.Repeat("a", 128), wantNew: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, got := idEcho()

			req := httptest.NewRequest(http.MethodGet, "/shares", nil)
			req.Header.Set("X-Request-ID", tt.headerID)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.NotEmpty(t, *got)
			if tt.wantNew {
				assert.NotEqual(t, tt.headerID, *got)
			} else {
				assert.Equal(t, tt.headerID, *got)
			}
		})
	}
}

func TestRequestIDFromContextEmptyWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/shares", nil)
	assert.Empty(t, RequestIDFromContext(req.Context()))
}
