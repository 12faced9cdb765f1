package manager

import (
	"WiFiSpectra/internal/model"
	"WiFiSpectra/internal/registry"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func serve(t *testing.T, f *fixture, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(f.m, f.reg, zaptest.NewLogger(t).Sugar())
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAPIOperatorCycle(t *testing.T) {
	f := newFixture(t, 4, 3)
	a := f.node(t, "a", apX, apY)
	a.autoReport = true
	a.register(t)

	rec := serve(t, f, "GET", "/api/v1/nodes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var nodes []registry.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "a", nodes[0].ID)

	rec = serve(t, f, "POST", "/api/v1/scan", `{"channels":[1,6]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(t, f, "GET", "/api/v1/aps", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var aps apsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &aps))
	assert.Equal(t, "selecting", aps.Phase)
	require.Len(t, aps.APs, 2)
	assert.Nil(t, aps.Selected)

	rec = serve(t, f, "POST", "/api/v1/select", `{"bssid":"`+apY.BSSID.String()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var entry model.APEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, apY.BSSID, entry.BSSID)

	rec = serve(t, f, "GET", "/api/v1/aps", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &aps))
	assert.Equal(t, "capturing", aps.Phase)
	require.NotNil(t, aps.Selected)
	assert.Equal(t, apY.BSSID, aps.Selected.BSSID)

	rec = serve(t, f, "POST", "/api/v1/stop", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, PhaseIdle, f.m.Phase())

	rec = serve(t, f, "POST", "/api/v1/end", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = serve(t, f, "POST", "/api/v1/scan", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPISelectErrors(t *testing.T) {
	f := newFixture(t, 4, 3)
	a := f.node(t, "a", apX)
	a.autoReport = true
	a.register(t)
	require.NoError(t, f.m.Scan(nil))

	tests := []struct {
		name string
		body string
		code int
	}{
		{"empty", ``, http.StatusBadRequest},
		{"garbage", `{`, http.StatusBadRequest},
		{"bad bssid", `{"bssid":"zz"}`, http.StatusBadRequest},
		{"not common", `{"bssid":"` + apZ.BSSID.String() + `"}`, http.StatusNotFound},
		{"index out of range", `{"index":4}`, http.StatusNotFound},
		{"index", `{"index":0}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, f, "POST", "/api/v1/select", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestAPIScanWithoutNodes(t *testing.T) {
	f := newFixture(t, 4, 3)
	rec := serve(t, f, "POST", "/api/v1/scan", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPIMetrics(t *testing.T) {
	f := newFixture(t, 4, 3)
	f.node(t, "a").register(t)

	rec := serve(t, f, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wfs_manager_registered_nodes 1")
}

func TestAPIRejectsWrongMethod(t *testing.T) {
	f := newFixture(t, 4, 3)
	rec := serve(t, f, "GET", "/api/v1/scan", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 0, f.count("cmd/all/scan"))

	rec = serve(t, f, "DELETE", "/api/v1/nodes", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(t, f, "GET", "/api/v1/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
