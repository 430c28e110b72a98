package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow-engine/internal/access"
	"leadflow-engine/internal/config"
	"leadflow-engine/internal/events"
	"leadflow-engine/internal/httpapi"
	"leadflow-engine/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	pool, err := store.NewPool(filepath.Join(dir, "leads.db"), 4, 5*time.Second, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	require.NoError(t, store.Migrate(pool.Raw()))

	st := store.New(pool, access.NewManager(), events.NewHub(), store.DefaultMergePolicy())

	var cfg config.Config
	cfg.App.Port = 38472
	cfg.Database.PoolSize = 4
	cfgVal := &atomic.Value{}
	cfgVal.Store(cfg)
	syncStatus := &atomic.Value{}
	cfgPath := filepath.Join(dir, "config.yml")

	mux := httpapi.NewMux(httpapi.Deps{
		Store:       st,
		Hub:         events.NewHub(),
		CfgVal:      cfgVal,
		SyncStatus:  syncStatus,
		UserCfgPath: cfgPath,
		LoadCfg:     func() (config.Config, error) { return config.Load(cfgPath) },
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestCreateLeadAndDuplicateMerge(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, out := postJSON(t, srv.URL+"/leads",
		`{"fullName":"Jane Doe","linkedinUrl":"https://linkedin.com/in/janedoe","company":"Acme"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, false, out["merged"])
	id := out["id"].(float64)

	// same person again: merged, not duplicated
	resp, out = postJSON(t, srv.URL+"/leads",
		`{"fullName":"Jane Doe","linkedinUrl":"https://linkedin.com/in/janedoe/","email":"jane@acme.com"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["merged"])
	assert.Equal(t, id, out["id"].(float64))
}

func TestCreateLeadValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, out := postJSON(t, srv.URL+"/leads", `{"email":"noname@x.io"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	errObj := out["error"].(map[string]any)
	assert.Equal(t, "validation_failed", errObj["code"])
}

func TestGetLeadByIDAndUUID(t *testing.T) {
	srv, st := newTestServer(t)

	_, out := postJSON(t, srv.URL+"/leads", `{"fullName":"Bob Smith"}`)
	id := int64(out["id"].(float64))
	lead, err := st.GetLeadByID(t.Context(), id)
	require.NoError(t, err)

	for _, key := range []string{"1", lead.UUID} {
		resp, err := http.Get(srv.URL + "/leads/" + key)
		require.NoError(t, err)
		var got store.Lead
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Bob Smith", got.FullName)
	}

	resp, err := http.Get(srv.URL + "/leads/does-not-exist")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListLeadsWithFilters(t *testing.T) {
	srv, _ := newTestServer(t)

	postJSON(t, srv.URL+"/leads", `{"fullName":"A","company":"Acme"}`)
	postJSON(t, srv.URL+"/leads", `{"fullName":"B","company":"Globex"}`)

	resp, err := http.Get(srv.URL + "/leads?company=Acme")
	require.NoError(t, err)
	var leads []store.Lead
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&leads))
	resp.Body.Close()
	require.Len(t, leads, 1)
	assert.Equal(t, "A", leads[0].FullName)

	resp, err = http.Get(srv.URL + "/leads?bogus=x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchLeadsRoute(t *testing.T) {
	srv, _ := newTestServer(t)

	postJSON(t, srv.URL+"/leads", `{"fullName":"A","company":"Acme"}`)
	postJSON(t, srv.URL+"/leads", `{"fullName":"B","company":"Globex"}`)

	resp, err := http.Get(srv.URL + "/leads/search?company=Globex")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var leads []store.Lead
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&leads))
	resp.Body.Close()
	require.Len(t, leads, 1)
	assert.Equal(t, "B", leads[0].FullName)
}

func TestMethodNotAllowedUsesErrorEnvelope(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/leads", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "GET, POST", resp.Header.Get("Allow"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var body map[string]map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "method_not_allowed", body["error"]["code"])
}

func TestPatchLeadRejectsSyncState(t *testing.T) {
	srv, _ := newTestServer(t)

	_, out := postJSON(t, srv.URL+"/leads", `{"fullName":"Carol Yu"}`)
	id := strconv.FormatInt(int64(out["id"].(float64)), 10)

	patch := func(body string) *http.Response {
		req, err := http.NewRequest(http.MethodPatch, srv.URL+"/leads/"+id, strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := patch(`{"company":"Acme"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = patch(`{"airtableId":"recHACK"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = patch(`{"sync_pending":false}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	postJSON(t, srv.URL+"/leads", `{"fullName":"Dana"}`)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, float64(1), out["leads"])
	assert.Equal(t, float64(1), out["pending"])
}

func TestSyncEndpointsWithoutEngine(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/sync/push", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/sync/status")
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, out, "pool")
}

func TestConfigPutValidatesAndPersists(t *testing.T) {
	srv, _ := newTestServer(t)

	put := func(body string) *http.Response {
		req, err := http.NewRequest(http.MethodPut, srv.URL+"/config", strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := put(`{"App":{"Port":0}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = put(`{"App":{"Port":39000,"DataDir":""},"Database":{"Path":"leads.db","PoolSize":4}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// the saved file round-trips through GET
	resp2, err := http.Get(srv.URL + "/config")
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&cfg))
	resp2.Body.Close()
	assert.Equal(t, 39000, cfg.App.Port)
}
