package airtable_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow-engine/internal/airtable"
)

func newTestClient(handler http.Handler) (*airtable.Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := airtable.NewClient("test-key", "appBASE", "Leads", time.Millisecond)
	c.SetBaseURL(srv.URL)
	return c, srv
}

func TestListRecordsFollowsPagination(t *testing.T) {
	var calls int
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/appBASE/Leads", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		switch r.URL.Query().Get("offset") {
		case "":
			fmt.Fprint(w, `{"records":[{"id":"rec1","fields":{"Full Name":"A"}}],"offset":"page2"}`)
		case "page2":
			fmt.Fprint(w, `{"records":[{"id":"rec2","fields":{"Full Name":"B"}}]}`)
		default:
			t.Errorf("unexpected offset %q", r.URL.Query().Get("offset"))
		}
	}))
	defer srv.Close()

	recs, err := c.ListRecords(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "rec1", recs[0].ID)
	assert.Equal(t, "rec2", recs[1].ID)
	assert.Equal(t, 2, calls)
}

func TestListRecordsSendsFilterFormula(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "{Email} = 'a@b.com'", r.URL.Query().Get("filterByFormula"))
		fmt.Fprint(w, `{"records":[]}`)
	}))
	defer srv.Close()

	recs, err := c.ListRecords(context.Background(), "{Email} = 'a@b.com'")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCreateRecordsReturnsIDsInOrder(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var body struct {
			Records []struct {
				Fields map[string]any `json:"fields"`
			} `json:"records"`
			Typecast bool `json:"typecast"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Typecast)

		resp := map[string]any{"records": []map[string]any{}}
		for i, rec := range body.Records {
			resp["records"] = append(resp["records"].([]map[string]any), map[string]any{
				"id":     fmt.Sprintf("rec%d", i),
				"fields": rec.Fields,
			})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	recs, err := c.CreateRecords(context.Background(), []map[string]any{
		{"Full Name": "A"}, {"Full Name": "B"},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "rec0", recs[0].ID)
	assert.Equal(t, "A", recs[0].Fields["Full Name"])
}

func TestCreateRecordsRejectsOversizedBatch(t *testing.T) {
	c := airtable.NewClient("k", "b", "t", time.Millisecond)

	batch := make([]map[string]any, airtable.MaxBatchSize+1)
	for i := range batch {
		batch[i] = map[string]any{"Full Name": "x"}
	}
	_, err := c.CreateRecords(context.Background(), batch)
	require.Error(t, err)
}

func TestUpdateRecordPatchesInPlace(t *testing.T) {
	var gotPath, gotMethod string
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	require.NoError(t, c.UpdateRecord(context.Background(), "recXYZ", map[string]any{"Status": "contacted"}))
	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "/appBASE/Leads/recXYZ", gotPath)

	require.Error(t, c.UpdateRecord(context.Background(), "", nil))
}

func TestAPIErrorSurfacesMessage(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error":{"type":"INVALID_VALUE_FOR_COLUMN","message":"bad value"}}`)
	}))
	defer srv.Close()

	_, err := c.CreateRecords(context.Background(), []map[string]any{{"Full Name": "A"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad value")
	assert.Contains(t, err.Error(), "INVALID_VALUE_FOR_COLUMN")
}
