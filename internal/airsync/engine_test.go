package airsync_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow-engine/internal/access"
	"leadflow-engine/internal/airsync"
	"leadflow-engine/internal/airtable"
	"leadflow-engine/internal/store"
)

// fakeAirtable is an in-memory stand-in for the Airtable REST API, enough to
// drive push and pull runs end to end.
type fakeAirtable struct {
	mu        sync.Mutex
	nextID    int
	posts     int // POST requests seen
	patches   int // PATCH requests seen
	batchSize []int
	patched   map[string]map[string]any
	failPost  int // 1-based POST request index to 500
	list      []map[string]any

	postGate func() // called before handling each POST, outside f.mu
}

func (f *fakeAirtable) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && f.postGate != nil {
			f.postGate()
		}
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{"records": f.list})

		case r.Method == http.MethodPost:
			f.posts++
			var body struct {
				Records []struct {
					Fields map[string]any `json:"fields"`
				} `json:"records"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.batchSize = append(f.batchSize, len(body.Records))
			if f.posts == f.failPost {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"error":{"type":"SERVER_ERROR","message":"upstream down"}}`)
				return
			}
			var recs []map[string]any
			for _, rec := range body.Records {
				f.nextID++
				recs = append(recs, map[string]any{
					"id":     fmt.Sprintf("rec%03d", f.nextID),
					"fields": rec.Fields,
				})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"records": recs})

		case r.Method == http.MethodPatch:
			f.patches++
			parts := strings.Split(r.URL.Path, "/")
			id := parts[len(parts)-1]
			var body struct {
				Fields map[string]any `json:"fields"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if f.patched == nil {
				f.patched = make(map[string]map[string]any)
			}
			f.patched[id] = body.Fields
			fmt.Fprint(w, `{}`)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func newSyncFixture(t *testing.T, fake *fakeAirtable, opts airsync.Options) (*store.Store, *airsync.Engine, *access.Manager) {
	t.Helper()
	pool, err := store.NewPool(filepath.Join(t.TempDir(), "leads.db"), 4, 5*time.Second, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	require.NoError(t, store.Migrate(pool.Raw()))

	mgr := access.NewManager()
	st := store.New(pool, mgr, nil, store.DefaultMergePolicy())

	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	client := airtable.NewClient("test-key", "appBASE", "Leads", time.Millisecond)
	client.SetBaseURL(srv.URL)

	return st, airsync.New(st, client, mgr, nil, opts), mgr
}

func seedLeads(t *testing.T, st *store.Store, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, _, err := st.AddLead(ctx, store.LeadInput{
			FullName: fmt.Sprintf("Lead %02d", i),
			Email:    fmt.Sprintf("lead%02d@corp.io", i),
		})
		require.NoError(t, err)
	}
}

func TestPushCreatesInBatches(t *testing.T) {
	fake := &fakeAirtable{}
	st, eng, _ := newSyncFixture(t, fake, airsync.Options{BatchSize: 10})
	ctx := context.Background()
	seedLeads(t, st, 23)

	res, err := eng.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 23, res.Synced)
	assert.Zero(t, res.Failed)
	assert.True(t, res.OK())
	assert.Equal(t, []int{10, 10, 3}, fake.batchSize)

	_, pending, err := st.CountLeads(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	lead, err := st.GetLeadByID(ctx, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, lead.AirtableID)
	assert.NotEmpty(t, lead.AirtableSynced)
}

func TestPushPartialBatchFailureIsReportedNotRaised(t *testing.T) {
	fake := &fakeAirtable{failPost: 3}
	st, eng, _ := newSyncFixture(t, fake, airsync.Options{BatchSize: 10})
	ctx := context.Background()
	seedLeads(t, st, 23)

	res, err := eng.PushPending(ctx)
	require.NoError(t, err, "batch failures belong in the result, not the error")
	assert.Equal(t, 20, res.Synced)
	assert.Equal(t, 3, res.Failed)
	assert.False(t, res.OK())
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "upstream down")

	// failed leads stay pending with the error recorded
	_, pending, err := st.CountLeads(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pending)

	failed, err := st.PendingLeads(ctx, 0)
	require.NoError(t, err)
	for _, l := range failed {
		assert.Contains(t, l.SyncError, "upstream down")
		assert.NotEmpty(t, l.LastSyncAttempt)
	}
}

// An edit that commits while a push request is in flight must not be lost:
// the pushed lead stays pending and the next push delivers the new values.
func TestPushDoesNotClearPendingForMidFlightEdit(t *testing.T) {
	fake := &fakeAirtable{}
	st, eng, _ := newSyncFixture(t, fake, airsync.Options{})
	ctx := context.Background()

	id, _, err := st.AddLead(ctx, store.LeadInput{FullName: "Mid Flight", Email: "mid@flight.io"})
	require.NoError(t, err)

	arrived := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fake.postGate = func() {
		once.Do(func() { close(arrived) })
		<-release
	}

	pushDone := make(chan error, 1)
	go func() {
		_, err := eng.PushPending(ctx)
		pushDone <- err
	}()

	// Wait until the create request is in flight, then land an edit.
	<-arrived
	changed, err := st.UpdateLead(ctx, id, map[string]any{"company": "NewCo"})
	require.NoError(t, err)
	require.True(t, changed)
	close(release)
	require.NoError(t, <-pushDone)

	lead, err := st.GetLeadByID(ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, lead.AirtableID, "created record is linked")
	assert.True(t, lead.SyncPending, "mid-flight edit must keep the lead pending")

	// The follow-up push delivers the edit as a patch on the linked record.
	res, err := eng.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	require.Contains(t, fake.patched, lead.AirtableID)
	assert.Equal(t, "NewCo", fake.patched[lead.AirtableID]["Company"])

	lead, err = st.GetLeadByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, lead.SyncPending)
}

func TestPushWithNothingPendingMakesNoRequests(t *testing.T) {
	fake := &fakeAirtable{}
	st, eng, _ := newSyncFixture(t, fake, airsync.Options{})
	ctx := context.Background()
	seedLeads(t, st, 5)

	res, err := eng.PushPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, res.Synced)

	res, err = eng.PushPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Synced)
	assert.Equal(t, 1, fake.posts, "second run must not re-push synced leads")
}

func TestPushPatchesLinkedLeadInPlace(t *testing.T) {
	fake := &fakeAirtable{}
	st, eng, _ := newSyncFixture(t, fake, airsync.Options{})
	ctx := context.Background()

	id, _, err := st.AddLead(ctx, store.LeadInput{FullName: "Jane Doe", Company: "Acme"})
	require.NoError(t, err)
	_, err = eng.PushPending(ctx)
	require.NoError(t, err)

	lead, err := st.GetLeadByID(ctx, id)
	require.NoError(t, err)
	recID := lead.AirtableID
	require.NotEmpty(t, recID)

	// local edit queues the lead again; it must go out as a PATCH to the
	// same record, never a second create
	_, err = st.UpdateLead(ctx, id, map[string]any{"status": "contacted"})
	require.NoError(t, err)

	res, err := eng.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, fake.posts)
	assert.Equal(t, 1, fake.patches)
	require.Contains(t, fake.patched, recID)
	assert.Equal(t, "contacted", fake.patched[recID]["Status"])

	lead, err = st.GetLeadByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, recID, lead.AirtableID)
}

func TestPullCreatesAndLinksNewRecord(t *testing.T) {
	fake := &fakeAirtable{list: []map[string]any{
		{"id": "recNEW", "fields": map[string]any{
			"Full Name": "Remote Rita",
			"Email":     "rita@remote.io",
			"Status":    "contacted",
		}},
	}}
	st, eng, _ := newSyncFixture(t, fake, airsync.Options{})
	ctx := context.Background()

	res, err := eng.PullUpdates(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.Created)
	assert.Zero(t, res.Failed)

	lead, err := st.FindByAirtableID(ctx, "recNEW")
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, "Remote Rita", lead.FullName)
	assert.Equal(t, "airtable", lead.Source)
	assert.Equal(t, "contacted", lead.Status)
	assert.False(t, lead.SyncPending, "a pulled record has nothing to push back")
}

func TestPullUpdatesExistingByAirtableID(t *testing.T) {
	fake := &fakeAirtable{}
	st, eng, _ := newSyncFixture(t, fake, airsync.Options{Conflict: airsync.RemoteWins})
	ctx := context.Background()

	id, _, err := st.AddLead(ctx, store.LeadInput{FullName: "Sam Po", Email: "sam@x.io", Status: "new"})
	require.NoError(t, err)
	_, err = eng.PushPending(ctx)
	require.NoError(t, err)
	lead, err := st.GetLeadByID(ctx, id)
	require.NoError(t, err)

	fake.mu.Lock()
	fake.list = []map[string]any{
		{"id": lead.AirtableID, "fields": map[string]any{
			"Full Name": "Sam Po",
			"Status":    "qualified",
		}},
	}
	fake.mu.Unlock()

	res, err := eng.PullUpdates(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Zero(t, res.Created)

	lead, err = st.GetLeadByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "qualified", lead.Status)
	assert.False(t, lead.SyncPending, "remote-sourced changes must not bounce back out")
}

func TestPullMatchesByEmailAndLinks(t *testing.T) {
	fake := &fakeAirtable{list: []map[string]any{
		{"id": "recMATCH", "fields": map[string]any{
			"Full Name": "Ed Yang",
			"Email":     "ed@corp.io",
			"Status":    "contacted",
		}},
	}}
	st, eng, _ := newSyncFixture(t, fake, airsync.Options{Conflict: airsync.RemoteWins})
	ctx := context.Background()

	// local lead exists but was never pushed, so no airtable id yet
	id, _, err := st.AddLead(ctx, store.LeadInput{FullName: "Ed Yang", Email: "ed@corp.io"})
	require.NoError(t, err)

	res, err := eng.PullUpdates(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Zero(t, res.Created, "email match must update, not duplicate")

	lead, err := st.GetLeadByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "recMATCH", lead.AirtableID)
	assert.Equal(t, "contacted", lead.Status)
}

func TestPullLocalWinsKeepsEnrichmentData(t *testing.T) {
	fake := &fakeAirtable{}
	st, eng, _ := newSyncFixture(t, fake, airsync.Options{Conflict: airsync.LocalWins})
	ctx := context.Background()

	id, _, err := st.AddLead(ctx, store.LeadInput{FullName: "Liv Cole", Email: "liv@x.io", Company: "Acme"})
	require.NoError(t, err)
	_, err = eng.PushPending(ctx)
	require.NoError(t, err)
	lead, err := st.GetLeadByID(ctx, id)
	require.NoError(t, err)

	fake.mu.Lock()
	fake.list = []map[string]any{
		{"id": lead.AirtableID, "fields": map[string]any{
			"Full Name": "Liv Cole",
			"Company":   "WrongCo",
			"Status":    "qualified",
		}},
	}
	fake.mu.Unlock()

	_, err = eng.PullUpdates(ctx, true)
	require.NoError(t, err)

	lead, err = st.GetLeadByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Acme", lead.Company, "local wins must keep enrichment fields")
	assert.Equal(t, "qualified", lead.Status, "engagement state still flows in")
}

func TestPullSkipsNamelessRecords(t *testing.T) {
	fake := &fakeAirtable{list: []map[string]any{
		{"id": "recBAD", "fields": map[string]any{"Status": "contacted"}},
	}}
	_, eng, _ := newSyncFixture(t, fake, airsync.Options{})

	res, err := eng.PullUpdates(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Created)
}

func TestPushLockTimeoutSurfacesAsError(t *testing.T) {
	fake := &fakeAirtable{}
	st, eng, mgr := newSyncFixture(t, fake, airsync.Options{})
	seedLeads(t, st, 1)

	// a stuck holder of the sync resource blocks the run entirely
	rel, err := mgr.Acquire(context.Background(), "stuck-run", access.PriorityNormal, store.ResourceSync)
	require.NoError(t, err)
	defer rel()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = eng.PushPending(ctx)
	require.ErrorIs(t, err, access.ErrLockTimeout)
	assert.Zero(t, fake.posts)
}
