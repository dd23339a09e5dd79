package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarstars/recommendation_tree/golang/rectree/classifiers"
	"github.com/tarstars/recommendation_tree/golang/rectree/config"
	"github.com/tarstars/recommendation_tree/golang/rectree/features"
	"github.com/tarstars/recommendation_tree/golang/rectree/journal"
	"github.com/tarstars/recommendation_tree/golang/rectree/playlists"
	"github.com/tarstars/recommendation_tree/golang/rectree/rtl"
	"gonum.org/v1/gonum/mat"
)

type fakeCatalog struct {
	tracks      map[string][]string
	idsErr      error
	featuresErr error
}

func (f *fakeCatalog) PlaylistTrackIDs(_ context.Context, playlistID string) ([]string, error) {
	if f.idsErr != nil {
		return nil, f.idsErr
	}
	ids, ok := f.tracks[playlistID]
	if !ok {
		return nil, errors.New("unknown playlist")
	}
	return ids, nil
}

func (f *fakeCatalog) TrackFeatures(_ context.Context, ids []string) ([]*features.AudioFeatures, error) {
	if f.featuresErr != nil {
		return nil, f.featuresErr
	}
	result := make([]*features.AudioFeatures, len(ids))
	for i, id := range ids {
		v := float64(len(id) + i)
		result[i] = &features.AudioFeatures{
			ID:           id,
			Danceability: v / 10,
			Energy:       float64(i%3) / 3,
			Tempo:        90 + 5*v,
			Loudness:     -float64(i % 5),
		}
	}
	return result, nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (f *fakeJournal) Record(_ context.Context, entry journal.Entry) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, entry)
	return entry.ID, nil
}

func (f *fakeJournal) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []journal.Entry
	for i := len(f.entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, f.entries[i])
	}
	return result, nil
}

// firstColumns keeps the leading columns, standing in for a fitted reducer.
type firstColumns int

func (k firstColumns) Transform(m *mat.Dense) (*mat.Dense, error) {
	h, _ := m.Dims()
	return mat.DenseCopyOf(m.Slice(0, h, 0, int(k))), nil
}

type fakeAuthenticator struct {
	code string
}

func (f *fakeAuthenticator) AuthCodeURL() string {
	return "https://accounts.example.com/authorize?state=s"
}

func (f *fakeAuthenticator) Exchange(_ context.Context, _, code string) error {
	if code != f.code {
		return errors.New("invalid grant")
	}
	return nil
}

type fixture struct {
	server  *Server
	handler http.Handler
	catalog *fakeCatalog
	journal *fakeJournal
	dumpDir string
}

func newFixture(t *testing.T, recommendMutates bool) *fixture {
	t.Helper()
	factory, err := classifiers.NewFactory(classifiers.Config{Kind: classifiers.KindCentroid})
	require.NoError(t, err)
	tree, err := rtl.NewTree(factory, rtl.WithSeed(1))
	require.NoError(t, err)

	catalog := &fakeCatalog{tracks: map[string][]string{
		"alpha": {"a1", "a22", "a333", "a4444"},
		"beta":  {"b1", "b2", "b3"},
		"gamma": {"g1", "g22", "g3", "g44", "g5"},
	}}
	j := &fakeJournal{}
	dumpDir := t.TempDir()

	service := NewService(Deps{
		Tree:             rtl.NewSafeTree(tree),
		Catalog:          catalog,
		Dump:             playlists.Dump{Dir: dumpDir},
		Reducer:          firstColumns(4),
		Journal:          j,
		RecommendMutates: recommendMutates,
		Logger:           zerolog.Nop(),
	})
	cfg := config.Default().Server
	cfg.RateLimitRequests = 0
	srv := New(service, &fakeAuthenticator{code: "good"}, cfg, zerolog.Nop())
	return &fixture{server: srv, handler: srv.Routes(), catalog: catalog, journal: j, dumpDir: dumpDir}
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var body response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPushThenRecommend(t *testing.T) {
	f := newFixture(t, true)

	rec := f.get(t, "/push/?playlist=alpha")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, response{Type: "push", Ret: nil}, decode(t, rec))

	rec = f.get(t, "/recommendation/?playlist=beta")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, response{Type: "recommend", Ret: "alpha"}, decode(t, rec))

	rec = f.get(t, "/recommendation/?playlist=gamma")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, []any{"alpha", "beta"}, decode(t, rec).Ret)

	stats := f.server.service.Stats()
	assert.Equal(t, 3, stats.Leaves)
	assert.Equal(t, 2, stats.Splits)
	assert.Equal(t, 12, stats.Rows)
}

func TestRecommendOnEmptyTreeReturnsNull(t *testing.T) {
	f := newFixture(t, true)
	rec := f.get(t, "/recommendation/?playlist=alpha")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, response{Type: "recommend", Ret: nil}, decode(t, rec))
	assert.Equal(t, 1, f.server.service.Stats().Leaves)
}

func TestReadOnlyRecommend(t *testing.T) {
	f := newFixture(t, false)

	rec := f.get(t, "/recommendation/?playlist=alpha")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, msgEmptyTree, decode(t, rec).Ret)

	require.Equal(t, http.StatusOK, f.get(t, "/push/?playlist=alpha").Code)
	rec = f.get(t, "/recommendation/?playlist=beta")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alpha", decode(t, rec).Ret)
	assert.Equal(t, 1, f.server.service.Stats().Leaves, "queries leave the tree unchanged")
}

func TestRequestErrors(t *testing.T) {
	cases := []struct {
		name    string
		target  string
		prepare func(f *fixture)
		status  int
		message string
	}{
		{"missing playlist", "/push/", nil, http.StatusBadRequest, msgOnlyPlaylistIDs},
		{"empty playlist", "/recommendation/?playlist=", nil, http.StatusBadRequest, msgOnlyPlaylistIDs},
		{"dump miss", "/push/?playlist=m_absent", nil, http.StatusNotFound, msgDumpMiss},
		{"catalog ids", "/push/?playlist=alpha", func(f *fixture) {
			f.catalog.idsErr = errors.New("boom")
		}, http.StatusBadRequest, msgBadTrackIDs},
		{"catalog features", "/recommendation/?playlist=alpha", func(f *fixture) {
			f.catalog.featuresErr = errors.New("boom")
		}, http.StatusBadRequest, msgBadFeatures},
		{"empty playlist tracks", "/push/?playlist=empty", func(f *fixture) {
			f.catalog.tracks["empty"] = nil
		}, http.StatusBadRequest, msgBadFeatures},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, true)
			if tc.prepare != nil {
				tc.prepare(f)
			}
			rec := f.get(t, tc.target)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.message, decode(t, rec).Ret)
		})
	}
}

func TestDumpPlaylist(t *testing.T) {
	f := newFixture(t, true)
	content := "3\nt1\nt22\nt333\n"
	require.NoError(t, os.WriteFile(filepath.Join(f.dumpDir, "m_7.INDEX"), []byte(content), 0o644))
	f.catalog.idsErr = errors.New("dump playlists never reach the catalog")

	rec := f.get(t, "/push/?playlist=m_7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, f.server.service.Stats().Rows)
}

func TestErrorResponseClassifierFailures(t *testing.T) {
	status, message := errorResponse(&StageError{Stage: StageTree, Err: &rtl.ClassifierError{Op: "fit", Err: errors.New("singular")}})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, message, "singular")

	status, _ = errorResponse(&StageError{Stage: StageTree, Err: &rtl.DimensionMismatchError{Expected: 4, Actual: 3}})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, message = errorResponse(errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, msgInternal, message)
}

func TestJournalAndHistory(t *testing.T) {
	f := newFixture(t, true)
	f.get(t, "/push/?playlist=alpha")
	f.get(t, "/recommendation/?playlist=beta")
	f.get(t, "/push/")

	require.Len(t, f.journal.entries, 3)
	first := f.journal.entries[0]
	assert.Equal(t, journal.KindPush, first.Kind)
	assert.Equal(t, "alpha", first.Playlist)
	assert.Equal(t, 4, first.Rows)
	assert.NotEmpty(t, first.RequestID)
	assert.Nil(t, first.Recommended)

	second := f.journal.entries[1]
	require.NotNil(t, second.Recommended)
	assert.Equal(t, "alpha", *second.Recommended)
	assert.NotEmpty(t, f.journal.entries[2].Error)

	rec := f.get(t, "/history?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, int64(3), entries[0].ID)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/history?limit=zero").Code)
}

func TestTreeEndpoints(t *testing.T) {
	f := newFixture(t, true)
	f.get(t, "/push/?playlist=alpha")
	f.get(t, "/push/?playlist=beta")

	rec := f.get(t, "/tree/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats rtl.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, rtl.Stats{Leaves: 2, Splits: 1, Depth: 1, Rows: 7}, stats)

	rec = f.get(t, "/tree.svg")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<svg")

	assert.Equal(t, http.StatusNotFound, f.get(t, "/tree.bmp").Code)
}

func TestAuthorizationRoutes(t *testing.T) {
	f := newFixture(t, true)

	rec := f.get(t, "/login/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://accounts.example.com/authorize?state=s", rec.Header().Get("Location"))

	rec = f.get(t, "/callback/?code=good&state=s")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, msgAuthDone, rec.Body.String())

	rec = f.get(t, "/callback/?code=bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), msgAuthFailure)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/callback/").Code)
}

func TestKillStopsServer(t *testing.T) {
	f := newFixture(t, true)
	stopped := false
	f.server.stop = func() { stopped = true }

	rec := f.get(t, "/kill/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, msgKilled, rec.Body.String())
	assert.True(t, stopped)
}

func TestRequestIDHeader(t *testing.T) {
	f := newFixture(t, true)

	rec := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, true)
	f.get(t, "/push/?playlist=alpha")

	rec := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rectree_operations_total")
}

func TestRunShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, true)
	f.server.cfg.Port = freePort(t)
	f.server.cfg.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + f.server.cfg.Addr() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}
