package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/db"
	"github.com/patrickwarner/adrotator/internal/logic"
	"github.com/patrickwarner/adrotator/internal/logic/selectors"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
	"github.com/patrickwarner/adrotator/internal/service"
	"github.com/patrickwarner/adrotator/internal/token"
)

var testSecret = []byte("secret")

type testEnv struct {
	srv     *Server
	router  *mux.Router
	repo    *db.MemoryRepository
	seen    *db.MemorySeenStore
	metrics *observability.MockMetricsRegistry
}

func newTestServer(t *testing.T, campaigns ...models.Campaign) *testEnv {
	t.Helper()
	repo := db.NewMemoryRepository(campaigns...)
	seen := db.NewMemorySeenStore()
	metrics := observability.NewMockMetricsRegistry()

	pool := service.NewPoolCache(repo, metrics, zap.NewNop())
	require.NoError(t, pool.Reload(context.Background()))

	ads := service.New(
		service.RepositoryPool{Repo: repo},
		selectors.NewCooldownSelector(nil),
		logic.NewSeenTracker(seen, time.Hour, metrics, nil),
		logic.NewCounterUpdater(repo, logic.CounterOptions{InitialBackoff: time.Millisecond}, metrics, nil),
		nil,
		time.Hour,
		metrics,
		nil,
	)
	srv := NewServer(zap.NewNop(), ads, pool, repo, metrics, false, testSecret, time.Minute)
	r := mux.NewRouter()
	srv.RegisterRoutes(r)
	return &testEnv{srv: srv, router: r, repo: repo, seen: seen, metrics: metrics}
}

func (e *testEnv) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestGetAdHandler_ServesCampaign(t *testing.T) {
	env := newTestServer(t, models.NewTestCampaign("x1", 10), models.NewTestCampaign("x2", 5))

	rec := env.do(http.MethodGet, "/ad?viewer=viewer-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp adResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "x2", resp.ID)
	assert.Equal(t, "https://example.com/x2", resp.LinkURL)
	require.True(t, strings.HasPrefix(resp.ClickURL, "/click?t="))
	assert.Nil(t, resp.Debug)

	clickURL, err := url.Parse(resp.ClickURL)
	require.NoError(t, err)
	click, err := token.Verify(clickURL.Query().Get("t"), testSecret)
	require.NoError(t, err)
	assert.Equal(t, "x2", click.AdID)
	assert.Equal(t, "viewer-1", click.ViewerKey)

	c, err := env.repo.GetCampaign(context.Background(), "x2")
	require.NoError(t, err)
	assert.Equal(t, int64(6), c.TotalViews)
	assert.Equal(t, int64(1), env.metrics.Count("requests:ad:GET:200"))
}

func TestGetAdHandler_ViewerHeader(t *testing.T) {
	env := newTestServer(t, models.NewTestCampaign("x1", 0))

	rec := env.do(http.MethodGet, "/ad", http.Header{ViewerKeyHeader: {"viewer-9"}})
	require.Equal(t, http.StatusOK, rec.Code)

	seen, err := env.seen.GetSeen(context.Background(), "viewer-9")
	require.NoError(t, err)
	assert.Contains(t, seen, "x1")
}

func TestGetAdHandler_NoContent(t *testing.T) {
	broken := models.NewTestCampaign("x1", 0)
	broken.LinkURL = "   "
	env := newTestServer(t, broken)

	rec := env.do(http.MethodGet, "/ad?viewer=viewer-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, int64(1), env.metrics.Count("requests:ad:GET:204"))
}

func TestGetAdHandler_InvalidViewer(t *testing.T) {
	env := newTestServer(t, models.NewTestCampaign("x1", 0))

	rec := env.do(http.MethodGet, "/ad?viewer="+strings.Repeat("v", 300), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/ad?viewer=ok&debug=yes", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAdHandler_DebugTrace(t *testing.T) {
	env := newTestServer(t, models.NewTestCampaign("x1", 0))

	rec := env.do(http.MethodGet, "/ad?viewer=viewer-1&debug=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Partition string `json:"partition"`
		Debug     struct {
			Trace logic.SelectionTrace `json:"trace"`
		} `json:"debug"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "eligible", resp.Partition)
	assert.NotNil(t, resp.Debug.Trace.Stage("selected"))
}

func TestGetAdHandler_NoSecretOmitsClickURL(t *testing.T) {
	env := newTestServer(t, models.NewTestCampaign("x1", 0))
	env.srv.TokenSecret = nil

	rec := env.do(http.MethodGet, "/ad?viewer=viewer-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp adResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.ClickURL)
}

func TestPreviewHandler_DoesNotRecord(t *testing.T) {
	env := newTestServer(t, models.NewTestCampaign("x1", 3))

	rec := env.do(http.MethodGet, "/preview?viewer=viewer-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp previewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "x1", resp.AdID)
	assert.Equal(t, "eligible", resp.Partition)

	c, err := env.repo.GetCampaign(context.Background(), "x1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.TotalViews)
}

func TestClickHandler_Redirects(t *testing.T) {
	env := newTestServer(t, models.NewTestCampaign("x1", 0))

	rec := env.do(http.MethodGet, "/ad?viewer=viewer-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp adResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = env.do(http.MethodGet, resp.ClickURL, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/x1", rec.Header().Get("Location"))

	c, err := env.repo.GetCampaign(context.Background(), "x1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.TotalClicks)
}

func TestClickHandler_ExpandsLinkMacros(t *testing.T) {
	c := models.NewTestCampaign("x1", 0)
	c.LinkURL = "https://example.com/land?ad={AD_ID}&req={REQUEST_ID}"
	env := newTestServer(t, c)

	tok, err := token.Generate("x1", "req-1", "", testSecret, time.Minute, time.Now())
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/click?t="+url.QueryEscape(tok), nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/land?ad=x1&req=req-1", rec.Header().Get("Location"))
	assert.Equal(t, int64(1), env.metrics.Count("macro_expansions:AD_ID:ok"))
}

func TestClickHandler_UnsafeLinkServesPixel(t *testing.T) {
	c := models.NewTestCampaign("x1", 0)
	c.LinkURL = "javascript:alert(1)"
	env := newTestServer(t, c)

	tok, err := token.Generate("x1", "req-1", "", testSecret, time.Minute, time.Now())
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/click?t="+url.QueryEscape(tok), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, pixelGIF, rec.Body.Bytes())
}

func TestClickHandler_UnknownCampaignServesPixel(t *testing.T) {
	env := newTestServer(t)

	tok, err := token.Generate("gone", "req-1", "", testSecret, time.Minute, time.Now())
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/click?t="+url.QueryEscape(tok), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
}

func TestClickHandler_InvalidToken(t *testing.T) {
	env := newTestServer(t, models.NewTestCampaign("x1", 0))

	rec := env.do(http.MethodGet, "/click", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/click?t=not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := token.Generate("x1", "req-1", "", []byte("other"), time.Minute, time.Now())
	require.NoError(t, err)
	rec = env.do(http.MethodGet, "/click?t="+url.QueryEscape(forged), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClickHandler_ExpiredToken(t *testing.T) {
	env := newTestServer(t, models.NewTestCampaign("x1", 0))

	tok, err := token.Generate("x1", "req-1", "", testSecret, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/click?t="+url.QueryEscape(tok), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, err := env.repo.GetCampaign(context.Background(), "x1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.TotalClicks)
}

func TestReloadHandler(t *testing.T) {
	env := newTestServer(t)
	require.NoError(t, env.repo.InsertCampaign(context.Background(), &models.Campaign{
		ID: "new", ImageURL: "https://cdn.example.com/new.png", LinkURL: "https://example.com/new", IsActive: true,
	}))

	rec := env.do(http.MethodPost, "/reload", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotNil(t, env.srv.Pool.Campaign("new"))

	rec = env.do(http.MethodGet, "/reload", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	env.srv.AddHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	env.srv.AddHealthCheck("db", func(context.Context) error { return nil })

	rec = env.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"db":"ok","redis":"connection refused"}}`, rec.Body.String())
}
