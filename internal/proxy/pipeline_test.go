package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"unicity-proxy.backend/internal/cache"
	"unicity-proxy.backend/internal/domain/entities"
	domainerrors "unicity-proxy.backend/internal/domain/errors"
	"unicity-proxy.backend/internal/ratelimit"
	"unicity-proxy.backend/internal/routing"
	"unicity-proxy.backend/pkg/clock"
	"unicity-proxy.backend/pkg/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Init("test")
	os.Exit(m.Run())
}

type stubKeyRepo struct {
	limits map[string]entities.KeyLimits
}

func (s *stubKeyRepo) Create(ctx context.Context, apiKey *entities.ApiKey) error { return nil }
func (s *stubKeyRepo) FindByKey(ctx context.Context, key string) (*entities.ApiKey, error) {
	return nil, domainerrors.ErrNotFound
}
func (s *stubKeyRepo) FindEffectiveLimits(ctx context.Context, key string, now time.Time) (*entities.KeyLimits, error) {
	if l, ok := s.limits[key]; ok {
		return &l, nil
	}
	return nil, domainerrors.ErrNotFound
}
func (s *stubKeyRepo) LockForUpdate(ctx context.Context, key string) (*entities.ApiKey, error) {
	return nil, domainerrors.ErrNotFound
}
func (s *stubKeyRepo) Update(ctx context.Context, apiKey *entities.ApiKey) error { return nil }
func (s *stubKeyRepo) Revoke(ctx context.Context, key string) error              { return nil }

type pipelineFixture struct {
	engine  *gin.Engine
	holder  *routing.Holder
	clk     *clock.Fake
	repo    *stubKeyRepo
	backend *httptest.Server
}

// newPipelineFixture routes everything to a single echo backend that reports
// which headers it received.
func newPipelineFixture(t *testing.T, limits entities.KeyLimits) *pipelineFixture {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", "echo")
		w.Header().Set("Connection", "keep-alive")
		resp := map[string]string{
			"path":          r.URL.RequestURI(),
			"authorization": r.Header.Get("Authorization"),
			"xApiKey":       r.Header.Get("X-API-Key"),
			"custom":        r.Header.Get("X-Custom"),
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(backend.Close)

	holder := routing.NewHolder()
	table, err := routing.Build(&entities.ShardConfig{
		Version: 1,
		Shards:  []entities.ShardInfo{{ID: 1, URL: backend.URL}},
	})
	require.NoError(t, err)
	holder.Store(table)

	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	repo := &stubKeyRepo{limits: map[string]entities.KeyLimits{"sk_valid": limits}}

	p := NewPipeline(
		holder,
		cache.NewKeyCache(repo, clk, time.Minute),
		ratelimit.NewLimiter(clk),
		NewBackendClient(time.Second, 5*time.Second, time.Second),
		nil,
	)

	engine := gin.New()
	engine.NoRoute(p.Handler())
	return &pipelineFixture{engine: engine, holder: holder, clk: clk, repo: repo, backend: backend}
}

func (f *pipelineFixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func rpcBody(method, requestID string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","method":"%s","params":{"requestId":"%s"},"id":1}`, method, requestID)
}

func TestPlainTrafficNeedsNoAuth(t *testing.T) {
	f := newPipelineFixture(t, entities.KeyLimits{RequestsPerSecond: 5, RequestsPerDay: 100})

	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	w := f.do(req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"path":"/docs"`)
}

func TestProtectedMethodRequiresKey(t *testing.T) {
	f := newPipelineFixture(t, entities.KeyLimits{RequestsPerSecond: 5, RequestsPerDay: 100})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(rpcBody("submit_commitment", "ab")))
	w := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	// Unknown key is just as unauthorized.
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(rpcBody("submit_commitment", "ab")))
	req.Header.Set("Authorization", "Bearer sk_bogus")
	w = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// A valid key passes, via either header.
	for _, set := range []func(r *http.Request){
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer sk_valid") },
		func(r *http.Request) { r.Header.Set("X-API-Key", "sk_valid") },
	} {
		req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(rpcBody("submit_commitment", "ab")))
		set(req)
		w = f.do(req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestUnprotectedRPCSkipsAuth(t *testing.T) {
	f := newPipelineFixture(t, entities.KeyLimits{RequestsPerSecond: 5, RequestsPerDay: 100})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(rpcBody("get_inclusion_proof", "ab")))
	w := f.do(req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitDeniesWithRetryAfter(t *testing.T) {
	f := newPipelineFixture(t, entities.KeyLimits{RequestsPerSecond: 2, RequestsPerDay: 100})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(rpcBody("submit_commitment", "ab")))
		req.Header.Set("Authorization", "Bearer sk_valid")
		return f.do(req)
	}

	assert.Equal(t, http.StatusOK, send().Code)
	assert.Equal(t, http.StatusOK, send().Code)

	denied := send()
	assert.Equal(t, http.StatusTooManyRequests, denied.Code)
	assert.NotEmpty(t, denied.Header().Get("Retry-After"))

	f.clk.Advance(1100 * time.Millisecond)
	assert.Equal(t, http.StatusOK, send().Code)
}

func TestCredentialsAreStrippedBeforeForwarding(t *testing.T) {
	f := newPipelineFixture(t, entities.KeyLimits{RequestsPerSecond: 5, RequestsPerDay: 100})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(rpcBody("submit_commitment", "ab")))
	req.Header.Set("Authorization", "Bearer sk_valid")
	req.Header.Set("X-Custom", "survives")
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var echoed map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &echoed))
	assert.Empty(t, echoed["authorization"], "Authorization must not reach the backend")
	assert.Empty(t, echoed["xApiKey"])
	assert.Equal(t, "survives", echoed["custom"])
}

func TestResponseHeaderHygiene(t *testing.T) {
	f := newPipelineFixture(t, entities.KeyLimits{RequestsPerSecond: 5, RequestsPerDay: 100})

	w := f.do(httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "echo", w.Header().Get("X-Backend"))
	assert.Empty(t, w.Header().Get("Connection"))
}

func TestBodySizeGuard(t *testing.T) {
	f := newPipelineFixture(t, entities.KeyLimits{RequestsPerSecond: 5, RequestsPerDay: 100})

	// Content-Length over the cap is rejected up front.
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x"))
	req.ContentLength = MaxBodyBytes + 1
	w := f.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Request body too large")

	// An oversized chunked body is caught while reading.
	big := strings.NewReader(strings.Repeat("a", MaxBodyBytes+1))
	req = httptest.NewRequest(http.MethodPost, "/", big)
	req.ContentLength = -1
	w = f.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHeaderCountGuard(t *testing.T) {
	f := newPipelineFixture(t, entities.KeyLimits{RequestsPerSecond: 5, RequestsPerDay: 100})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for i := 0; i < MaxHeaderCount+1; i++ {
		req.Header.Add("X-Flood", fmt.Sprintf("%d", i))
	}
	w := f.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Too many headers")
}

func TestRoutingBySplitShards(t *testing.T) {
	even := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("even"))
	}))
	t.Cleanup(even.Close)
	odd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("odd"))
	}))
	t.Cleanup(odd.Close)

	f := newPipelineFixture(t, entities.KeyLimits{RequestsPerSecond: 5, RequestsPerDay: 100})
	table, err := routing.Build(&entities.ShardConfig{
		Version: 2,
		Shards: []entities.ShardInfo{
			{ID: 2, URL: even.URL},
			{ID: 3, URL: odd.URL},
		},
	})
	require.NoError(t, err)
	f.holder.Store(table)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(rpcBody("get_block", "a2"))) // even low bit
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "even", w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(rpcBody("get_block", "a3"))) // odd low bit
	w = f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "odd", w.Body.String())
}

func TestRoutingRulesMapTo400(t *testing.T) {
	f := newPipelineFixture(t, entities.KeyLimits{RequestsPerSecond: 5, RequestsPerDay: 100})

	// JSON-RPC without routing info.
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"2.0","method":"get_block","params":{},"id":1}`))
	w := f.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Both ids at once.
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
		`{"jsonrpc":"2.0","method":"get_block","params":{"requestId":"ab","shardId":"1"},"id":1}`))
	w = f.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCookieFallbackForPlainTraffic(t *testing.T) {
	even := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("even"))
	}))
	t.Cleanup(even.Close)
	odd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("odd"))
	}))
	t.Cleanup(odd.Close)

	f := newPipelineFixture(t, entities.KeyLimits{RequestsPerSecond: 5, RequestsPerDay: 100})
	table, err := routing.Build(&entities.ShardConfig{
		Version: 2,
		Shards: []entities.ShardInfo{
			{ID: 2, URL: even.URL},
			{ID: 3, URL: odd.URL},
		},
	})
	require.NoError(t, err)
	f.holder.Store(table)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.AddCookie(&http.Cookie{Name: "UNICITY_REQUEST_ID", Value: "a3"})
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "odd", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.AddCookie(&http.Cookie{Name: "UNICITY_SHARD_ID", Value: "2"})
	w = f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "even", w.Body.String())
}

func TestFailsafeStateReturns503(t *testing.T) {
	f := newPipelineFixture(t, entities.KeyLimits{RequestsPerSecond: 5, RequestsPerDay: 100})
	f.holder.Store(nil)

	w := f.do(httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUnreachableBackendMapsTo502(t *testing.T) {
	f := newPipelineFixture(t, entities.KeyLimits{RequestsPerSecond: 5, RequestsPerDay: 100})
	f.backend.Close()

	w := f.do(httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "Bad Gateway")
}
