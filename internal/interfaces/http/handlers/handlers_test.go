package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"unicity-proxy.backend/internal/domain/entities"
	"unicity-proxy.backend/internal/infrastructure/blockchain"
	"unicity-proxy.backend/internal/infrastructure/repositories"
	"unicity-proxy.backend/internal/interfaces/http/middleware"
	"unicity-proxy.backend/internal/routing"
	"unicity-proxy.backend/internal/usecases"
	"unicity-proxy.backend/pkg/clock"
	"unicity-proxy.backend/pkg/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Init("test")
	os.Exit(m.Run())
}

// fakeSDK settles every commitment successfully; the engine's own rejection
// paths are covered by the usecase tests.
type fakeSDK struct{}

func (fakeSDK) SubmitCommitment(ctx context.Context, c *blockchain.TransferCommitment) (blockchain.SubmitStatus, error) {
	return blockchain.SubmitSuccess, nil
}

func (fakeSDK) WaitInclusionProof(ctx context.Context, c *blockchain.TransferCommitment) (*blockchain.InclusionProof, error) {
	return &blockchain.InclusionProof{Raw: json.RawMessage(`{"included":true}`)}, nil
}

func (fakeSDK) FinalizeTransaction(ctx context.Context, source *blockchain.Token, c *blockchain.TransferCommitment, proof *blockchain.InclusionProof, predicate *blockchain.MaskedPredicate) (*blockchain.Token, error) {
	received := &blockchain.Token{ID: source.ID, Type: source.Type, Coins: source.Coins, Proof: proof.Raw}
	raw, err := json.Marshal(received)
	if err != nil {
		return nil, err
	}
	received.Raw = raw
	return received, nil
}

func (fakeSDK) Verify(ctx context.Context, token *blockchain.Token, trustBase *blockchain.TrustBase) error {
	return nil
}

type apiFixture struct {
	engine *gin.Engine
	db     *gorm.DB
	clk    *clock.Fake
	shards *repositories.ShardConfigRepository
}

func newAPIFixture(t *testing.T, adminPassword string) *apiFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, repositories.EnsureSchema(db))

	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	keys := repositories.NewApiKeyRepository(db)
	plans := repositories.NewPricingPlanRepository(db)
	sessions := repositories.NewPaymentSessionRepository(db)
	shards := repositories.NewShardConfigRepository(db)
	uow := repositories.NewUnitOfWork(db)

	paymentUC := usecases.NewPaymentUsecase(keys, plans, sessions, uow, fakeSDK{},
		&blockchain.TrustBase{Raw: json.RawMessage(`{"epoch":1}`)},
		usecases.PaymentConfig{
			ServerSecret:   []byte("server-secret"),
			AcceptedCoinID: "UNC",
			MinimumPayment: big.NewInt(1000),
			TokenTypeName:  "unicity",
		}, clk, nil)
	adminUC := usecases.NewAdminUsecase(keys, plans, shards, uow, clk, nil)

	payment := NewPaymentHandler(paymentUC)
	admin := NewAdminHandler(adminUC)
	shardCfg := NewShardConfigHandler(usecases.NewShardConfigUsecase(shards))

	engine := gin.New()
	api := engine.Group("/api/payment")
	{
		api.POST("/initiate", payment.InitiatePayment)
		api.POST("/complete", payment.CompletePayment)
		api.GET("/plans", payment.ListPlans)
		api.GET("/key/:apiKey", payment.KeyStatus)
	}
	engine.GET("/config/shards", shardCfg.GetShardConfig)
	adm := engine.Group("/admin", middleware.AdminAuthMiddleware(adminPassword))
	{
		adm.PUT("/shards", admin.ReplaceShardConfig)
		adm.POST("/keys", admin.CreateKey)
		adm.DELETE("/keys/:key", admin.RevokeKey)
		adm.POST("/keys/:key/plan", admin.AssignPlan)
	}

	return &apiFixture{engine: engine, db: db, clk: clk, shards: shards}
}

func (f *apiFixture) seedPlan(t *testing.T, id int64, name string, rps, rpd int, price string) {
	t.Helper()
	err := f.db.Exec(`INSERT INTO pricing_plans (id, name, requests_per_second, requests_per_day, price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, id, name, rps, rpd, price, time.Now().UTC()).Error
	require.NoError(t, err)
}

func (f *apiFixture) request(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func TestInitiateRequiresTargetPlan(t *testing.T) {
	f := newAPIFixture(t, "")

	w := f.request(http.MethodPost, "/api/payment/initiate", `{"apiKey":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPurchaseFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t, "")
	f.seedPlan(t, 3, "pro", 50, 100000, "5000")

	w := f.request(http.MethodPost, "/api/payment/initiate", `{"targetPlanId":3}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	initiated := decode(t, w)
	assert.Equal(t, "5000", initiated["amountRequired"])
	assert.Equal(t, "0", initiated["refundAmount"])
	assert.Contains(t, initiated["paymentAddress"], "DIRECT://")

	sessionID := initiated["sessionId"].(string)
	amount := new(big.Int)
	_, ok := amount.SetString(initiated["amountRequired"].(string), 10)
	require.True(t, ok)

	completeBody := fmt.Sprintf(`{
		"sessionId": %q,
		"salt": "ignored",
		"transferCommitmentJson": "{\"requestId\":\"ab12\",\"payload\":\"opaque\"}",
		"sourceTokenJson": "{\"id\":\"tok-1\",\"type\":\"unicity\",\"coins\":[{\"coinId\":\"UNC\",\"value\":\"0x%s\"}]}"
	}`, sessionID, amount.Text(16))
	w = f.request(http.MethodPost, "/api/payment/complete", completeBody, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	completed := decode(t, w)
	assert.Equal(t, true, completed["success"])
	apiKey := completed["apiKey"].(string)
	assert.True(t, strings.HasPrefix(apiKey, "sk_"))

	w = f.request(http.MethodGet, "/api/payment/key/"+apiKey, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, true, status["effective"])
	assert.Equal(t, "active", status["status"])
}

func TestCompleteRejectionReturns402(t *testing.T) {
	f := newAPIFixture(t, "")
	f.seedPlan(t, 3, "pro", 50, 100000, "5000")

	w := f.request(http.MethodPost, "/api/payment/initiate", `{"targetPlanId":3}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := decode(t, w)["sessionId"].(string)

	// One coin short of the required amount.
	completeBody := fmt.Sprintf(`{
		"sessionId": %q,
		"transferCommitmentJson": "{\"requestId\":\"cd34\",\"payload\":\"opaque\"}",
		"sourceTokenJson": "{\"id\":\"tok-1\",\"type\":\"unicity\",\"coins\":[{\"coinId\":\"UNC\",\"value\":\"0x1387\"}]}"
	}`, sessionID)
	w = f.request(http.MethodPost, "/api/payment/complete", completeBody, nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	out := decode(t, w)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["message"], "Insufficient payment")
}

func TestCompleteValidation(t *testing.T) {
	f := newAPIFixture(t, "")

	w := f.request(http.MethodPost, "/api/payment/complete", `{
		"sessionId": "not-a-uuid",
		"transferCommitmentJson": "{\"requestId\":\"ab\"}",
		"sourceTokenJson": "{\"id\":\"t\",\"type\":\"u\",\"coins\":[]}"
	}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid session ID")

	// Well-formed id, no such session.
	w = f.request(http.MethodPost, "/api/payment/complete", `{
		"sessionId": "0198c5c8-0000-7000-8000-000000000001",
		"transferCommitmentJson": "{\"requestId\":\"ab\",\"payload\":\"x\"}",
		"sourceTokenJson": "{\"id\":\"t\",\"type\":\"u\",\"coins\":[{\"coinId\":\"UNC\",\"value\":\"0x1\"}]}"
	}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListPlansShowsClampedPrices(t *testing.T) {
	f := newAPIFixture(t, "")
	f.seedPlan(t, 1, "cheap", 1, 100, "500")
	f.seedPlan(t, 2, "pro", 50, 100000, "5000")

	w := f.request(http.MethodGet, "/api/payment/plans", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	plans := out["plans"].([]any)
	require.Len(t, plans, 2)

	prices := map[string]string{}
	for _, p := range plans {
		plan := p.(map[string]any)
		prices[plan["name"].(string)] = plan["price"].(string)
	}
	assert.Equal(t, "1000", prices["cheap"], "price below the minimum payment is clamped")
	assert.Equal(t, "5000", prices["pro"])
}

func TestKeyStatusUnknownKey(t *testing.T) {
	f := newAPIFixture(t, "")

	w := f.request(http.MethodGet, "/api/payment/key/sk_missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminDisabledWithoutPassword(t *testing.T) {
	f := newAPIFixture(t, "")

	w := f.request(http.MethodPost, "/admin/keys", `{"planId":1}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRejectsWrongPassword(t *testing.T) {
	f := newAPIFixture(t, "hunter2")

	w := f.request(http.MethodPost, "/admin/keys", `{"planId":1}`, map[string]string{
		"X-Admin-Password": "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.request(http.MethodPost, "/admin/keys", `{"planId":1}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminKeyLifecycle(t *testing.T) {
	f := newAPIFixture(t, "hunter2")
	f.seedPlan(t, 1, "basic", 5, 1000, "3000")
	f.seedPlan(t, 2, "pro", 50, 100000, "5000")
	auth := map[string]string{"X-Admin-Password": "hunter2"}

	w := f.request(http.MethodPost, "/admin/keys", `{"description":"ops key","planId":1,"activeDays":10}`, auth)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	key := created["key"].(string)
	assert.True(t, strings.HasPrefix(key, "sk_"))

	w = f.request(http.MethodPost, "/admin/keys/"+key+"/plan", `{"planId":2}`, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["pricingPlanId"])

	w = f.request(http.MethodDelete, "/admin/keys/"+key, "", auth)
	require.Equal(t, http.StatusOK, w.Code)

	// Revoked keys are indistinguishable from unknown ones.
	w = f.request(http.MethodGet, "/api/payment/key/"+key, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.request(http.MethodDelete, "/admin/keys/sk_missing", "", auth)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminShardConfigRoundTrip(t *testing.T) {
	f := newAPIFixture(t, "hunter2")
	auth := map[string]string{"X-Admin-Password": "hunter2"}

	// Nothing stored yet.
	w := f.request(http.MethodGet, "/config/shards", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.request(http.MethodPut, "/admin/shards",
		`{"version":1,"shards":[{"id":2,"url":"http://shard-even"},{"id":3,"url":"http://shard-odd"}]}`, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.request(http.MethodGet, "/config/shards", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cfg := decode(t, w)
	assert.Equal(t, float64(1), cfg["version"])
	assert.Len(t, cfg["shards"].([]any), 2)

	// Incomplete partition never becomes the stored revision.
	w = f.request(http.MethodPut, "/admin/shards", `{"version":2,"shards":[{"id":2,"url":"http://half"}]}`, auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.request(http.MethodGet, "/config/shards", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["version"])
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t, "")

	aggregator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(aggregator.Close)

	holder := routing.NewHolder()
	table, err := routing.Build(&entities.ShardConfig{
		Version: 1,
		Shards:  []entities.ShardInfo{{ID: 1, URL: aggregator.URL}},
	})
	require.NoError(t, err)
	holder.Store(table)

	health := NewHealthHandler(usecases.NewHealthUsecase(f.db, holder, aggregator.Client()))
	f.engine.GET("/health", health.Health)

	w := f.request(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, "ok", out["database"])
	assert.Equal(t, "ok", out["aggregators"].(map[string]any)[aggregator.URL])

	// A dead aggregator flips the whole report.
	aggregator.Close()
	w = f.request(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	out = decode(t, w)
	assert.Equal(t, "unhealthy", out["status"])
	assert.Contains(t, out["aggregators"].(map[string]any)[aggregator.URL], "unreachable")
}
