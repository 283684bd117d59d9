package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/investbot/internal/domain"
	"github.com/vadiminshakov/investbot/internal/robot"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSession struct {
	mu     sync.Mutex
	authed bool
}

func (f *fakeSession) Login(_ context.Context, req domain.LoginRequest) (domain.User, error) {
	if req.Password != "secret" {
		return domain.User{}, &domain.AuthError{Message: "Invalid email or password"}
	}
	f.mu.Lock()
	f.authed = true
	f.mu.Unlock()
	return domain.User{ID: "1", Email: req.Email, Name: req.Email, Balance: decimal.NewFromInt(5)}, nil
}

func (f *fakeSession) Logout(context.Context) error {
	f.mu.Lock()
	f.authed = false
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) IsAuthenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authed
}

type stubBroker struct {
	balance int64
}

func (b *stubBroker) PlaceTrade(_ context.Context, req domain.TradeRequest) (domain.TradeAck, error) {
	return domain.TradeAck{ID: "id-" + req.Direction.Wire()}, nil
}

func (b *stubBroker) FetchTradeResult(_ context.Context, id string) (domain.TradeResult, error) {
	return domain.TradeResult{TradeID: id, Outcome: domain.OutcomeWin}, nil
}

func (b *stubBroker) FetchBalance(context.Context) domain.Balance {
	return domain.Balance{Amount: decimal.NewFromInt(b.balance), Currency: "USD"}
}

func (b *stubBroker) FetchAssets(context.Context) []domain.Asset {
	return domain.DefaultAssets()
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestServer(t *testing.T, balance int64, authed bool) (*Server, *robot.Robot) {
	t.Helper()
	r := robot.New(&stubBroker{balance: balance}, nil, nil, zap.NewNop(), robot.Timings{Cooldown: time.Hour})
	t.Cleanup(func() {
		r.Stop()
		r.Wait()
	})
	return NewServer(":0", &fakeSession{authed: authed}, r, zap.NewNop()), r
}

func do(t *testing.T, s *Server, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestLogin(t *testing.T) {
	s, _ := newTestServer(t, 100, false)

	code, env := do(t, s, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Email: "a@b.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "Invalid email or password", env.Error.Message)

	code, env = do(t, s, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Email: "a@b.com", Password: "secret"})
	require.Equal(t, http.StatusOK, code)
	var login loginResponse
	require.NoError(t, json.Unmarshal(env.Data, &login))
	assert.True(t, login.Success)
	assert.Equal(t, "a@b.com", login.User.Email)
	assert.True(t, login.User.Balance.Equal(decimal.NewFromInt(5)))

	_, env = do(t, s, http.MethodGet, "/api/v1/auth/session", nil)
	assert.JSONEq(t, `{"authenticated":true}`, string(env.Data))

	_, env = do(t, s, http.MethodPost, "/api/v1/auth/logout", nil)
	assert.JSONEq(t, `{"authenticated":false}`, string(env.Data))
}

func TestPrivateRoutesRequireSession(t *testing.T) {
	s, _ := newTestServer(t, 100, false)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/balance"},
		{http.MethodGet, "/api/v1/robot"},
		{http.MethodPost, "/api/v1/robot/start"},
		{http.MethodGet, "/api/v1/trades"},
	} {
		code, env := do(t, s, route.method, route.path, nil)
		assert.Equal(t, http.StatusUnauthorized, code, route.path)
		assert.Equal(t, "UNAUTHORIZED", env.Error.Code, route.path)
	}
}

func TestStartWithInsufficientBalance(t *testing.T) {
	s, r := newTestServer(t, 10, true)

	code, env := do(t, s, http.MethodPost, "/api/v1/robot/start", map[string]any{"stake": "5", "call_count": 1, "put_count": 2})

	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "INSUFFICIENT_BALANCE", env.Error.Code)
	assert.Equal(t, robot.StateIdle, r.State())
}

func TestStartInvalidConfig(t *testing.T) {
	s, _ := newTestServer(t, 1000, true)

	code, env := do(t, s, http.MethodPut, "/api/v1/robot/config", map[string]any{"call_count": 0, "put_count": 0})

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
}

func TestStartStopAndTrades(t *testing.T) {
	s, r := newTestServer(t, 1000, true)

	code, env := do(t, s, http.MethodPut, "/api/v1/robot/config", map[string]any{"call_count": 1, "put_count": 1, "asset": "GBPUSD"})
	require.Equal(t, http.StatusOK, code)
	var view robotView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "GBPUSD", view.Config.Asset)
	assert.Equal(t, robot.StateIdle, view.State)

	code, _ = do(t, s, http.MethodPost, "/api/v1/robot/start", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = do(t, s, http.MethodPost, "/api/v1/robot/start", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	require.Eventually(t, func() bool { return r.Counters().Run == 1 }, 5*time.Second, 5*time.Millisecond)

	code, _ = do(t, s, http.MethodPost, "/api/v1/robot/stop", nil)
	require.Equal(t, http.StatusOK, code)
	r.Wait()

	_, env = do(t, s, http.MethodGet, "/api/v1/trades?limit=1", nil)
	var trades []domain.TradeRecord
	require.NoError(t, json.Unmarshal(env.Data, &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, "id-call", trades[0].ID)

	code, env = do(t, s, http.MethodPost, "/api/v1/trades/id-put/resolve", nil)
	require.Equal(t, http.StatusOK, code)
	var rec domain.TradeRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, domain.OutcomeWin, rec.Outcome)

	code, _ = do(t, s, http.MethodPost, "/api/v1/trades/unknown/resolve", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, s, http.MethodGet, "/api/v1/trades?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDashboard(t *testing.T) {
	s, _ := newTestServer(t, 250, true)

	code, env := do(t, s, http.MethodGet, "/api/v1/dashboard", nil)

	require.Equal(t, http.StatusOK, code)
	var view dashboardView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.True(t, view.Balance.Amount.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, domain.DefaultAssets(), view.Assets)
	assert.Equal(t, robot.StateIdle, view.Robot.State)
	assert.Equal(t, 2, view.Robot.Config.CallCount)
	assert.Empty(t, view.Trades)
}
