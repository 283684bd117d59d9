package broker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/investbot/internal/domain"
)

type staticCreds struct {
	mu      sync.Mutex
	cred    domain.Credential
	rotated []string
}

func (s *staticCreds) Current() (domain.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred, !s.cred.IsZero()
}

func (s *staticCreds) UpdateSessionID(_ domain.Credential, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred.SessionID = id
	s.rotated = append(s.rotated, id)
	return nil
}

// stubBroker answers by path and records every hit in order.
type stubBroker struct {
	mu       sync.Mutex
	hits     []string
	bodies   []string
	headers  []http.Header
	handlers map[string]http.HandlerFunc
}

func newStubBroker(t *testing.T, handlers map[string]http.HandlerFunc) (*stubBroker, *httptest.Server) {
	t.Helper()
	stub := &stubBroker{handlers: handlers}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		stub.mu.Lock()
		stub.hits = append(stub.hits, r.URL.Path)
		stub.bodies = append(stub.bodies, string(body))
		stub.headers = append(stub.headers, r.Header.Clone())
		h, ok := stub.handlers[r.URL.Path]
		stub.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return stub, srv
}

func (s *stubBroker) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hits...)
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func newTestClient(srv *httptest.Server, creds CredentialStore, opts ...Option) *Client {
	c := New(srv.URL, zap.NewNop(), opts...)
	if creds != nil {
		c.Attach(creds)
	}
	return c
}

func authed() *staticCreds {
	return &staticCreds{cred: domain.Credential{Token: "tok", SessionID: "sid"}}
}

func TestStopsAtFirstSuccessfulCandidate(t *testing.T) {
	stub, srv := newStubBroker(t, map[string]http.HandlerFunc{
		"/getProfile": reply(http.StatusInternalServerError, `{"message":"boom"}`),
		"/profile":    reply(http.StatusOK, `{"isSuccessful":false,"message":"nope"}`),
		"/balance":    reply(http.StatusOK, `{"success":true,"data":{"balance":"250.75","currency":"eur"}}`),
		"/getBalance": reply(http.StatusOK, `{"success":true,"data":{"balance":1}}`),
	})
	c := newTestClient(srv, authed())

	balance := c.FetchBalance(context.Background())

	assert.True(t, balance.Amount.Equal(decimal.RequireFromString("250.75")))
	assert.Equal(t, "EUR", balance.Currency)
	assert.False(t, balance.Fallback)
	assert.Equal(t, []string{"/getProfile", "/profile", "/balance"}, stub.paths())
}

func TestRequestCarriesBothCredentials(t *testing.T) {
	stub, srv := newStubBroker(t, map[string]http.HandlerFunc{
		"/getProfile": reply(http.StatusOK, `{"balance":5}`),
	})
	c := newTestClient(srv, authed(), WithUserAgent("investbot-test"))

	c.FetchBalance(context.Background())

	require.Len(t, stub.headers, 1)
	h := stub.headers[0]
	assert.Equal(t, "Bearer tok", h.Get("Authorization"))
	assert.Equal(t, "ssid=sid", h.Get("Cookie"))
	assert.Equal(t, "XMLHttpRequest", h.Get("X-Requested-With"))
	assert.Equal(t, "investbot-test", h.Get("User-Agent"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
}

func TestAuthenticateSuccess(t *testing.T) {
	ok := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Add("Set-Cookie", "ssid=fresh; Path=/; HttpOnly")
		_, _ = io.WriteString(w, `{"isSuccessful":true,"result":{"userId":1,"email":"a@b.com","balance":5}}`)
	}
	stub, srv := newStubBroker(t, map[string]http.HandlerFunc{
		"/login":      ok,
		"/getProfile": ok,
	})
	creds := &staticCreds{}
	c := newTestClient(srv, creds)

	cred, user, err := c.Authenticate(context.Background(), domain.LoginRequest{Email: "a@b.com", Password: "secret"})

	require.NoError(t, err)
	assert.Equal(t, "fresh", cred.SessionID)
	assert.Equal(t, "1", user.ID)
	assert.Equal(t, "a@b.com", user.Email)
	assert.True(t, user.Balance.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, []string{"/login", "/getProfile"}, stub.paths())
	assert.Contains(t, stub.bodies[0], `"platform":"web"`)
	assert.Empty(t, creds.rotated, "login must not touch the stored credential")
}

func TestAuthenticateTokenAndProfileFallback(t *testing.T) {
	_, srv := newStubBroker(t, map[string]http.HandlerFunc{
		"/auth/login": reply(http.StatusOK, `{"success":true,"token":"jwt"}`),
	})
	c := newTestClient(srv, nil)

	cred, user, err := c.Authenticate(context.Background(), domain.LoginRequest{Email: "x@y.z", Password: "p"})

	require.NoError(t, err)
	assert.Equal(t, "jwt", cred.Token)
	assert.Equal(t, defaultUserID, user.ID)
	assert.Equal(t, "x@y.z", user.Email)
	assert.Equal(t, "x@y.z", user.Name)
	assert.True(t, user.Balance.IsZero())
}

func TestAuthenticateRejected(t *testing.T) {
	stub, srv := newStubBroker(t, map[string]http.HandlerFunc{
		"/login":      reply(http.StatusOK, `{"isSuccessful":false,"message":"Invalid email or password"}`),
		"/auth/login": reply(http.StatusUnauthorized, ``),
	})
	c := newTestClient(srv, nil)

	_, _, err := c.Authenticate(context.Background(), domain.LoginRequest{Email: "a@b.com", Password: "bad"})

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Invalid email or password", authErr.Message)
	assert.Equal(t, []string{"/login", "/auth/login", "/login"}, stub.paths())
	assert.NotContains(t, stub.bodies[2], "platform")
}

func TestAuthenticateUnreachable(t *testing.T) {
	_, srv := newStubBroker(t, nil)
	url := srv.URL
	srv.Close()
	c := New(url, zap.NewNop())

	_, _, err := c.Authenticate(context.Background(), domain.LoginRequest{Email: "a@b.com", Password: "p"})

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "cannot reach broker")
}

func TestSessionCookieRotation(t *testing.T) {
	_, srv := newStubBroker(t, map[string]http.HandlerFunc{
		"/getProfile": func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Add("Set-Cookie", "lang=en")
			w.Header().Add("Set-Cookie", "ssid=rotated; Path=/")
			_, _ = io.WriteString(w, `{"balance":3}`)
		},
	})
	creds := authed()
	c := newTestClient(srv, creds)

	c.FetchBalance(context.Background())

	cur, ok := creds.Current()
	require.True(t, ok)
	assert.Equal(t, "rotated", cur.SessionID)
	assert.Equal(t, "tok", cur.Token)
}

func TestFetchBalanceFallbacks(t *testing.T) {
	t.Run("unauthenticated makes no call", func(t *testing.T) {
		stub, srv := newStubBroker(t, nil)
		c := newTestClient(srv, &staticCreds{})

		balance := c.FetchBalance(context.Background())

		assert.True(t, balance.Fallback)
		assert.True(t, balance.Amount.Equal(decimal.NewFromInt(1000)))
		assert.Equal(t, "USD", balance.Currency)
		assert.Empty(t, stub.paths())
	})

	t.Run("all candidates fail", func(t *testing.T) {
		stub, srv := newStubBroker(t, nil)
		c := newTestClient(srv, authed(), WithDefaultBalance(decimal.NewFromInt(50), "EUR"))

		balance := c.FetchBalance(context.Background())

		assert.True(t, balance.Fallback)
		assert.True(t, balance.Amount.Equal(decimal.NewFromInt(50)))
		assert.Equal(t, "EUR", balance.Currency)
		assert.Len(t, stub.paths(), 4)
	})
}

func TestFetchBalanceZeroIsNotFallback(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "zero balance", body: `{"isSuccessful":true,"result":{"balance":0,"currency":"USD"}}`},
		{name: "no balance field", body: `{"isSuccessful":true,"result":{"currency":"USD"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub, srv := newStubBroker(t, map[string]http.HandlerFunc{
				"/getProfile": reply(http.StatusOK, tt.body),
			})
			c := newTestClient(srv, authed())

			balance := c.FetchBalance(context.Background())

			assert.True(t, balance.Amount.IsZero())
			assert.False(t, balance.Fallback)
			assert.Equal(t, "USD", balance.Currency)
			assert.Equal(t, []string{"/getProfile"}, stub.paths())
		})
	}
}

func TestPlaceTrade(t *testing.T) {
	req := domain.TradeRequest{
		Direction:     domain.DirectionPut,
		Stake:         decimal.NewFromInt(10),
		Asset:         "EURUSD",
		ExpirySeconds: 60,
	}

	t.Run("confirmed", func(t *testing.T) {
		stub, srv := newStubBroker(t, map[string]http.HandlerFunc{
			"/trade": reply(http.StatusOK, `{"success":true,"result":{"id":42}}`),
		})
		c := newTestClient(srv, authed())

		ack, err := c.PlaceTrade(context.Background(), req)

		require.NoError(t, err)
		assert.Equal(t, "42", ack.ID)
		assert.False(t, ack.Simulated)
		assert.Equal(t, []string{"/buyOption", "/trade"}, stub.paths())
		assert.Contains(t, stub.bodies[1], `"direction":"put"`)
		assert.Contains(t, stub.bodies[1], `"isDemo":false`)
	})

	t.Run("simulated when nothing confirms", func(t *testing.T) {
		_, srv := newStubBroker(t, nil)
		c := newTestClient(srv, authed())

		ack, err := c.PlaceTrade(context.Background(), req)

		require.NoError(t, err)
		assert.True(t, ack.Simulated)
		assert.NotEmpty(t, ack.ID)
	})

	t.Run("rejection without simulated fills", func(t *testing.T) {
		_, srv := newStubBroker(t, map[string]http.HandlerFunc{
			"/buyOption": reply(http.StatusOK, `{"success":false,"message":"market closed"}`),
		})
		c := newTestClient(srv, authed(), WithSimulatedFills(false))

		_, err := c.PlaceTrade(context.Background(), req)

		var rejected *domain.TradeRejected
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, "market closed", rejected.Message)
	})

	t.Run("timeout without simulated fills", func(t *testing.T) {
		_, srv := newStubBroker(t, map[string]http.HandlerFunc{
			"/buyOption":  slow(200 * time.Millisecond),
			"/trade":      slow(200 * time.Millisecond),
			"/option/buy": slow(200 * time.Millisecond),
			"/api/trade":  slow(200 * time.Millisecond),
		})
		c := newTestClient(srv, authed(), WithSimulatedFills(false), WithTimeouts(20*time.Millisecond, 20*time.Millisecond))

		_, err := c.PlaceTrade(context.Background(), req)

		var timeoutErr *domain.TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.True(t, domain.IsBrokerFailure(err))
	})
}

func slow(d time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
		}
		_, _ = io.WriteString(w, `{"success":true}`)
	}
}

func TestFetchTradeResult(t *testing.T) {
	t.Run("win flag", func(t *testing.T) {
		stub, srv := newStubBroker(t, map[string]http.HandlerFunc{
			"/getOptionResult": reply(http.StatusOK, `{"isSuccessful":true,"result":{"win":true}}`),
		})
		c := newTestClient(srv, authed())

		res, err := c.FetchTradeResult(context.Background(), "17")

		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeWin, res.Outcome)
		assert.False(t, res.Simulated)
		assert.Contains(t, stub.bodies[0], `"optionId":17`)
	})

	t.Run("marker-less body is not a result", func(t *testing.T) {
		_, srv := newStubBroker(t, map[string]http.HandlerFunc{
			"/getOptionResult": reply(http.StatusOK, `{"win":true}`),
		})
		c := newTestClient(srv, authed(), WithCoin(func() bool { return false }))

		res, err := c.FetchTradeResult(context.Background(), "abc")

		require.NoError(t, err)
		assert.True(t, res.Simulated)
		assert.Equal(t, domain.OutcomeLoss, res.Outcome)
	})
}

func TestFetchAssets(t *testing.T) {
	t.Run("mixed items", func(t *testing.T) {
		_, srv := newStubBroker(t, map[string]http.HandlerFunc{
			"/getInitData": reply(http.StatusOK, `{"success":true}`),
			"/assets":      reply(http.StatusOK, `{"success":true,"data":{"assets":["BTCUSD",{"symbol":"EURUSD","name":"Euro"}]}}`),
		})
		c := newTestClient(srv, authed())

		assets := c.FetchAssets(context.Background())

		assert.Equal(t, []domain.Asset{
			{Symbol: "BTCUSD", Name: "BTCUSD"},
			{Symbol: "EURUSD", Name: "Euro"},
		}, assets)
	})

	t.Run("defaults", func(t *testing.T) {
		_, srv := newStubBroker(t, nil)
		c := newTestClient(srv, authed())

		assert.Equal(t, domain.DefaultAssets(), c.FetchAssets(context.Background()))
	})
}

func TestLogoutStopsAtFirstAnswer(t *testing.T) {
	stub, srv := newStubBroker(t, nil)
	c := newTestClient(srv, nil)

	err := c.Logout(context.Background(), domain.Credential{Token: "tok"})

	require.NoError(t, err)
	assert.Equal(t, []string{"/logout"}, stub.paths())
}

func TestSessionIDFromHeader(t *testing.T) {
	h := http.Header{}
	h.Add("Set-Cookie", "a=b")
	_, ok := sessionIDFromHeader(h)
	assert.False(t, ok)

	h.Add("Set-Cookie", "ssid=xyz;Path=/")
	id, ok := sessionIDFromHeader(h)
	require.True(t, ok)
	assert.Equal(t, "xyz", id)
}
