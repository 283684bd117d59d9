package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/investbot/internal/broker"
	"github.com/vadiminshakov/investbot/internal/domain"
	"github.com/vadiminshakov/investbot/internal/storage/filekv"
)

func TestInFlightTradeCannotRestoreLoggedOutSession(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() { close(entered) })
		<-release
		w.Header().Add("Set-Cookie", "ssid=s2; Path=/; HttpOnly")
		_, _ = io.WriteString(w, `{"success":true,"result":{"id":7}}`)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "session.json")
	kv, err := filekv.New(path)
	require.NoError(t, err)
	require.NoError(t, kv.Set(TokenKey, "tok"))
	require.NoError(t, kv.Set(SessionIDKey, "s1"))

	client := broker.New(srv.URL, zap.NewNop())
	store, err := New(kv, &fakeAuth{}, nil)
	require.NoError(t, err)
	client.Attach(store)

	placed := make(chan error, 1)
	go func() {
		_, err := client.PlaceTrade(context.Background(), domain.TradeRequest{
			Direction:     domain.DirectionCall,
			Stake:         decimal.NewFromInt(10),
			Asset:         "EURUSD",
			ExpirySeconds: 60,
		})
		placed <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("trade never reached the broker")
	}

	require.NoError(t, store.Logout(context.Background()))
	close(release)
	require.NoError(t, <-placed)

	assert.False(t, store.IsAuthenticated())

	reopened, err := filekv.New(path)
	require.NoError(t, err)
	fresh, err := New(reopened, &fakeAuth{}, nil)
	require.NoError(t, err)
	assert.False(t, fresh.IsAuthenticated())
}
