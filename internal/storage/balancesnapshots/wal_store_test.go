package balancesnapshots

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/investbot/internal/domain"
)

func snapshot(amount int64) domain.BalanceSnapshot {
	return domain.NewBalanceSnapshot(time.Now(), domain.Balance{Amount: decimal.NewFromInt(amount), Currency: "USD"})
}

func TestSaveAndReadAfter(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	first, err := store.Save(snapshot(100))
	require.NoError(t, err)
	second, err := store.Save(snapshot(90))
	require.NoError(t, err)
	assert.Greater(t, second.Index, first.Index)
	assert.Equal(t, second.Index, store.CurrentIndex())

	all, err := store.SnapshotsAfter(0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "100", all[0].Snapshot.Amount)
	assert.Equal(t, "90", all[1].Snapshot.Amount)

	tail, err := store.SnapshotsAfter(first.Index)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, second.Index, tail[0].Index)

	none, err := store.SnapshotsAfter(second.Index)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewWALStore(dir)
	require.NoError(t, err)
	_, err = store.Save(snapshot(42))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.SnapshotsAfter(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "42", records[0].Snapshot.Amount)
}

func TestSaveRequiresCurrency(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Save(domain.BalanceSnapshot{Amount: "1"})
	assert.Error(t, err)
}
