package persistence

import (
	"testing"
	"time"

	"binance-grid-trader-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) StateRepository {
	t.Helper()
	repo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func sampleState(symbol string) *models.StrategyState {
	positionStart := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	return &models.StrategyState{
		Symbol:  symbol,
		Version: 1,
		Position: models.PositionState{
			LongPosition:   0.5,
			ShortPosition:  0.2,
			InitialEquity:  10000,
			InitialSet:     true,
			MaxEquity:      10250,
			DailyPnl:       -12.5,
			LastDailyReset: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			PositionStart:  &positionStart,
			HighestPrice:   105.5,
		},
		PriceHistory:   []float64{100, 101, 99.5},
		RealizedProfit: 42.75,
		LastUpdateTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// TestSaveAndLoadStateRoundTrip verifies that a saved state comes back intact.
func TestSaveAndLoadStateRoundTrip(t *testing.T) {
	repo := newTestRepository(t)

	state := sampleState("BTCUSDT")
	require.NoError(t, repo.SaveState(state))

	loaded, err := repo.LoadState("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, "BTCUSDT", loaded.Symbol)
	assert.Equal(t, 1, loaded.Version)
	assert.Equal(t, 0.5, loaded.Position.LongPosition)
	assert.Equal(t, 0.2, loaded.Position.ShortPosition)
	assert.True(t, loaded.Position.InitialSet)
	assert.Equal(t, 10000.0, loaded.Position.InitialEquity)
	assert.Equal(t, -12.5, loaded.Position.DailyPnl)
	assert.Equal(t, 105.5, loaded.Position.HighestPrice)
	require.NotNil(t, loaded.Position.PositionStart)
	assert.True(t, loaded.Position.PositionStart.Equal(*state.Position.PositionStart))
	assert.Equal(t, []float64{100, 101, 99.5}, loaded.PriceHistory)
	assert.Equal(t, 42.75, loaded.RealizedProfit)
	assert.True(t, loaded.LastUpdateTime.Equal(state.LastUpdateTime))
}

// TestLoadStateMissingSymbol verifies the "no state found" case returns (nil, nil).
func TestLoadStateMissingSymbol(t *testing.T) {
	repo := newTestRepository(t)

	loaded, err := repo.LoadState("ETHUSDT")
	assert.NoError(t, err)
	assert.Nil(t, loaded)
}

// TestSaveStateOverwritesPrevious verifies that repeated saves keep only the latest state.
func TestSaveStateOverwritesPrevious(t *testing.T) {
	repo := newTestRepository(t)

	first := sampleState("BTCUSDT")
	require.NoError(t, repo.SaveState(first))

	second := sampleState("BTCUSDT")
	second.RealizedProfit = 99.9
	second.Position.LongPosition = 1.5
	require.NoError(t, repo.SaveState(second))

	loaded, err := repo.LoadState("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 99.9, loaded.RealizedProfit)
	assert.Equal(t, 1.5, loaded.Position.LongPosition)
}

// TestStatesAreKeyedPerSymbol verifies that one database can hold independent states.
func TestStatesAreKeyedPerSymbol(t *testing.T) {
	repo := newTestRepository(t)

	btc := sampleState("BTCUSDT")
	eth := sampleState("ETHUSDT")
	eth.RealizedProfit = -7.25

	require.NoError(t, repo.SaveState(btc))
	require.NoError(t, repo.SaveState(eth))

	loadedBtc, err := repo.LoadState("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, loadedBtc)
	assert.Equal(t, 42.75, loadedBtc.RealizedProfit)

	loadedEth, err := repo.LoadState("ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, loadedEth)
	assert.Equal(t, -7.25, loadedEth.RealizedProfit)
}

// TestStateSurvivesReopen verifies that state persists across a close/reopen cycle.
func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	repo, err := NewBadgerRepository(dir)
	require.NoError(t, err)
	require.NoError(t, repo.SaveState(sampleState("BTCUSDT")))
	require.NoError(t, repo.Close())

	reopened, err := NewBadgerRepository(dir)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadState("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "BTCUSDT", loaded.Symbol)
	assert.Equal(t, 42.75, loaded.RealizedProfit)
}
