package caps

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventedge/hypepipe/internal/snapshots"
)

type mapReader map[string]map[string]any

func (m mapReader) GetSnapshot(ctx context.Context, key string) (*snapshots.Snapshot, error) {
	payload, ok := m[key]
	if !ok {
		return nil, nil
	}
	return &snapshots.Snapshot{
		Payload:   payload,
		UpdatedAt: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}, nil
}

type errReader struct{}

func (errReader) GetSnapshot(ctx context.Context, key string) (*snapshots.Snapshot, error) {
	return nil, errors.New("pool exhausted")
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 25, 15, 30, 0, 0, time.UTC)
}

func TestAssetSnapshot_Live(t *testing.T) {
	r := mapReader{
		"coingecko:price_simple:usd:bitcoin": {
			"data": map[string]any{"price": 68819.0, "change_24h": -2.06},
		},
	}
	h := AssetSnapshot(r, fixedNow)

	res, err := h(context.Background(), map[string]any{"asset": "btc"})
	require.NoError(t, err)
	assert.False(t, res.Degraded())
	assert.Equal(t, "BTC", res.Payload["asset"])
	assert.Equal(t, 68819.0, *res.Payload["price"].(*float64))
	assert.Equal(t, "2026-08-25T12:00:00Z", res.AsOf, "asof comes from the snapshot, not the clock")
}

func TestAssetSnapshot_DefaultsToBTC(t *testing.T) {
	r := mapReader{
		"coingecko:price_simple:usd:bitcoin": {
			"data": map[string]any{"price": 68819.0},
		},
	}
	h := AssetSnapshot(r, fixedNow)

	res, err := h(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "BTC", res.Payload["asset"])
}

func TestAssetSnapshot_ETHAlias(t *testing.T) {
	r := mapReader{
		"coingecko:price_simple:usd:ethereum": {
			"data": map[string]any{"price": 3500.0},
		},
	}
	h := AssetSnapshot(r, fixedNow)

	res, err := h(context.Background(), map[string]any{"asset": "ETH"})
	require.NoError(t, err)
	assert.Equal(t, "ETH", res.Payload["asset"])
	assert.NotNil(t, res.Payload["price"])
}

func TestAssetSnapshot_StubWhenMissing(t *testing.T) {
	h := AssetSnapshot(mapReader{}, fixedNow)

	res, err := h(context.Background(), map[string]any{"asset": "BTC"})
	require.NoError(t, err, "missing dataset is degradation, not failure")
	assert.True(t, res.Degraded())
	assert.Equal(t, "stub", res.Payload["note"])
	assert.Equal(t, "2026-08-25T15:30:00Z", res.AsOf, "stub asof is synthesized from the clock")
}

func TestAssetSnapshot_StoreError(t *testing.T) {
	h := AssetSnapshot(errReader{}, fixedNow)

	_, err := h(context.Background(), map[string]any{"asset": "BTC"})
	assert.Error(t, err, "store failures must surface, unlike absent datasets")
}

func TestMacroRegime_SetsTimestamp(t *testing.T) {
	h := MacroRegime(mapReader{}, fixedNow)

	res, err := h(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-25T15:30:00Z", res.AsOf)
	assert.Equal(t, "2026-08-25T15:30:00Z", res.Payload["ts"])
	assert.NotNil(t, res.Payload["regime"])
}

func TestMacroPillars_PassesSymbol(t *testing.T) {
	h := MacroPillars(mapReader{}, fixedNow)

	res, err := h(context.Background(), map[string]any{"asset": "eth"})
	require.NoError(t, err)
	assert.Equal(t, "ETH", res.Payload["symbol"])
	assert.Equal(t, "2026-08-25T15:30:00Z", res.Payload["ts"])
}
