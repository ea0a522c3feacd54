// Package caps — реализации способностей шлюза. Каждый хендлер читает
// живые снапшоты и никогда не возвращает ошибку из-за их отсутствия:
// вместо этого отдается заглушка с пометкой note.
package caps

import (
	"context"
	"strings"
	"time"

	"github.com/eventedge/hypepipe/internal/domain"
	"github.com/eventedge/hypepipe/internal/engine"
	"github.com/eventedge/hypepipe/internal/market"
	"github.com/eventedge/hypepipe/internal/snapshots"
)

// Известные алиасы тикеров -> coingecko id.
var cgIDs = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
}

func normAsset(input map[string]any) (sym, cgID string) {
	sym = "BTC"
	if raw, ok := input["asset"].(string); ok && strings.TrimSpace(raw) != "" {
		sym = strings.ToUpper(strings.TrimSpace(raw))
	}
	cgID, ok := cgIDs[sym]
	if !ok {
		// Неизвестный тикер пробуем как готовый coingecko id
		cgID = strings.ToLower(sym)
	}
	return sym, cgID
}

// AssetSnapshot — core.asset.snapshot: цена и суточное изменение.
func AssetSnapshot(r snapshots.Reader, now func() time.Time) engine.Handler {
	return func(ctx context.Context, input map[string]any) (*domain.CapResult, error) {
		sym, cgID := normAsset(input)

		snap, err := r.GetSnapshot(ctx, "coingecko:price_simple:usd:"+cgID)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			// Датасет еще не собран: деградируем, но отвечаем
			asOf := now().UTC().Format(time.RFC3339)
			return &domain.CapResult{
				Payload: map[string]any{
					"asset": sym,
					"note":  "stub",
					"asof":  asOf,
				},
				AsOf: asOf,
				Note: "snapshot missing, stub payload",
			}, nil
		}

		price, chg24 := snapshots.ExtractPrice(snap.Payload)
		asOf := snap.UpdatedAt.UTC().Format(time.RFC3339)
		return &domain.CapResult{
			Payload: map[string]any{
				"asset":      sym,
				"price":      price,
				"change_24h": chg24,
				"asof":       asOf,
			},
			AsOf: asOf,
		}, nil
	}
}

// MacroRegime — macro.regime: эвристическая классификация режима рынка.
func MacroRegime(r snapshots.Reader, now func() time.Time) engine.Handler {
	return func(ctx context.Context, input map[string]any) (*domain.CapResult, error) {
		asOf := now().UTC().Format(time.RFC3339)
		payload := market.BuildRegime(ctx, r)
		payload["ts"] = asOf
		return &domain.CapResult{Payload: payload, AsOf: asOf}, nil
	}
}

// MacroPillars — macro.pillars: SuperCard с шестью пилларами по активу.
func MacroPillars(r snapshots.Reader, now func() time.Time) engine.Handler {
	return func(ctx context.Context, input map[string]any) (*domain.CapResult, error) {
		sym := "BTC"
		if raw, ok := input["asset"].(string); ok && strings.TrimSpace(raw) != "" {
			sym = raw
		}
		asOf := now().UTC().Format(time.RFC3339)
		payload := market.BuildSuperCard(ctx, r, sym)
		payload["ts"] = asOf
		return &domain.CapResult{Payload: payload, AsOf: asOf}, nil
	}
}
