// Package market — эвристические интерпретационные срезы поверх живых
// снапшотов: режим рынка и пиллары SuperCard. Наружу уходят только
// бакеты и драйверы, формулы не раскрываются.
package market

import (
	"context"
	"fmt"

	"github.com/eventedge/hypepipe/internal/snapshots"
)

const regimeVersion = "v0.2-live"

// ---------------------------------------------------------------------------
// Хелперы
// ---------------------------------------------------------------------------

func payloadOf(ctx context.Context, r snapshots.Reader, key string) map[string]any {
	snap, err := r.GetSnapshot(ctx, key)
	if err != nil || snap == nil {
		return nil
	}
	return snap.Payload
}

// fearGreed читает текущее значение Fear & Greed из снапшота altme.
func fearGreed(ctx context.Context, r snapshots.Reader) (*int, string) {
	payload := payloadOf(ctx, r, "altme:fear_greed")
	if payload == nil {
		return nil, ""
	}
	data, _ := payload["data"].([]any)
	if len(data) == 0 {
		return nil, ""
	}
	row, _ := data[0].(map[string]any)
	if row == nil {
		return nil, ""
	}
	v := snapshots.Num(row["value"])
	if v == nil {
		return nil, ""
	}
	iv := int(*v)
	label, _ := row["value_classification"].(string)
	return &iv, label
}

func bucket(x *float64, lo, hi float64, labels [3]string) string {
	if x == nil {
		return labels[1]
	}
	if *x <= lo {
		return labels[0]
	}
	if *x >= hi {
		return labels[2]
	}
	return labels[1]
}

func regimeConfidence(partsOK int) string {
	if partsOK >= 4 {
		return "high"
	}
	if partsOK >= 2 {
		return "medium"
	}
	return "low"
}

// regimeLabel — грубая карта режима. Только бакеты, без формул.
func regimeLabel(trendBkt, volBkt, levBkt, liqBkt string, fg *int) string {
	// Risk-Off: негативный тренд + перегретое плечо/хрупкость или экстремальный страх
	if trendBkt == "down" && (levBkt == "high" || liqBkt == "tight" || (fg != nil && *fg <= 25)) {
		return "Risk-Off"
	}
	// Trend: выраженное направленное движение + не-пилящая волатильность
	if (trendBkt == "up" || trendBkt == "down") && volBkt != "chop" {
		return "Trend"
	}
	// Risk-On: рост + нет экстремального страха + плечо не перегрето
	if trendBkt == "up" && levBkt != "high" && !(fg != nil && *fg <= 25) {
		return "Risk-On"
	}
	// По умолчанию: пила/рейндж
	return "Chop"
}

// ---------------------------------------------------------------------------
// Public API
// ---------------------------------------------------------------------------

// BuildRegime собирает классификацию режима по BTC-снапшотам:
// лейбл + 4 оси + 3 драйвера. Поле "ts" заполняет вызывающий.
func BuildRegime(ctx context.Context, r snapshots.Reader) map[string]any {
	// ---- снапшоты (BTC) ----
	pricePayload := payloadOf(ctx, r, "coingecko:price_simple:usd:bitcoin")
	oiPayload := payloadOf(ctx, r, "coinglass:open_interest:BTC")
	fundingPayload := payloadOf(ctx, r, "coinglass:oi_weighted_funding:BTC")
	liqPayload := payloadOf(ctx, r, "coinglass:liquidations:BTC")

	partsOK := 0

	// ---- сигналы ----
	var price, chg24 *float64
	if pricePayload != nil {
		price, chg24 = snapshots.ExtractPrice(pricePayload)
	}
	if chg24 != nil {
		partsOK++
	}

	var fundingPct *float64
	if fundingPayload != nil {
		fundingPct = snapshots.ExtractFunding(fundingPayload)
	}
	if fundingPct != nil {
		partsOK++
	}

	var oi snapshots.OpenInterest
	if oiPayload != nil {
		oi = snapshots.ExtractOI(oiPayload)
	}
	if oi.OIChange24h != nil {
		partsOK++
	}

	var liq snapshots.Liquidations
	if liqPayload != nil {
		liq = snapshots.ExtractLiquidations(liqPayload)
	}
	if liq.TotalUSD != nil {
		partsOK++
	}

	fg, _ := fearGreed(ctx, r)

	// ---- оси (простые бакеты) ----

	// Trend: по изменению цены за 24ч
	var trendLabel, trendBkt string
	switch {
	case chg24 == nil:
		trendLabel, trendBkt = "—", "flat"
	case *chg24 >= 1.0:
		trendLabel, trendBkt = "Up", "up"
	case *chg24 <= -1.0:
		trendLabel, trendBkt = "Down", "down"
	default:
		trendLabel, trendBkt = "Flat", "flat"
	}

	// Volatility: сумма ликвидаций как прокси «шоковости»
	volBkt := bucket(liq.TotalUSD, 25_000_000.0, 120_000_000.0, [3]string{"calm", "chop", "shock"})
	volLabel := map[string]string{"calm": "Calm", "chop": "Chop", "shock": "Shock"}[volBkt]

	// Leverage: funding как намек на crowding
	levBkt := bucket(fundingPct, -0.02, 0.10, [3]string{"low", "neutral", "high"})
	levLabel := map[string]string{"low": "Light", "neutral": "Normal", "high": "Crowded"}[levBkt]

	// Liquidity: перекос ликвидаций как прокси хрупкости
	liqBkt := "normal"
	if liq.LongPct != nil {
		if *liq.LongPct >= 70 {
			liqBkt = "tight"
		} else if *liq.LongPct <= 40 {
			liqBkt = "loose"
		}
	}
	liqLabel := map[string]string{"loose": "Loose", "normal": "Normal", "tight": "Tight"}[liqBkt]

	// ---- режим + драйверы ----
	label := regimeLabel(trendBkt, volBkt, levBkt, liqBkt, fg)
	conf := regimeConfidence(partsOK)

	drivers := make([]string, 0, 3)
	if chg24 != nil && price != nil {
		drivers = append(drivers, fmt.Sprintf("BTC %s • %s 24h (trend axis)",
			snapshots.FmtUSD(price), snapshots.FmtPct(chg24, 2)))
	}
	if fundingPct != nil {
		drivers = append(drivers, fmt.Sprintf("Funding %s (crowding proxy)",
			snapshots.FmtPct(fundingPct, 3)))
	}
	if liq.TotalUSD != nil && liq.LongPct != nil {
		drivers = append(drivers, fmt.Sprintf("Liqs %s • %s long (fragility proxy)",
			snapshots.FmtUSD(liq.TotalUSD), snapshots.FmtPctUnsigned(liq.LongPct, 0)))
	}
	if fg != nil {
		drivers = append(drivers, fmt.Sprintf("Fear & Greed %d (sentiment context)", *fg))
	}
	for len(drivers) < 3 {
		drivers = append(drivers, "—")
	}
	drivers = drivers[:3]

	return map[string]any{
		"ts":      nil, // заполняет вызывающий
		"version": regimeVersion,
		"regime":  map[string]any{"label": label, "confidence": conf, "since": nil},
		"axes": []map[string]any{
			{"key": "trend", "label": "Trend", "value": trendLabel},
			{"key": "volatility", "label": "Volatility", "value": volLabel},
			{"key": "leverage", "label": "Leverage", "value": levLabel},
			{"key": "liquidity", "label": "Liquidity", "value": liqLabel},
		},
		"drivers": drivers,
		"disclaimer": "Heuristic regime classifier derived from live snapshots. " +
			"Outputs are buckets and drivers (no model disclosure).",
	}
}
