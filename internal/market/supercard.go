package market

import (
	"context"
	"fmt"
	"strings"

	"github.com/eventedge/hypepipe/internal/snapshots"
)

// pillarStatus переводит бакет в статус пиллара.
func pillarStatus(bucket string) string {
	switch bucket {
	case "high":
		return "positive"
	case "low":
		return "negative"
	default:
		return "neutral"
	}
}

func cardConfidence(partsOK int) string {
	if partsOK >= 5 {
		return "high"
	}
	if partsOK >= 3 {
		return "medium"
	}
	return "low"
}

// stance — грубый лейбл позиционирования. Интерпретационный слой,
// не раскрытая модель.
func stance(chg24 *float64, fg *int, fundingPct, liqLongPct *float64) string {
	if fg != nil && *fg <= 25 && chg24 != nil && *chg24 < 0 {
		return "cautious"
	}
	if fundingPct != nil && *fundingPct >= 0.10 && liqLongPct != nil && *liqLongPct >= 70 {
		return "crowded-longs"
	}
	if chg24 != nil && *chg24 > 1.0 {
		return "risk-on"
	}
	return "neutral"
}

// BuildSuperCard заполняет шесть пилларов значениями из живых снапшотов.
// Каждый пиллар деградирует в "—", если его снапшот отсутствует.
func BuildSuperCard(ctx context.Context, r snapshots.Reader, symbol string) map[string]any {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym != "BTC" && sym != "ETH" {
		sym = "BTC"
	}
	cgID := "bitcoin"
	if sym == "ETH" {
		cgID = "ethereum"
	}

	// ---- снапшоты ----
	pricePayload := payloadOf(ctx, r, "coingecko:price_simple:usd:"+cgID)
	fundingPayload := payloadOf(ctx, r, "coinglass:oi_weighted_funding:"+sym)
	oiPayload := payloadOf(ctx, r, "coinglass:open_interest:"+sym)
	liqPayload := payloadOf(ctx, r, "coinglass:liquidations:"+sym)
	globalPayload := payloadOf(ctx, r, "coingecko:global")

	// ---- сигналы ----
	var price, chg24 *float64
	if pricePayload != nil {
		price, chg24 = snapshots.ExtractPrice(pricePayload)
	}
	var fundingPct *float64
	if fundingPayload != nil {
		fundingPct = snapshots.ExtractFunding(fundingPayload)
	}
	var oi snapshots.OpenInterest
	if oiPayload != nil {
		oi = snapshots.ExtractOI(oiPayload)
	}
	var liq snapshots.Liquidations
	if liqPayload != nil {
		liq = snapshots.ExtractLiquidations(liqPayload)
	}
	var glob snapshots.GlobalMarket
	if globalPayload != nil {
		glob = snapshots.ExtractGlobal(globalPayload)
	}

	fgVal, fgLabel := fearGreed(ctx, r)

	// ---- пиллары ----
	partsOK := 0
	neutral := [3]string{"low", "neutral", "high"}

	// Flow: интенсивность ликвидаций + глобальный объем как прокси давления
	flowBkt := bucket(liq.TotalUSD, 25_000_000.0, 120_000_000.0, neutral)
	hasFlow := liq.TotalUSD != nil || glob.TotalVolUSD != nil
	flowValue := "—"
	if hasFlow {
		flowValue = fmt.Sprintf("%s liqs / %s vol",
			snapshots.FmtUSD(liq.TotalUSD), snapshots.FmtUSD(glob.TotalVolUSD))
		partsOK++
	}
	flow := pillar("flow", "Flow", flowValue, pillarStatus(flowBkt), "pressure proxy (liqs/volume)")

	// Leverage: OI + funding
	levBkt := bucket(fundingPct, -0.02, 0.10, neutral)
	hasLev := oi.OIUSD != nil || fundingPct != nil
	levValue := "—"
	if hasLev {
		levValue = fmt.Sprintf("%s OI • %s funding",
			snapshots.FmtUSD(oi.OIUSD), snapshots.FmtPct(fundingPct, 3))
		partsOK++
	}
	leverage := pillar("leverage", "Leverage", levValue, pillarStatus(levBkt), "OI + funding stress")

	// Fragility: перекос ликвидаций
	fragBkt := bucket(liq.LongPct, 40.0, 70.0, neutral)
	hasFrag := liq.LongPct != nil && liq.ShortPct != nil
	fragValue := "—"
	if hasFrag {
		fragValue = fmt.Sprintf("%s long / %s short",
			snapshots.FmtPctUnsigned(liq.LongPct, 0), snapshots.FmtPctUnsigned(liq.ShortPct, 0))
		partsOK++
	}
	fragility := pillar("fragility", "Fragility", fragValue, pillarStatus(fragBkt), "liq imbalance + spikes")

	// Momentum: цена + изменение за 24ч
	momBkt := bucket(chg24, -1.0, 1.0, neutral)
	hasMom := price != nil || chg24 != nil
	momValue := "—"
	if hasMom {
		momValue = fmt.Sprintf("%s • %s 24h",
			snapshots.FmtUSD(price), snapshots.FmtPct(chg24, 2))
		partsOK++
	}
	momentum := pillar("momentum", "Momentum", momValue, pillarStatus(momBkt), "trend + volatility")

	// Sentiment: fear & greed
	sentBkt := "neutral"
	if fgVal != nil {
		if *fgVal <= 25 {
			sentBkt = "low"
		} else if *fgVal >= 60 {
			sentBkt = "high"
		}
	}
	sentValue := "—"
	if fgVal != nil {
		if fgLabel != "" {
			sentValue = fmt.Sprintf("%d — %s", *fgVal, fgLabel)
		} else {
			sentValue = fmt.Sprintf("%d", *fgVal)
		}
		partsOK++
	}
	sentiment := pillar("sentiment", "Sentiment", sentValue, pillarStatus(sentBkt), "fear/greed index")

	// Risk: изменение OI + доминация BTC
	riskBkt := bucket(oi.OIChange24h, -2.0, 2.0, neutral)
	hasRisk := oi.OIChange24h != nil || glob.BTCDominance != nil
	riskValue := "—"
	if hasRisk {
		riskValue = fmt.Sprintf("OI %s • BTC dom %s",
			snapshots.FmtPct(oi.OIChange24h, 2), snapshots.FmtPct(glob.BTCDominance, 1))
		partsOK++
	}
	risk := pillar("risk", "Risk", riskValue, pillarStatus(riskBkt), "regime + confidence")

	// ---- резюме ----
	notes := make([]string, 0, 3)
	if fundingPct != nil {
		notes = append(notes, "Funding reflects positioning pressure (crowding proxy).")
	}
	if liq.TotalUSD != nil {
		notes = append(notes, "Liquidations help gauge fragility and forced flow.")
	}
	if fgVal != nil {
		notes = append(notes, "Sentiment adds a behavioral context layer.")
	}
	for len(notes) < 3 {
		notes = append(notes, "—")
	}
	notes = notes[:3]

	return map[string]any{
		"ts":      nil, // заполняет вызывающий
		"symbol":  sym,
		"version": regimeVersion,
		"summary": map[string]any{
			"headline":   sym + " SuperCard",
			"stance":     stance(chg24, fgVal, fundingPct, liq.LongPct),
			"confidence": cardConfidence(partsOK),
			"notes":      notes,
		},
		"pillars": []map[string]any{flow, leverage, fragility, momentum, sentiment, risk},
		"disclaimer": "Interpretation signals derived from live snapshots. " +
			"Values are intentionally high-level (no methodology disclosed).",
	}
}

func pillar(key, label, value, status, hint string) map[string]any {
	return map[string]any{
		"key":    key,
		"label":  label,
		"value":  value,
		"status": status,
		"hint":   hint,
	}
}
