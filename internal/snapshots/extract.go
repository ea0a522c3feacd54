package snapshots

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Форматирование для интерпретационных карточек
// ---------------------------------------------------------------------------

// FmtUSD форматирует сумму в человекочитаемый вид ($43.8B, $63.1M, $68,819).
func FmtUSD(n *float64) string {
	if n == nil {
		return "—"
	}
	v := *n
	switch {
	case math.Abs(v) >= 1_000_000_000:
		return fmt.Sprintf("$%.1fB", v/1_000_000_000)
	case math.Abs(v) >= 1_000_000:
		return fmt.Sprintf("$%.1fM", v/1_000_000)
	case math.Abs(v) >= 1_000:
		return fmt.Sprintf("$%s", withCommas(v, 0))
	default:
		return fmt.Sprintf("$%s", withCommas(v, 2))
	}
}

// FmtPct — процент со знаком (+2.06%, -1.91%).
func FmtPct(p *float64, digits int) string {
	if p == nil {
		return "—"
	}
	sign := ""
	if *p > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.*f%%", sign, digits, *p)
}

// FmtPctUnsigned — процент без форсированного знака (70% long).
func FmtPctUnsigned(p *float64, digits int) string {
	if p == nil {
		return "—"
	}
	return fmt.Sprintf("%.*f%%", digits, *p)
}

// withCommas — разделители тысяч без сторонних зависимостей.
func withCommas(v float64, digits int) string {
	s := fmt.Sprintf("%.*f", digits, v)
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	intPart := s
	fracPart := ""
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			intPart, fracPart = s[:i], s[i:]
			break
		}
	}
	out := make([]byte, 0, len(intPart)+len(intPart)/3)
	for i, c := range []byte(intPart) {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	res := string(out) + fracPart
	if neg {
		res = "-" + res
	}
	return res
}

// ---------------------------------------------------------------------------
// Экстракторы — под фактические формы payload в edge_dataset_registry
// ---------------------------------------------------------------------------

// ExtractPrice — coingecko:price_simple:usd:{coin_id}
// Форма: {"data": {"price": 68819, "change_24h": -2.06}, ...}
func ExtractPrice(payload map[string]any) (price, change24h *float64) {
	data := asMap(payload["data"])
	return Num(data["price"]), Num(data["change_24h"])
}

// GlobalMarket — агрегаты coingecko:global.
type GlobalMarket struct {
	BTCDominance  *float64
	ETHDominance  *float64
	TotalMcapUSD  *float64
	TotalVolUSD   *float64
	McapChange24h *float64
}

// ExtractGlobal — coingecko:global
// Форма: {"data": {"btc_dominance": 56.7, "eth_dominance": 9.8,
//         "total_volume_usd": 103B, "total_market_cap_usd": 2.4T, ...}}
func ExtractGlobal(payload map[string]any) GlobalMarket {
	data := asMap(payload["data"])
	return GlobalMarket{
		BTCDominance:  Num(data["btc_dominance"]),
		ETHDominance:  Num(data["eth_dominance"]),
		TotalMcapUSD:  Num(data["total_market_cap_usd"]),
		TotalVolUSD:   Num(data["total_volume_usd"]),
		McapChange24h: Num(data["market_cap_change_24h_pct"]),
	}
}

// ExtractFunding — coinglass:oi_weighted_funding:{SYM}
// Форма: {"data": {"rate": 0.001178, "symbol": "BTC", "prev_rate": 0.003825}}
// rate хранится долей (0.001178 = 0.1178%), наружу отдаем проценты.
func ExtractFunding(payload map[string]any) *float64 {
	rate := Num(asMap(payload["data"])["rate"])
	if rate == nil {
		return nil
	}
	pct := *rate * 100
	return &pct
}

// OpenInterest — агрегаты coinglass:open_interest.
type OpenInterest struct {
	OIUSD       *float64
	OIChange24h *float64
}

// ExtractOI — coinglass:open_interest:{SYM}
// Форма: {"data": {"oi_usd": 43.8B, "oi_change_24h": -1.91, "oi_billion": 43.8}}
func ExtractOI(payload map[string]any) OpenInterest {
	data := asMap(payload["data"])
	return OpenInterest{
		OIUSD:       Num(data["oi_usd"]),
		OIChange24h: Num(data["oi_change_24h"]),
	}
}

// Liquidations — агрегаты coinglass:liquidations.
type Liquidations struct {
	TotalUSD *float64
	LongUSD  *float64
	ShortUSD *float64
	LongPct  *float64
	ShortPct *float64
}

// ExtractLiquidations — coinglass:liquidations:{SYM}
// Форма: {"raw": [{"exchange": "All", "liquidation_usd": 63M,
//         "longLiquidation_usd": 51M, "shortLiquidation_usd": 11M}, ...]}
// Итоговые суммы лежат в строке exchange="All".
func ExtractLiquidations(payload map[string]any) Liquidations {
	raw := asSlice(payload["raw"])

	var allRow map[string]any
	for _, r := range raw {
		m := asMap(r)
		if m != nil && m["exchange"] == "All" {
			allRow = m
			break
		}
	}
	if allRow == nil && len(raw) > 0 {
		allRow = asMap(raw[0]) // fallback на первую строку
	}
	if allRow == nil {
		return Liquidations{}
	}

	total := Num(allRow["liquidation_usd"])
	longUSD := Num(allRow["longLiquidation_usd"])
	shortUSD := Num(allRow["shortLiquidation_usd"])

	var longPct, shortPct *float64
	if total != nil && *total != 0 {
		if longUSD != nil {
			p := *longUSD / *total * 100
			longPct = &p
		}
		if shortUSD != nil {
			p := *shortUSD / *total * 100
			shortPct = &p
		}
	}

	return Liquidations{
		TotalUSD: total,
		LongUSD:  longUSD,
		ShortUSD: shortUSD,
		LongPct:  longPct,
		ShortPct: shortPct,
	}
}
