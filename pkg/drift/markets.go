package drift

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Market metadata keyed by market index. Indices missing from the perp table
// were delisted or never launched.
var spotMarkets = map[uint16]string{
	0:  "USDC",
	1:  "SOL",
	2:  "mSOL",
	3:  "wBTC",
	4:  "wETH",
	5:  "USDT",
	6:  "jitoSOL",
	7:  "PYTH",
	8:  "bSOL",
	9:  "JTO",
	10: "WIF",
	11: "JUP",
	12: "RENDER",
	13: "W",
	14: "TNSR",
	15: "DRIFT",
	16: "INF",
	17: "dSOL",
	18: "USDY",
	19: "JLP",
	20: "POPCAT",
	21: "CLOUD",
	22: "PYUSD",
	23: "USDe",
	24: "sUSDe",
	25: "BNSOL",
	26: "MOTHER",
	27: "cbBTC",
	28: "USDS",
	29: "META",
	30: "ME",
	31: "PENGU",
	32: "Bonk",
	33: "JLP-1",
	34: "USDC-1",
	35: "AI16Z",
	36: "TRUMP",
	37: "MELANIA",
	38: "AUSD",
}

var perpMarkets = map[uint16]string{
	0:  "SOL-PERP",
	1:  "BTC-PERP",
	2:  "ETH-PERP",
	3:  "APT-PERP",
	4:  "1MBONK-PERP",
	5:  "POL-PERP",
	6:  "ARB-PERP",
	7:  "DOGE-PERP",
	8:  "BNB-PERP",
	9:  "SUI-PERP",
	10: "1MPEPE-PERP",
	11: "OP-PERP",
	12: "RENDER-PERP",
	13: "XRP-PERP",
	14: "HNT-PERP",
	15: "INJ-PERP",
	16: "LINK-PERP",
	17: "RLB-PERP",
	18: "PYTH-PERP",
	19: "TIA-PERP",
	20: "JTO-PERP",
	21: "SEI-PERP",
	22: "AVAX-PERP",
	23: "WIF-PERP",
	24: "JUP-PERP",
	25: "DYM-PERP",
	26: "TAO-PERP",
	27: "W-PERP",
	28: "KMNO-PERP",
	29: "TNSR-PERP",
	30: "DRIFT-PERP",
	31: "CLOUD-PERP",
	32: "IO-PERP",
	33: "ZEX-PERP",
	34: "POPCAT-PERP",
	35: "1KWEN-PERP",
	42: "TON-PERP",
	44: "MOTHER-PERP",
	45: "MOODENG-PERP",
	47: "DBR-PERP",
	48: "WLF-5B-1W-BET",
	51: "1KMEW-PERP",
	52: "MICHI-PERP",
	53: "GOAT-PERP",
	54: "FWOG-PERP",
	55: "PNUT-PERP",
	56: "RAY-PERP",
	59: "HYPE-PERP",
	60: "LTC-PERP",
	61: "ME-PERP",
	62: "PENGU-PERP",
	63: "AI16Z-PERP",
	64: "TRUMP-PERP",
	65: "MELANIA-PERP",
	66: "BERA-PERP",
	67: "NBAFINALS25-OKC-BET",
	68: "NBAFINALS25-BOS-BET",
	69: "KAITO-PERP",
	70: "IP-PERP",
}

var upper = cases.Upper(language.Und)

// MarketName returns the display name for a market.
func MarketName(m MarketID) (string, bool) {
	table := perpMarkets
	if m.Kind == MarketTypeSpot {
		table = spotMarkets
	}
	name, ok := table[m.Index]
	return name, ok
}

// LookupMarket resolves a symbol such as "sol", "SOL-PERP" or "btc perp" to a
// market id. Perp markets are tried first unless kind is spot.
func LookupMarket(symbol string, kind MarketType) (MarketID, bool) {
	key := normalizeSymbol(symbol)
	if key == "" {
		return MarketID{}, false
	}

	if kind != MarketTypeSpot {
		perpKey := key
		if !strings.Contains(perpKey, "-") {
			perpKey += "-PERP"
		}
		for idx, name := range perpMarkets {
			if upper.String(name) == perpKey {
				return Perp(idx), true
			}
		}
		if kind == MarketTypePerp {
			return MarketID{}, false
		}
	}

	for idx, name := range spotMarkets {
		if upper.String(name) == key {
			return Spot(idx), true
		}
	}
	return MarketID{}, false
}

// Markets lists every known market of a kind, ordered by index.
func Markets(kind MarketType) []MarketID {
	table := perpMarkets
	if kind == MarketTypeSpot {
		table = spotMarkets
	}
	out := make([]MarketID, 0, len(table))
	for idx := range table {
		out = append(out, MarketID{Index: idx, Kind: kind})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func normalizeSymbol(s string) string {
	s = upper.String(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	return s
}
