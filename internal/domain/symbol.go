package domain

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Symbol is a parsed market-qualified code.
type Symbol struct {
	Market Market
	Code   string
}

// String returns the canonical MARKET.CODE form.
func (s Symbol) String() string {
	return string(s.Market) + "." + s.Code
}

var usOptionPattern = regexp.MustCompile(`^[A-Z]+\d{6}[CP]\d+$`)

// ParseSymbol parses "MARKET.CODE" or a bare code with market inference.
// A-share prefixes SH and SZ normalize to market A. Bare codes: 5-digit
// numeric is HK, 6-digit numeric is A, otherwise US.
func ParseSymbol(raw string) (Symbol, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Symbol{}, Errorf(KindInvalidInput, "empty symbol")
	}

	if i := strings.IndexByte(raw, '.'); i >= 0 {
		market := strings.ToUpper(raw[:i])
		code := raw[i+1:]
		if code == "" {
			return Symbol{}, Errorf(KindInvalidInput, "symbol %q has empty code", raw)
		}
		switch market {
		case "SH", "SZ":
			return Symbol{Market: MarketA, Code: code}, nil
		}
		m := Market(market)
		if !m.Valid() {
			return Symbol{}, Errorf(KindInvalidInput, "symbol %q has unknown market %q", raw, market)
		}
		return Symbol{Market: m, Code: code}, nil
	}

	return Symbol{Market: inferMarket(raw), Code: raw}, nil
}

func inferMarket(code string) Market {
	digits := true
	for _, r := range code {
		if !unicode.IsDigit(r) {
			digits = false
			break
		}
	}
	if digits {
		if len(code) == 6 {
			return MarketA
		}
		return MarketHK
	}
	return MarketUS
}

// ClassifyInstrument decides whether a code is an option contract.
// HK option codes carry letters (stock codes are numeric); US options
// follow the SYMBOL+yymmdd+C/P+strike convention.
func ClassifyInstrument(market Market, code string) Instrument {
	switch market {
	case MarketHK:
		for _, r := range code {
			if unicode.IsLetter(r) {
				return InstrumentOption
			}
		}
	case MarketUS:
		if usOptionPattern.MatchString(code) {
			return InstrumentOption
		}
	}
	return InstrumentStock
}

// OptionPrefix extracts the leading alphabetic prefix of an option code,
// used for the HK contract-multiplier lookup (HKATS root).
func OptionPrefix(code string) string {
	for i, r := range code {
		if !unicode.IsLetter(r) {
			return strings.ToUpper(code[:i])
		}
	}
	return strings.ToUpper(code)
}

// FullCode formats a market-qualified code.
func FullCode(market Market, code string) string {
	return fmt.Sprintf("%s.%s", market, code)
}
