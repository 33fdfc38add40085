package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aristath/spyglass/internal/domain"
)

// Contract multiplier defaults. HK multipliers vary per HKATS root and come
// from the YAML table; unknown HK roots fall back to the US default.
const (
	usOptionMultiplier = 100
	stockMultiplier    = 1
)

// Multipliers resolves option contract multipliers per market and code.
type Multipliers struct {
	hk map[string]int
}

type multipliersFile struct {
	HK map[string]int `yaml:"hk"`
}

// LoadMultipliers reads the HK option multiplier table from a YAML file.
// A missing file yields an empty table, not an error.
func LoadMultipliers(path string) (*Multipliers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Multipliers{hk: map[string]int{}}, nil
		}
		return nil, fmt.Errorf("failed to read multipliers file: %w", err)
	}

	var file multipliersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse multipliers file: %w", err)
	}
	if file.HK == nil {
		file.HK = map[string]int{}
	}
	return &Multipliers{hk: file.HK}, nil
}

// DefaultMultipliers returns the built-in HKATS table, used when no YAML
// override is present. Values are per-contract share counts from HKEX.
func DefaultMultipliers() *Multipliers {
	return &Multipliers{hk: map[string]int{
		"TCH": 100, "ALB": 500, "MIU": 1000, "BIU": 150, "MET": 500,
		"KST": 500, "KDS": 500, "NCL": 100,
		"HOS": 2000, "SMC": 2500,
		"PAI": 500, "CLI": 1000, "XCC": 1000, "ICB": 1000,
		"CNC": 1000, "ZJM": 2000, "JXC": 1000,
		"BYD": 500, "POP": 500,
		"CAT": 200, "CIT": 2000, "CTS": 1000,
		"HEX": 100, "LAU": 100, "GHL": 1000, "SNO": 400, "ZAO": 1000,
		"HNP": 2000,
	}}
}

// Lookup returns the contract multiplier for a symbol. Stocks are 1; US
// options are 100; HK options resolve by HKATS prefix with a 100 fallback.
func (m *Multipliers) Lookup(market domain.Market, code string) float64 {
	if domain.ClassifyInstrument(market, code) == domain.InstrumentStock {
		return stockMultiplier
	}
	if market == domain.MarketHK {
		if mult, ok := m.hk[domain.OptionPrefix(code)]; ok {
			return float64(mult)
		}
		return usOptionMultiplier
	}
	return usOptionMultiplier
}
