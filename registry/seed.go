package registry

import (
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"
)

// seedFile is the YAML shape of a venue seed file:
//
//	venues:
//	  - id: uniswap-v2
//	    protocol: constant_product
//	    router: "0x7a25..."
//	    max_slippage_bps: 500
//	    gas_overhead: 120000
//	    fee_bps: 30
//	    pairs:
//	      - ["0xC02a...", "0xA0b8..."]
//	    pools:
//	      - token_a: "0xC02a..."
//	        token_b: "0xA0b8..."
//	        reserve_a: "1000000000000000000000"
//	        reserve_b: "2500000000000"
//
// pairs declares routable pairs; pools additionally carries reserves so a
// paper deployment can hydrate in-memory pools from the same file.
type seedFile struct {
	Venues []seedVenue `yaml:"venues"`
}

type seedVenue struct {
	ID             string      `yaml:"id"`
	Protocol       string      `yaml:"protocol"`
	Router         string      `yaml:"router"`
	MaxSlippageBps uint64      `yaml:"max_slippage_bps"`
	GasOverhead    uint64      `yaml:"gas_overhead"`
	FeeBps         uint64      `yaml:"fee_bps"`
	Pairs          [][2]string `yaml:"pairs"`
	Pools          []seedPool  `yaml:"pools"`
}

type seedPool struct {
	TokenA   string `yaml:"token_a"`
	TokenB   string `yaml:"token_b"`
	ReserveA string `yaml:"reserve_a"`
	ReserveB string `yaml:"reserve_b"`
}

// SeedVenue is a validated seed entry
type SeedVenue struct {
	Venue  Venue
	FeeBps uint64
	Pools  []SeedPool
}

// SeedPool carries the starting reserves for one paper pool
type SeedPool struct {
	TokenA, TokenB     common.Address
	ReserveA, ReserveB *big.Int
}

func parseProtocol(s string) (Protocol, error) {
	switch s {
	case "constant_product", "":
		return ProtocolConstantProduct, nil
	case "concentrated_liquidity":
		return ProtocolConcentratedLiquidity, nil
	case "aggregator":
		return ProtocolAggregator, nil
	default:
		return 0, fmt.Errorf("%w: unknown protocol %q", ErrInvalidVenue, s)
	}
}

// ParseSeedFile reads and validates a venue seed file without registering
// anything. Callers that only need venue metadata use LoadSeedFile instead.
func ParseSeedFile(path string) ([]SeedVenue, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read venue seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse venue seed file: %w", err)
	}

	out := make([]SeedVenue, 0, len(seed.Venues))
	for _, sv := range seed.Venues {
		proto, err := parseProtocol(sv.Protocol)
		if err != nil {
			return nil, err
		}
		if sv.Router != "" && !common.IsHexAddress(sv.Router) {
			return nil, fmt.Errorf("%w: venue %s router %q is not a hex address", ErrInvalidVenue, sv.ID, sv.Router)
		}

		entry := SeedVenue{
			Venue: Venue{
				ID:             sv.ID,
				Protocol:       proto,
				Router:         common.HexToAddress(sv.Router),
				MaxSlippageBps: sv.MaxSlippageBps,
				GasOverhead:    sv.GasOverhead,
			},
			FeeBps: sv.FeeBps,
		}

		for _, p := range sv.Pairs {
			if !common.IsHexAddress(p[0]) || !common.IsHexAddress(p[1]) {
				return nil, fmt.Errorf("%w: venue %s has malformed pair %v", ErrInvalidVenue, sv.ID, p)
			}
			entry.Venue.AddPair(common.HexToAddress(p[0]), common.HexToAddress(p[1]))
		}

		for _, p := range sv.Pools {
			if !common.IsHexAddress(p.TokenA) || !common.IsHexAddress(p.TokenB) {
				return nil, fmt.Errorf("%w: venue %s has malformed pool tokens", ErrInvalidVenue, sv.ID)
			}
			reserveA, ok := new(big.Int).SetString(p.ReserveA, 10)
			if !ok || reserveA.Sign() <= 0 {
				return nil, fmt.Errorf("%w: venue %s pool reserve_a %q", ErrInvalidVenue, sv.ID, p.ReserveA)
			}
			reserveB, ok := new(big.Int).SetString(p.ReserveB, 10)
			if !ok || reserveB.Sign() <= 0 {
				return nil, fmt.Errorf("%w: venue %s pool reserve_b %q", ErrInvalidVenue, sv.ID, p.ReserveB)
			}
			tokenA := common.HexToAddress(p.TokenA)
			tokenB := common.HexToAddress(p.TokenB)
			entry.Venue.AddPair(tokenA, tokenB)
			entry.Pools = append(entry.Pools, SeedPool{
				TokenA: tokenA, TokenB: tokenB,
				ReserveA: reserveA, ReserveB: reserveB,
			})
		}

		out = append(out, entry)
	}
	return out, nil
}

// LoadSeedFile registers every venue from a YAML seed file. Registration
// stops at the first invalid entry so a bad file never half-applies.
func (r *Registry) LoadSeedFile(path string) error {
	seeds, err := ParseSeedFile(path)
	if err != nil {
		return err
	}
	for _, sv := range seeds {
		if err := r.Register(sv.Venue); err != nil {
			return err
		}
	}
	return nil
}
