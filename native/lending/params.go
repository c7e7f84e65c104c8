package lending

import (
	"fmt"
	"strings"

	"nftlend/crypto"
)

// DefaultNonceWindow is the nonce acceptance window used when none is
// configured, in seconds.
const DefaultNonceWindow = 3_600

// Params captures the runtime configuration for the lending module as read
// from the module TOML file.
type Params struct {
	Signer             string   `toml:"Signer"`
	FeeRateBps         uint64   `toml:"FeeRateBps"`
	NonceWindowSeconds uint64   `toml:"NonceWindowSeconds"`
	Admins             []string `toml:"Admins"`
	Paused             bool     `toml:"Paused"`
}

// EnsureDefaults fills unset fields.
func (p *Params) EnsureDefaults() {
	if p.NonceWindowSeconds == 0 {
		p.NonceWindowSeconds = DefaultNonceWindow
	}
}

// ConfigUpdate converts the params into the initial engine configuration.
func (p Params) ConfigUpdate() (ConfigUpdate, error) {
	update := ConfigUpdate{FeeRateBps: p.FeeRateBps, NonceWindow: p.NonceWindowSeconds}
	if signer := strings.TrimSpace(p.Signer); signer != "" {
		addr, err := crypto.DecodeAddress(signer)
		if err != nil {
			return ConfigUpdate{}, fmt.Errorf("signer: %w", err)
		}
		update.Signer = addr
	}
	if err := update.validate(); err != nil {
		return ConfigUpdate{}, err
	}
	return update, nil
}

// AdminAddresses decodes the administrator list.
func (p Params) AdminAddresses() ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(p.Admins))
	for i, raw := range p.Admins {
		addr, err := crypto.DecodeAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("admins[%d]: %w", i, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
