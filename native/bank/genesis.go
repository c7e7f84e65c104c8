package bank

import (
	"fmt"
	"math/big"
	"strings"

	"nftlend/crypto"
)

// Allocation credits Amount (a base-10 integer in base units) to Address.
type Allocation struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

// NFTAllocation mints TokenIDs of Collection to Owner.
type NFTAllocation struct {
	Collection string   `toml:"Collection"`
	Owner      string   `toml:"Owner"`
	TokenIDs   []uint16 `toml:"TokenIDs"`
}

// Genesis describes the balances and NFTs present before the first
// operation.
type Genesis struct {
	Native []Allocation    `toml:"native"`
	Token  []Allocation    `toml:"token"`
	NFTs   []NFTAllocation `toml:"nft"`
}

func (g Genesis) Empty() bool {
	return len(g.Native) == 0 && len(g.Token) == 0 && len(g.NFTs) == 0
}

// Apply writes the allocations through l.
func (g Genesis) Apply(l *Ledger) error {
	for i, alloc := range g.Native {
		addr, amount, err := alloc.decode()
		if err != nil {
			return fmt.Errorf("native[%d]: %w", i, err)
		}
		if err := l.CreditNative(addr, amount); err != nil {
			return fmt.Errorf("native[%d]: %w", i, err)
		}
	}
	for i, alloc := range g.Token {
		addr, amount, err := alloc.decode()
		if err != nil {
			return fmt.Errorf("token[%d]: %w", i, err)
		}
		if err := l.CreditToken(addr, amount); err != nil {
			return fmt.Errorf("token[%d]: %w", i, err)
		}
	}
	for i, alloc := range g.NFTs {
		collection, err := crypto.DecodeAddress(alloc.Collection)
		if err != nil {
			return fmt.Errorf("nft[%d] collection: %w", i, err)
		}
		owner, err := crypto.DecodeAddress(alloc.Owner)
		if err != nil {
			return fmt.Errorf("nft[%d] owner: %w", i, err)
		}
		for _, id := range alloc.TokenIDs {
			if err := l.MintNFT(collection, id, owner); err != nil {
				return fmt.Errorf("nft[%d]: %w", i, err)
			}
		}
	}
	return nil
}

func (a Allocation) decode() (crypto.Address, *big.Int, error) {
	addr, err := crypto.DecodeAddress(a.Address)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(a.Amount), 10)
	if !ok || amount.Sign() < 0 {
		return crypto.Address{}, nil, fmt.Errorf("invalid amount %q", a.Amount)
	}
	return addr, amount, nil
}
