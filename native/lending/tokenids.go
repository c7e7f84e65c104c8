package lending

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	tokenIDBits = 16
	packedBits  = MaxSlots * tokenIDBits
)

// PackedTokenIDs stores up to MaxSlots 16-bit NFT ids in a 160-bit big-endian
// record. Slot i occupies bits [160-16(i+1), 160-16i), so the first id sits in
// the most significant position. Unused trailing slots are zero.
type PackedTokenIDs [packedBits / 8]byte

// PackTokenIDs encodes ids in order. More than MaxSlots ids are rejected.
func PackTokenIDs(ids []uint16) (PackedTokenIDs, error) {
	if len(ids) > MaxSlots {
		return PackedTokenIDs{}, fmt.Errorf("%w: %d token ids exceed the %d slot limit", ErrInvalidParams, len(ids), MaxSlots)
	}
	acc := new(uint256.Int)
	slot := new(uint256.Int)
	for i, id := range ids {
		slot.SetUint64(uint64(id))
		slot.Lsh(slot, uint(packedBits-tokenIDBits*(i+1)))
		acc.Or(acc, slot)
	}
	return PackedTokenIDs(acc.Bytes20()), nil
}

// Unpack returns the first count ids of the record.
func (p PackedTokenIDs) Unpack(count int) ([]uint16, error) {
	if count < 0 || count > MaxSlots {
		return nil, fmt.Errorf("%w: cannot unpack %d token ids", ErrInvalidParams, count)
	}
	acc := new(uint256.Int).SetBytes(p[:])
	mask := uint256.NewInt(0xffff)
	slot := new(uint256.Int)
	ids := make([]uint16, count)
	for i := 0; i < count; i++ {
		slot.Rsh(acc, uint(packedBits-tokenIDBits*(i+1)))
		slot.And(slot, mask)
		ids[i] = uint16(slot.Uint64())
	}
	return ids, nil
}

// Big returns the record as an unsigned integer.
func (p PackedTokenIDs) Big() *big.Int {
	return new(big.Int).SetBytes(p[:])
}

func (p PackedTokenIDs) Hex() string {
	return "0x" + hex.EncodeToString(p[:])
}
