package state

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nftlend/crypto"
)

var (
	lendingOfferPrefix      = []byte("lending/offer/")
	lendingLoanPrefix       = []byte("lending/loan/")
	lendingCollectionPrefix = []byte("lending/collection/")
	lendingNoncePrefix      = []byte("lending/nonce/")
	lendingConfigKey        = ethcrypto.Keccak256([]byte("lending/config"))
	lendingFeesKey          = ethcrypto.Keccak256([]byte("lending/fees"))

	bankNativePrefix    = []byte("bank/native/")
	bankTokenPrefix     = []byte("bank/token/")
	bankAllowancePrefix = []byte("bank/allowance/")
	bankNFTPrefix       = []byte("bank/nft/")
	bankOperatorPrefix  = []byte("bank/operator/")
	bankGenesisKey      = ethcrypto.Keccak256([]byte("bank/genesis"))
)

// hashedKey joins prefix and parts and hashes the result with keccak256 so
// every record key has a fixed width.
func hashedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func uint64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func uint16Bytes(v uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return buf[:]
}

func offerKey(id uint64) []byte { return hashedKey(lendingOfferPrefix, uint64Bytes(id)) }

func loanKey(id uint64) []byte { return hashedKey(lendingLoanPrefix, uint64Bytes(id)) }

func collectionKey(addr crypto.Address) []byte {
	return hashedKey(lendingCollectionPrefix, addr[:])
}

func nonceKey(addr crypto.Address) []byte { return hashedKey(lendingNoncePrefix, addr[:]) }

func nativeBalanceKey(addr crypto.Address) []byte { return hashedKey(bankNativePrefix, addr[:]) }

func tokenBalanceKey(addr crypto.Address) []byte { return hashedKey(bankTokenPrefix, addr[:]) }

func allowanceKey(owner, spender crypto.Address) []byte {
	return hashedKey(bankAllowancePrefix, owner[:], spender[:])
}

func nftOwnerKey(collection crypto.Address, tokenID uint16) []byte {
	return hashedKey(bankNFTPrefix, collection[:], uint16Bytes(tokenID))
}

func operatorKey(collection, owner, operator crypto.Address) []byte {
	return hashedKey(bankOperatorPrefix, collection[:], owner[:], operator[:])
}
