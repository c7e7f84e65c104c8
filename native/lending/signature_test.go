package lending

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"nftlend/crypto"
)

func testMessage(t *testing.T) IntentMessage {
	t.Helper()
	packed, err := PackTokenIDs([]uint16{4, 5})
	require.NoError(t, err)
	return IntentMessage{
		Intent: BorrowIntent{
			OfferID:      3,
			LoanAmount:   big.NewInt(200),
			RepayAmount:  big.NewInt(220),
			DurationDays: 7,
			Nonce:        1_700_000_000,
		},
		Collection: crypto.BytesToAddress([]byte{0xc0}),
		TokenIDs:   packed,
		Module:     crypto.BytesToAddress([]byte{0x10, 0x01}),
		ChainID:    big.NewInt(187001),
	}
}

func TestSignIntentVerifies(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	msg := testMessage(t)

	sig, err := SignIntent(key, msg)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	msg.Intent.Signature = sig
	require.True(t, VerifyIntent(key.PubKey().Address(), msg))

	// Wallets sometimes emit the raw 0/1 recovery id.
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	msg.Intent.Signature = raw
	require.True(t, VerifyIntent(key.PubKey().Address(), msg))
}

func TestVerifyIntentRejectsTampering(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	msg := testMessage(t)
	sig, err := SignIntent(key, msg)
	require.NoError(t, err)
	signer := key.PubKey().Address()

	cases := map[string]func(m *IntentMessage){
		"repay":      func(m *IntentMessage) { m.Intent.RepayAmount = big.NewInt(221) },
		"nonce":      func(m *IntentMessage) { m.Intent.Nonce++ },
		"tokens":     func(m *IntentMessage) { m.TokenIDs[0] ^= 1 },
		"module":     func(m *IntentMessage) { m.Module = crypto.BytesToAddress([]byte{0x99}) },
		"chain":      func(m *IntentMessage) { m.ChainID = big.NewInt(1) },
		"collection": func(m *IntentMessage) { m.Collection = crypto.BytesToAddress([]byte{0xc1}) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := testMessage(t)
			mutate(&m)
			m.Intent.Signature = sig
			require.False(t, VerifyIntent(signer, m))
		})
	}

	msg.Intent.Signature = sig
	require.False(t, VerifyIntent(crypto.Address{}, msg), "zero signer must never verify")
	msg.Intent.Signature = sig[:64]
	require.False(t, VerifyIntent(signer, msg))
}

func TestIntentHashRejectsOversizedWords(t *testing.T) {
	msg := testMessage(t)
	msg.Intent.LoanAmount = new(big.Int).Lsh(big.NewInt(1), 256)
	_, err := msg.Hash()
	require.ErrorIs(t, err, ErrInvalidParams)

	msg = testMessage(t)
	msg.ChainID = big.NewInt(-1)
	_, err = msg.Hash()
	require.ErrorIs(t, err, ErrInvalidParams)
}
