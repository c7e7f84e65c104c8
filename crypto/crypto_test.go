package crypto

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestAddressEncodings(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.PubKey().Address()

	fromBech, err := DecodeAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr, fromBech)

	fromHex, err := DecodeAddress(addr.Hex())
	require.NoError(t, err)
	require.Equal(t, addr, fromHex)

	_, err = DecodeAddress("0x1234")
	require.Error(t, err)
	_, err = DecodeAddress("")
	require.Error(t, err)
}

func TestAddressTextMarshalling(t *testing.T) {
	addr := BytesToAddress([]byte{0x01, 0x02})
	text, err := addr.MarshalText()
	require.NoError(t, err)

	var decoded Address
	require.NoError(t, decoded.UnmarshalText(text))
	require.Equal(t, addr, decoded)
	require.False(t, decoded.IsZero())
	require.True(t, Address{}.IsZero())
}

func TestSignPersonalRecovers(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	hash := crypto.Keccak256([]byte("borrow intent"))

	sig, err := SignPersonal(key, hash)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)
	require.Contains(t, []byte{27, 28}, sig[64])

	recovered, err := RecoverPersonal(hash, sig)
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address(), recovered)

	raw := bytes.Clone(sig)
	raw[64] -= 27
	recovered, err = RecoverPersonal(hash, raw)
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address(), recovered)

	_, err = RecoverPersonal(hash, sig[:64])
	require.ErrorIs(t, err, ErrInvalidSignatureLength)
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "signer.json")

	require.NoError(t, SaveToKeystore(path, key, "correct horse", true))

	loaded, err := LoadFromKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}
