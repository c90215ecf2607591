package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeypairAndAddressRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	require.NotNil(t, kp)

	addr := DeriveAddress(kp.PublicKey)
	assert.True(t, ValidateAddress(addr))
	assert.Equal(t, "PG", addr[:2])
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	msg := []byte("block-header-bytes")
	sig, err := Sign(kp.PrivateKey, msg)
	require.NoError(t, err)

	assert.True(t, Verify(kp.PublicKey, sig, msg))
	assert.False(t, Verify(kp.PublicKey, sig, []byte("tampered")))
}

func TestSignRejectsWrongLengthKey(t *testing.T) {
	_, err := Sign([]byte("too-short"), []byte("msg"))
	assert.Error(t, err)
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	assert.False(t, Verify(nil, nil, []byte("msg")))
	assert.False(t, Verify([]byte("short"), []byte("short"), []byte("msg")))
}

func TestValidateAddressRejectsMalformed(t *testing.T) {
	assert.False(t, ValidateAddress(""))
	assert.False(t, ValidateAddress("XX123"))
	assert.False(t, ValidateAddress("PG"))
}

func TestSystemAddressIsDeterministic(t *testing.T) {
	_, addr1 := SystemAddress("LIQUIDITY_POOL")
	_, addr2 := SystemAddress("LIQUIDITY_POOL")
	assert.Equal(t, addr1, addr2)

	_, burnAddr := SystemAddress("BURN_ADDRESS")
	assert.NotEqual(t, addr1, burnAddr)
	assert.True(t, ValidateAddress(addr1))
	assert.True(t, ValidateAddress(burnAddr))
}
