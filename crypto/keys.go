// Package crypto implements the crypto primitives of spec.md §4.1:
// Ed25519 keypairs, address derivation, signing/verification, and
// deterministic system addresses. Ed25519 and RIPEMD160 come from
// golang.org/x/crypto (already pinned by the teacher); base58 comes
// from github.com/mr-tron/base58, a dependency the teacher pulls in
// transitively through its Bitcoin stack.
package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"strings"

	"github.com/mr-tron/base58"
	perr "github.com/playergold/node/errors"
	"golang.org/x/crypto/ed25519"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for the address scheme
)

// ecosystemPrefix is the 2-ASCII-letter prefix for every derived address.
const ecosystemPrefix = "PG"

const versionByte = 0x00

// wordlist is a small deterministic word list used to render key
// material as a human-checkable mnemonic. It is not meant to be a full
// BIP39 list, only a stable, deterministic encoding.
var wordlist = strings.Fields(
	"anchor basalt cinder driftwood ember falcon granite harbor " +
		"ingot jigsaw kestrel lantern meadow nimbus oxide pebble " +
		"quartz ridge saffron tundra umber vertex willow xenon " +
		"yonder zephyr amber birch cedar",
)

// Keypair is a generated Ed25519 identity plus its mnemonic rendering.
type Keypair struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	Mnemonic   string
}

// GenerateKeypair fails only when the entropy source fails; that error
// is returned wrapped as a CryptoError.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, perr.NewCryptoError("generate ed25519 keypair", err)
	}
	return &Keypair{
		PrivateKey: priv,
		PublicKey:  pub,
		Mnemonic:   mnemonicFor(priv),
	}, nil
}

func mnemonicFor(seed []byte) string {
	sum := sha256.Sum256(seed)
	words := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		idx := int(sum[i]) % len(wordlist)
		words = append(words, wordlist[idx])
		sum = sha256.Sum256(sum[:])
	}
	return strings.Join(words, " ")
}

// Sign signs message with priv. Fails with CryptoError if priv is the
// wrong length.
func Sign(priv ed25519.PrivateKey, message []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, perr.NewCryptoError("private key has wrong length", nil)
	}
	return ed25519.Sign(priv, message), nil
}

// Verify returns false on any malformed input rather than erroring.
func Verify(pub ed25519.PublicKey, sig, message []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	defer func() { recover() }() //nolint:errcheck // ed25519.Verify panics on malformed keys in some builds
	return ed25519.Verify(pub, message, sig)
}

// DeriveAddress computes the ecosystem address for a public key:
// prefix + base58(version || RIPEMD160(SHA256(pub)) || checksum4).
func DeriveAddress(pub ed25519.PublicKey) string {
	shaHash := sha256.Sum256(pub)
	ripemd := ripemd160.New()
	ripemd.Write(shaHash[:])
	pubHash := ripemd.Sum(nil)

	payload := make([]byte, 0, 1+len(pubHash))
	payload = append(payload, versionByte)
	payload = append(payload, pubHash...)

	checksum := doubleSHA256(payload)[:4]
	payload = append(payload, checksum...)

	return ecosystemPrefix + base58.Encode(payload)
}

func doubleSHA256(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}

// ValidateAddress returns false on any malformed input instead of
// erroring.
func ValidateAddress(addr string) bool {
	if len(addr) < len(ecosystemPrefix)+1 {
		return false
	}
	if addr[:len(ecosystemPrefix)] != ecosystemPrefix {
		return false
	}
	decoded, err := base58.Decode(addr[len(ecosystemPrefix):])
	if err != nil {
		return false
	}
	// version(1) + ripemd160(20) + checksum(4)
	if len(decoded) != 1+20+4 {
		return false
	}
	payload := decoded[:len(decoded)-4]
	checksum := decoded[len(decoded)-4:]
	want := doubleSHA256(payload)[:4]
	for i := range checksum {
		if checksum[i] != want[i] {
			return false
		}
	}
	return decoded[0] == versionByte
}

// SystemAddress derives a deterministic address from a fixed label, so
// the same label always yields the same address. The "private key" for
// a system address is derived from the label too (via SHA-512 expanded
// to an Ed25519 seed) so recovery material can still be produced for it.
func SystemAddress(label string) (*Keypair, string) {
	seed := sha512.Sum512([]byte("playergold-system-address:" + label))
	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	pub := priv.Public().(ed25519.PublicKey)
	kp := &Keypair{PrivateKey: priv, PublicKey: pub, Mnemonic: mnemonicFor(priv)}
	return kp, DeriveAddress(pub)
}
