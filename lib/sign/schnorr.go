// Package sign verifies BIP-340 Schnorr signatures over secp256k1, the scheme
// used to authenticate Nostr events.
package sign

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

const (
	MessageSize   = 32
	PubKeySize    = schnorr.PubKeyBytesLen
	SignatureSize = schnorr.SignatureSize
)

// Verify reports whether signature is a valid BIP-340 signature of the 32 byte
// message digest under the x-only public key pubkeyX.
//
// Any malformed input yields false: wrong lengths, an x coordinate outside the
// field or without a point on the curve, r >= p, s >= n, or a computed R that
// is infinite, has an odd y or does not match r.
func Verify(message, pubkeyX, signature []byte) bool {
	if len(message) != MessageSize || len(pubkeyX) != PubKeySize || len(signature) != SignatureSize {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubkeyX)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(message, pubKey)
}

// VerifyHex is Verify for hex encoded public key and signature.
func VerifyHex(message []byte, pubkeyHex, signatureHex string) bool {
	pubkey, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return false
	}
	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return Verify(message, pubkey, signature)
}
