// Package signer handles secp256k1 ECDSA signing for provenance event
// hashes: 32-byte private scalars, 33-byte compressed public keys, and
// DER-encoded signatures.
package signer

import (
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/mister-teddy/node-drive/internal/errs"
)

// Errors returned for malformed (not merely invalid) key material.
var (
	ErrInvalidKeyFormat = errors.New("signer: invalid key format")
	ErrUnsupportedKey   = errors.New("signer: unsupported key (expected 32-byte secp256k1 scalar)")
)

// PrivateKeyHexSize and PublicKeyHexSize are the expected hex-string
// lengths for a raw 32-byte private scalar and a compressed 33-byte
// public key respectively.
const (
	PrivateKeyHexSize = 64
	PublicKeyHexSize  = 66
)

// ParsePrivateKey decodes a 32-byte secp256k1 private scalar from hex.
func ParsePrivateKey(hexKey string) (*secp256k1.PrivateKey, error) {
	if len(hexKey) != PrivateKeyHexSize {
		return nil, errs.Wrap(errs.BadKey, "private key must be 32 bytes hex", ErrInvalidKeyFormat)
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errs.Wrap(errs.BadKey, "private key is not valid hex", err)
	}
	return secp256k1.PrivKeyFromBytes(raw), nil
}

// ParsePublicKey decodes a 33-byte compressed secp256k1 public key from hex.
func ParsePublicKey(hexKey string) (*secp256k1.PublicKey, error) {
	if len(hexKey) != PublicKeyHexSize {
		return nil, errs.Wrap(errs.BadKey, "public key must be 33 bytes compressed hex", ErrInvalidKeyFormat)
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errs.Wrap(errs.BadKey, "public key is not valid hex", err)
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, errs.Wrap(errs.BadKey, "public key is not a valid point", err)
	}
	return pub, nil
}

// PublicKeyHex returns the compressed hex form of priv's public key.
func PublicKeyHex(priv *secp256k1.PrivateKey) string {
	return hex.EncodeToString(priv.PubKey().SerializeCompressed())
}

// Sign returns the DER-encoded hex signature over eventHashHex (a 32-byte
// hex digest) made with privateKeyHex.
func Sign(eventHashHex, privateKeyHex string) (string, error) {
	digest, err := decodeDigest(eventHashHex)
	if err != nil {
		return "", err
	}
	priv, err := ParsePrivateKey(privateKeyHex)
	if err != nil {
		return "", err
	}
	sig := ecdsa.Sign(priv, digest)
	return hex.EncodeToString(sig.Serialize()), nil
}

// Verify reports whether signatureHex is a valid DER ECDSA signature over
// eventHashHex under pubkeyHex. Malformed inputs return an error; a
// well-formed but cryptographically invalid signature returns (false, nil).
func Verify(eventHashHex, signatureHex, pubkeyHex string) (bool, error) {
	digest, err := decodeDigest(eventHashHex)
	if err != nil {
		return false, err
	}
	pub, err := ParsePublicKey(pubkeyHex)
	if err != nil {
		return false, err
	}
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, errs.Wrap(errs.BadSignature, "signature is not valid hex", err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false, errs.Wrap(errs.BadSignature, "signature is not valid DER", err)
	}
	return sig.Verify(digest, pub), nil
}

func decodeDigest(eventHashHex string) ([]byte, error) {
	digest, err := hex.DecodeString(eventHashHex)
	if err != nil {
		return nil, errs.Wrap(errs.Malformed, "event hash is not valid hex", err)
	}
	if len(digest) != 32 {
		return nil, errs.New(errs.Malformed, "event hash must be 32 bytes")
	}
	return digest, nil
}
