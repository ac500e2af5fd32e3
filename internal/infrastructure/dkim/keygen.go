// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dkim generates and verifies the per-domain DKIM keypair used to
// gate sending-domain verification (§4.7). Key generation and encryption
// at rest use the standard library exclusively: no library in the
// reference corpus offers DKIM keypair generation, and crypto/rsa plus
// the already-wired pkg/crypto AES-GCM helpers cover it completely.
package dkim

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/btouchard/sendforge/pkg/crypto"
)

const keyBits = 2048

// KeyPair is a freshly generated DKIM signing key: the public key in the
// base64 form published in the domain's DNS TXT record, and the private
// key encrypted at rest under the operator's DKIM encryption key.
type KeyPair struct {
	Selector             string
	PublicKeyBase64       string
	PrivateKeyCiphertext []byte
	KeyVersion           int
}

// Generate creates an RSA-2048 keypair, encodes the public key for DNS
// publication, and encrypts the private key (PKCS#1 DER) with encKey
// (must be 32 bytes, AES-256-GCM).
func Generate(selector string, keyVersion int, encKey []byte) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate dkim rsa key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal dkim public key: %w", err)
	}

	privDER := x509.MarshalPKCS1PrivateKey(priv)
	ciphertext, err := crypto.EncryptToken(string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privDER})), encKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt dkim private key: %w", err)
	}

	return &KeyPair{
		Selector:              selector,
		PublicKeyBase64:       base64.StdEncoding.EncodeToString(pubDER),
		PrivateKeyCiphertext:  ciphertext,
		KeyVersion:            keyVersion,
	}, nil
}

// Decrypt recovers the PEM-encoded private key for signing, given the
// operator's current DKIM encryption key.
func Decrypt(ciphertext []byte, encKey []byte) (string, error) {
	return crypto.DecryptToken(ciphertext, encKey)
}

// NewSelector derives a short, DNS-label-safe selector from a random
// nonce, avoiding collisions across repeated key rotations for the same
// domain.
func NewSelector() (string, error) {
	n, err := crypto.GenerateNonce()
	if err != nil {
		return "", fmt.Errorf("generate dkim selector: %w", err)
	}
	if len(n) > 12 {
		n = n[:12]
	}
	return "sf" + n, nil
}
