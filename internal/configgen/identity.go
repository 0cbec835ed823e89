package configgen

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
)

// NodeIdentity is the key material of one node. NodeID is the hex encoded
// uncompressed public key without its leading format byte.
type NodeIdentity struct {
	NodeID string
	KeyPEM []byte
}

// NewNodeIdentity creates a fresh node key pair.
// encryptType is carried opaquely; both modes currently use P-256.
func NewNodeIdentity(encryptType int) (*NodeIdentity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate node key: %w", err)
	}
	pub, err := key.PublicKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("failed to encode node public key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node key: %w", err)
	}

	blockType := "EC PRIVATE KEY"
	if encryptType == 1 {
		blockType = "SM EC PRIVATE KEY"
	}
	return &NodeIdentity{
		NodeID: hex.EncodeToString(pub.Bytes()[1:]),
		KeyPEM: pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}),
	}, nil
}

// AgencyFingerprint identifies an agency of a chain in SDK bundles.
func AgencyFingerprint(chain, agency string) string {
	sum := sha256.Sum256([]byte(chain + "/" + agency))
	return hex.EncodeToString(sum[:8])
}
