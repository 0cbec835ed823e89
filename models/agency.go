package models

import "time"

// Agency is an organisational owner of hosts within a chain.
type Agency struct {
	ID          int64  `json:"id" db:"id"`
	ChainID     int64  `json:"chainId" db:"chain_id"`
	Name        string `json:"name" db:"name"`
	EncryptType int    `json:"encryptType" db:"encrypt_type"`
	// Fingerprint identifies the agency key material rendered into SDK bundles
	Fingerprint string `json:"fingerprint" db:"fingerprint"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
