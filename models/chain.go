package models

import "time"

// Chain is one consortium network managed end-to-end by chainmgr.
//
// A chain owns every Host, Agency, Front and Group that references its ID.
// Version holds the image tag value most recently applied through deploy or
// upgrade.
//
// Example JSON representation:
//
//	{
//	  "id": 1,
//	  "name": "chainA",
//	  "version": "v2.7.2",
//	  "encryptType": 0,
//	  "rootDir": "/opt/fisco",
//	  "signAddr": "10.0.0.9:5004",
//	  "imageSource": "manual",
//	  "status": "running"
//	}
type Chain struct {
	// ID is the surrogate key
	ID int64 `json:"id" db:"id"`

	// Name is the unique chain name
	Name string `json:"name" db:"name"`

	// Version is the node image tag value (e.g. v2.7.2)
	Version string `json:"version" db:"version"`

	// EncryptType selects standard (0) or national (1) crypto for config generation
	EncryptType int `json:"encryptType" db:"encrypt_type"`

	// RootDir is the root directory on every remote host
	RootDir string `json:"rootDir" db:"root_dir"`

	// SignAddr is the address of the remote signing helper
	SignAddr string `json:"signAddr" db:"sign_addr"`

	// ImageSource decides how node images reach hosts
	ImageSource ImageSource `json:"imageSource" db:"image_source"`

	// Status is the aggregate chain status
	Status ChainStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ChainStatus is the aggregate status of a chain.
type ChainStatus string

const (
	ChainDeploying ChainStatus = "deploying"
	ChainRunning   ChainStatus = "running"
	ChainUpgrading ChainStatus = "upgrading"
	ChainPartial   ChainStatus = "partial"
	ChainFailed    ChainStatus = "failed"
)

// Progress is the coarse completion indicator of a chain.
type Progress struct {
	Chain   string `json:"chain"`
	Status  string `json:"status"`
	Total   int    `json:"total"`
	Running int    `json:"running"`
	Failed  int    `json:"failed"`
	Percent int    `json:"percent"`
}

// SettledChainStatus derives the aggregate chain status from its fronts once
// no front is mid-transition. ok is false while any front is still moving.
func SettledChainStatus(fronts []*Front) (status ChainStatus, ok bool) {
	var running, failed int
	for _, f := range fronts {
		switch f.Status {
		case FrontRunning:
			running++
		case FrontFailed:
			failed++
		case FrontStopped:
		default:
			return "", false
		}
	}
	switch {
	case failed == 0:
		return ChainRunning, true
	case running == 0:
		return ChainFailed, true
	default:
		return ChainPartial, true
	}
}
