package models

import "time"

// Group is a consensus subgroup of a chain.
// NodeCount always equals the number of live fronts assigned to it.
type Group struct {
	ID        int64 `json:"id" db:"id"`
	ChainID   int64 `json:"chainId" db:"chain_id"`
	GroupID   int   `json:"groupId" db:"group_id"`
	NodeCount int   `json:"nodeCount" db:"node_count"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// DefaultGroupID is the group used when none is given.
const DefaultGroupID = 1
