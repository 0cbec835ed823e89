package models

import "time"

// Tag is a known node image version that deploy and upgrade refer to by ID.
type Tag struct {
	ID        int64     `json:"id" db:"id"`
	Type      string    `json:"type" db:"type"`
	Value     string    `json:"value" db:"value"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// TagTypeDockerImage is the only tag type currently recorded.
const TagTypeDockerImage = "docker_image"
