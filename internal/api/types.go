package api

import (
	"context"

	"evalgo.org/chainmgr/internal/deploy"
	"evalgo.org/chainmgr/internal/engine"
	"evalgo.org/chainmgr/models"
)

// Orchestrator is the chain lifecycle service behind the API.
type Orchestrator interface {
	DeployChain(ctx context.Context, req deploy.DeployRequest) (*models.Chain, error)
	DeleteChain(ctx context.Context, name string) error
	AddNodes(ctx context.Context, req deploy.AddNodesRequest) ([]*models.Front, error)
	Upgrade(ctx context.Context, tagID int64, chainName string) (*models.Chain, error)
	StartNode(ctx context.Context, nodeID string, tr engine.Transition) error
	StopNode(ctx context.Context, nodeID string) error
	DeleteNode(ctx context.Context, req deploy.DeleteNodeRequest) error
	Progress(ctx context.Context, chainName string) (*models.Progress, error)
	ListChains(ctx context.Context) ([]*models.Chain, error)
	DescribeChain(ctx context.Context, name string) (*deploy.ChainDetail, error)
	ListFronts(ctx context.Context, chainName string) ([]*models.Front, error)
	ListTags(ctx context.Context) ([]*models.Tag, error)
	AddTag(ctx context.Context, value string) (*models.Tag, error)
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// ChainsResponse represents a list of chains.
type ChainsResponse struct {
	Count  int             `json:"count"`
	Chains []*models.Chain `json:"chains"`
}

// FrontsResponse represents a list of fronts.
type FrontsResponse struct {
	Count  int             `json:"count"`
	Total  int             `json:"total"`
	Fronts []*models.Front `json:"fronts"`
}

// TagsResponse represents a list of tags.
type TagsResponse struct {
	Count int           `json:"count"`
	Tags  []*models.Tag `json:"tags"`
}

// UpgradeRequest selects the tag to upgrade to.
type UpgradeRequest struct {
	TagID int64 `json:"tagId" validate:"required"`
}

// AddTagRequest records a new image version.
type AddTagRequest struct {
	Value string `json:"value" validate:"required,max=128"`
}
