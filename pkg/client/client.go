// Package client is a Go client for the chainmgr HTTP API.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"evalgo.org/chainmgr/internal/deploy"
	"evalgo.org/chainmgr/internal/engine"
	"evalgo.org/chainmgr/models"
)

// Error is a non-2xx API response.
type Error struct {
	StatusCode  int               `json:"-"`
	Code        int               `json:"code"`
	Kind        string            `json:"kind"`
	Message     string            `json:"message"`
	Details     string            `json:"details"`
	FieldErrors map[string]string `json:"field_errors"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%d %s", e.StatusCode, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	for field, problem := range e.FieldErrors {
		msg += fmt.Sprintf("; %s %s", field, problem)
	}
	return msg
}

// Client talks to one chainmgr server.
type Client struct {
	http *resty.Client
}

// New creates a client for baseURL. token may be empty when the server runs
// without authentication.
func New(baseURL, token string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid baseURL %q: %w", baseURL, err)
	}

	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60*time.Second).
		SetHeader("Accept", "application/json").
		SetError(&Error{})
	if token != "" {
		r.SetAuthToken(token)
	}
	return &Client{http: r}, nil
}

func (c *Client) req(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

// do sends the request and decodes a failure into *Error.
func do(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	apiErr, ok := resp.Error().(*Error)
	if !ok || apiErr == nil {
		apiErr = &Error{Details: resp.String()}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode())
	}
	apiErr.StatusCode = resp.StatusCode()
	return apiErr
}

// ChainsResponse is the chain list page.
type ChainsResponse struct {
	Count  int             `json:"count"`
	Chains []*models.Chain `json:"chains"`
}

// FrontsResponse is the front list page.
type FrontsResponse struct {
	Count  int             `json:"count"`
	Total  int             `json:"total"`
	Fronts []*models.Front `json:"fronts"`
}

// TagsResponse is the tag list.
type TagsResponse struct {
	Count int           `json:"count"`
	Tags  []*models.Tag `json:"tags"`
}

func (c *Client) ListChains(ctx context.Context) ([]*models.Chain, error) {
	var out ChainsResponse
	if err := do(c.req(ctx).SetResult(&out).Get("/api/v1/chains")); err != nil {
		return nil, err
	}
	return out.Chains, nil
}

func (c *Client) GetChain(ctx context.Context, name string) (*deploy.ChainDetail, error) {
	var out deploy.ChainDetail
	err := do(c.req(ctx).SetPathParam("name", name).SetResult(&out).Get("/api/v1/chains/{name}"))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeployChain(ctx context.Context, req deploy.DeployRequest) (*models.Chain, error) {
	var out models.Chain
	if err := do(c.req(ctx).SetBody(req).SetResult(&out).Post("/api/v1/chains")); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteChain(ctx context.Context, name string) error {
	return do(c.req(ctx).SetPathParam("name", name).Delete("/api/v1/chains/{name}"))
}

func (c *Client) Progress(ctx context.Context, name string) (*models.Progress, error) {
	var out models.Progress
	err := do(c.req(ctx).SetPathParam("name", name).SetResult(&out).Get("/api/v1/chains/{name}/progress"))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFronts lists the fronts of a chain, optionally filtered by status.
func (c *Client) ListFronts(ctx context.Context, chainName, status string) ([]*models.Front, error) {
	var out FrontsResponse
	r := c.req(ctx).SetPathParam("name", chainName).SetResult(&out)
	if status != "" {
		r.SetQueryParam("status", status)
	}
	if err := do(r.Get("/api/v1/chains/{name}/fronts")); err != nil {
		return nil, err
	}
	return out.Fronts, nil
}

func (c *Client) AddNodes(ctx context.Context, req deploy.AddNodesRequest) ([]*models.Front, error) {
	var out FrontsResponse
	err := do(c.req(ctx).SetPathParam("name", req.ChainName).SetBody(req).SetResult(&out).
		Post("/api/v1/chains/{name}/nodes"))
	if err != nil {
		return nil, err
	}
	return out.Fronts, nil
}

func (c *Client) Upgrade(ctx context.Context, chainName string, tagID int64) (*models.Chain, error) {
	var out models.Chain
	err := do(c.req(ctx).SetPathParam("name", chainName).SetBody(map[string]int64{"tagId": tagID}).SetResult(&out).
		Post("/api/v1/chains/{name}/upgrade"))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// StartNode starts or restarts a node. The zero Transition lets the server
// pick its default.
func (c *Client) StartNode(ctx context.Context, nodeID string, tr engine.Transition) error {
	r := c.req(ctx).SetPathParam("nodeId", nodeID)
	if !tr.IsZero() {
		r.SetBody(tr)
	}
	return do(r.Post("/api/v1/nodes/{nodeId}/start"))
}

func (c *Client) StopNode(ctx context.Context, nodeID string) error {
	return do(c.req(ctx).SetPathParam("nodeId", nodeID).Post("/api/v1/nodes/{nodeId}/stop"))
}

func (c *Client) DeleteNode(ctx context.Context, req deploy.DeleteNodeRequest) error {
	return do(c.req(ctx).
		SetPathParam("nodeId", req.NodeID).
		SetQueryParam("deleteHost", strconv.FormatBool(req.DeleteHost)).
		SetQueryParam("deleteAgency", strconv.FormatBool(req.DeleteAgency)).
		Delete("/api/v1/nodes/{nodeId}"))
}

func (c *Client) ListTags(ctx context.Context) ([]*models.Tag, error) {
	var out TagsResponse
	if err := do(c.req(ctx).SetResult(&out).Get("/api/v1/tags")); err != nil {
		return nil, err
	}
	return out.Tags, nil
}

func (c *Client) AddTag(ctx context.Context, value string) (*models.Tag, error) {
	var out models.Tag
	err := do(c.req(ctx).SetBody(map[string]string{"value": value}).SetResult(&out).Post("/api/v1/tags"))
	if err != nil {
		return nil, err
	}
	return &out, nil
}
