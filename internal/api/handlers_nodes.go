package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"evalgo.org/chainmgr/internal/auth"
	"evalgo.org/chainmgr/internal/deploy"
	"evalgo.org/chainmgr/internal/engine"
	"evalgo.org/chainmgr/models"
)

// listFronts handles GET /api/v1/chains/:name/fronts.
// An optional status query parameter filters the result.
func (s *Server) listFronts(c echo.Context) error {
	fronts, err := s.orch.ListFronts(c.Request().Context(), c.Param("name"))
	if err != nil {
		return err
	}

	if status := c.QueryParam("status"); status != "" {
		want, err := models.ParseFrontStatus(status)
		if err != nil {
			return BadRequestError("Invalid status parameter", err.Error())
		}
		filtered := fronts[:0]
		for _, f := range fronts {
			if f.Status == want {
				filtered = append(filtered, f)
			}
		}
		fronts = filtered
	}

	limit, offset := parsePagination(c)
	page := paginate(fronts, limit, offset)
	return c.JSON(http.StatusOK, FrontsResponse{Count: len(page), Total: len(fronts), Fronts: page})
}

// addNodes handles POST /api/v1/chains/:name/nodes.
func (s *Server) addNodes(c echo.Context) error {
	var req deploy.AddNodesRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	req.ChainName = c.Param("name")
	if err := c.Validate(&req); err != nil {
		return err
	}

	fronts, err := s.orch.AddNodes(c.Request().Context(), req)
	if err != nil {
		return err
	}
	s.log.WithField("chain", req.ChainName).WithField("by", auth.Subject(c)).Infof("%d nodes accepted on %s", len(fronts), req.IP)
	return c.JSON(http.StatusAccepted, FrontsResponse{Count: len(fronts), Total: len(fronts), Fronts: fronts})
}

// startNode handles POST /api/v1/nodes/:nodeId/start. An optional body
// {"before","success","failure"} selects the statuses recorded on the way.
func (s *Server) startNode(c echo.Context) error {
	id := c.Param("nodeId")
	var tr engine.Transition
	if err := c.Bind(&tr); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	for _, st := range []*models.FrontStatus{&tr.Before, &tr.Success, &tr.Failure} {
		if *st == "" {
			continue
		}
		parsed, err := models.ParseFrontStatus(string(*st))
		if err != nil {
			return BadRequestError("Invalid transition", err.Error())
		}
		*st = parsed
	}

	if err := s.orch.StartNode(c.Request().Context(), id, tr); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, MessageResponse{Message: "start scheduled", ID: id})
}

// stopNode handles POST /api/v1/nodes/:nodeId/stop.
func (s *Server) stopNode(c echo.Context) error {
	id := c.Param("nodeId")
	if err := s.orch.StopNode(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, MessageResponse{Message: "stop scheduled", ID: id})
}

// deleteNode handles DELETE /api/v1/nodes/:nodeId?deleteHost=&deleteAgency=.
func (s *Server) deleteNode(c echo.Context) error {
	req := deploy.DeleteNodeRequest{NodeID: c.Param("nodeId")}
	var err error
	if req.DeleteHost, err = boolQuery(c, "deleteHost"); err != nil {
		return err
	}
	if req.DeleteAgency, err = boolQuery(c, "deleteAgency"); err != nil {
		return err
	}

	if err := s.orch.DeleteNode(c.Request().Context(), req); err != nil {
		return err
	}
	s.log.WithField("nodeId", req.NodeID).WithField("by", auth.Subject(c)).Info("node deleted")
	return c.JSON(http.StatusOK, MessageResponse{Message: "node deleted", ID: req.NodeID})
}

func boolQuery(c echo.Context, key string) (bool, error) {
	v := c.QueryParam(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, BadRequestError("Invalid "+key+" parameter", key+" must be a boolean. Got: "+v)
	}
	return b, nil
}
