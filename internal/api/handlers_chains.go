package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/chainmgr/internal/auth"
	"evalgo.org/chainmgr/internal/deploy"
)

// listChains handles GET /api/v1/chains.
func (s *Server) listChains(c echo.Context) error {
	chains, err := s.orch.ListChains(c.Request().Context())
	if err != nil {
		return err
	}
	limit, offset := parsePagination(c)
	page := paginate(chains, limit, offset)
	return c.JSON(http.StatusOK, ChainsResponse{Count: len(page), Chains: page})
}

// getChain handles GET /api/v1/chains/:name.
func (s *Server) getChain(c echo.Context) error {
	detail, err := s.orch.DescribeChain(c.Request().Context(), c.Param("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

// deployChain handles POST /api/v1/chains.
func (s *Server) deployChain(c echo.Context) error {
	var req deploy.DeployRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	chain, err := s.orch.DeployChain(c.Request().Context(), req)
	if err != nil {
		return err
	}
	s.log.WithField("chain", chain.Name).WithField("by", auth.Subject(c)).Info("deploy accepted")
	return c.JSON(http.StatusAccepted, chain)
}

// deleteChain handles DELETE /api/v1/chains/:name.
func (s *Server) deleteChain(c echo.Context) error {
	name := c.Param("name")
	if err := s.orch.DeleteChain(c.Request().Context(), name); err != nil {
		return err
	}
	s.log.WithField("chain", name).WithField("by", auth.Subject(c)).Info("chain deleted")
	return c.JSON(http.StatusOK, MessageResponse{Message: "chain deleted", ID: name})
}

// chainProgress handles GET /api/v1/chains/:name/progress.
func (s *Server) chainProgress(c echo.Context) error {
	p, err := s.orch.Progress(c.Request().Context(), c.Param("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// upgradeChain handles POST /api/v1/chains/:name/upgrade.
func (s *Server) upgradeChain(c echo.Context) error {
	var req UpgradeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	chain, err := s.orch.Upgrade(c.Request().Context(), req.TagID, c.Param("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, chain)
}
