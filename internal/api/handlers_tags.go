package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// listTags handles GET /api/v1/tags.
func (s *Server) listTags(c echo.Context) error {
	tags, err := s.orch.ListTags(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TagsResponse{Count: len(tags), Tags: tags})
}

// addTag handles POST /api/v1/tags.
func (s *Server) addTag(c echo.Context) error {
	var req AddTagRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	tag, err := s.orch.AddTag(c.Request().Context(), req.Value)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tag)
}
