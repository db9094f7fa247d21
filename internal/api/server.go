// Package api exposes the decoding engine over HTTP. One endpoint runs
// a search, the rest manage stored runs and report engine diagnostics.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
)

type Server struct {
	store   *DecodeStore
	service *DecodeService
	clock   func() time.Time
}

func NewServer(store *DecodeStore, service *DecodeService) *Server {
	if store == nil {
		store = NewDecodeStore()
	}
	return &Server{
		store:   store,
		service: service,
		clock:   time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/decode", s.handleDecode)
	e.GET("/v1/decodes/:id", s.handleGetDecode)
	e.DELETE("/v1/decodes/:id", s.handleDeleteDecode)
	e.GET("/v1/engine", s.handleEngineInfo)
}

func (s *Server) handleDecode(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "decode service not configured", "", "")
	}
	req, err := decodeJSON[DecodeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	results, strategy, err := s.service.Decode(c.Request().Context(), &req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return writeBadRequest(c, err.Error())
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}

	resp := DecodeResponse{
		ID:        newDecodeID(),
		Object:    "decode",
		CreatedAt: s.clock().Unix(),
		Model:     s.service.modelName,
		Strategy:  strategy,
		Results:   results,
	}
	s.store.Save(resp)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetDecode(c *echo.Context) error {
	resp, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "decode not found")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteDecode(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "decode not found")
	}
	return c.JSON(http.StatusOK, DeleteDecodeResp{
		ID:      id,
		Object:  "decode.deleted",
		Deleted: true,
	})
}

func (s *Server) handleEngineInfo(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "decode service not configured", "", "")
	}
	return c.JSON(http.StatusOK, s.service.Info())
}
