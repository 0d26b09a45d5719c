package httpapi

import (
	"context"
	"errors"
	"net/http"

	"crypto-live-dashboard/internal/live"
	"crypto-live-dashboard/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 统一的响应结构
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type bindRequest struct {
	AssetID string `json:"assetId" binding:"required"`
	Symbol  string `json:"symbol"`
}

type periodRequest struct {
	Period model.Period `json:"period" binding:"required"`
}

type cadenceRequest struct {
	Cadence string `json:"cadence" binding:"required"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"views":  s.views.Len(),
	})
}

func (s *Server) listPeriods(c *gin.Context) {
	periods := make([]model.PeriodConfig, 0, len(model.Periods))
	for _, p := range model.Periods {
		cfg, _ := model.LookupPeriod(p)
		periods = append(periods, cfg)
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{
		"periods":  periods,
		"cadences": s.cadences,
	}})
}

func (s *Server) createView(c *gin.Context) {
	var req bindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	session, err := s.views.Create(c.Request.Context(), req.AssetID, req.Symbol)
	if err != nil {
		s.logger.Warn("Create view failed", zap.String("asset", req.AssetID), zap.Error(err))
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: session.Snapshot()})
}

func (s *Server) getView(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: session.Snapshot()})
}

func (s *Server) bindAsset(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	var req bindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := session.BindAsset(c.Request.Context(), req.AssetID, req.Symbol); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: session.Snapshot()})
}

func (s *Server) selectPeriod(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	var req periodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := session.SelectPeriod(c.Request.Context(), req.Period); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: session.Snapshot()})
}

func (s *Server) selectCadence(c *gin.Context) {
	session, ok := s.session(c)
	if !ok {
		return
	}
	var req cadenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := session.SelectLiveCadence(c.Request.Context(), req.Cadence); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: session.Snapshot()})
}

func (s *Server) deleteView(c *gin.Context) {
	if err := s.views.Remove(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) session(c *gin.Context) (*live.Session, bool) {
	session, ok := s.views.Get(c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, live.ErrViewNotFound)
		return nil, false
	}
	return session, true
}

// statusFor 会话命令的错误只有参数错误和会话状态两类
func statusFor(err error) int {
	switch {
	case errors.Is(err, live.ErrViewNotFound):
		return http.StatusNotFound
	case errors.Is(err, live.ErrNotBound):
		return http.StatusConflict
	case errors.Is(err, live.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, Response{Success: false, Error: err.Error()})
}
