package livehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"quorum/internal/agent/engine"
	"quorum/internal/agent/interfaces"
	"quorum/internal/agent/override"
	"quorum/internal/decision"
	"quorum/internal/logger"
	"quorum/internal/portfolio"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	streamTrigger    = "stream"
)

// Router 暴露 /api 下的决策与账户接口。
type Router struct {
	Cycles        CycleRunner
	Overrides     OverrideHandler
	Portfolio     interfaces.PortfolioStore
	Opportunities OpportunityReader
	Conflicts     interfaces.ConflictLedger
	CycleLog      CycleLogReader
}

// NewRouter 构造 router。
func NewRouter(cfg ServerConfig) *Router {
	return &Router{
		Cycles:        cfg.Cycles,
		Overrides:     cfg.Overrides,
		Portfolio:     cfg.Portfolio,
		Opportunities: cfg.Opportunities,
		Conflicts:     cfg.Conflicts,
		CycleLog:      cfg.CycleLog,
	}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/cycle/stream", r.handleCycleStream)
	group.GET("/cycle/state", r.handleCycleState)
	group.GET("/cycles", r.handleCycles)
	group.GET("/cycles/:id", r.handleCycleDetail)
	group.GET("/portfolio", r.handlePortfolio)
	group.GET("/opportunities", r.handleOpportunities)
	group.GET("/conflicts", r.handleConflicts)
	group.POST("/portfolio/close-short", r.overrideHandler("close_short", func(h OverrideHandler) overrideFunc { return h.CloseShort }))
	group.POST("/portfolio/sell", r.overrideHandler("sell", func(h OverrideHandler) overrideFunc { return h.Sell }))
	group.POST("/portfolio/open-short", r.overrideHandler("open_short", func(h OverrideHandler) overrideFunc { return h.OpenShort }))
}

// handleCycleStream 启动一轮决策并以 SSE 推送进度；客户端断开会取消本轮。
func (r *Router) handleCycleStream(c *gin.Context) {
	events, err := r.Cycles.Start(c.Request.Context(), streamTrigger)
	if errors.Is(err, engine.ErrCycleActive) {
		id, state := r.Cycles.Current()
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "cycle_id": id, "state": state})
		return
	}
	if err != nil {
		logger.Errorf("[api] cycle stream start failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] cycle stream started ip=%s", c.ClientIP())

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	gone := false
	// 客户端离开后继续排空事件，直到编排器回到 Idle 并关闭通道
	for ev := range events {
		if gone {
			continue
		}
		payload, err := engine.MarshalEvent(ev)
		if err != nil {
			logger.Warnf("[api] encode cycle event failed: %v", err)
			continue
		}
		if err := writeSSE(c.Writer, payload); err != nil {
			logger.Infof("[api] cycle stream client gone ip=%s err=%v", c.ClientIP(), err)
			gone = true
			continue
		}
		c.Writer.Flush()
	}
}

func writeSSE(w io.Writer, payload []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func (r *Router) handleCycleState(c *gin.Context) {
	id, state := r.Cycles.Current()
	resp := cycleStateResponse{CycleID: id, State: state}
	if last, ok := r.Cycles.LastReport(); ok {
		resp.Last = digestReport(last)
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleCycles(c *gin.Context) {
	if r.CycleLog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cycle log unavailable"})
		return
	}
	list, err := r.CycleLog.RecentCycles(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycles": emptyIfNil(list)})
}

func (r *Router) handleCycleDetail(c *gin.Context) {
	if r.CycleLog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cycle log unavailable"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	summary, ok, err := r.CycleLog.GetCycle(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "cycle not found", "id": id})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (r *Router) handlePortfolio(c *gin.Context) {
	if r.Portfolio == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "portfolio unavailable"})
		return
	}
	ctx := c.Request.Context()
	snap, err := r.Portfolio.GetPortfolio(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	trades, err := r.Portfolio.Trades(ctx, queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, portfolioResponse{Portfolio: snap, Trades: emptyIfNil(trades)})
}

func (r *Router) handleOpportunities(c *gin.Context) {
	if r.Opportunities == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "opportunity ledger unavailable"})
		return
	}
	var (
		list []decision.OpportunityLogEntry
		err  error
	)
	limit := queryLimit(c)
	if sym := strings.TrimSpace(c.Query("symbol")); sym != "" {
		list, err = r.Opportunities.OpportunitiesBySymbol(c.Request.Context(), sym, limit)
	} else {
		list, err = r.Opportunities.Recent(c.Request.Context(), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"opportunities": emptyIfNil(list)})
}

func (r *Router) handleConflicts(c *gin.Context) {
	if r.Conflicts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "conflict ledger unavailable"})
		return
	}
	list, err := r.Conflicts.Recent(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": emptyIfNil(list)})
}

type overrideFunc func(context.Context, override.Request) (decision.PortfolioSnapshot, decision.Trade, error)

// overrideHandler 解析请求并执行人工操作；校验失败在任何副作用之前返回 400。
func (r *Router) overrideHandler(action string, pick func(OverrideHandler) overrideFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.Overrides == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "manual override unavailable"})
			return
		}
		var req override.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Warnf("[api] manual %s bind failed ip=%s err=%v", action, c.ClientIP(), err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": bindFields(err)})
			return
		}
		snap, trade, err := pick(r.Overrides)(c.Request.Context(), req)
		if err != nil {
			status := overrideStatus(err)
			var verr *override.ValidationError
			if errors.As(err, &verr) {
				c.JSON(status, gin.H{"error": "validation failed", "fields": verr.Fields})
				return
			}
			logger.Errorf("[api] manual %s failed ip=%s symbol=%s err=%v", action, c.ClientIP(), strings.ToUpper(strings.TrimSpace(req.Symbol)), err)
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		logger.Infof("[api] manual %s ip=%s symbol=%s qty=%v price=%v", action, c.ClientIP(), trade.Symbol, trade.Quantity, trade.Price)
		c.JSON(http.StatusOK, overrideResponse{Portfolio: snap, Trade: trade})
	}
}

func overrideStatus(err error) int {
	var verr *override.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrInsufficientBalance),
		errors.Is(err, portfolio.ErrQuantityExceeded),
		errors.Is(err, portfolio.ErrInvalidTrade):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// bindFields 把 JSON 解析错误转成字段级信息。
func bindFields(err error) map[string]string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return map[string]string{typeErr.Field: fmt.Sprintf("%s has invalid type %s", typeErr.Field, typeErr.Value)}
	}
	if errors.Is(err, io.EOF) {
		return map[string]string{"request": "request body is required"}
	}
	return map[string]string{"request": "request body must be valid JSON"}
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(strings.TrimSpace(c.DefaultQuery("limit", "")))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func emptyIfNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
