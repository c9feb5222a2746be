// Package admin 提供网关的运维 HTTP 接口（gin），由宿主挂载到自己的路由上。
//
//	GET  /admin/breakers                 所有熔断器快照
//	GET  /admin/breakers/:name           单个熔断器快照
//	POST /admin/breakers/:name/reset     手动关闭熔断器
//	POST /admin/cache/invalidate         {"tag": "inventory"}
//	GET  /admin/settings                 配置解析状态
//	GET  /admin/quota/:identity          身份的配额用量
//	GET  /metrics                        Prometheus 指标
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/modelgate/breaker"
	"github.com/ceyewan/modelgate/clog"
	"github.com/ceyewan/modelgate/gateway"
	"github.com/ceyewan/modelgate/metrics"
	"github.com/ceyewan/modelgate/ratelimit"
	"github.com/ceyewan/modelgate/trace"
	"github.com/ceyewan/modelgate/xerrors"
)

// Gateway 运维接口需要的网关能力，*gateway.Gateway 满足该接口
type Gateway interface {
	Breakers() []string
	BreakerStatus(name string) (breaker.Status, error)
	ResetBreaker(name string) error
	InvalidateTag(ctx context.Context, tag string) (int, error)
	SettingsState() (gateway.SettingsState, error)
	Usage(ctx context.Context, identity string) (ratelimit.Usage, error)
}

var _ Gateway = (*gateway.Gateway)(nil)

// Handler 运维接口
type Handler struct {
	gw     Gateway
	meter  metrics.Meter
	logger clog.Logger
}

// New 创建运维接口
func New(gw Gateway, opts ...Option) (*Handler, error) {
	if gw == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "admin: gateway is nil")
	}
	o := applyOptions(opts...)
	return &Handler{gw: gw, meter: o.meter, logger: o.logger}, nil
}

// Register 在 r 上注册全部路由
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/admin")
	g.GET("/breakers", h.listBreakers)
	g.GET("/breakers/:name", h.breakerStatus)
	g.POST("/breakers/:name/reset", h.resetBreaker)
	g.POST("/cache/invalidate", h.invalidate)
	g.GET("/settings", h.settings)
	g.GET("/quota/:identity", h.quota)

	r.GET(trace.ScrapePath, gin.WrapH(h.meter.Handler()))
}

// NewRouter 创建带恢复、链路追踪和 RED 指标中间件的 gin.Engine
func NewRouter(h *Handler, service string) (*gin.Engine, error) {
	httpMetrics, err := metrics.NewHTTPServerMetrics(h.meter, service)
	if err != nil {
		return nil, err
	}
	r := gin.New()
	r.Use(gin.Recovery(), trace.GinMiddleware(service), metrics.GinHTTPMiddleware(httpMetrics))
	h.Register(r)
	return r, nil
}

type breakerView struct {
	breaker.Status
	RetryAfterSeconds float64 `json:"retry_after_seconds"`
}

func viewOf(st breaker.Status) breakerView {
	return breakerView{Status: st, RetryAfterSeconds: st.RetryAfter.Seconds()}
}

func (h *Handler) listBreakers(c *gin.Context) {
	views := make([]breakerView, 0)
	for _, name := range h.gw.Breakers() {
		st, err := h.gw.BreakerStatus(name)
		if err != nil {
			h.fail(c, err)
			return
		}
		views = append(views, viewOf(st))
	}
	c.JSON(http.StatusOK, gin.H{"breakers": views})
}

func (h *Handler) breakerStatus(c *gin.Context) {
	st, err := h.gw.BreakerStatus(c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(st))
}

func (h *Handler) resetBreaker(c *gin.Context) {
	name := c.Param("name")
	if err := h.gw.ResetBreaker(name); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.InfoContext(c.Request.Context(), "breaker reset via admin", clog.String("dependency", name))
	st, err := h.gw.BreakerStatus(name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(st))
}

type invalidateRequest struct {
	Tag string `json:"tag" binding:"required"`
}

func (h *Handler) invalidate(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, xerrors.Wrap(xerrors.ErrInvalidInput, err.Error()))
		return
	}
	removed, err := h.gw.InvalidateTag(c.Request.Context(), req.Tag)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.InfoContext(c.Request.Context(), "cache tag invalidated via admin",
		clog.String("tag", req.Tag), clog.Int("removed", removed))
	c.JSON(http.StatusOK, gin.H{"tag": req.Tag, "removed": removed})
}

func (h *Handler) settings(c *gin.Context) {
	state, lastErr := h.gw.SettingsState()
	resp := gin.H{"state": state}
	if lastErr != nil {
		resp["error"] = lastErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

type windowView struct {
	Count     int64     `json:"count"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

func windowOf(u ratelimit.WindowUsage) windowView {
	return windowView{Count: u.Count, Limit: u.Limit, Remaining: u.Remaining(), ResetAt: u.ResetAt}
}

func (h *Handler) quota(c *gin.Context) {
	usage, err := h.gw.Usage(c.Request.Context(), c.Param("identity"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identity": usage.Identity,
		"hour":     windowOf(usage.Hour),
		"day":      windowOf(usage.Day),
	})
}

// fail 按错误类别映射状态码
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, xerrors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, xerrors.ErrNotFound):
		status = http.StatusNotFound
	default:
		h.logger.ErrorContext(c.Request.Context(), "admin request failed",
			clog.String("path", c.FullPath()), clog.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
