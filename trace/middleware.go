package trace

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ScrapePath Prometheus 抓取路径，不产生 span
const ScrapePath = "/metrics"

// GinMiddleware 为运维接口的每个请求开启服务端 span，抓取请求除外
func GinMiddleware(service string) gin.HandlerFunc {
	return otelgin.Middleware(service,
		otelgin.WithGinFilter(func(c *gin.Context) bool {
			return c.Request.URL.Path != ScrapePath
		}),
	)
}
