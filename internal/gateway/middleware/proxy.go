package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProxyHandler forwards requests to upstream with the trace headers attached.
// timeout is not applied to websocket upgrades.
func ProxyHandler(proxy *httputil.ReverseProxy, routeName string, timeout time.Duration, stripPrefix string) gin.HandlerFunc {
	if proxy != nil {
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn(r.Context(), "upstream request failed",
				zap.String("route", routeName),
				zap.Error(err),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(pkgerrors.ServiceUnavailable.HTTPStatus())
			_ = json.NewEncoder(w).Encode(response.Response{
				Code:    pkgerrors.ServiceUnavailable,
				Message: pkgerrors.ServiceUnavailable.Message(),
			})
		}
	}

	return func(c *gin.Context) {
		if proxy == nil {
			response.AbortWithError(c, pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("upstream proxy unavailable"))
			return
		}
		req := c.Request
		if timeout > 0 && !isUpgrade(req) {
			ctx, cancel := context.WithTimeout(req.Context(), timeout)
			defer cancel()
			req = req.WithContext(ctx)
		}
		if stripPrefix != "" && strings.HasPrefix(req.URL.Path, stripPrefix) {
			path := strings.TrimPrefix(req.URL.Path, stripPrefix)
			if path == "" {
				path = "/"
			}
			req.URL.Path = path
			req.URL.RawPath = ""
		}

		injectHeaders(c, req, routeName)
		proxy.ServeHTTP(c.Writer, req)
	}
}

func injectHeaders(c *gin.Context, req *http.Request, routeName string) {
	for key, header := range map[string]string{
		"trace_id":   "X-Trace-Id",
		"request_id": "X-Request-Id",
		"user_id":    "X-User-Id",
	} {
		if v, ok := c.Get(key); ok {
			req.Header.Set(header, fmt.Sprint(v))
		}
	}
	req.Header.Set("X-Route-Name", routeName)
	req.Header.Set("X-Real-IP", c.ClientIP())
}

func isUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}
