package httpapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/internal/telegramauth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	visitorIdleTTL     = 10 * time.Minute
	visitorSweepPeriod = time.Minute
)

func requestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := strings.TrimSpace(ctx.GetHeader(headerRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		ctx.Set(headerRequestID, id)
		ctx.Header(headerRequestID, id)
		ctx.Next()
	}
}

func observe(logger *zap.Logger, metrics MetricsRecorder) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		elapsed := time.Since(started)
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := ctx.Writer.Status()
		if metrics != nil {
			metrics.ObserveHTTP(route, ctx.Request.Method, status, elapsed)
		}
		fields := []zap.Field{
			zap.String("request_id", ctx.GetString(headerRequestID)),
			zap.String("method", ctx.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("client_ip", ctx.ClientIP()),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client IP.
type rateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	perSecond rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(requestsPerMinute int, burst int) *rateLimiter {
	return &rateLimiter{
		visitors:  make(map[string]*visitor),
		perSecond: rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:     burst,
		now:       time.Now,
	}
}

func (limiter *rateLimiter) allow(clientID string) bool {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	now := limiter.now()
	if now.Sub(limiter.lastSweep) > visitorSweepPeriod {
		for id, entry := range limiter.visitors {
			if now.Sub(entry.lastSeen) > visitorIdleTTL {
				delete(limiter.visitors, id)
			}
		}
		limiter.lastSweep = now
	}
	entry, ok := limiter.visitors[clientID]
	if !ok {
		entry = &visitor{limiter: rate.NewLimiter(limiter.perSecond, limiter.burst)}
		limiter.visitors[clientID] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (limiter *rateLimiter) middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !limiter.allow(ctx.ClientIP()) {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse(codeRateLimited, "too many requests"))
			return
		}
		ctx.Next()
	}
}

func limitBody(limit int64) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.Request.Body != nil {
			ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, limit)
		}
		ctx.Next()
	}
}

func (handler *httpHandler) requireIdentity(ctx *gin.Context) {
	identity, err := handler.auth.Authenticate(ctx.GetHeader("Authorization"))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "valid Telegram credentials required"))
		return
	}
	ctx.Set(contextKeyIdentity, identity)
	ctx.Next()
}

func (handler *httpHandler) requireAdmin(ctx *gin.Context) {
	identity, ok := identityFrom(ctx)
	if !ok {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "valid Telegram credentials required"))
		return
	}
	isAdmin, err := handler.service.IsAdmin(ctx.Request.Context(), identity.TelegramID)
	if err != nil {
		handler.logger.Error("admin lookup failed", zap.Error(err))
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse(codeInternal, "internal error"))
		return
	}
	if !isAdmin {
		ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse(codeForbidden, "admin access required"))
		return
	}
	ctx.Next()
}

func identityFrom(ctx *gin.Context) (telegramauth.Identity, bool) {
	value, ok := ctx.Get(contextKeyIdentity)
	if !ok {
		return telegramauth.Identity{}, false
	}
	identity, ok := value.(telegramauth.Identity)
	return identity, ok
}
