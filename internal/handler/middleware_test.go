package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/prperemyshlev/eduportal-auth/internal/service"
	"github.com/prperemyshlev/eduportal-auth/pkg/database"
)

func TestRateLimitMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := service.NewRateLimiter(&database.Redis{Client: client})

	r := gin.New()
	r.POST("/login", RateLimitMiddleware(limiter, 2, time.Minute, IPBasedKey, zap.NewNop()), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := doRequest(r, http.MethodPost, "/login", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	w = doRequest(r, http.MethodPost, "/login", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(r, http.MethodPost, "/login", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	limiter := service.NewRateLimiter(&database.Redis{Client: client})
	mr.Close()

	r := gin.New()
	r.POST("/login", RateLimitMiddleware(limiter, 1, time.Minute, IPBasedKey, zap.NewNop()), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := doRequest(r, http.MethodPost, "/login", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCORSMiddleware(t *testing.T) {
	newRouter := func(origins []string) *gin.Engine {
		r := gin.New()
		r.Use(CORSMiddleware(origins, []string{"GET", "POST"}, []string{"Content-Type", "Authorization"}))
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}
	withOrigin := func(origin string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("Origin", origin) }
	}

	t.Run("listed origin gets credentials", func(t *testing.T) {
		w := doRequest(newRouter([]string{"https://portal.school.edu"}), http.MethodGet, "/x", nil, withOrigin("https://portal.school.edu"))
		assert.Equal(t, "https://portal.school.edu", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("unlisted origin", func(t *testing.T) {
		w := doRequest(newRouter([]string{"https://portal.school.edu"}), http.MethodGet, "/x", nil, withOrigin("https://evil.test"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard without credentials", func(t *testing.T) {
		w := doRequest(newRouter([]string{"*"}), http.MethodGet, "/x", nil, withOrigin("https://any.test"))
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("preflight", func(t *testing.T) {
		w := doRequest(newRouter([]string{"*"}), http.MethodOptions, "/x", nil, withOrigin("https://any.test"))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))
	})
}
