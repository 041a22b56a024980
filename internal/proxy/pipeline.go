package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"unicity-proxy.backend/internal/cache"
	"unicity-proxy.backend/internal/ratelimit"
	"unicity-proxy.backend/internal/routing"
	"unicity-proxy.backend/pkg/logger"
	"unicity-proxy.backend/pkg/metrics"
)

const (
	// MaxBodyBytes caps the request body at ingress.
	MaxBodyBytes = 10 << 20
	// MaxHeaderCount caps the number of header values per request.
	MaxHeaderCount = 200

	requestIDCookie = "UNICITY_REQUEST_ID"
	shardIDCookie   = "UNICITY_SHARD_ID"

	debugBodyLimit = 1024
)

var bearerPattern = regexp.MustCompile(`\s*[Bb]earer\s+([A-Za-z0-9\-._~+/]+=*)\s*`)

// DefaultProtectedMethods lists the JSON-RPC methods that require an
// effective API key.
var DefaultProtectedMethods = []string{"submit_commitment"}

// Pipeline is the proxy front door: size guard, JSON-RPC classification,
// auth, rate limiting, shard routing and backend forwarding.
type Pipeline struct {
	router    *routing.Holder
	keyCache  *cache.KeyCache
	limiter   *ratelimit.Limiter
	backend   *BackendClient
	protected map[string]struct{}
}

func NewPipeline(router *routing.Holder, keyCache *cache.KeyCache, limiter *ratelimit.Limiter, backend *BackendClient, protectedMethods []string) *Pipeline {
	if len(protectedMethods) == 0 {
		protectedMethods = DefaultProtectedMethods
	}
	protected := make(map[string]struct{}, len(protectedMethods))
	for _, m := range protectedMethods {
		m = strings.TrimSpace(m)
		if m != "" {
			protected[m] = struct{}{}
		}
	}
	return &Pipeline{
		router:    router,
		keyCache:  keyCache,
		limiter:   limiter,
		backend:   backend,
		protected: protected,
	}
}

// rpcEnvelope is the slice of a JSON-RPC request the pipeline cares about.
type rpcEnvelope struct {
	Method string `json:"method"`
	Params struct {
		RequestID string `json:"requestId"`
		ShardID   string `json:"shardId"`
	} `json:"params"`
}

// Handler returns the gin handler serving every non-reserved path.
func (p *Pipeline) Handler() gin.HandlerFunc {
	return p.serve
}

func (p *Pipeline) serve(c *gin.Context) {
	req := c.Request

	// Size guards run before any other work.
	headerCount := 0
	for _, values := range req.Header {
		headerCount += len(values)
	}
	if headerCount > MaxHeaderCount {
		c.String(http.StatusBadRequest, "Too many headers")
		return
	}
	if req.ContentLength > MaxBodyBytes {
		c.String(http.StatusBadRequest, "Request body too large")
		return
	}

	var body []byte
	switch req.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		var err error
		body, err = io.ReadAll(io.LimitReader(req.Body, MaxBodyBytes+1))
		if err != nil {
			c.String(http.StatusBadRequest, "Failed to read request body")
			return
		}
		if len(body) > MaxBodyBytes {
			c.String(http.StatusBadRequest, "Request body too large")
			return
		}
	}

	// JSON-RPC classification; any parse failure silently degrades the
	// request to plain traffic.
	var env rpcEnvelope
	jsonRPC := false
	if req.Method == http.MethodPost && len(body) > 0 {
		if err := json.Unmarshal(body, &env); err == nil && env.Method != "" {
			jsonRPC = true
		}
	}

	if logger.DebugEnabled() && len(body) > 0 {
		preview := body
		if len(preview) > debugBodyLimit {
			preview = preview[:debugBodyLimit]
		}
		logger.Debug(req.Context(), "proxy request body", zap.ByteString("body", preview))
	}

	if jsonRPC {
		if _, needsAuth := p.protected[env.Method]; needsAuth {
			if !p.authorize(c) {
				return
			}
		}
	}

	requestID, shardID := env.Params.RequestID, env.Params.ShardID
	if !jsonRPC {
		if cookie, err := req.Cookie(requestIDCookie); err == nil && requestID == "" {
			requestID = cookie.Value
		}
		if cookie, err := req.Cookie(shardIDCookie); err == nil && shardID == "" {
			shardID = cookie.Value
		}
	}

	table := p.router.Load()
	if table == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shard routing unavailable"})
		return
	}
	target, err := table.Resolve(requestID, shardID, jsonRPC)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p.forward(c, target, body)
}

// authorize extracts the API key, checks effectiveness through the cache and
// consumes one token from the key's bucket pair.
func (p *Pipeline) authorize(c *gin.Context) bool {
	key := extractApiKey(c.Request)
	if key == "" {
		metrics.AuthFailures.Inc()
		c.Header("WWW-Authenticate", "Bearer")
		c.String(http.StatusUnauthorized, "Unauthorized")
		c.Abort()
		return false
	}

	limits, ok, err := p.keyCache.Lookup(c.Request.Context(), key)
	if err != nil {
		logger.Error(c.Request.Context(), "api key lookup failed", zap.Error(err))
		c.String(http.StatusInternalServerError, "Internal Server Error")
		c.Abort()
		return false
	}
	if !ok {
		metrics.AuthFailures.Inc()
		c.Header("WWW-Authenticate", "Bearer")
		c.String(http.StatusUnauthorized, "Unauthorized")
		c.Abort()
		return false
	}

	decision := p.limiter.TryConsume(key, limits)
	if !decision.Allowed {
		metrics.RateLimitDenials.Inc()
		c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter/time.Second)))
		c.String(http.StatusTooManyRequests, "Too Many Requests")
		c.Abort()
		return false
	}
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	return true
}

func extractApiKey(req *http.Request) string {
	if auth := req.Header.Get("Authorization"); auth != "" {
		if m := bearerPattern.FindStringSubmatch(auth); m != nil {
			return m[1]
		}
	}
	return req.Header.Get("X-API-Key")
}

// forward relays the request to the target shard and streams the response
// back. Every failure downstream maps to 502.
func (p *Pipeline) forward(c *gin.Context, target string, body []byte) {
	req := c.Request

	targetURL := strings.TrimSuffix(target, "/") + req.URL.RequestURI()
	ctx, cancel := context.WithTimeout(req.Context(), p.backend.ReadTimeout())
	defer cancel()

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}
	backendReq, err := http.NewRequestWithContext(ctx, req.Method, targetURL, bodyReader)
	if err != nil {
		c.String(http.StatusBadGateway, "Bad Gateway")
		return
	}
	copyForwardHeaders(backendReq.Header, req.Header)

	start := time.Now()
	resp, err := p.backend.Do(backendReq)
	metrics.BackendLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn(req.Context(), "backend call failed",
				zap.String("target", target), zap.Error(err))
		}
		metrics.ProxiedRequests.WithLabelValues(statusClass(http.StatusBadGateway)).Inc()
		c.String(http.StatusBadGateway, "Bad Gateway")
		return
	}
	defer resp.Body.Close()

	copyResponseHeaders(c.Writer.Header(), resp.Header)
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		// The client went away or the backend stream broke mid-body; the
		// status line is already out, so just stop writing.
		logger.Debug(req.Context(), "response relay interrupted", zap.Error(err))
	}
	metrics.ProxiedRequests.WithLabelValues(statusClass(resp.StatusCode)).Inc()
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
