package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSConfig configures cross-origin access for browser clients such as queue dashboards.
type CORSConfig struct {
	// AllowOrigins lists exact origins. "*" allows any origin; a single "*" inside an entry,
	// as in https://*.example.com, matches by prefix and suffix.
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSMethods are the methods used by the job API.
var DefaultCORSMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}

// CORS answers preflight requests and decorates responses for allowed origins. Requests from
// other origins pass through without CORS headers; their preflights get 403.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	cfg = normalizeCORS(cfg)
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""
		if !cfg.allows(origin) {
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		h := c.Writer.Header()
		for _, v := range []string{"Origin", "Access-Control-Request-Method", "Access-Control-Request-Headers"} {
			appendVary(h, v)
		}
		if cfg.AllowCredentials {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
		} else if cfg.allowsAny() {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
		}
		if len(cfg.ExposeHeaders) > 0 {
			h.Set("Access-Control-Expose-Headers", strings.Join(cfg.ExposeHeaders, ", "))
		}

		if !preflight {
			c.Next()
			return
		}
		h.Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowMethods, ", "))
		if len(cfg.AllowHeaders) > 0 {
			h.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowHeaders, ", "))
		} else if requested := c.GetHeader("Access-Control-Request-Headers"); requested != "" {
			h.Set("Access-Control-Allow-Headers", requested)
		}
		if cfg.MaxAge > 0 {
			h.Set("Access-Control-Max-Age", strconv.Itoa(int(cfg.MaxAge/time.Second)))
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}

func normalizeCORS(cfg CORSConfig) CORSConfig {
	if len(cfg.AllowMethods) == 0 {
		cfg.AllowMethods = DefaultCORSMethods
	}
	if len(cfg.ExposeHeaders) == 0 {
		cfg.ExposeHeaders = []string{RequestIDHeader, "Location"}
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 12 * time.Hour
	}
	methods := make([]string, 0, len(cfg.AllowMethods))
	for _, m := range cfg.AllowMethods {
		methods = append(methods, strings.ToUpper(strings.TrimSpace(m)))
	}
	cfg.AllowMethods = methods
	origins := make([]string, 0, len(cfg.AllowOrigins))
	for _, o := range cfg.AllowOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

func (cfg CORSConfig) allows(origin string) bool {
	for _, allowed := range cfg.AllowOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || wildcardMatch(allowed, origin) {
			return true
		}
	}
	return false
}

func (cfg CORSConfig) allowsAny() bool {
	for _, allowed := range cfg.AllowOrigins {
		if allowed == "*" {
			return true
		}
	}
	return false
}

func wildcardMatch(pattern, value string) bool {
	if strings.Count(pattern, "*") != 1 {
		return false
	}
	prefix, suffix, _ := strings.Cut(pattern, "*")
	return len(value) >= len(prefix)+len(suffix) && strings.HasPrefix(value, prefix) && strings.HasSuffix(value, suffix)
}

func appendVary(h http.Header, value string) {
	current := h.Get("Vary")
	if current == "" {
		h.Set("Vary", value)
		return
	}
	for _, part := range strings.Split(current, ",") {
		if strings.EqualFold(strings.TrimSpace(part), value) {
			return
		}
	}
	h.Set("Vary", current+", "+value)
}
