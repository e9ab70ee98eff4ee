package api

import (
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"anzacash/internal/auth"
	"anzacash/internal/logger"
	"anzacash/internal/models"
)

const claimsKey = "claims"

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// requireAuth rejects requests without a valid bearer token and stores its
// claims on the context.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := s.tokens.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// optionalAuth stores the claims of a valid token and ignores anything else.
func (s *Server) optionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearer(c); token != "" {
			if claims, err := s.tokens.Validate(token); err == nil {
				c.Set(claimsKey, claims)
			}
		}
		c.Next()
	}
}

func claimsOf(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

func roleRequired(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		claims := claimsOf(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if !allowed[claims.Role] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// selfOrAdmin lets non-admin callers reach only their own :id resources.
func selfOrAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsOf(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if claims.Role == string(models.RoleAdmin) {
			c.Next()
			return
		}
		id, err := claims.UserID()
		if err != nil || strconv.FormatUint(uint64(id), 10) != c.Param("id") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// allowIPs admits only clients whose address falls inside one of prefixes.
func allowIPs(prefixes []netip.Prefix) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !allowedIP(c.ClientIP(), prefixes) {
			logger.Warningf("Rejected webhook call from %s", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func allowedIP(ip string, prefixes []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
