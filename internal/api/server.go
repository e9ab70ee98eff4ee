// Package api exposes the referral graph and payments over HTTP.
package api

import (
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/gin-gonic/gin"

	"anzacash/internal/auth"
	"anzacash/internal/commission"
	"anzacash/internal/logger"
	"anzacash/internal/models"
	"anzacash/internal/referral"
)

const (
	defaultDescendantLimit = 100
	maxDescendantLimit     = 1000
)

type Server struct {
	users    *referral.Service
	payments *commission.Service
	tokens   *auth.Tokens
	webhook  []netip.Prefix
	proxies  []string
	ping     func() error
}

type Options struct {
	// WebhookCIDRs lists the networks allowed to call the payment webhook.
	// The webhook route is not registered when empty.
	WebhookCIDRs []string
	// TrustedProxies lists proxies whose forwarding headers name the client.
	TrustedProxies []string
	// Ping reports database health for /api/health.
	Ping func() error
}

func NewServer(users *referral.Service, payments *commission.Service, tokens *auth.Tokens, opts Options) (*Server, error) {
	prefixes, err := parsePrefixes(opts.WebhookCIDRs)
	if err != nil {
		return nil, err
	}
	ping := opts.Ping
	if ping == nil {
		ping = func() error { return nil }
	}
	return &Server{users: users, payments: payments, tokens: tokens, webhook: prefixes, proxies: opts.TrustedProxies, ping: ping}, nil
}

// Router builds the gin engine serving every route.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(s.proxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery(), requestLogger())

	api := r.Group("/api")
	api.GET("/health", s.health)
	api.POST("/auth/login", s.login)
	api.POST("/users", s.optionalAuth(), s.createUser)

	if len(s.webhook) > 0 {
		api.POST("/payments/webhook", allowIPs(s.webhook), s.paymentWebhook)
	}

	users := api.Group("/users/:id", s.requireAuth(), selfOrAdmin())
	users.GET("", s.getUser)
	users.GET("/descendants", s.descendants)
	users.GET("/level", s.level)
	users.GET("/commissions", s.commissions)

	admin := users.Group("", roleRequired(string(models.RoleAdmin)))
	admin.DELETE("", s.deactivate)
	admin.PUT("/sponsor", s.setSponsor)
	admin.PUT("/children/:side", s.placeChild)
	admin.POST("/payments", s.recordPayment)

	return r, nil
}

func (s *Server) health(c *gin.Context) {
	if err := s.ping(); err != nil {
		logger.Warningf("Health check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Infof("%s %s %d %s %s", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Round(time.Microsecond), c.ClientIP())
	}
}

func parsePrefixes(cidrs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook network %q: %w", cidr, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}
