package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"anzacash/internal/apperr"
	"anzacash/internal/commission"
	"anzacash/internal/logger"
	"anzacash/internal/models"
	"anzacash/internal/referral"
)

func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": apperr.Message(err), "kind": apperr.KindOf(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperr.KindValidation})
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		respondError(c, apperr.New(apperr.KindValidation, "invalid %s %q", name, c.Param(name)))
		return 0, false
	}
	return uint(id), true
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := s.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	token, err := s.tokens.Generate(u.ID, u.Username, string(u.Role))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"type":       "Bearer",
		"expires_in": int(s.tokens.TTL() / time.Second),
		"user":       u,
	})
}

type createUserRequest struct {
	Username  string      `json:"username" binding:"required"`
	Email     string      `json:"email" binding:"required"`
	Password  string      `json:"password" binding:"required"`
	Phone     string      `json:"phone"`
	Country   string      `json:"country"`
	FullName  string      `json:"full_name"`
	Role      models.Role `json:"role"`
	SponsorID *uint       `json:"sponsor_id"`
}

// createUser registers an account. Only admins may create admin accounts.
func (s *Server) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Role == models.RoleAdmin {
		if claims := claimsOf(c); claims == nil || claims.Role != string(models.RoleAdmin) {
			c.JSON(http.StatusForbidden, gin.H{"error": "only admins may create admin accounts"})
			return
		}
	}

	u, err := s.users.CreateUser(c.Request.Context(), referral.Profile{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		Phone:     req.Phone,
		Country:   req.Country,
		FullName:  req.FullName,
		Role:      req.Role,
		SponsorID: req.SponsorID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *Server) getUser(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	u, err := s.users.GetUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) deactivate(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := s.users.Deactivate(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sponsorRequest struct {
	SponsorID uint `json:"sponsor_id" binding:"required"`
}

func (s *Server) setSponsor(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req sponsorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.users.SetSponsor(c.Request.Context(), id, req.SponsorID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "sponsor_id": req.SponsorID})
}

type placeRequest struct {
	ChildID uint `json:"child_id" binding:"required"`
}

func (s *Server) placeChild(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req placeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	side := models.Side(c.Param("side"))
	if err := s.users.PlaceChild(c.Request.Context(), id, side, req.ChildID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"parent_id": id, "side": side, "child_id": req.ChildID})
}

func (s *Server) descendants(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	side := models.Side(c.Query("side"))
	limit := defaultDescendantLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxDescendantLimit {
			respondError(c, apperr.New(apperr.KindValidation, "limit must be between 1 and %d", maxDescendantLimit))
			return
		}
		limit = n
	}

	users, err := s.users.CollectDescendants(c.Request.Context(), id, side, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "side": side, "descendants": users})
}

func (s *Server) level(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	level, err := s.users.ComputeLevel(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "level": level})
}

func (s *Server) commissions(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	list, err := s.payments.Commissions(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "commissions": list})
}

type paymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

func (s *Server) recordPayment(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	receipt, err := s.payments.RecordPayment(c.Request.Context(), id, req.Amount, req.Reference)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if receipt.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, receipt)
}

// paymentWebhook acknowledges every well formed notification it could
// process so the provider stops redelivering it.
func (s *Server) paymentWebhook(c *gin.Context) {
	var n commission.WebhookNotification
	if err := c.ShouldBindJSON(&n); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := s.payments.HandleWebhook(c.Request.Context(), n); err != nil {
		logger.Warningf("Failed to process payment %s: %v", n.Object.ID, err)
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
