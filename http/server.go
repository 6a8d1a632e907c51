// Package http exposes the checkout engine over a small JSON API. Paywall
// routes are public; admin routes require the operator token.
package http

import (
	"crypto/subtle"
	"errors"
	nethttp "net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	basepay "github.com/crypto-plugins/basepay"
)

// Server holds the handlers for the paywall API.
type Server struct {
	svc        *basepay.CheckoutService
	adminToken string
	log        *zap.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(log *zap.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// NewServer creates the API server. adminToken guards the admin routes; an
// empty token disables them entirely.
func NewServer(svc *basepay.CheckoutService, adminToken string, opts ...ServerOption) *Server {
	s := &Server{
		svc:        svc,
		adminToken: adminToken,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	pay := r.Group("/paywall")
	{
		pay.POST("/init", s.handleInit)
		pay.POST("/verify", s.handleVerify)
		pay.POST("/restore", s.handleRestore)
		pay.POST("/lookup", s.handleLookup)
	}

	admin := r.Group("/admin", s.requireAdmin)
	{
		admin.GET("/orders", s.handleListOrders)
		admin.POST("/orders/:id/force-success", s.handleForceSuccess)
		admin.DELETE("/orders/:id", s.handleDeleteOrder)
	}

	return r
}

type initRequest struct {
	ContentRef uint64 `json:"contentRef" binding:"required"`
	Buyer      string `json:"buyer" binding:"required,email"`
}

func (s *Server) handleInit(c *gin.Context) {
	var req initRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	res, err := s.svc.InitCheckout(c.Request.Context(), req.ContentRef, req.Buyer, c.ClientIP())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, res)
}

type verifyRequest struct {
	SessionToken string `json:"sessionToken" binding:"required"`
}

type verifyResponse struct {
	Status        basepay.VerifyStatus `json:"status"`
	SettlementRef string               `json:"settlementRef,omitempty"`
}

func (s *Server) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	res, err := s.svc.VerifyPayment(c.Request.Context(), req.SessionToken)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, verifyResponse{Status: res.Status, SettlementRef: res.SettlementRef})
}

type restoreRequest struct {
	ContentRef uint64 `json:"contentRef" binding:"required"`
	Buyer      string `json:"buyer" binding:"required,email"`
}

func (s *Server) handleRestore(c *gin.Context) {
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	owned, err := s.svc.RestoreAccess(c.Request.Context(), req.Buyer, req.ContentRef)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"accessGranted": owned})
}

type lookupRequest struct {
	Buyer string `json:"buyer" binding:"required,email"`
}

func (s *Server) handleLookup(c *gin.Context) {
	var req lookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	purchases, err := s.svc.ListPurchases(c.Request.Context(), req.Buyer)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if purchases == nil {
		purchases = []basepay.Purchase{}
	}
	c.JSON(nethttp.StatusOK, gin.H{"purchases": purchases})
}

func (s *Server) handleListOrders(c *gin.Context) {
	orders, err := s.svc.ListOrders(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if orders == nil {
		orders = []*basepay.Order{}
	}
	c.JSON(nethttp.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleForceSuccess(c *gin.Context) {
	id, ok := s.orderIDParam(c)
	if !ok {
		return
	}
	order, err := s.svc.ForceSuccess(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"order": order})
}

func (s *Server) handleDeleteOrder(c *gin.Context) {
	id, ok := s.orderIDParam(c)
	if !ok {
		return
	}
	if err := s.svc.DeleteOrder(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"deleted": true})
}

func (s *Server) orderIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": "invalid order id"})
		return 0, false
	}
	return id, true
}

// requireAdmin gates the admin group on a constant-time token compare.
func (s *Server) requireAdmin(c *gin.Context) {
	token := c.GetHeader("X-Admin-Token")
	if s.adminToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		c.AbortWithStatusJSON(nethttp.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, basepay.ErrUnknownContent), errors.Is(err, basepay.ErrOrderNotFound):
		c.JSON(nethttp.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, basepay.ErrReservationExhausted):
		c.JSON(nethttp.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		var perr *basepay.PaymentError
		if errors.As(err, &perr) {
			s.log.Error("request failed", zap.String("code", perr.Code), zap.Error(err))
			c.JSON(nethttp.StatusInternalServerError, gin.H{"error": perr.Message})
			return
		}
		s.log.Error("request failed", zap.Error(err))
		c.JSON(nethttp.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
