package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/drluca/shopcommerce/internal/apperr"
	"github.com/drluca/shopcommerce/internal/catalog"
	"github.com/drluca/shopcommerce/internal/like"
	"github.com/drluca/shopcommerce/internal/metrics"
	"github.com/drluca/shopcommerce/internal/order"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// userIDHeader carries the authenticated caller identity, verified by
// an upstream auth collaborator before it reaches this service.
const userIDHeader = "X-User-Id"

type Server struct {
	orders  *order.Service
	likes   *like.Service
	catalog *catalog.Service
	metrics *metrics.Metrics
}

func NewServer(orders *order.Service, likes *like.Service, cat *catalog.Service, m *metrics.Metrics) *Server {
	return &Server{orders: orders, likes: likes, catalog: cat, metrics: m}
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.observe())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", s.createOrder)
		v1.GET("/orders/:orderId", s.getOrder)
		v1.POST("/products/:productId/likes", s.addLike)
		v1.DELETE("/products/:productId/likes", s.removeLike)
		v1.POST("/admin/brands/:brandId/deactivate", s.deactivateBrand)
	}
	return router
}

type createOrderRequest struct {
	Items []order.Line `json:"items" binding:"required"`
}

type orderResponse struct {
	OrderID     int64     `json:"orderId"`
	Status      string    `json:"status"`
	TotalAmount int64     `json:"totalAmount"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (s *Server) createOrder(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	created, err := s.orders.Create(c.Request.Context(), userID, req.Items)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, orderResponse{
		OrderID:     created.ID,
		Status:      string(created.Status),
		TotalAmount: created.TotalAmount,
		CreatedAt:   created.CreatedAt,
	})
}

func (s *Server) getOrder(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	orderID, err := strconv.ParseInt(c.Param("orderId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	found, items, err := s.orders.Get(c.Request.Context(), userID, orderID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": found, "items": items})
}

func (s *Server) addLike(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	productID, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	if err := s.likes.Add(c.Request.Context(), userID, productID); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) removeLike(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	productID, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	if err := s.likes.Remove(c.Request.Context(), userID, productID); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deactivateBrand(c *gin.Context) {
	brandID, err := strconv.ParseInt(c.Param("brandId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid brand id"})
		return
	}

	if err := s.catalog.DeactivateBrand(c.Request.Context(), brandID); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func callerID(c *gin.Context) (int64, bool) {
	raw := c.GetHeader(userIDHeader)
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing " + userIDHeader + " header"})
		return 0, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid " + userIDHeader + " header"})
		return 0, false
	}
	return userID, true
}

func (s *Server) renderError(c *gin.Context, err error) {
	status := StatusForError(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// StatusForError maps the error taxonomy onto HTTP statuses.
// Insufficient stock is a bad-request subtype; transient failures get
// 503 so callers know a backoff retry may help.
func StatusForError(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindBadRequest, apperr.KindInsufficientStock:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.metrics == nil {
			return
		}
		handler := c.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		s.metrics.HTTPRequests.WithLabelValues(handler, strconv.Itoa(c.Writer.Status())).Inc()
		s.metrics.HTTPLatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	}
}
