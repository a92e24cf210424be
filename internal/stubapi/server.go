package stubapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/cartsync/internal/api"
	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/pkg/logger"
)

// Server is an in-memory implementation of the Cart API contract, for
// local development and integration tests. One cart, no auth.
type Server struct {
	mu       sync.Mutex
	items    []model.CartLineItem
	version  int64
	failNext int
}

func NewServer() *Server {
	return &Server{}
}

// FailNext makes the next n mutation requests fail with a server error.
// Lets tests and demos exercise the engine's rollback path.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

// Cart returns a copy of the server-side cart.
func (s *Server) Cart() model.RemoteCart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.RemoteCart{Items: model.CloneItems(s.items), Version: s.version}
}

// Router builds the gin engine serving the Cart API.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/cart", s.getCart)
	router.POST("/cart/items", s.addItem)
	router.PATCH("/cart/items/:productId", s.updateItem)
	router.DELETE("/cart/items/:productId", s.removeItem)
	router.DELETE("/cart", s.clearCart)

	return router
}

func (s *Server) getCart(c *gin.Context) {
	s.mu.Lock()
	cart := model.RemoteCart{Items: model.CloneItems(s.items), Version: s.version}
	s.mu.Unlock()

	c.JSON(http.StatusOK, api.Envelope{Success: true, Data: mustJSON(cart)})
}

func (s *Server) addItem(c *gin.Context) {
	var req api.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" || req.Quantity < 1 {
		respondError(c, http.StatusBadRequest, "product_id and a positive quantity are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injectFailureLocked(c) {
		return
	}

	key := model.ItemKey(req.ProductID, req.SelectedOptions)
	merged := false
	for idx := range s.items {
		if s.items[idx].Key() == key {
			s.items[idx].Quantity += req.Quantity
			merged = true
			break
		}
	}
	if !merged {
		s.items = append(s.items, model.CartLineItem{
			Product:         model.Product{ID: req.ProductID, Name: req.ProductID},
			Quantity:        req.Quantity,
			SelectedOptions: req.SelectedOptions,
		})
	}
	s.version++

	logger.Debug("Stub cart item added", map[string]interface{}{
		"product_id": req.ProductID,
		"version":    s.version,
	})
	c.JSON(http.StatusOK, api.Envelope{Success: true})
}

func (s *Server) updateItem(c *gin.Context) {
	productID := c.Param("productId")

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Quantity < 1 {
		respondError(c, http.StatusBadRequest, "a positive quantity is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injectFailureLocked(c) {
		return
	}

	for idx := range s.items {
		if s.items[idx].Product.ID == productID {
			s.items[idx].Quantity = req.Quantity
			s.version++
			c.JSON(http.StatusOK, api.Envelope{Success: true})
			return
		}
	}
	respondError(c, http.StatusNotFound, "cart item not found")
}

func (s *Server) removeItem(c *gin.Context) {
	productID := c.Param("productId")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injectFailureLocked(c) {
		return
	}

	for idx := range s.items {
		if s.items[idx].Product.ID == productID {
			s.items = append(s.items[:idx], s.items[idx+1:]...)
			s.version++
			c.JSON(http.StatusOK, api.Envelope{Success: true})
			return
		}
	}
	respondError(c, http.StatusNotFound, "cart item not found")
}

func (s *Server) clearCart(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injectFailureLocked(c) {
		return
	}

	s.items = nil
	s.version++
	c.JSON(http.StatusOK, api.Envelope{Success: true})
}

func (s *Server) injectFailureLocked(c *gin.Context) bool {
	if s.failNext <= 0 {
		return false
	}
	s.failNext--
	respondError(c, http.StatusInternalServerError, "injected failure")
	return true
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, api.Envelope{Success: false, Error: msg})
}

func mustJSON(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
