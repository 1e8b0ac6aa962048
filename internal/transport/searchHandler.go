package transport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/odamigo/eurotrain-booking/internal/entity"
	"github.com/odamigo/eurotrain-booking/internal/provider"
	"github.com/odamigo/eurotrain-booking/internal/service"
)

type SearchHandler struct {
	searchService service.SearchService
}

func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

func (h *SearchHandler) Search(c *gin.Context) {
	var req provider.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.searchService.Search(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, entity.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *SearchHandler) GetOffer(c *gin.Context) {
	offer, err := h.searchService.GetOffer(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, entity.ErrOfferNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "offer not found or expired"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, offer)
}
