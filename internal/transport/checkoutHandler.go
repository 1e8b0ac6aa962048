package transport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/odamigo/eurotrain-booking/internal/entity"
	"github.com/odamigo/eurotrain-booking/internal/service"
)

type CheckoutHandler struct {
	checkoutService service.CheckoutService
}

func NewCheckoutHandler(checkoutService service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkoutService: checkoutService}
}

// AttachTravelersRequest представляет запрос на прикрепление пассажиров
type AttachTravelersRequest struct {
	Travelers []entity.Traveler `json:"travelers" binding:"required,min=1,max=9"`
}

// ApplyPromoRequest представляет запрос на применение промокода
type ApplyPromoRequest struct {
	PromoCode string `json:"promo_code" binding:"required,min=1,max=32"`
}

func (h *CheckoutHandler) CreateSession(c *gin.Context) {
	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.checkoutService.CreateSession(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrOfferNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "offer not found or expired"})
		case errors.Is(err, entity.ErrCurrencyMismatch):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, session)
}

func (h *CheckoutHandler) GetSession(c *gin.Context) {
	session, err := h.checkoutService.GetSession(c.Request.Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, entity.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found or expired"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *CheckoutHandler) AttachTravelers(c *gin.Context) {
	var req AttachTravelersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.checkoutService.AttachTravelers(c.Request.Context(), c.Param("token"), req.Travelers)
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found or expired"})
		case errors.Is(err, entity.ErrSessionConsumed):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, entity.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, session)
}

// CreateCampaign регистрирует новую промокампанию
func (h *CheckoutHandler) CreateCampaign(c *gin.Context) {
	var campaign entity.Campaign
	if err := c.ShouldBindJSON(&campaign); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "Invalid request body: " + err.Error(),
		})
		return
	}

	if err := h.checkoutService.CreateCampaign(c.Request.Context(), &campaign); err != nil {
		if errors.Is(err, entity.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Success: false,
				Error:   "Invalid campaign definition",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Success: false,
			Error:   "Failed to create campaign: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse{
		Success: true,
		Message: "Campaign created successfully",
		Data:    campaign,
	})
}

// ListCampaigns возвращает действующие промокампании
func (h *CheckoutHandler) ListCampaigns(c *gin.Context) {
	campaigns, err := h.checkoutService.ListActiveCampaigns(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Success: false,
			Error:   "Failed to list campaigns: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Campaigns retrieved successfully",
		Data:    campaigns,
		Meta: map[string]interface{}{
			"total": len(campaigns),
		},
	})
}

func (h *CheckoutHandler) ApplyPromo(c *gin.Context) {
	var req ApplyPromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.checkoutService.ApplyPromo(c.Request.Context(), c.Param("token"), req.PromoCode)
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found or expired"})
		case errors.Is(err, entity.ErrSessionConsumed):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, entity.ErrCampaignNotFound), errors.Is(err, entity.ErrCampaignNotApplicable):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, session)
}
