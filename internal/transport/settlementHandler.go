package transport

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/odamigo/eurotrain-booking/internal/entity"
	"github.com/odamigo/eurotrain-booking/internal/gateway"
	"github.com/odamigo/eurotrain-booking/internal/service"
)

type SettlementHandler struct {
	settlementService service.SettlementService
}

func NewSettlementHandler(settlementService service.SettlementService) *SettlementHandler {
	return &SettlementHandler{settlementService: settlementService}
}

// SuccessResponse представляет успешный ответ
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// RefundBookingRequest представляет запрос на возврат средств
type RefundBookingRequest struct {
	Amount float64 `json:"amount" binding:"min=0"`
	Reason string  `json:"reason" binding:"required,min=1,max=500"`
}

func (h *SettlementHandler) CreateBooking(c *gin.Context) {
	var req service.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	booking, err := h.settlementService.CreateBookingFromSession(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found or expired"})
		case errors.Is(err, entity.ErrSessionConsumed):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, entity.ErrNoTravelers), errors.Is(err, entity.ErrInvalidInput):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, booking)
}

func (h *SettlementHandler) GetBooking(c *gin.Context) {
	booking, err := h.settlementService.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, entity.ErrBookingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, booking)
}

func (h *SettlementHandler) GetBookingByReference(c *gin.Context) {
	booking, err := h.settlementService.GetBookingByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		if errors.Is(err, entity.ErrBookingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, booking)
}

func (h *SettlementHandler) InitiatePayment(c *gin.Context) {
	var req service.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	initiation, err := h.settlementService.InitiatePayment(c.Request.Context(), &req)
	if err != nil {
		var gwErr *entity.GatewayError
		switch {
		case errors.Is(err, entity.ErrBookingNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		case errors.Is(err, entity.ErrPaymentInProgress),
			errors.Is(err, entity.ErrDuplicateOrder),
			errors.Is(err, entity.ErrBookingNotPayable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.As(err, &gwErr):
			c.JSON(http.StatusBadGateway, gin.H{
				"error":        "payment gateway rejected the request",
				"gateway_code": gwErr.Code,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, initiation)
}

// CallbackRedirect обрабатывает возврат покупателя из hosted-страницы
// шлюза: параметры колбэка приходят в query-строке GET-редиректа
func (h *SettlementHandler) CallbackRedirect(c *gin.Context) {
	cb := gateway.ParseCallbackQuery(c.Request.URL.Query())
	h.applyCallback(c, cb)
}

// CallbackWebhook обрабатывает сервер-серверное уведомление шлюза.
// Тело может быть form-encoded или JSON в зависимости от настройки
// мерчанта на стороне шлюза.
func (h *SettlementHandler) CallbackWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read callback body"})
		return
	}

	cb, err := gateway.ParseCallbackBody(body, c.ContentType())
	if err != nil {
		logrus.Warnf("Malformed gateway callback: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed callback payload"})
		return
	}

	h.applyCallback(c, cb)
}

func (h *SettlementHandler) applyCallback(c *gin.Context, cb *entity.GatewayCallback) {
	booking, err := h.settlementService.HandleCallback(c.Request.Context(), cb)
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrUnknownOrder), errors.Is(err, entity.ErrSignatureMismatch):
			// Неизвестный заказ и неверная подпись подтверждаются без
			// деталей: отличимый отказ дал бы атакующему сигнал
			logrus.Warnf("Callback rejected for order %q: %v", cb.MerchantPaymentID, err)
			c.JSON(http.StatusOK, gin.H{"accepted": false})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accepted":          true,
		"booking_reference": booking.Reference,
		"booking_status":    booking.Status,
	})
}

// GetCustomerBookings возвращает заказы клиента по email
func (h *SettlementHandler) GetCustomerBookings(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "email query parameter is required",
		})
		return
	}

	bookings, err := h.settlementService.GetCustomerBookings(c.Request.Context(), email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Success: false,
			Error:   "Failed to get customer bookings: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Bookings retrieved successfully",
		Data:    bookings,
		Meta: map[string]interface{}{
			"total": len(bookings),
			"email": email,
		},
	})
}

// Refund выполняет частичный или полный возврат по заказу
func (h *SettlementHandler) Refund(c *gin.Context) {
	var req RefundBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "Invalid request body: " + err.Error(),
		})
		return
	}

	booking, err := h.settlementService.Refund(c.Request.Context(), &service.RefundRequest{
		BookingID: c.Param("id"),
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrBookingNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Success: false,
				Error:   "Booking not found",
			})
		case errors.Is(err, entity.ErrPaymentNotRefundable):
			c.JSON(http.StatusConflict, ErrorResponse{
				Success: false,
				Error:   "Payment is not in a refundable state",
			})
		case errors.Is(err, entity.ErrRefundExceedsBalance):
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Success: false,
				Error:   "Refund amount exceeds remaining balance",
			})
		case errors.Is(err, entity.ErrConcurrentUpdate):
			c.JSON(http.StatusConflict, ErrorResponse{
				Success: false,
				Error:   "Concurrent refund detected, retry the request",
			})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Success: false,
				Error:   "Failed to refund booking: " + err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Refund processed successfully",
		Data:    booking,
		Meta: map[string]interface{}{
			"refunded_amount": booking.RefundedAmount,
			"reason":          req.Reason,
		},
	})
}

// GetStats возвращает сводку по заказам и платежам
func (h *SettlementHandler) GetStats(c *gin.Context) {
	stats, err := h.settlementService.GetStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Success: false,
			Error:   "Failed to get settlement stats: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Stats retrieved successfully",
		Data:    stats,
	})
}
