package transport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/odamigo/eurotrain-booking/internal/transport/middleware"
)

func InitRoutes(searchHandler *SearchHandler, checkoutHandler *CheckoutHandler, settlementHandler *SettlementHandler, opsHandler *OpsHandler) *gin.Engine {

	router := gin.New()

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.Timeout(30))

	// API routes
	api := router.Group("/api/v1")
	{
		// Search routes
		api.POST("/search", searchHandler.Search)
		api.GET("/offers/:id", searchHandler.GetOffer)

		// Checkout session routes
		sessions := api.Group("/sessions")
		{
			sessions.POST("", checkoutHandler.CreateSession)
			sessions.GET("/:token", checkoutHandler.GetSession)
			sessions.PUT("/:token/travelers", checkoutHandler.AttachTravelers)
			sessions.POST("/:token/promo", checkoutHandler.ApplyPromo)
		}

		// Booking routes
		bookings := api.Group("/bookings")
		{
			bookings.POST("", settlementHandler.CreateBooking)
			bookings.GET("/:id", settlementHandler.GetBooking)
			bookings.GET("/reference/:reference", settlementHandler.GetBookingByReference)
		}

		// Payment routes
		payments := api.Group("/payments")
		{
			payments.POST("", settlementHandler.InitiatePayment)
			// Шлюз присылает результат двумя каналами: GET-редирект
			// браузера и POST-вебхук сервер-сервер
			payments.GET("/callback", settlementHandler.CallbackRedirect)
			payments.POST("/callback", settlementHandler.CallbackWebhook)
		}

		// Admin routes
		admin := api.Group("/admin")
		{
			admin.GET("/bookings", settlementHandler.GetCustomerBookings)
			admin.POST("/bookings/:id/refund", settlementHandler.Refund)
			admin.GET("/stats", settlementHandler.GetStats)
			admin.GET("/campaigns", checkoutHandler.ListCampaigns)
			admin.POST("/campaigns", checkoutHandler.CreateCampaign)

			// Ручки очереди задач доступны, только когда очередь включена
			if opsHandler != nil {
				adminQueue := admin.Group("/queue")
				{
					adminQueue.GET("/stats", opsHandler.GetQueueStats)
					adminQueue.GET("/dlq", opsHandler.GetFailedTasks)
					adminQueue.POST("/dlq/:taskId/requeue", opsHandler.RequeueFailedTask)
					adminQueue.DELETE("/dlq/:taskId", opsHandler.DeleteFailedTask)
				}
			}
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	return router
}
