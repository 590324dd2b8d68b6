package handler

import (
	"net/http"

	"creditledger/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter wires the HTTP surface. gatherer backs /metrics and may be
// nil to leave the endpoint out.
func SetupRouter(svc Services, cfg *config.Config, gatherer prometheus.Gatherer, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log.Named("http")))
	r.Use(CORSMiddleware())

	h := NewHandler(svc, cfg, log)

	api := r.Group("/api/v1")
	{
		api.POST("/usage/call-ended", h.CallEnded)
		api.POST("/webhooks/payment", h.PaymentWebhook)

		api.GET("/balance", h.GetBalance)
		api.POST("/balance/adjust", h.AdjustBalance)

		api.GET("/billable-events", h.ListBillableEvents)
		api.GET("/billable-events/:id", h.GetBillableEvent)
		api.GET("/payment-confirmations/:id", h.GetPaymentConfirmation)

		api.GET("/ledger/transactions", h.ListTransactions)
		api.GET("/ledger/transactions/:id", h.GetTransaction)
		api.GET("/ledger/verify", h.VerifyLedger)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}
