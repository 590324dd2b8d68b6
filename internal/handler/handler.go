package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/internal/service"
	"creditledger/pkg/money"
	"creditledger/pkg/response"
	"creditledger/pkg/signature"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// paymentSucceeded is the only webhook event that credits.
const paymentSucceeded = "payment.succeeded"

// Services bundles what the handlers call.
type Services struct {
	Balances  *service.BalanceService
	Billing   *service.BillingService
	Payments  *service.PaymentService
	Ledger    *service.LedgerService
	Directory *repository.DirectoryRepository
}

type Handler struct {
	svc             Services
	webhookSecret   string
	signatureHeader string
	log             *zap.Logger
}

func NewHandler(svc Services, cfg *config.Config, log *zap.Logger) *Handler {
	header := cfg.Webhook.SignatureHeader
	if header == "" {
		header = "X-Signature"
	}
	return &Handler{
		svc:             svc,
		webhookSecret:   cfg.Webhook.Secret,
		signatureHeader: header,
		log:             log.Named("handler"),
	}
}

func entityFrom(entityType, entityID string) model.EntityRef {
	return model.EntityRef{Type: model.EntityType(entityType), ID: entityID}
}

// ============================================================
// Usage
// ============================================================

type CallEndedRequest struct {
	InterviewID     string `json:"interview_id" binding:"required"`
	DurationSeconds int64  `json:"duration_seconds"`
	// Optional. When absent the payer is resolved from the interview.
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// CallEnded bills a finished interview call.
// POST /api/v1/usage/call-ended
func (h *Handler) CallEnded(c *gin.Context) {
	var req CallEndedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	entity := entityFrom(req.EntityType, req.EntityID)
	if req.EntityID == "" {
		owner, err := h.svc.Directory.ResolveInterviewOwner(ctx, req.InterviewID)
		if err != nil {
			response.FromError(c, err)
			return
		}
		entity = owner
	}

	res, err := h.svc.Billing.CreateBillableEvent(ctx, &service.CreateBillableEventRequest{
		Entity:       entity,
		UsageSeconds: req.DurationSeconds,
		SourceRef:    req.InterviewID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, gin.H{
		"event":     res.Event,
		"duplicate": res.Duplicate,
	})
}

// GetBillableEvent
// GET /api/v1/billable-events/:id
func (h *Handler) GetBillableEvent(c *gin.Context) {
	event, err := h.svc.Billing.GetEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, event)
}

// ListBillableEvents
// GET /api/v1/billable-events?entity_id=xxx&page=1&page_size=20
func (h *Handler) ListBillableEvents(c *gin.Context) {
	page, pageSize := pagination(c)
	events, total, err := h.svc.Billing.ListEvents(c.Request.Context(), c.Query("entity_id"), page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      events,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// Payment webhook
// ============================================================

type PaymentWebhook struct {
	Event      string       `json:"event"`
	OrderID    string       `json:"order_id"`
	EntityType string       `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Amount     money.Amount `json:"amount"`
}

// PaymentWebhook credits a verified payment notification.
// POST /api/v1/webhooks/payment
//
// Any 2xx tells the provider to stop retrying, so only a processed or
// already handled confirmation answers 200. Credit failures answer 500.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		response.ParamError(c, "read body failed")
		return
	}
	if len(body) > maxWebhookBody {
		response.Error(c, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if !signature.Verify(body, c.GetHeader(h.signatureHeader), h.webhookSecret) {
		h.log.Warn("payment webhook signature mismatch", zap.String("client_ip", c.ClientIP()))
		response.Unauthorized(c, "invalid signature")
		return
	}

	var hook PaymentWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		response.ParamError(c, "invalid payload: "+err.Error())
		return
	}

	if hook.Event != "" && hook.Event != paymentSucceeded {
		h.log.Info("payment webhook ignored", zap.String("event", hook.Event), zap.String("order_id", hook.OrderID))
		response.Success(c, gin.H{"ignored": true})
		return
	}

	idempotencyID := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if idempotencyID == "" {
		idempotencyID = uuid.NewString()
	}

	res, err := h.svc.Payments.ProcessConfirmation(c.Request.Context(), &service.ConfirmationRequest{
		IdempotencyID:   idempotencyID,
		ProviderOrderID: hook.OrderID,
		Entity:          entityFrom(hook.EntityType, hook.EntityID),
		Amount:          hook.Amount,
		RawPayload:      string(body),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, gin.H{
		"confirmation":    res.Confirmation,
		"already_handled": res.AlreadyHandled,
	})
}

// GetPaymentConfirmation
// GET /api/v1/payment-confirmations/:id
func (h *Handler) GetPaymentConfirmation(c *gin.Context) {
	conf, err := h.svc.Payments.GetConfirmation(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, conf)
}

// ============================================================
// Balance
// ============================================================

// GetBalance
// GET /api/v1/balance?entity_type=organization&entity_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	entity := entityFrom(c.Query("entity_type"), c.Query("entity_id"))
	balance, err := h.svc.Balances.GetBalance(c.Request.Context(), entity)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"entity_type": entity.Type,
		"entity_id":   entity.ID,
		"balance":     balance,
	})
}

type AdjustBalanceRequest struct {
	EntityType  string       `json:"entity_type" binding:"required"`
	EntityID    string       `json:"entity_id" binding:"required"`
	Amount      money.Amount `json:"amount"`
	Description string       `json:"description"`
}

// AdjustBalance applies an operator top-up or correction.
// POST /api/v1/balance/adjust
func (h *Handler) AdjustBalance(c *gin.Context) {
	var req AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	trans, err := h.svc.Balances.AddAmount(c.Request.Context(), entityFrom(req.EntityType, req.EntityID), req.Amount, req.Description)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, trans)
}

// ============================================================
// Ledger
// ============================================================

// ListTransactions
// GET /api/v1/ledger/transactions?entity_id=xxx&page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, pageSize := pagination(c)
	list, total, err := h.svc.Ledger.ListTransactions(c.Request.Context(), c.Query("entity_id"), page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetTransaction
// GET /api/v1/ledger/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	trans, err := h.svc.Ledger.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, trans)
}

// VerifyLedger compares the ledger sum with the stored balance.
// GET /api/v1/ledger/verify?entity_id=xxx
func (h *Handler) VerifyLedger(c *gin.Context) {
	v, err := h.svc.Ledger.VerifyEntity(c.Request.Context(), c.Query("entity_id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, v)
}

func pagination(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
