package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	auditdomain "github.com/smallbiznis/mailforge/internal/audit/domain"
	auditservice "github.com/smallbiznis/mailforge/internal/audit/service"
	ledgerdomain "github.com/smallbiznis/mailforge/internal/ledger/domain"
)

// @Summary      Get Balance
// @Description  Current credit balance for the authenticated account
// @Tags         credits
// @Produce      json
// @Security     ApiKeyAuth
// @Success      200  {object}  map[string]any
// @Router       /credits/balance [get]
func (s *Server) GetBalance(c *gin.Context) {
	id := accountID(c)
	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"account_id": id.String(),
		"balance":    balance,
	}})
}

// @Summary      List Transactions
// @Description  Credit transaction history, newest first
// @Tags         credits
// @Produce      json
// @Security     ApiKeyAuth
// @Param        kind        query  string  false  "Transaction Kind"
// @Param        start_at    query  string  false  "Start At (RFC3339)"
// @Param        end_at      query  string  false  "End At (RFC3339)"
// @Param        page_token  query  string  false  "Page Token"
// @Param        page_size   query  int     false  "Page Size"
// @Success      200  {object}  ledgerdomain.HistoryResponse
// @Router       /credits/transactions [get]
func (s *Server) ListTransactions(c *gin.Context) {
	var query struct {
		Kind      string `form:"kind"`
		StartAt   string `form:"start_at"`
		EndAt     string `form:"end_at"`
		PageToken string `form:"page_token"`
		PageSize  int32  `form:"page_size"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := ledgerdomain.HistoryRequest{
		AccountID: accountID(c),
		Kind:      ledgerdomain.TransactionKind(strings.TrimSpace(query.Kind)),
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	}
	if query.StartAt != "" {
		startAt, err := time.Parse(time.RFC3339, query.StartAt)
		if err != nil {
			AbortWithError(c, newValidationError("start_at", "format", "start_at must be RFC3339"))
			return
		}
		req.StartAt = &startAt
	}
	if query.EndAt != "" {
		endAt, err := time.Parse(time.RFC3339, query.EndAt)
		if err != nil {
			AbortWithError(c, newValidationError("end_at", "format", "end_at must be RFC3339"))
			return
		}
		req.EndAt = &endAt
	}

	resp, err := s.ledgerSvc.History(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type topUpRequest struct {
	Amount     int64  `json:"amount"`
	PaymentRef string `json:"payment_ref"`
}

// @Summary      Top Up Credits
// @Description  Payment-confirmation webhook adding purchased credits
// @Tags         credits
// @Accept       json
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request body topUpRequest true "Top Up Request"
// @Success      200  {object}  map[string]any
// @Router       /credits/topup [post]
func (s *Server) TopUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount <= 0 {
		AbortWithError(c, newValidationError("amount", "positive", "amount must be a positive credit count"))
		return
	}

	id := accountID(c)
	balance, err := s.ledgerSvc.TopUp(c.Request.Context(), ledgerdomain.TopUpRequest{
		AccountID:   id,
		Amount:      req.Amount,
		Description: "credit purchase",
		PaymentRef:  strings.TrimSpace(req.PaymentRef),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		s.auditSvc.Record(c.Request.Context(), auditservice.Entry{
			AccountID:  id,
			ActorType:  auditdomain.ActorTypeAPIKey,
			Action:     auditdomain.ActionCreditsToppedUp,
			TargetType: "credit_account",
			TargetID:   id.String(),
			Metadata: map[string]any{
				"amount":      req.Amount,
				"payment_ref": req.PaymentRef,
			},
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"account_id": id.String(),
		"balance":    balance,
	}})
}

// Healthz reports process and database liveness.
func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
