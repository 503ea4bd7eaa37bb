package api

import (
	"net/http"
	"time"

	"ledger-saga/internal/models"
	"ledger-saga/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AccountResponse is the wire form of an account
type AccountResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

func newAccountResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:        a.ID,
		UserID:    a.UserID,
		Balance:   a.Balance.StringFixed(2),
		CreatedAt: a.CreatedAt,
	}
}

// CreateAccountRequest opens an account for a user
type CreateAccountRequest struct {
	UserID int64 `json:"user_id"`
}

// DepositRequest credits an account
type DepositRequest struct {
	UserID int64           `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// PaymentHandler serves the accounts API
type PaymentHandler struct {
	paymentService *service.PaymentService
}

// NewPaymentHandler creates a new payments HTTP handler
func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

func (h *PaymentHandler) register(v1 *gin.RouterGroup) {
	v1.POST("/accounts", h.createAccount)
	v1.POST("/accounts/deposit", h.deposit)
	v1.GET("/accounts/:user_id", h.getAccount)
}

// createAccount handles account creation
func (h *PaymentHandler) createAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	account, err := h.paymentService.CreateAccount(c.Request.Context(), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newAccountResponse(account))
}

// deposit handles balance top-ups
func (h *PaymentHandler) deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	account, err := h.paymentService.Deposit(c.Request.Context(), req.UserID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newAccountResponse(account))
}

// getAccount handles account lookup by user
func (h *PaymentHandler) getAccount(c *gin.Context) {
	userID, ok := parseID(c.Param("user_id"))
	if !ok {
		badRequest(c, "Invalid user_id", nil)
		return
	}

	account, err := h.paymentService.GetAccount(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newAccountResponse(account))
}
