package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	intentdomain "github.com/payflow-io/payflow/internal/intent/domain"
	"github.com/payflow-io/payflow/pkg/db/pagination"
)

type createPaymentIntentRequest struct {
	Amount      json.Number       `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

type updatePaymentIntentStatusRequest struct {
	Status string `json:"status"`
}

type paymentIntentResponse struct {
	ID           string    `json:"id"`
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	Description  string    `json:"description,omitempty"`
	Status       string    `json:"status"`
	ClientSecret string    `json:"client_secret,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type listPaymentIntentsResponse struct {
	pagination.PageInfo
	Intents []paymentIntentResponse `json:"intents"`
}

func (s *Server) CreatePaymentIntent(c *gin.Context) {
	var req createPaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	amount, err := parseDecimalAmount(req.Amount.String())
	if err != nil {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "invalid amount"))
		return
	}

	resp, err := s.intentSvc.Create(c.Request.Context(), intentdomain.CreateIntentRequest{
		Amount:      amount,
		Currency:    strings.TrimSpace(req.Currency),
		Description: strings.TrimSpace(req.Description),
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": toPaymentIntentResponse(resp)})
}

func (s *Server) GetPaymentIntentByID(c *gin.Context) {
	resp, err := s.intentSvc.GetByID(c.Request.Context(), intentdomain.GetIntentRequest{
		IntentID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toPaymentIntentResponse(resp)})
}

func (s *Server) ListPaymentIntents(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.intentSvc.List(c.Request.Context(), intentdomain.ListIntentRequest{
		PageToken: query.PageToken,
		PageSize:  int32(query.PageSize),
		Status:    intentdomain.Status(strings.ToUpper(strings.TrimSpace(query.Status))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := listPaymentIntentsResponse{
		PageInfo: resp.PageInfo,
		Intents:  make([]paymentIntentResponse, 0, len(resp.Intents)),
	}
	for i := range resp.Intents {
		out.Intents = append(out.Intents, toPaymentIntentResponse(resp.Intents[i]))
	}

	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) UpdatePaymentIntentStatus(c *gin.Context) {
	var req updatePaymentIntentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.intentSvc.UpdateStatus(c.Request.Context(), intentdomain.UpdateStatusRequest{
		IntentID: strings.TrimSpace(c.Param("id")),
		Status:   intentdomain.Status(strings.ToUpper(strings.TrimSpace(req.Status))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toPaymentIntentResponse(resp)})
}

func (s *Server) SyncPaymentIntentStatus(c *gin.Context) {
	resp, err := s.intentSvc.SyncWithProcessor(c.Request.Context(), intentdomain.GetIntentRequest{
		IntentID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toPaymentIntentResponse(resp)})
}

func toPaymentIntentResponse(intent intentdomain.PaymentIntent) paymentIntentResponse {
	return paymentIntentResponse{
		ID:           intent.IntentID,
		Amount:       formatMinorUnits(intent.Amount),
		Currency:     intent.Currency,
		Description:  intent.Description,
		Status:       string(intent.Status),
		ClientSecret: intent.ClientSecret,
		CreatedAt:    intent.CreatedAt,
		UpdatedAt:    intent.UpdatedAt,
	}
}
