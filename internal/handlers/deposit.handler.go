package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/nimasrn/deposit-gateway/internal/model"
	"github.com/nimasrn/deposit-gateway/internal/services"
	"github.com/nimasrn/deposit-gateway/internal/verifier"
	xhttp "github.com/nimasrn/deposit-gateway/pkg/http"
	"github.com/nimasrn/deposit-gateway/pkg/logger"
	"github.com/nimasrn/deposit-gateway/pkg/prom"
	"github.com/shopspring/decimal"
)

type DepositService interface {
	Submit(ctx context.Context, req model.SlipDepositRequest) (*model.SlipDepositResult, error)
	List(ctx context.Context, f model.PaymentFilter) (*model.PaymentList, error)
	Summary(ctx context.Context, userID int64) (*model.DepositSummary, error)
}

type DepositHandler struct {
	svc DepositService
}

func RegisterDepositRoutes(e *router.Group, h *DepositHandler) {
	e.POST("/deposits/slip", h.SubmitSlip)
	e.GET("/deposits", h.ListDeposits)
	e.GET("/deposits/summary", h.GetSummary)
}

func NewDepositHandler(svc DepositService) *DepositHandler {
	return &DepositHandler{svc: svc}
}

type limitDetail struct {
	DailyLimit decimal.Decimal `json:"daily_limit"`
	TodayTotal decimal.Decimal `json:"today_total"`
	Remaining  decimal.Decimal `json:"remaining"`
	Amount     decimal.Decimal `json:"amount"`
}

// SubmitSlip accepts a multipart upload with a "file" image and the
// "amount" the user claims to have transferred.
func (h *DepositHandler) SubmitSlip(ctx *xhttp.RequestCtx) {
	start := time.Now()
	code := "server_error"
	defer func() {
		prom.ObserveDeposit(code, time.Since(start).Seconds())
	}()

	req, status, errCode, msg := readSlipRequest(ctx)
	if errCode != "" {
		code = errCode
		writeResponse(ctx, status, code, msg, nil)
		return
	}

	result, err := h.svc.Submit(ctx, req)
	if err != nil {
		var data interface{}
		status, code, msg, data = classify(err)
		if status == xhttp.StatusInternalServerError {
			logger.Error("deposit failed", "user_id", req.UserID, "error", err, "request_id", xhttp.RequestID(ctx))
		} else {
			logger.Info("deposit rejected", "user_id", req.UserID, "code", code, "error", err)
		}
		writeResponse(ctx, status, code, msg, data)
		return
	}

	code = "success"
	writeSuccess(ctx, result)
}

func readSlipRequest(ctx *xhttp.RequestCtx) (model.SlipDepositRequest, int, string, string) {
	var req model.SlipDepositRequest

	id, ok := userID(ctx)
	if !ok {
		return req, xhttp.StatusBadRequest, "invalid_payload", "missing or invalid " + userIDHeader + " header"
	}
	req.UserID = id

	form, err := ctx.MultipartForm()
	if err != nil {
		return req, xhttp.StatusBadRequest, "invalid_payload", "multipart form expected"
	}

	files := form.File["file"]
	if len(files) == 0 {
		return req, xhttp.StatusBadRequest, "invalid_payload", "file is required"
	}
	fh := files[0]
	if fh.Size > verifier.MaxImageSize {
		return req, xhttp.StatusRequestEntityTooLarge, "image_size_too_large", fmt.Sprintf("file must not exceed %d bytes", verifier.MaxImageSize)
	}

	amounts := form.Value["amount"]
	if len(amounts) == 0 {
		return req, xhttp.StatusBadRequest, "invalid_payload", "amount is required"
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(amounts[0]))
	if err != nil || !amount.IsPositive() {
		return req, xhttp.StatusBadRequest, "invalid_payload", "amount must be a positive number"
	}
	req.ClaimedAmount = amount

	f, err := fh.Open()
	if err != nil {
		return req, xhttp.StatusBadRequest, "invalid_payload", "unreadable file"
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, verifier.MaxImageSize+1))
	if err != nil {
		return req, xhttp.StatusBadRequest, "invalid_payload", "unreadable file"
	}

	req.Image = data
	req.FileName = fh.Filename
	req.ContentType = fh.Header.Get("Content-Type")
	return req, 0, "", ""
}

// classify maps a failed deposit to its response. Anything unknown is a
// server error.
func classify(err error) (int, string, string, interface{}) {
	var limitErr *services.LimitExceededError
	switch {
	case errors.As(err, &limitErr):
		msg := fmt.Sprintf("daily deposit limit exceeded, remaining today %s", limitErr.Remaining().StringFixed(2))
		return xhttp.StatusBadRequest, "deposit_limit_exceeded", msg, limitDetail{
			DailyLimit: limitErr.Limit,
			TodayTotal: limitErr.TodayTotal,
			Remaining:  limitErr.Remaining(),
			Amount:     limitErr.Amount,
		}
	case errors.Is(err, services.ErrInvalidPayload), errors.Is(err, services.ErrUnknownUser):
		return xhttp.StatusBadRequest, "invalid_payload", err.Error(), nil
	case errors.Is(err, verifier.ErrImageTooLarge):
		return xhttp.StatusRequestEntityTooLarge, "image_size_too_large", "image size too large", nil
	case errors.Is(err, verifier.ErrInvalidImage):
		return xhttp.StatusUnsupportedMediaType, "invalid_image", "file must be an image", nil
	case errors.Is(err, verifier.ErrVerifierUnavailable):
		return xhttp.StatusServiceUnavailable, "verifier_unavailable", "slip verification is temporarily unavailable, please retry", nil
	case errors.Is(err, verifier.ErrInvalidSlip):
		return xhttp.StatusBadRequest, "invalid_slip", "slip could not be verified", nil
	case errors.Is(err, services.ErrInvalidReceiver):
		return xhttp.StatusBadRequest, "invalid_receiver", "slip was not paid to the merchant account", nil
	case errors.Is(err, services.ErrSlipAlreadyUsed):
		return xhttp.StatusConflict, "slip_already_used", "slip has already been used", nil
	case errors.Is(err, services.ErrNoLimitConfigured):
		return xhttp.StatusForbidden, "no_limit_configured", "deposits are not enabled for this account", nil
	}
	return xhttp.StatusInternalServerError, "server_error", xhttp.StatusText(xhttp.StatusInternalServerError), nil
}

func (h *DepositHandler) ListDeposits(ctx *xhttp.RequestCtx) {
	id, ok := userID(ctx)
	if !ok {
		writeResponse(ctx, xhttp.StatusBadRequest, "invalid_payload", "missing or invalid "+userIDHeader+" header", nil)
		return
	}

	f := model.PaymentFilter{UserID: id}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	list, err := h.svc.List(ctx, f)
	if err != nil {
		logger.Error("list deposits failed", "user_id", id, "error", err)
		writeResponse(ctx, xhttp.StatusInternalServerError, "server_error", xhttp.StatusText(xhttp.StatusInternalServerError), nil)
		return
	}
	writeSuccess(ctx, list)
}

func (h *DepositHandler) GetSummary(ctx *xhttp.RequestCtx) {
	id, ok := userID(ctx)
	if !ok {
		writeResponse(ctx, xhttp.StatusBadRequest, "invalid_payload", "missing or invalid "+userIDHeader+" header", nil)
		return
	}

	summary, err := h.svc.Summary(ctx, id)
	if err != nil {
		status, code, msg, data := classify(err)
		if status == xhttp.StatusInternalServerError {
			logger.Error("deposit summary failed", "user_id", id, "error", err)
		}
		writeResponse(ctx, status, code, msg, data)
		return
	}
	writeSuccess(ctx, summary)
}
