package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"testing"
	"time"

	"github.com/nimasrn/deposit-gateway/internal/model"
	"github.com/nimasrn/deposit-gateway/internal/services"
	"github.com/nimasrn/deposit-gateway/internal/verifier"
	xhttp "github.com/nimasrn/deposit-gateway/pkg/http"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type MockDepositService struct {
	mock.Mock
}

func (m *MockDepositService) Submit(ctx context.Context, req model.SlipDepositRequest) (*model.SlipDepositResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SlipDepositResult), args.Error(1)
}

func (m *MockDepositService) List(ctx context.Context, f model.PaymentFilter) (*model.PaymentList, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentList), args.Error(1)
}

func (m *MockDepositService) Summary(ctx context.Context, userID int64) (*model.DepositSummary, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DepositSummary), args.Error(1)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func pngOfSize(n int) []byte {
	b := make([]byte, n)
	copy(b, pngHeader)
	return b
}

type slipForm struct {
	file        []byte
	contentType string
	amount      string
	noFile      bool
	noAmount    bool
}

func (f slipForm) build(t *testing.T) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if !f.noFile {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="slip.png"`)
		ct := f.contentType
		if ct == "" {
			ct = "image/png"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.file)
		require.NoError(t, err)
	}
	if !f.noAmount {
		require.NoError(t, w.WriteField("amount", f.amount))
	}
	require.NoError(t, w.Close())
	return buf.Bytes(), w.FormDataContentType()
}

func slipContext(t *testing.T, userID string, f slipForm) *xhttp.RequestCtx {
	t.Helper()
	body, ct := f.build(t)
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("POST")
	ctx.Request.SetRequestURI("/api/v1/deposits/slip")
	ctx.Request.Header.SetContentType(ct)
	if userID != "" {
		ctx.Request.Header.Set(userIDHeader, userID)
	}
	ctx.Request.SetBody(body)
	return ctx
}

func getContext(path, userID string) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	ctx.Request.SetRequestURI(path)
	if userID != "" {
		ctx.Request.Header.Set(userIDHeader, userID)
	}
	return ctx
}

type testResponse struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, ctx *xhttp.RequestCtx) testResponse {
	t.Helper()
	var r testResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &r), string(ctx.Response.Body()))
	return r
}

func TestDepositHandler_SubmitSlip_Success(t *testing.T) {
	svc := new(MockDepositService)
	h := NewDepositHandler(svc)

	image := pngOfSize(1024)
	settled := time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)
	svc.On("Submit", mock.Anything, mock.MatchedBy(func(r model.SlipDepositRequest) bool {
		return r.UserID == 42 &&
			r.ClaimedAmount.Equal(decimal.RequireFromString("2000.50")) &&
			bytes.Equal(r.Image, image) &&
			r.FileName == "slip.png" &&
			r.ContentType == "image/png"
	})).Return(&model.SlipDepositResult{
		TransRef:      "REF-1",
		Amount:        decimal.RequireFromString("2000.50"),
		ClaimedAmount: decimal.RequireFromString("2000.50"),
		Balance:       decimal.RequireFromString("12000.50"),
		SettledAt:     settled,
	}, nil)

	ctx := slipContext(t, "42", slipForm{file: image, amount: "2000.50"})
	h.SubmitSlip(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	resp := decode(t, ctx)
	assert.Equal(t, "success", resp.Code)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "REF-1", data["trans_ref"])
	assert.Equal(t, "12000.5", data["balance"])
	svc.AssertExpectations(t)
}

func TestDepositHandler_SubmitSlip_InvalidPayload(t *testing.T) {
	cases := []struct {
		name   string
		userID string
		form   slipForm
		status int
		code   string
	}{
		{"missing user header", "", slipForm{file: pngOfSize(64), amount: "100"}, 400, "invalid_payload"},
		{"non numeric user", "abc", slipForm{file: pngOfSize(64), amount: "100"}, 400, "invalid_payload"},
		{"missing file", "1", slipForm{noFile: true, amount: "100"}, 400, "invalid_payload"},
		{"missing amount", "1", slipForm{file: pngOfSize(64), noAmount: true}, 400, "invalid_payload"},
		{"bad amount", "1", slipForm{file: pngOfSize(64), amount: "lots"}, 400, "invalid_payload"},
		{"zero amount", "1", slipForm{file: pngOfSize(64), amount: "0"}, 400, "invalid_payload"},
		{"file over 10MB", "1", slipForm{file: pngOfSize(11 * 1024 * 1024), amount: "100"}, 413, "image_size_too_large"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockDepositService)
			h := NewDepositHandler(svc)

			ctx := slipContext(t, tc.userID, tc.form)
			h.SubmitSlip(ctx)

			assert.Equal(t, tc.status, ctx.Response.StatusCode())
			assert.Equal(t, tc.code, decode(t, ctx).Code)
			svc.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
		})
	}
}

func TestDepositHandler_SubmitSlip_NotMultipart(t *testing.T) {
	svc := new(MockDepositService)
	h := NewDepositHandler(svc)

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("POST")
	ctx.Request.SetRequestURI("/api/v1/deposits/slip")
	ctx.Request.Header.Set(userIDHeader, "1")
	ctx.Request.Header.SetContentType("application/json")
	ctx.Request.SetBody([]byte(`{"amount":100}`))

	h.SubmitSlip(ctx)
	assert.Equal(t, 400, ctx.Response.StatusCode())
	assert.Equal(t, "invalid_payload", decode(t, ctx).Code)
}

func TestDepositHandler_SubmitSlip_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: empty", services.ErrInvalidPayload), 400, "invalid_payload"},
		{services.ErrUnknownUser, 400, "invalid_payload"},
		{fmt.Errorf("%w: 11534336 bytes", verifier.ErrImageTooLarge), 413, "image_size_too_large"},
		{fmt.Errorf("%w: detected \"application/pdf\"", verifier.ErrInvalidImage), 415, "invalid_image"},
		{fmt.Errorf("%w: provider status 404", verifier.ErrInvalidSlip), 400, "invalid_slip"},
		{fmt.Errorf("%w: timeout", verifier.ErrVerifierUnavailable), 503, "verifier_unavailable"},
		{fmt.Errorf("%w: account number", services.ErrInvalidReceiver), 400, "invalid_receiver"},
		{services.ErrSlipAlreadyUsed, 409, "slip_already_used"},
		{services.ErrNoLimitConfigured, 403, "no_limit_configured"},
		{errors.New("connection reset"), 500, "server_error"},
	}

	for _, tc := range cases {
		t.Run(tc.code+"/"+tc.err.Error(), func(t *testing.T) {
			svc := new(MockDepositService)
			h := NewDepositHandler(svc)
			svc.On("Submit", mock.Anything, mock.Anything).Return(nil, tc.err)

			ctx := slipContext(t, "7", slipForm{file: pngOfSize(64), amount: "100"})
			h.SubmitSlip(ctx)

			assert.Equal(t, tc.status, ctx.Response.StatusCode())
			resp := decode(t, ctx)
			assert.Equal(t, tc.code, resp.Code)
			assert.NotEmpty(t, resp.Message)
			// internal errors never leak
			assert.NotContains(t, resp.Message, "connection reset")
		})
	}
}

func TestDepositHandler_SubmitSlip_LimitExceededDetail(t *testing.T) {
	svc := new(MockDepositService)
	h := NewDepositHandler(svc)
	svc.On("Submit", mock.Anything, mock.Anything).Return(nil, &services.LimitExceededError{
		Limit:      decimal.NewFromInt(50000),
		TodayTotal: decimal.NewFromInt(48000),
		Amount:     decimal.NewFromInt(3000),
	})

	ctx := slipContext(t, "7", slipForm{file: pngOfSize(64), amount: "3000"})
	h.SubmitSlip(ctx)

	assert.Equal(t, 400, ctx.Response.StatusCode())
	resp := decode(t, ctx)
	assert.Equal(t, "deposit_limit_exceeded", resp.Code)
	assert.Contains(t, resp.Message, "2000.00")

	var detail map[string]string
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	assert.Equal(t, "2000", detail["remaining"])
	assert.Equal(t, "50000", detail["daily_limit"])
	assert.Equal(t, "48000", detail["today_total"])
	assert.Equal(t, "3000", detail["amount"])
}

func TestDepositHandler_ListDeposits(t *testing.T) {
	svc := new(MockDepositService)
	h := NewDepositHandler(svc)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.On("List", mock.Anything, mock.MatchedBy(func(f model.PaymentFilter) bool {
		return f.UserID == 9 && f.Limit == 10 && f.Offset == 20 && f.Desc &&
			f.From != nil && f.From.Equal(from) && f.To == nil
	})).Return(&model.PaymentList{
		Items: []*model.PaymentTransaction{{ID: 1, TransRef: "REF-A", UserID: 9, Amount: decimal.NewFromInt(100)}},
		Total: 21,
	}, nil)

	ctx := getContext("/api/v1/deposits?from=2026-03-01&limit=10&offset=20&order=desc&to=garbage", "9")
	h.ListDeposits(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	var list model.PaymentList
	require.NoError(t, json.Unmarshal(decode(t, ctx).Data, &list))
	assert.Equal(t, int64(21), list.Total)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "REF-A", list.Items[0].TransRef)
	svc.AssertExpectations(t)

	t.Run("requires user", func(t *testing.T) {
		ctx := getContext("/api/v1/deposits", "")
		h.ListDeposits(ctx)
		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("store failure", func(t *testing.T) {
		svc := new(MockDepositService)
		svc.On("List", mock.Anything, mock.Anything).Return(nil, errors.New("db gone"))
		ctx := getContext("/api/v1/deposits", "3")
		NewDepositHandler(svc).ListDeposits(ctx)
		assert.Equal(t, 500, ctx.Response.StatusCode())
		assert.Equal(t, "server_error", decode(t, ctx).Code)
	})
}

func TestDepositHandler_GetSummary(t *testing.T) {
	svc := new(MockDepositService)
	h := NewDepositHandler(svc)

	svc.On("Summary", mock.Anything, int64(5)).Return(&model.DepositSummary{
		UserID:     5,
		Balance:    decimal.NewFromInt(1200),
		TodayTotal: decimal.NewFromInt(200),
		DailyLimit: decimal.NewFromInt(1000),
		Remaining:  decimal.NewFromInt(800),
	}, nil)
	svc.On("Summary", mock.Anything, int64(6)).Return(nil, services.ErrUnknownUser)

	ctx := getContext("/api/v1/deposits/summary", "5")
	h.GetSummary(ctx)
	assert.Equal(t, 200, ctx.Response.StatusCode())

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(decode(t, ctx).Data, &data))
	assert.Equal(t, "800", data["remaining"])

	ctx = getContext("/api/v1/deposits/summary", "6")
	h.GetSummary(ctx)
	assert.Equal(t, 400, ctx.Response.StatusCode())
}
