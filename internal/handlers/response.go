package handlers

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	xhttp "github.com/nimasrn/deposit-gateway/pkg/http"
)

const userIDHeader = "X-User-Id"

type response struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeResponse(ctx *xhttp.RequestCtx, status int, code, message string, data interface{}) {
	writeJSON(ctx, status, response{Code: code, Message: message, Data: data})
}

func writeSuccess(ctx *xhttp.RequestCtx, data interface{}) {
	writeResponse(ctx, xhttp.StatusOK, "success", "success", data)
}

// userID reads the caller's id set by the upstream auth layer.
func userID(ctx *xhttp.RequestCtx) (int64, bool) {
	v := strings.TrimSpace(string(ctx.Request.Header.Peek(userIDHeader)))
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	// RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
