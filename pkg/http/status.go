package xhttp

import "github.com/valyala/fasthttp"

const (
	StatusOK                    = fasthttp.StatusOK
	StatusBadRequest            = fasthttp.StatusBadRequest
	StatusForbidden             = fasthttp.StatusForbidden
	StatusNotFound              = fasthttp.StatusNotFound
	StatusRequestTimeout        = fasthttp.StatusRequestTimeout
	StatusConflict              = fasthttp.StatusConflict
	StatusRequestEntityTooLarge = fasthttp.StatusRequestEntityTooLarge
	StatusUnsupportedMediaType  = fasthttp.StatusUnsupportedMediaType
	StatusInternalServerError   = fasthttp.StatusInternalServerError
	StatusServiceUnavailable    = fasthttp.StatusServiceUnavailable
)

func StatusText(code int) string {
	return fasthttp.StatusMessage(code)
}
