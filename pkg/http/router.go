package xhttp

import (
	"github.com/fasthttp/router"
)

type Router = router.Router
type Group = router.Group

func NewRouter() *Router {
	return router.New()
}

// CreateDefaultRouter returns a router that answers unknown paths and
// methods with a JSON body instead of the fasthttp plain text default.
func CreateDefaultRouter() *Router {
	r := NewRouter()
	r.RedirectTrailingSlash = true
	r.SaveMatchedRoutePath = true
	r.NotFound = NotFoundHandler
	r.MethodNotAllowed = NotFoundHandler
	r.HandleOPTIONS = false
	r.HandleMethodNotAllowed = true
	r.PanicHandler = func(ctx *RequestCtx, v interface{}) {
		writeServerError(ctx, v)
	}
	return r
}

func NotFoundHandler(ctx *RequestCtx) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(StatusNotFound)
	ctx.SetBodyString(`{"code":"not_found","message":"` + StatusText(StatusNotFound) + `"}`)
}
