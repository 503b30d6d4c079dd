package xhttp

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/nimasrn/deposit-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

type RequestHeader = fasthttp.RequestHeader
type ResponseHeader = fasthttp.ResponseHeader
type Server = fasthttp.Server

// ServerOption is the subset of fasthttp.Server knobs the services tune.
type ServerOption struct {
	Handler RequestHandler

	// idle keep-alive connections are dropped after this, otherwise
	// a burst of uploads can leave thousands of sockets open
	IdleTimeout time.Duration

	// slip uploads are multipart bodies up to a few MB, the limit has to
	// leave room above the business limit so oversize files still reach
	// the handler and get a proper error code
	MaxRequestBodySize int

	ReadBufferSize  int
	WriteBufferSize int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	Concurrency     int
	MaxConnsPerIP   int

	ErrorHandler                 func(ctx *RequestCtx, err error)
	Name                         string
	DisablePreParseMultipartForm bool
	NoDefaultServerHeader        bool
	CloseOnShutdown              bool
	Logger                       logger.Logger
}

var DefaultServerOption = ServerOption{
	Handler: func(ctx *RequestCtx) {
		ctx.Error(StatusText(StatusNotFound), StatusNotFound)
	},
	IdleTimeout:        10 * time.Second,
	MaxRequestBodySize: 16 * 1024 * 1024,
	ReadBufferSize:     8 * 1024, // also max header size
	WriteBufferSize:    4 * 1024,
	ReadTimeout:        30 * time.Second,
	WriteTimeout:       30 * time.Second,
	Concurrency:        10_000,
	MaxConnsPerIP:      1_000,
	ErrorHandler: func(ctx *RequestCtx, err error) {
		logger.Warn("[xhttp] connection error", "error", err, "ip", ctx.RemoteIP().String())
		if errors.Is(err, fasthttp.ErrBodyTooLarge) {
			ctx.SetContentType("application/json")
			ctx.SetStatusCode(StatusRequestEntityTooLarge)
			ctx.SetBodyString(`{"code":"image_size_too_large","message":"request body too large"}`)
		}
	},
	Name:                         "deposit-gateway",
	DisablePreParseMultipartForm: true,
	NoDefaultServerHeader:        true,
	CloseOnShutdown:              true,
}

type Engine struct {
	*Router
	*Server
	option ServerOption
	middle []MiddlewareFunc
}

func newServer(options ServerOption) *fasthttp.Server {
	lg := options.Logger
	if lg == nil {
		lg = logger.GetLogger()
	}
	return &fasthttp.Server{
		Handler:                      options.Handler,
		ErrorHandler:                 options.ErrorHandler,
		Name:                         options.Name,
		Concurrency:                  options.Concurrency,
		ReadBufferSize:               options.ReadBufferSize,
		WriteBufferSize:              options.WriteBufferSize,
		ReadTimeout:                  options.ReadTimeout,
		WriteTimeout:                 options.WriteTimeout,
		IdleTimeout:                  options.IdleTimeout,
		MaxConnsPerIP:                options.MaxConnsPerIP,
		MaxRequestBodySize:           options.MaxRequestBodySize,
		DisablePreParseMultipartForm: options.DisablePreParseMultipartForm,
		NoDefaultServerHeader:        options.NoDefaultServerHeader,
		CloseOnShutdown:              options.CloseOnShutdown,
		Logger:                       lg,
	}
}

func NewServer(options ServerOption) *Engine {
	return &Engine{
		Server: newServer(options),
		Router: NewRouter(),
		option: options,
	}
}

func (e *Engine) ListenAndServe(addr string) error {
	if err := e.DoRouting(); err != nil {
		return err
	}
	logger.Info("[xhttp] server is listening", "addr", addr, "pid", os.Getpid())
	return e.Server.ListenAndServe(addr)
}

// DoRouting wires the router behind the registered middlewares. The first
// middleware passed to Use is the outermost one.
func (e *Engine) DoRouting() error {
	if e.Router == nil {
		return fmt.Errorf("xhttp: router is not set")
	}
	for method, routes := range e.Router.List() {
		for _, r := range routes {
			logger.Debug("[xhttp] route registered", "method", method, "path", r)
		}
	}

	handler := e.Router.Handler
	chain := slices.Clone(e.middle)
	slices.Reverse(chain)
	for i, m := range chain {
		handler = m(handler)
		logger.Debug("[xhttp] middleware registered", "order", len(chain)-i, "name", runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	e.Server.Handler = handler
	return nil
}

// Use adds middleware to the chain which is run for every request.
func (e *Engine) Use(middleware ...MiddlewareFunc) {
	e.middle = append(e.middle, middleware...)
}

// Shutdown waits for in-flight requests, which lets running settlements
// commit before the process exits.
func (e *Engine) Shutdown() {
	logger.Info("[xhttp] server is shutting down", "pid", os.Getpid())
	if err := e.Server.Shutdown(); err != nil {
		logger.Error("[xhttp] error while shutting down", "error", err)
	}
}
