// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/korrel8r/shifter/internal/pkg/logging"
	"github.com/korrel8r/shifter/pkg/config"
	"github.com/korrel8r/shifter/pkg/execute"
	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/korrel8r/shifter/pkg/translate"
	"github.com/korrel8r/shifter/pkg/transmit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logging.Log().WithName("api")

type API struct {
	Translator *translate.Translator
	Executor   *execute.Executor
	Sources    []config.Source
	Metrics    *transmit.Metrics
}

// New API instance, registers handlers with a gin Engine.
// Transmit metrics are registered with reg and served at /metrics, reg may be nil.
// If r is nil no handlers are registered, the API can be used by other servers.
func New(t *translate.Translator, configs config.Configs, reg *prometheus.Registry, r *gin.Engine) (*API, error) {
	sources, err := configs.Sources()
	if err != nil {
		return nil, err
	}
	if err := configs.Check(t.Modules()); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := transmit.NewMetrics(reg)
	a := &API{
		Translator: t,
		Executor:   execute.New(t, configs.Execute(), metrics),
		Sources:    sources,
		Metrics:    metrics,
	}
	if r == nil {
		return a, nil
	}
	r.Use(a.logger)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	v := r.Group(BasePath)
	v.GET("/modules", a.Modules)
	v.POST("/translate/:module/:operation", a.Translate)
	v.POST("/transmit/:module/:operation", a.Transmit)
	v.POST("/execute", a.Execute)
	return a, nil
}

// Close cleans any persistent resources.
func (a *API) Close() {}

// Modules handler.
func (a *API) Modules(c *gin.Context) {
	c.JSON(http.StatusOK, a.Translator.Modules().Infos())
}

// Translate handler.
func (a *API) Translate(c *gin.Context) {
	var req TranslateRequest
	if !check(c, http.StatusBadRequest, c.ShouldBindJSON(&req), "TranslateRequest body") {
		return
	}
	ctx, module := c.Request.Context(), c.Param("module")
	var (
		result any
		err    error
	)
	switch op := translate.Operation(c.Param("operation")); op {
	case translate.Query:
		result, err = a.Translator.Query(ctx, module, req.Pattern, req.Options)
	case translate.Results:
		result, err = a.Translator.Results(ctx, module, req.DataSource, req.Rows, req.Options)
	default:
		err = shifter.Errorf(shifter.UnknownOperation, "unknown translate operation: %q", op)
	}
	if check(c, statusFor(err), err) {
		c.JSON(http.StatusOK, result)
	}
}

// Transmit handler.
func (a *API) Transmit(c *gin.Context) {
	var req TransmitRequest
	if !check(c, http.StatusBadRequest, c.ShouldBindJSON(&req), "TransmitRequest body") {
		return
	}
	creds := &req.Configuration.Auth
	if token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok &&
		creds.Token == "" && creds.Username == "" && creds.ClientID == "" {
		creds.Token = token
	}
	e, err := a.RunTransmit(c.Request.Context(), c.Param("module"), transmit.Operation(c.Param("operation")), req)
	if !check(c, statusFor(err), err) {
		return
	}
	code := http.StatusOK
	if e.Code == shifter.UnknownOperation {
		code = http.StatusNotFound
	}
	c.JSON(code, e)
}

// RunTransmit runs a transmission operation with a new connector for a module.
// Connector failures are returned in the envelope. The error is non-nil only if the module
// is unknown or the connector cannot be created.
func (a *API) RunTransmit(ctx context.Context, module string, op transmit.Operation, req TransmitRequest) (shifter.Envelope, error) {
	m, err := a.Translator.Modules().Get(module)
	if err != nil {
		return shifter.Envelope{}, err
	}
	conn, err := m.Connector(req.Connection, req.Configuration.Auth)
	if err != nil {
		return shifter.Envelope{}, err
	}
	if closer, ok := conn.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}
	return transmit.New(m.Name(), conn, a.Metrics).Run(ctx, transmit.Request{
		Operation: op,
		Query:     req.Query,
		SearchID:  req.SearchID,
		Offset:    req.Offset,
		Length:    req.Length,
	}), nil
}

// Execute handler.
func (a *API) Execute(c *gin.Context) {
	var req ExecuteRequest
	if !check(c, http.StatusBadRequest, c.ShouldBindJSON(&req), "ExecuteRequest body") {
		return
	}
	sources, err := a.SourcesNamed(req.Sources)
	if !check(c, http.StatusNotFound, err) {
		return
	}
	results, err := a.Executor.Execute(c.Request.Context(), req.Pattern, sources)
	resp := ExecuteResponse{Results: results}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// SourcesNamed returns the configured sources with the given names, or all sources if names is empty.
func (a *API) SourcesNamed(names []string) ([]config.Source, error) {
	if len(a.Sources) == 0 {
		return nil, shifter.Errorf(shifter.NotFound, "no data sources are configured")
	}
	if len(names) == 0 {
		return a.Sources, nil
	}
	var sources []config.Source
	for _, name := range names {
		i := slices.IndexFunc(a.Sources, func(s config.Source) bool { return s.Name == name })
		if i < 0 {
			return nil, shifter.Errorf(shifter.NotFound, "data source not found: %q", name)
		}
		sources = append(sources, a.Sources[i])
	}
	return sources, nil
}

// statusFor returns the HTTP status for an error.
func statusFor(err error) int {
	switch shifter.KindOf(err) {
	case "":
		return http.StatusOK
	case shifter.UnknownModule, shifter.NotFound, shifter.UnknownOperation:
		return http.StatusNotFound
	case shifter.Parse, shifter.Compile, shifter.InvalidOptions, shifter.InvalidParameter, shifter.InvalidQuery:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func check(c *gin.Context, code int, err error, format ...any) (ok bool) {
	if err != nil && !c.IsAborted() {
		if len(format) > 0 {
			err = fmt.Errorf("%v: %w", fmt.Sprintf(format[0].(string), format[1:]...), err)
		}
		_ = c.Error(err)
		c.AbortWithStatusJSON(code, shifter.Fail(err))
	}
	return err == nil && !c.IsAborted()
}

// logger is a Gin handler to log requests.
func (a *API) logger(c *gin.Context) {
	start := time.Now()
	defer func() {
		log := log.WithValues(
			"method", c.Request.Method,
			"url", c.Request.URL,
			"from", c.Request.RemoteAddr,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
		if len(c.Errors) > 0 {
			log = log.WithValues("errors", c.Errors.Errors())
		}
		if len(c.Errors) > 0 || c.Writer.Status() >= 500 {
			log.Info("request failed")
		} else {
			log.V(1).Info("request OK")
		}
	}()
	c.Next()
}
