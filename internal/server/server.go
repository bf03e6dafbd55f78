package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"salasgw/internal/config"
	"salasgw/internal/hypermedia"
	"salasgw/internal/metrics"
	"salasgw/internal/soap"
	"salasgw/internal/upstream"
)

// Version is reported in the OpenAPI document and by the CLI.
const Version = "0.3.0"

const maxRequestBodyBytes = 10 << 20

// Config for the gateway HTTP handler.
type Config struct {
	Settings *config.Config
	Logger   *slog.Logger
	// Registry receives the gateway collectors and backs /metrics. A private
	// registry with the Go and process collectors is created when nil.
	Registry *prometheus.Registry
	// HTTPClient is shared by the REST and SOAP upstream calls.
	HTTPClient *http.Client
}

type gateway struct {
	upstream *upstream.Client
	enricher *hypermedia.Enricher
	reports  *reportBridge
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New returns an HTTP handler exposing the gateway surface.
func New(cfg Config) (http.Handler, error) {
	if cfg.Settings == nil {
		return nil, errors.New("server: settings are required")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	settings := cfg.Settings
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	m := metrics.New(reg)
	up := upstream.New(settings.Upstream.BaseURL, settings.Upstream.Timeout, m)
	up.HTTPClient = httpClient
	gw := &gateway{
		upstream: up,
		enricher: hypermedia.New(settings.PublicBaseURL()),
		reports: &reportBridge{
			wsdlURL: settings.SOAP.WSDLURL,
			opts:    soap.Options{HTTPClient: httpClient, Timeout: settings.SOAP.Timeout, Metrics: m},
		},
		metrics: m,
		logger:  logger,
	}

	huma.DefaultArrayNullable = false
	installErrorEnvelope()

	router := chi.NewRouter()
	router.Use(newRequestIDMiddleware())
	router.Use(middleware.RealIP)
	router.Use(newAccessLogMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   settings.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{headerAuthorization, headerContentType, headerAccept, headerRequestID},
		ExposedHeaders:   []string{headerRequestID},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	router.Use(newBodyCaptureMiddleware(logger, maxRequestBodyBytes))

	hcfg := huma.DefaultConfig("Salas Gateway", Version)
	hcfg.OpenAPIPath = ""  // served below with security schemes applied
	hcfg.DocsPath = ""     // custom Swagger UI below
	hcfg.CreateHooks = nil // bodies carry no $schema links
	hcfg.Servers = []*huma.Server{{URL: settings.PublicBaseURL()}}
	api := humachi.New(router, hcfg)

	registerDocs(router)
	registerMetrics(router, reg)
	registerHealth(api)
	registerProxy(api, gw)
	registerReports(api, gw)
	registerOpenAPI(router, api)

	logger.Debug("gateway handler ready",
		slog.String("upstream", settings.Upstream.BaseURL),
		slog.String("wsdl", settings.SOAP.WSDLURL),
		slog.Int("routes", len(Routes())+1),
	)
	return router, nil
}

func newAccessLogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", requestIDFromContext(r.Context())),
			)
		})
	}
}

func registerDocs(r chi.Router) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML())
	})
}

func registerMetrics(r chi.Router, reg *prometheus.Registry) {
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
}

func registerOpenAPI(r chi.Router, api huma.API) {
	var (
		once sync.Once
		spec []byte
	)
	r.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil || oas.Components == nil || oas.Components.Schemas == nil {
		return
	}
	ref := oas.Components.Schemas.Schema(reflect.TypeOf(gatewayError{}), true, "GatewayError")
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Gateway error, or the upstream error body mirrored unchanged",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: ref},
				},
			}
		}
	}
}

// Routes that never need a credential.
var publicPaths = map[string]bool{
	"/health":               true,
	"/auth/{action}":        true,
	"/relatorios/sala/{id}": true,
}

func applyAuthSecurity(oas *huma.OpenAPI) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if publicPaths[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML() string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Salas Gateway Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      The Authorization header is forwarded to the domain service unchanged.
    </p>
  </body>
</html>`, "/openapi.json")
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"ops"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// newBodyCaptureMiddleware buffers the request body once so proxied routes can
// forward it unchanged. Bodies over limit are answered with 413.
func newBodyCaptureMiddleware(logger *slog.Logger, limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
			if err != nil {
				status := http.StatusBadRequest
				msg := "Erro ao ler o corpo da requisicao."
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					status = http.StatusRequestEntityTooLarge
					msg = fmt.Sprintf("Corpo da requisicao excede %d bytes.", limit)
				}
				logError(r.Context(), logger, "read request body", status, err)
				writeGatewayError(w, newGatewayError(status, msg, ""))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(data))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, data)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeGatewayError(w http.ResponseWriter, se huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(se.GetStatus())
	_ = json.NewEncoder(w).Encode(se)
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req := requestFromContext(ctx)
	if req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
