package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"salasgw/internal/hypermedia"
	"salasgw/internal/upstream"
)

// Enrichment selects how a successful upstream body is decorated with links.
type Enrichment int

const (
	EnrichNone Enrichment = iota
	EnrichOne
	EnrichList
)

func (e Enrichment) String() string {
	switch e {
	case EnrichOne:
		return "one"
	case EnrichList:
		return "list"
	default:
		return "none"
	}
}

type pathParams int

const (
	paramsNone pathParams = iota
	paramsID
	paramsIDAction
	paramsAction
)

// Route is one row of the proxy table.
type Route struct {
	OperationID string
	Method      string
	Path        string
	// Upstream is the path template on the domain service; {id} and
	// {action} are substituted path-escaped. A trailing slash is always added.
	Upstream string
	Resource hypermedia.ResourceType
	Enrich   Enrichment
	// SuccessStatus replaces the upstream status on 2xx when non-zero.
	SuccessStatus int
	ForwardQuery  bool
	Summary       string
	Tag           string

	params pathParams
}

// HasBody reports whether the inbound body is forwarded upstream.
func (r Route) HasBody() bool {
	return r.Method != http.MethodGet && r.Method != http.MethodDelete
}

// StatusText renders SuccessStatus for the routes table.
func (r Route) StatusText() string {
	if r.SuccessStatus == 0 {
		return "upstream"
	}
	return strconv.Itoa(r.SuccessStatus)
}

func (r Route) upstreamPath(params map[string]string) string {
	p := r.Upstream
	for k, v := range params {
		p = strings.ReplaceAll(p, "{"+k+"}", url.PathEscape(v))
	}
	return p
}

func resourceRoutes(rt hypermedia.ResourceType, tag string) []Route {
	name := string(rt)
	item := "/" + name + "/{id}"
	return []Route{
		{OperationID: "list-" + name, Method: http.MethodGet, Path: "/" + name, Upstream: name,
			Resource: rt, Enrich: EnrichList, ForwardQuery: true, Summary: "List " + name, Tag: tag},
		{OperationID: "create-" + name, Method: http.MethodPost, Path: "/" + name, Upstream: name,
			Resource: rt, Enrich: EnrichOne, SuccessStatus: http.StatusCreated, Summary: "Create " + name, Tag: tag},
		{OperationID: "get-" + name, Method: http.MethodGet, Path: item, Upstream: name + "/{id}",
			Resource: rt, Enrich: EnrichOne, Summary: "Get " + name, Tag: tag, params: paramsID},
		{OperationID: "update-" + name, Method: http.MethodPut, Path: item, Upstream: name + "/{id}",
			Resource: rt, Enrich: EnrichOne, Summary: "Replace " + name, Tag: tag, params: paramsID},
		{OperationID: "patch-" + name, Method: http.MethodPatch, Path: item, Upstream: name + "/{id}",
			Resource: rt, Enrich: EnrichOne, Summary: "Partially update " + name, Tag: tag, params: paramsID},
		{OperationID: "delete-" + name, Method: http.MethodDelete, Path: item, Upstream: name + "/{id}",
			Resource: rt, SuccessStatus: http.StatusNoContent, Summary: "Delete " + name, Tag: tag, params: paramsID},
	}
}

// Routes returns the proxy table in registration order.
func Routes() []Route {
	out := []Route{{
		OperationID: "auth-action", Method: http.MethodPost, Path: "/auth/{action}", Upstream: "auth/{action}",
		Summary: "Forward an authentication action (login, register, refresh)", Tag: "auth", params: paramsAction,
	}}
	out = append(out, resourceRoutes(hypermedia.Salas, "salas")...)
	out = append(out, resourceRoutes(hypermedia.Reservas, "reservas")...)
	out = append(out, Route{
		OperationID: "reserva-action", Method: http.MethodPost, Path: "/reservas/{id}/{action}",
		Upstream: "reservas/{id}/{action}", Summary: "Run a reservation action (cancelar, responder)",
		Tag: "reservas", params: paramsIDAction,
	})
	return out
}

type idInput struct {
	ID string `path:"id" doc:"Resource id"`
}

type idActionInput struct {
	ID     string `path:"id" doc:"Reservation id"`
	Action string `path:"action" doc:"Upstream action name" example:"cancelar"`
}

type actionInput struct {
	Action string `path:"action" doc:"Upstream auth action" example:"login"`
}

type proxyOutput struct {
	Status      int
	ContentType string `header:"Content-Type"`
	Body        []byte
}

func registerProxy(api huma.API, gw *gateway) {
	for _, rt := range Routes() {
		switch rt.params {
		case paramsID:
			registerRoute(api, gw, rt, func(in *idInput) map[string]string {
				return map[string]string{"id": in.ID}
			})
		case paramsIDAction:
			registerRoute(api, gw, rt, func(in *idActionInput) map[string]string {
				return map[string]string{"id": in.ID, "action": in.Action}
			})
		case paramsAction:
			registerRoute(api, gw, rt, func(in *actionInput) map[string]string {
				return map[string]string{"action": in.Action}
			})
		default:
			registerRoute(api, gw, rt, func(*struct{}) map[string]string { return nil })
		}
	}
}

func registerRoute[I any](api huma.API, gw *gateway, rt Route, params func(*I) map[string]string) {
	op := huma.Operation{
		OperationID: rt.OperationID,
		Method:      rt.Method,
		Path:        rt.Path,
		Summary:     rt.Summary,
		Tags:        []string{rt.Tag},
		Errors:      []int{http.StatusInternalServerError, http.StatusGatewayTimeout},
	}
	if rt.SuccessStatus != 0 {
		op.DefaultStatus = rt.SuccessStatus
	}
	huma.Register(api, op, func(ctx context.Context, in *I) (*proxyOutput, error) {
		return gw.proxy(ctx, rt, params(in))
	})
}

// proxy executes one route: forward, then mirror or enrich the answer.
func (g *gateway) proxy(ctx context.Context, rt Route, params map[string]string) (*proxyOutput, error) {
	req := upstream.Request{
		Method: rt.Method,
		Path:   rt.upstreamPath(params),
		Header: forwardedHeaders(ctx),
	}
	if rt.ForwardQuery {
		if r := requestFromContext(ctx); r != nil {
			req.RawQuery = r.URL.RawQuery
		}
	}
	if rt.HasBody() {
		req.Body = bodyBytes(ctx)
	}

	res, err := g.upstream.Do(ctx, req)
	if err != nil {
		herr := upstreamFailure(err)
		logError(ctx, g.logger, "upstream call failed", herr.GetStatus(), err)
		return nil, herr
	}
	if !res.OK() {
		g.logger.DebugContext(ctx, "upstream rejected request",
			slog.String("operation", rt.OperationID),
			slog.Int("status", res.StatusCode),
			slog.String("request_id", requestIDFromContext(ctx)),
		)
		return &proxyOutput{Status: res.StatusCode, ContentType: res.ContentType(), Body: res.Body}, nil
	}

	status := res.StatusCode
	if rt.SuccessStatus != 0 {
		status = rt.SuccessStatus
	}
	if status == http.StatusNoContent {
		return &proxyOutput{Status: status}, nil
	}

	body := res.Body
	contentType := res.ContentType()
	switch rt.Enrich {
	case EnrichOne:
		body, err = g.enricher.EnrichJSON(rt.Resource, body)
	case EnrichList:
		body, err = g.enricher.EnrichListJSON(rt.Resource, body)
	}
	if err != nil {
		logError(ctx, g.logger, "upstream returned malformed json", http.StatusInternalServerError, err)
		return nil, newGatewayError(http.StatusInternalServerError, msgUpstreamMalformed, "")
	}
	if rt.Enrich != EnrichNone {
		g.metrics.ObserveEnriched(string(rt.Resource))
		contentType = "application/json"
	}
	return &proxyOutput{Status: status, ContentType: contentType, Body: body}, nil
}
