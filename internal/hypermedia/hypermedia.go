// Package hypermedia synthesizes the action links attached to gateway resources.
//
// Links are derived only from the resource type and the record just returned by
// the upstream service. They always address the gateway's own routes, so a client
// never needs to know the upstream URL space.
package hypermedia

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ResourceType tags the kind of record being enriched.
type ResourceType string

const (
	Salas    ResourceType = "salas"
	Reservas ResourceType = "reservas"
)

// Reservation status values owned by the upstream service.
const (
	StatusPendenteAprovacao = "PENDENTE_APROVACAO"
	StatusAprovada          = "APROVADA"
	StatusRejeitada         = "REJEITADA"
	StatusCancelada         = "CANCELADA"
	StatusConcluida         = "CONCLUIDA"
)

// Link relation names.
const (
	RelSelf              = "self"
	RelUpdate            = "update"
	RelPartialUpdate     = "partial_update"
	RelDelete            = "delete"
	RelReservar          = "reservar"
	RelRelatorioReservas = "relatorio_reservas"
	RelCancelar          = "cancelar"
	RelAprovarRejeitar   = "aprovar_rejeitar"
)

// LinksField is the key appended to every enriched record.
const LinksField = "links"

// Record is an upstream resource as decoded from JSON.
type Record = map[string]any

// Link describes one action legally reachable from the current resource state.
type Link struct {
	Rel         string         `json:"rel"`
	Method      string         `json:"method"`
	Href        string         `json:"href"`
	BodyExample map[string]any `json:"body_example,omitempty"`
}

type linkTemplate struct {
	rel    string
	method string
	// path receives the resource type and id and returns a gateway-relative path.
	path func(rt ResourceType, id string) string
	body func(id any) map[string]any
}

// rule attaches links to every record of resource (or of any type when empty)
// for which when holds.
type rule struct {
	resource ResourceType
	when     func(Record) bool
	links    []linkTemplate
}

func always(Record) bool { return true }

func statusIs(status string) func(Record) bool {
	return func(r Record) bool {
		s, ok := r["status"].(string)
		return ok && s == status
	}
}

func resourcePath(rt ResourceType, id string) string {
	return fmt.Sprintf("/%s/%s", rt, id)
}

var baselineLinks = []linkTemplate{
	{rel: RelSelf, method: http.MethodGet, path: resourcePath},
	{rel: RelUpdate, method: http.MethodPut, path: resourcePath},
	{rel: RelPartialUpdate, method: http.MethodPatch, path: resourcePath},
	{rel: RelDelete, method: http.MethodDelete, path: resourcePath},
}

var defaultRules = []rule{
	{when: always, links: baselineLinks},
	{
		resource: Salas,
		when:     always,
		links: []linkTemplate{
			{
				rel:    RelReservar,
				method: http.MethodPost,
				path:   func(ResourceType, string) string { return "/reservas" },
				body: func(id any) map[string]any {
					return map[string]any{
						"sala":            id,
						"data_inicio":     "YYYY-MM-DDTHH:MM",
						"data_fim":        "YYYY-MM-DDTHH:MM",
						"forma_pagamento": "PIX",
					}
				},
			},
			{
				rel:    RelRelatorioReservas,
				method: http.MethodGet,
				path:   func(_ ResourceType, id string) string { return "/relatorios/sala/" + id },
			},
		},
	},
	{
		// Only a pending reservation can still be cancelled or answered.
		resource: Reservas,
		when:     statusIs(StatusPendenteAprovacao),
		links: []linkTemplate{
			{
				rel:    RelCancelar,
				method: http.MethodPost,
				path:   func(_ ResourceType, id string) string { return "/reservas/" + id + "/cancelar" },
			},
			{
				rel:    RelAprovarRejeitar,
				method: http.MethodPost,
				path:   func(_ ResourceType, id string) string { return "/reservas/" + id + "/responder" },
				body:   func(any) map[string]any { return map[string]any{"acao": "APROVAR"} },
			},
		},
	},
}

// Enricher appends links addressed at baseURL.
type Enricher struct {
	baseURL string
	rules   []rule
}

// New returns an Enricher whose hrefs start with baseURL (e.g. http://localhost:3000).
func New(baseURL string) *Enricher {
	return &Enricher{baseURL: strings.TrimRight(baseURL, "/"), rules: defaultRules}
}

// Links returns the links for rec, or nil when rec has no usable id.
func (e *Enricher) Links(rt ResourceType, rec Record) []Link {
	if rec == nil {
		return nil
	}
	rawID := rec["id"]
	id, ok := idString(rawID)
	if !ok {
		return nil
	}
	var links []Link
	for _, r := range e.rules {
		if r.resource != "" && r.resource != rt {
			continue
		}
		if !r.when(rec) {
			continue
		}
		for _, tpl := range r.links {
			l := Link{Rel: tpl.rel, Method: tpl.method, Href: e.baseURL + tpl.path(rt, id)}
			if tpl.body != nil {
				l.BodyExample = tpl.body(rawID)
			}
			links = append(links, l)
		}
	}
	return links
}

// Enrich returns a copy of rec with its links field set. Records without an id
// are returned as-is.
func (e *Enricher) Enrich(rt ResourceType, rec Record) Record {
	links := e.Links(rt, rec)
	if links == nil {
		return rec
	}
	out := make(Record, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	out[LinksField] = links
	return out
}

// EnrichJSON enriches a single JSON object. Bodies that are empty or not an
// object are returned unchanged.
func (e *Enricher) EnrichJSON(rt ResourceType, body []byte) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return body, nil
	}
	v, err := decode(body)
	if err != nil {
		return nil, err
	}
	rec, ok := v.(map[string]any)
	if !ok || e.Links(rt, rec) == nil {
		return body, nil
	}
	return encode(e.Enrich(rt, rec))
}

// EnrichListJSON enriches each element of a listing, which is either a
// paginated object carrying a results array or a bare array.
func (e *Enricher) EnrichListJSON(rt ResourceType, body []byte) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return body, nil
	}
	v, err := decode(body)
	if err != nil {
		return nil, err
	}
	switch doc := v.(type) {
	case []any:
		return encode(e.enrichItems(rt, doc))
	case map[string]any:
		items, ok := doc["results"].([]any)
		if !ok {
			return body, nil
		}
		doc["results"] = e.enrichItems(rt, items)
		return encode(doc)
	default:
		return body, nil
	}
}

func (e *Enricher) enrichItems(rt ResourceType, items []any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		if rec, ok := item.(map[string]any); ok {
			out[i] = e.Enrich(rt, rec)
			continue
		}
		out[i] = item
	}
	return out
}

// idString reports the id as it appears in a URL, and whether it is truthy.
func idString(v any) (string, bool) {
	switch id := v.(type) {
	case nil:
		return "", false
	case string:
		return id, id != ""
	case bool:
		return "", false
	case json.Number:
		if f, err := id.Float64(); err == nil && f == 0 {
			return "", false
		}
		return id.String(), true
	case float64:
		if id == 0 {
			return "", false
		}
		return fmt.Sprint(id), true
	case int:
		return fmt.Sprint(id), id != 0
	case int64:
		return fmt.Sprint(id), id != 0
	default:
		return fmt.Sprint(id), true
	}
}

func decode(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	return v, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode resource: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
