package gatewaysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal client for the reservations gateway.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Link is one hypermedia action attached to a resource.
type Link struct {
	Rel         string         `json:"rel"`
	Method      string         `json:"method"`
	Href        string         `json:"href"`
	BodyExample map[string]any `json:"body_example,omitempty"`
}

// Links is the links array of an enriched resource.
type Links []Link

// Find returns the link with rel, if present.
func (ls Links) Find(rel string) (Link, bool) {
	for _, l := range ls {
		if l.Rel == rel {
			return l, true
		}
	}
	return Link{}, false
}

// Sala represents a room. Decimal amounts are kept as the strings the API sends.
type Sala struct {
	ID           int64  `json:"id,omitempty"`
	Nome         string `json:"nome"`
	Descricao    string `json:"descricao"`
	Capacidade   int    `json:"capacidade"`
	PrecoPorHora string `json:"preco_por_hora"`
	Rua          string `json:"rua"`
	Numero       string `json:"numero"`
	Bairro       string `json:"bairro"`
	Cidade       string `json:"cidade"`
	Estado       string `json:"estado"`
	CEP          string `json:"cep"`
	Disponivel   bool   `json:"disponivel"`
	Dono         int64  `json:"dono,omitempty"`
	DonoNome     string `json:"dono_nome,omitempty"`
	CriadoEm     string `json:"criado_em,omitempty"`
	AtualizadoEm string `json:"atualizado_em,omitempty"`
	Links        Links  `json:"links,omitempty"`
}

// Reserva represents a reservation.
type Reserva struct {
	ID              int64   `json:"id,omitempty"`
	Sala            int64   `json:"sala"`
	SalaNome        string  `json:"sala_nome,omitempty"`
	Solicitante     int64   `json:"solicitante,omitempty"`
	SolicitanteNome string  `json:"solicitante_nome,omitempty"`
	DataInicio      string  `json:"data_inicio"`
	DataFim         string  `json:"data_fim"`
	FormaPagamento  string  `json:"forma_pagamento"`
	Status          string  `json:"status,omitempty"`
	ValorTotal      *string `json:"valor_total,omitempty"`
	CriadoEm        string  `json:"criado_em,omitempty"`
	AtualizadaEm    string  `json:"atualizada_em,omitempty"`
	Links           Links   `json:"links,omitempty"`
}

// Page is a paginated listing. Unpaginated listings decode into Results only.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// UnmarshalJSON accepts both the paginated object and a bare array.
func (p *Page[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*p = Page[T]{Count: len(items), Results: items}
		return nil
	}
	var out struct {
		Count    int     `json:"count"`
		Next     *string `json:"next"`
		Previous *string `json:"previous"`
		Results  []T     `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return err
	}
	*p = Page[T]{Count: out.Count, Next: out.Next, Previous: out.Previous, Results: out.Results}
	return nil
}

// Tokens is the login response.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// ActionResult is the answer of reservation actions.
type ActionResult struct {
	Status string `json:"status"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for tokens and keeps the access token.
func (c *Client) Login(ctx context.Context, username, password string) (Tokens, error) {
	body := map[string]any{
		"username": username,
		"password": password,
	}
	var resp Tokens
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return resp, err
	}
	c.BearerToken = resp.Access
	return resp, nil
}

// ListSalas lists rooms; query is forwarded unchanged (may be nil).
func (c *Client) ListSalas(ctx context.Context, query url.Values) (Page[Sala], error) {
	var resp Page[Sala]
	err := c.do(ctx, http.MethodGet, withQuery("salas", query), nil, &resp)
	return resp, err
}

// GetSala fetches a room by id.
func (c *Client) GetSala(ctx context.Context, id int64) (Sala, error) {
	var resp Sala
	err := c.do(ctx, http.MethodGet, resourcePath("salas", id), nil, &resp)
	return resp, err
}

// CreateSala creates a room.
func (c *Client) CreateSala(ctx context.Context, sala Sala) (Sala, error) {
	sala.Links = nil
	var resp Sala
	err := c.do(ctx, http.MethodPost, "salas", sala, &resp)
	return resp, err
}

// ListReservas lists the caller's reservations.
func (c *Client) ListReservas(ctx context.Context, query url.Values) (Page[Reserva], error) {
	var resp Page[Reserva]
	err := c.do(ctx, http.MethodGet, withQuery("reservas", query), nil, &resp)
	return resp, err
}

// CreateReserva books a room.
func (c *Client) CreateReserva(ctx context.Context, r Reserva) (Reserva, error) {
	body := map[string]any{
		"sala":            r.Sala,
		"data_inicio":     r.DataInicio,
		"data_fim":        r.DataFim,
		"forma_pagamento": r.FormaPagamento,
	}
	var resp Reserva
	err := c.do(ctx, http.MethodPost, "reservas", body, &resp)
	return resp, err
}

// Cancelar cancels a reservation.
func (c *Client) Cancelar(ctx context.Context, id int64) (ActionResult, error) {
	var resp ActionResult
	err := c.do(ctx, http.MethodPost, resourcePath("reservas", id)+"/cancelar", map[string]any{}, &resp)
	return resp, err
}

// Responder approves or rejects a reservation; acao is APROVAR or REJEITAR.
func (c *Client) Responder(ctx context.Context, id int64, acao string) (ActionResult, error) {
	body := map[string]any{"acao": strings.ToUpper(acao)}
	var resp ActionResult
	err := c.do(ctx, http.MethodPost, resourcePath("reservas", id)+"/responder", body, &resp)
	return resp, err
}

// Relatorio returns the raw SOAP report envelope for a room. Zero limite and
// empty ordenacao leave the gateway defaults in place.
func (c *Client) Relatorio(ctx context.Context, salaID int64, limite int, ordenacao string) ([]byte, error) {
	q := url.Values{}
	if limite > 0 {
		q.Set("limite", strconv.Itoa(limite))
	}
	if ordenacao != "" {
		q.Set("ordenacao", ordenacao)
	}
	var raw rawBody
	err := c.do(ctx, http.MethodGet, withQuery("relatorios/sala/"+strconv.FormatInt(salaID, 10), q), nil, &raw)
	return raw, err
}

type rawBody []byte

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case *rawBody:
		b, err := io.ReadAll(resp.Body)
		*dst = b
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func resourcePath(kind string, id int64) string {
	return kind + "/" + strconv.FormatInt(id, 10)
}

func withQuery(endpoint string, query url.Values) string {
	if len(query) == 0 {
		return endpoint
	}
	return endpoint + "?" + query.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
