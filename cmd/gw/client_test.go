package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salasgw/internal/config"
	"salasgw/internal/logger"
	"salasgw/internal/server"
)

const cliWSDL = `<?xml version="1.0" encoding="UTF-8"?>
<wsdl:definitions xmlns:wsdl="http://schemas.xmlsoap.org/wsdl/"
    xmlns:soap="http://schemas.xmlsoap.org/wsdl/soap/"
    xmlns:tns="sistemas.reservas.soap" targetNamespace="sistemas.reservas.soap">
  <wsdl:binding name="RelatorioSoapService" type="tns:RelatorioSoapService">
    <wsdl:operation name="gerar_relatorio_reservas">
      <soap:operation soapAction="gerar_relatorio_reservas" style="document"/>
    </wsdl:operation>
  </wsdl:binding>
  <wsdl:service name="RelatorioSoapService">
    <wsdl:port name="Application" binding="tns:RelatorioSoapService">
      <soap:address location="%s"/>
    </wsdl:port>
  </wsdl:service>
</wsdl:definitions>`

const cliEnvelope = `<soap11env:Envelope xmlns:soap11env="http://schemas.xmlsoap.org/soap/envelope/"><soap11env:Body><tns:gerar_relatorio_reservasResponse xmlns:tns="sistemas.reservas.soap"><tns:gerar_relatorio_reservasResult>{"sala_id": 3}</tns:gerar_relatorio_reservasResult></tns:gerar_relatorio_reservasResponse></soap11env:Body></soap11env:Envelope>`

type domainCall struct {
	method string
	uri    string
	auth   string
	body   []byte
}

type domainAPI struct {
	mu    sync.Mutex
	calls []domainCall
	reply string
}

func (d *domainAPI) last(t *testing.T) domainCall {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.calls)
	return d.calls[len(d.calls)-1]
}

// startGateway runs the real gateway handler in front of a fake domain API and
// a fake SOAP report service, and points the client commands at it.
func startGateway(t *testing.T, reply string) *domainAPI {
	t.Helper()
	api := &domainAPI{reply: reply}
	domain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		api.mu.Lock()
		api.calls = append(api.calls, domainCall{r.Method, r.URL.RequestURI(), r.Header.Get("Authorization"), body})
		out := api.reply
		api.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, out)
	}))
	t.Cleanup(domain.Close)

	var soapURL string
	reports := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		if r.Method == http.MethodGet {
			_, _ = fmt.Fprintf(w, cliWSDL, soapURL)
			return
		}
		_, _ = io.WriteString(w, cliEnvelope)
	}))
	t.Cleanup(reports.Close)
	soapURL = reports.URL + "/soap/"

	settings := &config.Config{
		Server:   config.ServerConfig{Port: 3000, PublicURL: "http://gw.test", LogLevel: "info", LogFormat: "json", CORSOrigins: []string{"*"}},
		Upstream: config.UpstreamConfig{BaseURL: domain.URL, Timeout: time.Second},
		SOAP:     config.SOAPConfig{WSDLURL: reports.URL + "/soap/?wsdl", Timeout: time.Second},
	}
	handler, err := server.New(server.Config{Settings: settings, Logger: logger.Discard(), Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	gw := httptest.NewServer(handler)
	t.Cleanup(gw.Close)

	viper.Set("gateway", gw.URL)
	viper.Set("token", "tok")
	t.Cleanup(viper.Reset)
	return api
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSalasListTable(t *testing.T) {
	api := startGateway(t, `{"count":1,"next":null,"previous":null,"results":[
		{"id":3,"nome":"Sala Boa Vista","cidade":"Recife","estado":"PE","capacidade":8,"preco_por_hora":"80.00","disponivel":true}]}`)

	out, err := run(t, salasCmd(), "list", "--cidade", "Recife", "--page", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Sala Boa Vista")
	assert.Contains(t, out, "Recife/PE")
	assert.Contains(t, out, "80.00")

	call := api.last(t)
	assert.Equal(t, http.MethodGet, call.method)
	assert.Equal(t, "/salas/?cidade=Recife&page=2", call.uri)
	assert.Equal(t, "Bearer tok", call.auth)
}

func TestReservasListShowsActionsFromLinks(t *testing.T) {
	startGateway(t, `[{"id":1,"sala_nome":"Sala A","status":"PENDENTE_APROVACAO"},{"id":2,"sala_nome":"Sala B","status":"APROVADA"}]`)

	out, err := run(t, reservasCmd(), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "cancelar,aprovar_rejeitar")
	assert.Contains(t, out, "APROVADA")
}

func TestReservasResponderJSON(t *testing.T) {
	api := startGateway(t, `{"status":"Reserva rejeitada com sucesso."}`)
	viper.Set("json", true)

	out, err := run(t, reservasCmd(), "responder", "8", "--acao", "rejeitar")
	require.NoError(t, err)
	var res map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "Reserva rejeitada com sucesso.", res["status"])

	call := api.last(t)
	assert.Equal(t, "/reservas/8/responder/", call.uri)
	assert.JSONEq(t, `{"acao":"REJEITAR"}`, string(call.body))
}

func TestReservasResponderRejectsUnknownAcao(t *testing.T) {
	api := startGateway(t, `{}`)

	_, err := run(t, reservasCmd(), "responder", "8", "--acao", "talvez")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APROVAR or REJEITAR")
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Empty(t, api.calls)
}

func TestReservasCancelarPrintsStatus(t *testing.T) {
	api := startGateway(t, `{"status":"Reserva cancelada com sucesso."}`)

	out, err := run(t, reservasCmd(), "cancelar", "4")
	require.NoError(t, err)
	assert.Equal(t, "Reserva cancelada com sucesso.\n", out)
	assert.Equal(t, "/reservas/4/cancelar/", api.last(t).uri)
}

func TestRelatorioWritesEnvelope(t *testing.T) {
	startGateway(t, `{}`)

	out, err := run(t, relatorioCmd(), "3", "--ordenacao", "antigas")
	require.NoError(t, err)
	assert.Equal(t, cliEnvelope+"\n", out)
}

func TestParseID(t *testing.T) {
	id, err := parseID("12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
	for _, bad := range []string{"0", "-1", "abc", ""} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}
