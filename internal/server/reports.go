package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"salasgw/internal/soap"
)

const (
	reportOperation  = "gerar_relatorio_reservas"
	defaultLimite    = "10"
	defaultOrdenacao = "RECENTES"
)

// ReportArgs are the arguments of the reservation report.
type ReportArgs struct {
	SalaID    string
	Limite    string
	Ordenacao string
}

func (a ReportArgs) withDefaults() ReportArgs {
	if strings.TrimSpace(a.Limite) == "" {
		a.Limite = defaultLimite
	}
	if strings.TrimSpace(a.Ordenacao) == "" {
		a.Ordenacao = defaultOrdenacao
	}
	return a
}

func (a ReportArgs) params() []soap.Param {
	return []soap.Param{
		{Name: "sala_id", Value: a.SalaID},
		{Name: "limite", Value: a.Limite},
		{Name: "ordenacao", Value: a.Ordenacao},
	}
}

// reportBridge builds a fresh SOAP client from the service description for
// every report, so a restarted backend is picked up without a gateway restart.
type reportBridge struct {
	wsdlURL string
	opts    soap.Options
}

func (b *reportBridge) generate(ctx context.Context, args ReportArgs) ([]byte, error) {
	client, err := soap.NewClient(ctx, b.wsdlURL, b.opts)
	if err != nil {
		return nil, err
	}
	return client.Call(ctx, reportOperation, args.params())
}

type reportInput struct {
	ID        string `path:"id" doc:"Room id"`
	Limite    string `query:"limite" doc:"Maximum number of reservations (default 10)"`
	Ordenacao string `query:"ordenacao" doc:"Sort order: RECENTES (default), ANTIGAS or MAIOR_DURACAO"`
}

type reportOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

func registerReports(api huma.API, gw *gateway) {
	huma.Register(api, huma.Operation{
		OperationID: "relatorio-sala",
		Method:      http.MethodGet,
		Path:        "/relatorios/sala/{id}",
		Summary:     "Reservation report for a room (raw SOAP envelope)",
		Tags:        []string{"relatorios"},
		Errors:      []int{http.StatusInternalServerError, http.StatusGatewayTimeout},
	}, func(ctx context.Context, in *reportInput) (*reportOutput, error) {
		args := ReportArgs{SalaID: in.ID, Limite: in.Limite, Ordenacao: in.Ordenacao}.withDefaults()
		data, err := gw.reports.generate(ctx, args)
		if err != nil {
			herr := reportFailure(err)
			logError(ctx, gw.logger, "soap report failed", herr.GetStatus(), err)
			return nil, herr
		}
		return &reportOutput{ContentType: "text/xml", Body: data}, nil
	})
}

func reportFailure(err error) huma.StatusError {
	if errors.Is(err, soap.ErrTimeout) {
		return newGatewayError(http.StatusGatewayTimeout, msgSOAPTimeout, "")
	}
	if errors.Is(err, soap.ErrSetup) {
		return newGatewayError(http.StatusInternalServerError, msgSOAPSetup, "")
	}
	var inv *soap.InvocationError
	if errors.As(err, &inv) {
		return newGatewayError(http.StatusInternalServerError, msgSOAPInvocation, inv.Error())
	}
	return newGatewayError(http.StatusInternalServerError, msgSOAPInvocation, err.Error())
}
