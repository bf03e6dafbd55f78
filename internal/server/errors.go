package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"salasgw/internal/upstream"
)

const (
	msgUpstreamUnavailable = "Erro ao comunicar com o servico de dominio."
	msgUpstreamTimeout     = "Tempo esgotado aguardando o servico de dominio."
	msgUpstreamMalformed   = "Resposta invalida do servico de dominio."
	msgSOAPSetup           = "Erro ao conectar no SOAP Django."
	msgSOAPInvocation      = "Erro ao executar método SOAP"
	msgSOAPTimeout         = "Tempo esgotado aguardando o servico SOAP."
)

// gatewayError is the body of every error produced by the gateway itself.
// Upstream rejections never pass through it; they are mirrored as received.
type gatewayError struct {
	status  int
	Message string `json:"error" example:"Erro ao conectar no SOAP Django."`
	Details string `json:"details,omitempty" example:"gerar_relatorio_reservas: soap fault: invalid literal"`
}

func (e *gatewayError) GetStatus() int { return e.status }
func (e *gatewayError) Error() string  { return e.Message }

func newGatewayError(status int, message, details string) huma.StatusError {
	return &gatewayError{status: status, Message: message, Details: details}
}

func installErrorEnvelope() {
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newGatewayError(status, msg, joinErrors(errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return newGatewayError(status, msg, joinErrors(errs))
	}
}

func joinErrors(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			parts = append(parts, err.Error())
		}
	}
	return strings.Join(parts, "; ")
}

// upstreamFailure maps a call that produced no upstream response to the
// gateway error returned to the caller.
func upstreamFailure(err error) huma.StatusError {
	var ue *upstream.Error
	if !errors.As(err, &ue) {
		return newGatewayError(http.StatusInternalServerError, msgUpstreamUnavailable, "")
	}
	switch ue.Kind {
	case upstream.KindTimeout:
		return newGatewayError(http.StatusGatewayTimeout, msgUpstreamTimeout, "")
	case upstream.KindMalformed:
		return newGatewayError(http.StatusInternalServerError, msgUpstreamMalformed, "")
	default:
		return newGatewayError(http.StatusInternalServerError, msgUpstreamUnavailable, "")
	}
}

func logError(ctx context.Context, logger *slog.Logger, msg string, status int, err error) {
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(ctx, level, msg,
		slog.Int("status", status),
		slog.String("request_id", requestIDFromContext(ctx)),
		slog.Any("error", err),
	)
}
