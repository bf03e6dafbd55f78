// Package soap is a small SOAP 1.1 client driven by a service description.
// It sends document/literal calls and hands back the raw response envelope.
package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"salasgw/internal/metrics"
)

const (
	envelopeNS     = "http://schemas.xmlsoap.org/soap/envelope/"
	wsdlSOAP11NS   = "http://schemas.xmlsoap.org/wsdl/soap/"
	wsdlSOAP12NS   = "http://schemas.xmlsoap.org/wsdl/soap12/"
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 10 << 20
)

// ErrSetup marks failures while building a client from the service description.
var ErrSetup = errors.New("soap client setup failed")

// ErrBodyTooLarge is returned when a document or response exceeds the read limit.
var ErrBodyTooLarge = fmt.Errorf("body exceeds %d bytes", maxBodyBytes)

// ErrTimeout marks calls that exceeded the client timeout.
var ErrTimeout = errors.New("soap call timed out")

// InvocationError is a failed remote call: transport error, SOAP fault or bad status.
type InvocationError struct {
	Operation  string
	StatusCode int
	Fault      string
	Err        error
}

func (e *InvocationError) Error() string {
	switch {
	case e.Fault != "":
		return fmt.Sprintf("%s: soap fault: %s", e.Operation, e.Fault)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	default:
		return fmt.Sprintf("%s: unexpected status %d", e.Operation, e.StatusCode)
	}
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Param is one named argument, sent in order.
type Param struct {
	Name  string
	Value string
}

// Service is what the client needs from a WSDL document.
type Service struct {
	Endpoint  string
	Namespace string
	// Actions maps operation names to their soapAction.
	Actions map[string]string
}

// HasOperation reports whether the description declares op.
func (s Service) HasOperation(op string) bool {
	_, ok := s.Actions[op]
	return ok
}

type wsdlDefinitions struct {
	TargetNamespace string         `xml:"targetNamespace,attr"`
	PortTypes       []wsdlPortType `xml:"portType"`
	Bindings        []wsdlBinding  `xml:"binding"`
	Services        []wsdlService  `xml:"service"`
}

type wsdlPortType struct {
	Operations []struct {
		Name string `xml:"name,attr"`
	} `xml:"operation"`
}

type wsdlBinding struct {
	Operations []struct {
		Name     string `xml:"name,attr"`
		SOAP11Op struct {
			Action string `xml:"soapAction,attr"`
		} `xml:"http://schemas.xmlsoap.org/wsdl/soap/ operation"`
		SOAP12Op struct {
			Action string `xml:"soapAction,attr"`
		} `xml:"http://schemas.xmlsoap.org/wsdl/soap12/ operation"`
	} `xml:"operation"`
}

type wsdlService struct {
	Ports []struct {
		Address11 struct {
			Location string `xml:"location,attr"`
		} `xml:"http://schemas.xmlsoap.org/wsdl/soap/ address"`
		Address12 struct {
			Location string `xml:"location,attr"`
		} `xml:"http://schemas.xmlsoap.org/wsdl/soap12/ address"`
	} `xml:"port"`
}

// ParseWSDL extracts the endpoint, namespace and operations from a WSDL 1.1
// document. Relative endpoint locations resolve against wsdlURL.
func ParseWSDL(data []byte, wsdlURL string) (Service, error) {
	var defs wsdlDefinitions
	if err := xml.Unmarshal(data, &defs); err != nil {
		return Service{}, fmt.Errorf("parse wsdl: %w", err)
	}
	svc := Service{Namespace: defs.TargetNamespace, Actions: map[string]string{}}
	for _, pt := range defs.PortTypes {
		for _, op := range pt.Operations {
			if op.Name != "" {
				svc.Actions[op.Name] = ""
			}
		}
	}
	for _, b := range defs.Bindings {
		for _, op := range b.Operations {
			action := op.SOAP11Op.Action
			if action == "" {
				action = op.SOAP12Op.Action
			}
			if op.Name != "" {
				svc.Actions[op.Name] = action
			}
		}
	}
	for _, s := range defs.Services {
		for _, p := range s.Ports {
			loc := strings.TrimSpace(p.Address11.Location)
			if loc == "" {
				loc = strings.TrimSpace(p.Address12.Location)
			}
			if loc != "" && svc.Endpoint == "" {
				svc.Endpoint = loc
			}
		}
	}
	if svc.Endpoint == "" {
		return Service{}, errors.New("wsdl declares no soap address")
	}
	if base, err := url.Parse(wsdlURL); err == nil {
		if ref, err := url.Parse(svc.Endpoint); err == nil {
			svc.Endpoint = base.ResolveReference(ref).String()
		}
	}
	return svc, nil
}

type envelope struct {
	XMLName xml.Name     `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Body    envelopeBody `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
}

type envelopeBody struct {
	Call call
}

type call struct {
	XMLName xml.Name
	Params  []param
}

type param struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// BuildEnvelope renders a document/literal request for op in namespace ns.
func BuildEnvelope(ns, op string, params []Param) ([]byte, error) {
	c := call{XMLName: xml.Name{Space: ns, Local: op}}
	for _, p := range params {
		c.Params = append(c.Params, param{XMLName: xml.Name{Space: ns, Local: p.Name}, Value: p.Value})
	}
	out, err := xml.Marshal(envelope{Body: envelopeBody{Call: c}})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

type faultEnvelope struct {
	Body struct {
		Fault *struct {
			Code   string `xml:"faultcode"`
			String string `xml:"faultstring"`
			// SOAP 1.2 style reason text.
			Reason string `xml:"Reason>Text"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

// faultString returns the fault message in data, or "" when it carries none.
func faultString(data []byte) (string, bool, error) {
	var env faultEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return "", false, err
	}
	f := env.Body.Fault
	if f == nil {
		return "", false, nil
	}
	msg := strings.TrimSpace(f.String)
	if msg == "" {
		msg = strings.TrimSpace(f.Reason)
	}
	if msg == "" {
		msg = strings.TrimSpace(f.Code)
	}
	if msg == "" {
		msg = "unspecified fault"
	}
	return msg, true, nil
}

// Client invokes operations of one service.
type Client struct {
	Service    Service
	HTTPClient *http.Client
	Timeout    time.Duration
	Metrics    *metrics.Metrics
}

// Options tune client construction.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Metrics    *metrics.Metrics
}

// NewClient fetches the WSDL at wsdlURL and builds a client from it. Every
// failure wraps ErrSetup.
func NewClient(ctx context.Context, wsdlURL string, opts Options) (*Client, error) {
	c := &Client{HTTPClient: opts.HTTPClient, Timeout: opts.Timeout, Metrics: opts.Metrics}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wsdlURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSetup, err)
	}
	start := time.Now()
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		c.Metrics.ObserveError(metrics.UpstreamSOAP, "setup")
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %w: fetch wsdl: %v", ErrSetup, ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: fetch wsdl: %v", ErrSetup, err)
	}
	defer res.Body.Close()
	data, err := readBody(res.Body)
	c.Metrics.ObserveCall(metrics.UpstreamSOAP, http.MethodGet, res.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: read wsdl: %w", ErrSetup, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: fetch wsdl: status %d", ErrSetup, res.StatusCode)
	}
	svc, err := ParseWSDL(data, wsdlURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSetup, err)
	}
	c.Service = svc
	return c, nil
}

// Call invokes op with params and returns the raw response envelope.
func (c *Client) Call(ctx context.Context, op string, params []Param) ([]byte, error) {
	if !c.Service.HasOperation(op) {
		return nil, &InvocationError{Operation: op, Err: errors.New("operation not declared by service")}
	}
	payload, err := BuildEnvelope(c.Service.Namespace, op, params)
	if err != nil {
		return nil, &InvocationError{Operation: op, Err: err}
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Service.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &InvocationError{Operation: op, Err: err}
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"`+c.Service.Actions[op]+`"`)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	start := time.Now()
	res, err := client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			c.Metrics.ObserveError(metrics.UpstreamSOAP, "timeout")
			return nil, &InvocationError{Operation: op, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
		}
		c.Metrics.ObserveError(metrics.UpstreamSOAP, "unreachable")
		return nil, &InvocationError{Operation: op, Err: err}
	}
	defer res.Body.Close()
	data, err := readBody(res.Body)
	c.Metrics.ObserveCall(metrics.UpstreamSOAP, http.MethodPost, res.StatusCode, time.Since(start))
	if err != nil {
		return nil, &InvocationError{Operation: op, StatusCode: res.StatusCode, Err: err}
	}
	fault, isFault, perr := faultString(data)
	if isFault {
		return nil, &InvocationError{Operation: op, StatusCode: res.StatusCode, Fault: fault}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &InvocationError{Operation: op, StatusCode: res.StatusCode}
	}
	if perr != nil {
		return nil, &InvocationError{Operation: op, StatusCode: res.StatusCode, Err: fmt.Errorf("invalid response envelope: %w", perr)}
	}
	return data, nil
}

// readBody reads at most maxBodyBytes and fails instead of truncating.
func readBody(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
