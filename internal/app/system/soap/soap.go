// Package soap is a minimal SOAP 1.1 client: it wraps a request element in
// an envelope, posts it, and decodes the first body element of the reply.
// Faults are returned as *Fault.
package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	envelopeNS   = "http://schemas.xmlsoap.org/soap/envelope/"
	maxReplySize = 4 << 20
)

// ErrTransport wraps network errors and unreadable replies.
var ErrTransport = errors.New("soap transport error")

// Fault is a SOAP fault returned by the remote service.
type Fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail string `xml:"detail"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.String)
}

// Client posts SOAP envelopes to one endpoint.
type Client struct {
	Endpoint  string
	Namespace string // bound to the "ns" prefix in requests
	Header    http.Header
	HTTP      *http.Client
}

// New returns a client with its own http.Client bounded by timeout.
func New(endpoint, namespace string, timeout time.Duration) *Client {
	return &Client{
		Endpoint:  endpoint,
		Namespace: namespace,
		Header:    http.Header{},
		HTTP:      &http.Client{Timeout: timeout},
	}
}

type requestEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	SoapNS  string   `xml:"xmlns:soapenv,attr"`
	AppNS   string   `xml:"xmlns:ns,attr,omitempty"`
	Body    struct {
		Content any
	} `xml:"soapenv:Body"`
}

type replyEnvelope struct {
	Body struct {
		Fault *Fault `xml:"Fault"`
		Inner []byte `xml:",innerxml"`
	} `xml:"Body"`
}

// Call sends req (a struct whose XMLName names the operation element) with
// the given SOAPAction and decodes the reply element into resp.
func (c *Client) Call(ctx context.Context, action string, req, resp any) error {
	env := requestEnvelope{SoapNS: envelopeNS, AppNS: c.Namespace}
	env.Body.Content = req

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("encode %s: %w", action, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, &buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("SOAPAction", action)

	res, err := c.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxReplySize))
	if err != nil {
		return fmt.Errorf("%w: read reply: %v", ErrTransport, err)
	}

	var reply replyEnvelope
	if err := xml.Unmarshal(body, &reply); err != nil {
		return fmt.Errorf("%w: status %d: %v", ErrTransport, res.StatusCode, err)
	}
	if reply.Body.Fault != nil {
		return reply.Body.Fault
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrTransport, res.StatusCode)
	}
	if resp == nil {
		return nil
	}
	if err := xml.Unmarshal(reply.Body.Inner, resp); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrTransport, action, err)
	}
	return nil
}

// Field is a named text element, used for opaque structures that are read
// from one reply and echoed in later requests.
type Field struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}
