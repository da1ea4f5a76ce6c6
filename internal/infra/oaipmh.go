package infra

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	specs "github.com/chrisconley/rhizome/specs"
	"go.uber.org/zap"
)

var (
	// ErrRemoteRejected is wrapped by RemoteRejectedError.
	ErrRemoteRejected = errors.New("remote rejected request")
	// ErrTransportFailure is wrapped by TransportError.
	ErrTransportFailure = errors.New("transport failure")
	// ErrMalformedPage reports a response body that is not well-formed XML.
	ErrMalformedPage = errors.New("malformed page")
)

// RemoteRejectedError is a protocol-level <error> element in a response. It
// points at a malformed query, so it is never retried.
type RemoteRejectedError struct {
	Code    string
	Message string
}

func (e *RemoteRejectedError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", ErrRemoteRejected, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrRemoteRejected, e.Code, e.Message)
}

func (e *RemoteRejectedError) Unwrap() error { return ErrRemoteRejected }

// TransportError is a network fault or a non-success HTTP status.
type TransportError struct {
	StatusCode int
	Status     string
	Err        error
	retryable  bool
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", ErrTransportFailure, e.Err)
	}
	return fmt.Sprintf("%s: status %s", ErrTransportFailure, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	return target == ErrTransportFailure || (target == ErrRetry && e.retryable)
}

// Page is one ListRecords response.
type Page struct {
	Raw []byte

	// Empty when the archive has no more records.
	ResumptionToken string

	// Number of <record> elements on the page.
	Records int
}

func (p Page) Last() bool {
	return p.ResumptionToken == ""
}

type ClientOptions struct {
	BaseURL        string
	MetadataPrefix string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// Client issues ListRecords requests against an OAI-PMH endpoint.
type Client struct {
	base     *url.URL
	prefix   string
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	http     *http.Client
	logger   *zap.Logger
	requests atomic.Int64
}

func NewClient(opts ClientOptions) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL: %q is not absolute", opts.BaseURL)
	}
	if opts.MetadataPrefix == "" {
		return nil, fmt.Errorf("metadata prefix is required")
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative")
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		base:    base,
		prefix:  opts.MetadataPrefix,
		timeout: opts.Timeout,
		retries: opts.MaxRetries,
		backoff: opts.InitialBackoff,
		http:    hc,
		logger:  logger,
	}, nil
}

// Requests returns the number of HTTP requests issued so far.
func (c *Client) Requests() int {
	return int(c.requests.Load())
}

// ListRecords fetches one page. An empty resumptionToken requests the first
// page with the metadata prefix; otherwise only the token is sent.
func (c *Client) ListRecords(ctx context.Context, resumptionToken string) (Page, error) {
	target := c.requestURL(resumptionToken)
	onRetry := func(attempt int, err error) {
		c.logger.Warn("retrying page request",
			zap.Int("attempt", attempt),
			zap.String("url", target),
			zap.Error(err))
	}
	return Bounded(ctx, c.retries, ExponentialBackoff(c.backoff, 2), onRetry, func() (Page, error) {
		return c.fetch(ctx, target)
	})
}

func (c *Client) requestURL(resumptionToken string) string {
	u := *c.base
	q := u.Query()
	q.Set("verb", "ListRecords")
	if resumptionToken == "" {
		q.Set("metadataPrefix", c.prefix)
	} else {
		q.Set("resumptionToken", resumptionToken)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) fetch(ctx context.Context, target string) (Page, error) {
	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return Page{}, fmt.Errorf("failed to create request: %w", err)
	}

	c.requests.Add(1)
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, &TransportError{Err: err, retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Page{}, &TransportError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, &TransportError{Err: err, retryable: true}
	}

	return ScanPage(body)
}

// ScanPage checks a response for a protocol error and reads its resumption
// token and record count without flattening any record.
func ScanPage(raw []byte) (Page, error) {
	page := Page{Raw: raw}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var parent []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Page{}, fmt.Errorf("%w: %v", ErrMalformedPage, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "error":
				return Page{}, decodeProtocolError(dec, t)
			case "resumptionToken":
				var token string
				if err := dec.DecodeElement(&token, &t); err != nil {
					return Page{}, fmt.Errorf("%w: %v", ErrMalformedPage, err)
				}
				page.ResumptionToken = strings.TrimSpace(token)
				continue
			case "record":
				if len(parent) > 0 && parent[len(parent)-1] == "ListRecords" {
					page.Records++
					if err := dec.Skip(); err != nil {
						return Page{}, fmt.Errorf("%w: %v", ErrMalformedPage, err)
					}
					continue
				}
			}
			parent = append(parent, t.Name.Local)
		case xml.EndElement:
			if len(parent) > 0 {
				parent = parent[:len(parent)-1]
			}
		}
	}
	return page, nil
}

// DecodeRecords flattens every record on a page.
func DecodeRecords(raw []byte) ([]specs.RecordSpec, error) {
	var records []specs.RecordSpec
	err := EachRecord(raw, func(element []byte) error {
		record, err := FlattenRecord(element)
		if err != nil {
			return fmt.Errorf("record %d: %w", len(records), err)
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// EachRecord calls fn with the raw bytes of every <record> element on a page,
// in document order. A protocol error element fails the whole page.
func EachRecord(raw []byte, fn func(element []byte) error) error {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var parent []string
	for {
		start := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPage, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "error" {
				return decodeProtocolError(dec, t)
			}
			if t.Name.Local == "record" && len(parent) > 0 && parent[len(parent)-1] == "ListRecords" {
				if err := dec.Skip(); err != nil {
					return fmt.Errorf("%w: %v", ErrMalformedPage, err)
				}
				if err := fn(raw[start:dec.InputOffset()]); err != nil {
					return err
				}
				continue
			}
			parent = append(parent, t.Name.Local)
		case xml.EndElement:
			if len(parent) > 0 {
				parent = parent[:len(parent)-1]
			}
		}
	}
}

// FlattenRecord implements specs.Normalize for one <record> element.
//
// Header children become "header_identifier", "datestamp" and "setSpec"; a
// deleted header sets "status". Every leaf element under the metadata
// container becomes a field named after the element's local name.
func FlattenRecord(raw []byte) (specs.RecordSpec, error) {
	fields := specs.RecordSpec{}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var stack []string
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPage, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 && t.Name.Local != "record" {
				return nil, fmt.Errorf("%w: expected <record>, got <%s>", ErrMalformedPage, t.Name.Local)
			}
			if t.Name.Local == "header" {
				for _, attr := range t.Attr {
					if attr.Name.Local == "status" {
						fields["status"] = []string{attr.Value}
					}
				}
			}
			stack = append(stack, t.Name.Local)
			text.Reset()
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			value := strings.TrimSpace(text.String())
			text.Reset()
			if value != "" && len(stack) >= 3 {
				name := stack[len(stack)-1]
				switch stack[1] {
				case "header":
					switch name {
					case "identifier":
						fields["header_identifier"] = append(fields["header_identifier"], value)
					case "datestamp", "setSpec":
						fields[name] = append(fields[name], value)
					}
				case "metadata":
					if len(stack) >= 4 {
						fields[name] = append(fields[name], value)
					}
				}
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: unterminated record", ErrMalformedPage)
	}
	return fields, nil
}

func decodeProtocolError(dec *xml.Decoder, start xml.StartElement) error {
	var e struct {
		Code    string `xml:"code,attr"`
		Message string `xml:",chardata"`
	}
	if err := dec.DecodeElement(&e, &start); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPage, err)
	}
	return &RemoteRejectedError{Code: e.Code, Message: strings.TrimSpace(e.Message)}
}
