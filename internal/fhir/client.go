// Package fhir relays the single API call described by a FHIR train to the
// station's FHIR server.
package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fairdatastation/internal/apperr"
	"fairdatastation/internal/models"
)

const maxResponseBytes = 32 * 1024 * 1024

// Parameter is one query parameter of a request envelope.
type Parameter struct {
	Name        string  `json:"name"`
	Value       *string `json:"value"`
	IsMandatory bool    `json:"isMandatory"`
}

// Request is the API call described by a train payload.
type Request struct {
	Method     string            `json:"method"`
	Resource   string            `json:"resource"`
	Parameters []Parameter       `json:"parameters"`
	Headers    map[string]string `json:"headers"`
	Body       json.RawMessage   `json:"body"`
}

type envelope struct {
	APIRequest *Request `json:"apiRequest"`
}

// PreparedRequest is a Request resolved against the configured base URL.
type PreparedRequest struct {
	Method  string
	URI     string
	Headers map[string]string
	Body    []byte
}

// Response is what the FHIR server answered.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

func (r Response) Successful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client talks to one FHIR server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// Ready reports whether a FHIR server is configured.
func (c *Client) Ready() bool {
	return c != nil && c.baseURL != ""
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodHead:   true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Parse reads an {"apiRequest": {...}} envelope.
func (c *Client) Parse(payload string) (PreparedRequest, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return PreparedRequest{}, apperr.Validation(err, "Failed to parse FHIR request")
	}
	if env.APIRequest == nil {
		return PreparedRequest{}, apperr.Validation(nil, "Failed to parse FHIR request")
	}
	req := *env.APIRequest

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	uri, err := c.ComposeURI(req)
	if err != nil {
		return PreparedRequest{}, apperr.Validation(err, "Failed to parse FHIR request")
	}
	body, err := requestBody(req.Body)
	if err != nil {
		return PreparedRequest{}, apperr.Validation(err, "Failed to parse FHIR request")
	}
	return PreparedRequest{Method: method, URI: uri, Headers: req.Headers, Body: body}, nil
}

// Validate rejects requests the client refuses to send.
func Validate(r PreparedRequest) error {
	if !allowedMethods[r.Method] || r.URI == "" {
		return apperr.Validation(nil, "Invalid FHIR request")
	}
	return nil
}

// requestBody accepts the body either as a JSON string or as an inline
// JSON document.
func requestBody(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return []byte(s), nil
	}
	return trimmed, nil
}

// ComposeURI joins the base URL with the resource path and appends every
// mandatory or non-empty parameter, followed by the pretty and JSON format flags.
func (c *Client) ComposeURI(r Request) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid FHIR base url %q", c.baseURL)
	}
	resource := strings.TrimLeft(r.Resource, "/")
	if resource != "" {
		base.Path = strings.TrimRight(base.Path, "/") + "/" + resource
	}

	var query []string
	if base.RawQuery != "" {
		query = append(query, base.RawQuery)
	}
	for _, p := range r.Parameters {
		if p.Name == "" {
			continue
		}
		value := ""
		if p.Value != nil {
			value = *p.Value
		}
		if !p.IsMandatory && value == "" {
			continue
		}
		query = append(query, url.QueryEscape(p.Name)+"="+url.QueryEscape(value))
	}
	query = append(query, "_pretty=true", "_format=json")
	base.RawQuery = strings.Join(query, "&")
	return base.String(), nil
}

// Send performs the request. Any HTTP answer, whatever its status, is a
// Response; only transport failures are errors.
func (c *Client) Send(ctx context.Context, r PreparedRequest) (Response, error) {
	log.Printf("fhir: sending %s request uri=%s", r.Method, r.URI)
	var body io.Reader
	if len(r.Body) > 0 && r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URI, body)
	if err != nil {
		return Response{}, apperr.Execution(err, "Failed to communicate with FHIR API (%v)", err)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/fhir+json")
	req.Header.Set("Accept-Charset", "utf-8")
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/fhir+json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("fhir: request failed uri=%s err=%v", r.URI, err)
		return Response{}, apperr.Execution(err, "Failed to communicate with FHIR API (%v)", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, apperr.Execution(err, "Failed to communicate with FHIR API (%v)", err)
	}
	log.Printf("fhir: response received uri=%s status=%d bytes=%d", r.URI, resp.StatusCode, len(data))
	return Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

// Artifacts converts a response into at most one artifact: the body of a
// successful answer, or the body of an error answer when there is one.
func Artifacts(r Response) []models.ArtifactContent {
	contentType := r.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	if r.Successful() {
		return []models.ArtifactContent{{
			DisplayName: "FHIR Response",
			Filename:    "fhir-response.json",
			ContentType: contentType,
			Data:        r.Body,
		}}
	}
	if len(bytes.TrimSpace(r.Body)) > 0 {
		return []models.ArtifactContent{{
			DisplayName: "FHIR Error",
			Filename:    "fhir-error.json",
			ContentType: contentType,
			Data:        r.Body,
		}}
	}
	return nil
}
