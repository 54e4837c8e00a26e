// Package triplestore runs read-only SPARQL queries against the station's
// triple store and serializes the results into artifacts.
package triplestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/knakk/sparql"

	"fairdatastation/internal/apperr"
	"fairdatastation/internal/metadata"
	"fairdatastation/internal/models"
)

// Options configures the SPARQL protocol endpoint.
type Options struct {
	Endpoint string
	Username string
	Password string
	Timeout  time.Duration
}

// Executor evaluates queries through the SPARQL 1.1 protocol.
type Executor struct {
	repo       *sparql.Repo
	endpoint   string
	username   string
	password   string
	httpClient *http.Client
}

func NewExecutor(opts Options) (*Executor, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("triple store endpoint is not configured")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse triple store endpoint: %w", err)
	}
	// Credentials in the URL move to the auth option so the endpoint can be
	// logged as is.
	if u.User != nil {
		if opts.Username == "" {
			opts.Username = u.User.Username()
			opts.Password, _ = u.User.Password()
		}
		u.User = nil
	}
	endpoint := u.String()

	repoOpts := []func(*sparql.Repo) error{sparql.Timeout(opts.Timeout)}
	if opts.Username != "" {
		repoOpts = append(repoOpts, sparql.BasicAuth(opts.Username, opts.Password))
	}
	repo, err := sparql.NewRepo(endpoint, repoOpts...)
	if err != nil {
		return nil, fmt.Errorf("open sparql repository: %w", err)
	}
	return &Executor{
		repo:       repo,
		endpoint:   endpoint,
		username:   opts.Username,
		password:   opts.Password,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// Execute evaluates query once and writes the result once for every format
// selected by accept. Each written result becomes one artifact named after label.
func (e *Executor) Execute(ctx context.Context, query, label string, accept []string) ([]models.ArtifactContent, error) {
	if len(accept) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	form := ClassifyQuery(query)
	log.Printf("triplestore: evaluating form=%s accept=%v", form, accept)

	var out []models.ArtifactContent
	switch form {
	case FormSelect:
		res, err := e.repo.Query(query)
		if err != nil {
			return nil, apperr.Storage(err, "%v", err)
		}
		table := tableFromResults(res)
		for _, w := range resolveTabular(accept) {
			a, err := render(label, w.Format, func(buf io.Writer) error { return w.write(buf, table) })
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
	case FormAsk:
		v, err := e.ask(ctx, query)
		if err != nil {
			return nil, apperr.Storage(err, "%v", err)
		}
		for _, w := range resolveBoolean(accept) {
			a, err := render(label, w.Format, func(buf io.Writer) error { return w.write(buf, v) })
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
	case FormConstruct, FormDescribe:
		triples, err := e.repo.Construct(query)
		if err != nil {
			return nil, apperr.Storage(err, "%v", err)
		}
		for _, w := range resolveGraph(accept) {
			a, err := render(label, w.Format, func(buf io.Writer) error { return w.write(buf, triples) })
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
	default:
		return nil, apperr.Storage(nil, "Unsupported query type (%s)", describeForm(form))
	}
	log.Printf("triplestore: produced %d result(s) form=%s", len(out), form)
	return out, nil
}

func describeForm(f QueryForm) string {
	if f == FormUnknown {
		return "unknown"
	}
	return strings.ToLower(string(f))
}

func render(label string, f Format, write func(io.Writer) error) (models.ArtifactContent, error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return models.ArtifactContent{}, apperr.Storage(err, "Failed to write %s result: %v", f.Name, err)
	}
	return models.ArtifactContent{
		DisplayName: fmt.Sprintf("%s (%s)", label, f.Name),
		Filename:    fmt.Sprintf("%s.%s", SanitizeFilename(label), f.Extension),
		ContentType: f.MIMEType,
		Data:        buf.Bytes(),
	}, nil
}

// ask posts an ASK query and decodes the boolean result document.
func (e *Executor) ask(ctx context.Context, query string) (bool, error) {
	form := url.Values{}
	form.Set("query", query)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", formatSPARQLJSON.MIMEType)
	if e.username != "" {
		req.SetBasicAuth(e.username, e.password)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("sparql endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc struct {
		Boolean *bool `json:"boolean"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return false, fmt.Errorf("decode ask result: %w", err)
	}
	if doc.Boolean == nil {
		return false, fmt.Errorf("ask result without boolean")
	}
	return *doc.Boolean, nil
}

func tableFromResults(res *sparql.Results) Table {
	t := Table{Vars: res.Head.Vars}
	for _, b := range res.Results.Bindings {
		row := make(map[string]Term, len(b))
		for name, v := range b {
			typ := v.Type
			if typ == "typed-literal" {
				typ = "literal"
			}
			datatype := v.DataType
			if datatype == metadata.NamespaceXSD+"string" && typ == "literal" {
				datatype = ""
			}
			row[name] = Term{Type: typ, Value: v.Value, Lang: v.Lang, Datatype: datatype}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename turns a display label into a portable file name stem.
func SanitizeFilename(name string) string {
	s := strings.Trim(unsafeFilenameChars.ReplaceAllString(strings.TrimSpace(name), "_"), "._")
	if s == "" {
		return "result"
	}
	return s
}
