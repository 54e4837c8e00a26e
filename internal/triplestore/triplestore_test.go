package triplestore

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fairdatastation/internal/apperr"
	"fairdatastation/internal/models"
)

func TestClassifyQuery(t *testing.T) {
	cases := map[string]QueryForm{
		`SELECT * WHERE {?s ?p ?o} LIMIT 1`:                                       FormSelect,
		"PREFIX ex: <http://ex.org/select#>\nask { ?s a ex:Thing }":              FormAsk,
		"PREFIX : <http://ex.org/>\nCONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }":   FormConstruct,
		"BASE <http://ex.org/>\n# INSERT would be bad\nDESCRIBE <thing>":         FormDescribe,
		`INSERT DATA { <http://a> <http://b> "SELECT" }`:                         FormUpdate,
		"PREFIX dc: <http://purl.org/dc/elements/1.1/>\nDELETE WHERE { ?s ?p ?o }": FormUpdate,
		`WITH <http://g> DELETE { ?s ?p ?o } WHERE { ?s ?p ?o }`:                 FormUpdate,
		`DROP ALL`:      FormUpdate,
		``:              FormUnknown,
		`hello world`:   FormUnknown,
		`"SELECT" ?x`:   FormUnknown,
	}
	for q, want := range cases {
		assert.Equal(t, want, ClassifyQuery(q), q)
	}
	assert.True(t, FormDescribe.IsReadOnly())
	assert.False(t, FormUpdate.IsReadOnly())
	assert.False(t, FormUnknown.IsReadOnly())
}

func TestResolveFormats(t *testing.T) {
	names := func(ws []tabularWriter) []string {
		var out []string
		for _, w := range ws {
			out = append(out, w.Name)
		}
		return out
	}
	assert.Equal(t, []string{"SPARQL/JSON"}, names(resolveTabular([]string{"*/*"})))
	assert.Equal(t, []string{"SPARQL/CSV", "SPARQL/JSON"}, names(resolveTabular([]string{"text/csv; charset=utf-8", "*/*", "application/json"})))
	assert.Empty(t, resolveTabular([]string{"image/png"}))

	b := resolveBoolean([]string{"*/*"})
	require.Len(t, b, 1)
	assert.Equal(t, "TEXT", b[0].Name)

	g := resolveGraph([]string{"*/*", "application/n-triples"})
	require.Len(t, g, 2)
	assert.Equal(t, "Turtle", g[0].Name)
	assert.Equal(t, "N-Triples", g[1].Name)
}

func TestTableWriters(t *testing.T) {
	table := Table{
		Vars: []string{"s", "o"},
		Rows: []map[string]Term{
			{"s": {Type: "uri", Value: "http://ex.org/a"}, "o": {Type: "literal", Value: "x,y", Lang: "en"}},
			{"s": {Type: "bnode", Value: "b0"}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeTableJSON(&buf, table))
	var doc struct {
		Head    struct{ Vars []string }
		Results struct{ Bindings []map[string]map[string]string }
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, []string{"s", "o"}, doc.Head.Vars)
	require.Len(t, doc.Results.Bindings, 2)
	assert.Equal(t, "en", doc.Results.Bindings[0]["o"]["xml:lang"])

	buf.Reset()
	require.NoError(t, writeTableCSV(&buf, table))
	assert.Equal(t, "s,o\r\nhttp://ex.org/a,\"x,y\"\r\n_:b0,\r\n", buf.String())

	buf.Reset()
	require.NoError(t, writeTableTSV(&buf, table))
	assert.Equal(t, "?s\t?o\n<http://ex.org/a>\t\"x,y\"@en\n_:b0\t\n", buf.String())

	buf.Reset()
	require.NoError(t, writeTableXML(&buf, table))
	assert.Contains(t, buf.String(), `<binding name="s"><uri>http://ex.org/a</uri></binding>`)
	assert.Contains(t, buf.String(), `<literal xml:lang="en">x,y</literal>`)
}

func TestBooleanWriters(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeBooleanText(&buf, true))
	assert.Equal(t, "true", buf.String())

	buf.Reset()
	require.NoError(t, writeBooleanXML(&buf, false))
	assert.Contains(t, buf.String(), "<boolean>false</boolean>")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "Result", SanitizeFilename("Result"))
	assert.Equal(t, "my_query_result", SanitizeFilename(" my query/result "))
	assert.Equal(t, "result", SanitizeFilename("///"))
}

const selectJSON = `{
  "head": {"vars": ["s", "p", "o"]},
  "results": {"bindings": [
    {"s": {"type": "uri", "value": "http://ex.org/s"},
     "p": {"type": "uri", "value": "http://ex.org/p"},
     "o": {"type": "literal", "value": "42", "datatype": "http://www.w3.org/2001/XMLSchema#integer"}}
  ]}
}`

func sparqlServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "station" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		q := r.FormValue("query")
		switch {
		case strings.HasPrefix(q, "CONSTRUCT"), strings.Contains(r.Header.Get("Accept"), "turtle"):
			w.Header().Set("Content-Type", "text/turtle")
			_, _ = w.Write([]byte("<http://ex.org/s> <http://ex.org/p> \"o\" .\n"))
		case strings.HasPrefix(q, "ASK"):
			w.Header().Set("Content-Type", "application/sparql-results+json")
			_, _ = w.Write([]byte(`{"head": {}, "boolean": true}`))
		case strings.HasPrefix(q, "SELECT"):
			w.Header().Set("Content-Type", "application/sparql-results+json")
			_, _ = w.Write([]byte(selectJSON))
		default:
			http.Error(w, "malformed query", http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestExecutor(t *testing.T, endpoint string) *Executor {
	t.Helper()
	e, err := NewExecutor(Options{Endpoint: endpoint, Username: "station", Password: "secret"})
	require.NoError(t, err)
	return e
}

func TestExecuteSelect(t *testing.T) {
	e := newTestExecutor(t, sparqlServer(t).URL)

	arts, err := e.Execute(context.Background(), "SELECT * WHERE {?s ?p ?o} LIMIT 1", "Result", []string{"*/*", "text/csv"})
	require.NoError(t, err)
	require.Len(t, arts, 2)

	assert.Equal(t, "Result (SPARQL/JSON)", arts[0].DisplayName)
	assert.Equal(t, "Result.srj", arts[0].Filename)
	assert.Equal(t, "application/sparql-results+json", arts[0].ContentType)
	assert.Contains(t, string(arts[0].Data), "http://ex.org/s")

	assert.Equal(t, "Result (SPARQL/CSV)", arts[1].DisplayName)
	assert.Equal(t, "s,p,o\r\nhttp://ex.org/s,http://ex.org/p,42\r\n", string(arts[1].Data))
}

func TestExecuteAsk(t *testing.T) {
	e := newTestExecutor(t, sparqlServer(t).URL)

	arts, err := e.Execute(context.Background(), "ASK { ?s ?p ?o }", "Result", []string{"*/*"})
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, []models.ArtifactContent{{
		DisplayName: "Result (TEXT)",
		Filename:    "Result.txt",
		ContentType: "text/plain",
		Data:        []byte("true"),
	}}, arts)
}

func TestExecuteConstruct(t *testing.T) {
	e := newTestExecutor(t, sparqlServer(t).URL)

	arts, err := e.Execute(context.Background(), "CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }", "Result", []string{"*/*", "application/n-triples"})
	require.NoError(t, err)
	require.Len(t, arts, 2)
	assert.Equal(t, "Result (Turtle)", arts[0].DisplayName)
	assert.Equal(t, "text/turtle", arts[0].ContentType)
	assert.Equal(t, "Result.nt", arts[1].Filename)
	assert.Contains(t, string(arts[1].Data), "<http://ex.org/s> <http://ex.org/p> \"o\"")
}

func TestExecuteEmptyAcceptProducesNothing(t *testing.T) {
	e := newTestExecutor(t, "http://127.0.0.1:1/sparql")
	arts, err := e.Execute(context.Background(), "SELECT * WHERE {?s ?p ?o}", "Result", nil)
	require.NoError(t, err)
	assert.Empty(t, arts)
}

func TestExecuteUnsupportedForm(t *testing.T) {
	e := newTestExecutor(t, sparqlServer(t).URL)
	_, err := e.Execute(context.Background(), "INSERT DATA { <http://a> <http://b> <http://c> }", "Result", []string{"*/*"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStorage)
	assert.Contains(t, err.Error(), "Unsupported query type")
}

func TestExecuteEndpointFailure(t *testing.T) {
	e, err := NewExecutor(Options{Endpoint: sparqlServer(t).URL})
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), "SELECT * WHERE {?s ?p ?o}", "Result", []string{"*/*"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStorage)
}

func TestCredentialsStayOutOfEndpoint(t *testing.T) {
	srv := sparqlServer(t)
	e := newTestExecutor(t, srv.URL)
	assert.Equal(t, srv.URL, e.endpoint)
	assert.NotContains(t, e.endpoint, "secret")

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.User = url.UserPassword("station", "secret")
	e, err = NewExecutor(Options{Endpoint: u.String()})
	require.NoError(t, err)
	assert.Equal(t, srv.URL, e.endpoint)

	ok, err := e.ask(context.Background(), "ASK { ?s ?p ?o }")
	require.NoError(t, err)
	assert.True(t, ok)
	arts, err := e.Execute(context.Background(), "SELECT * WHERE {?s ?p ?o} LIMIT 1", "Result", []string{"*/*"})
	require.NoError(t, err)
	assert.Len(t, arts, 1)
}

func TestNewExecutorRequiresEndpoint(t *testing.T) {
	_, err := NewExecutor(Options{})
	assert.Error(t, err)
}
