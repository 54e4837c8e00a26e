package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fairdatastation/internal/config"
	"fairdatastation/internal/jobs"
	"fairdatastation/internal/models"
	"fairdatastation/internal/ratelimit"
	"fairdatastation/internal/store"
)

const trainBody = `{"jobUuid":"remote-1","secret":"s3cr3t","trainUri":"http://trains.example/t1",
"callbackEventLocation":"http://track.example/events","callbackArtifactLocation":"http://track.example/artifacts"}`

func newTestServer(t *testing.T, limiter Limiter) (http.Handler, *jobs.Service) {
	t.Helper()
	svc := jobs.NewService(store.NewMemory(), nil)
	cfg := config.Config{PublicURL: "https://station.example"}
	return New(cfg, svc, limiter).Router(), svc
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.RemoteAddr = "192.0.2.10:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func submit(t *testing.T, h http.Handler) jobs.TrainResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/trains", trainBody)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp jobs.TrainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSubmitTrainQueuesJob(t *testing.T) {
	h, svc := newTestServer(t, nil)
	resp := submit(t, h)

	assert.Equal(t, models.StatusQueued, resp.Status)
	assert.Equal(t, "Train queued for processing...", resp.Message)

	job, err := svc.GetJob(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", job.RemoteID)
	assert.Equal(t, models.StatusQueued, job.Status)
}

func TestSubmitTrainRejectsIncompleteBody(t *testing.T) {
	h, _ := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/trains", `{"jobUuid":"x","secret":"y"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusBadRequest, body.Status)
	assert.Contains(t, body.Message, "Missing required fields")

	rec = do(t, h, http.MethodPost, "/trains", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTrainRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h, _ := newTestServer(t, ratelimit.NewTokenBucket(client, 1, 0.001, time.Minute))
	submit(t, h)

	rec := do(t, h, http.MethodPost, "/trains", trainBody)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestReadEndpoints(t *testing.T) {
	h, svc := newTestServer(t, nil)
	first := submit(t, h)
	second := submit(t, h)

	rec := do(t, h, http.MethodGet, "/jobs?page=0&size=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.Page[models.Job]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.TotalElements)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Content, 1)

	job, err := svc.GetJob(context.Background(), first.ID)
	require.NoError(t, err)
	_, err = svc.CreateEvent(context.Background(), job, "Processing: Started", nil)
	require.NoError(t, err)

	rec = do(t, h, http.MethodGet, "/jobs/"+first.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Len(t, detail.Events, 1)
	assert.Equal(t, "Processing: Started", detail.Events[0].Message)

	rec = do(t, h, http.MethodGet, "/jobs/"+second.ID.String()+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/jobs/"+second.ID.String()+"/artifacts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestUnknownIDsAreNotFound(t *testing.T) {
	h, _ := newTestServer(t, nil)

	for _, path := range []string{
		"/jobs/" + uuid.NewString(),
		"/jobs/not-a-uuid",
		"/jobs/" + uuid.NewString() + "/events",
		"/jobs/" + uuid.NewString() + "/artifacts",
	} {
		rec := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		var body errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, http.StatusNotFound, body.Status)
		assert.Contains(t, body.Message, "not found")
	}
}

func TestDownloadArtifact(t *testing.T) {
	h, svc := newTestServer(t, nil)
	owner := submit(t, h)
	other := submit(t, h)

	job, err := svc.GetJob(context.Background(), owner.ID)
	require.NoError(t, err)
	a, err := svc.CreateArtifact(context.Background(), job, models.ArtifactContent{
		DisplayName: "Result (SPARQL/CSV)",
		Filename:    "Result.csv",
		ContentType: "text/csv",
		Data:        []byte("s,p,o\r\n"),
	})
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/jobs/"+owner.ID.String()+"/artifacts/"+a.ID.String()+"/download", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, "7", rec.Header().Get("Content-Length"))
	assert.Equal(t, "attachment;filename=Result.csv", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "s,p,o\r\n", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/jobs/"+other.ID.String()+"/artifacts/"+a.ID.String()+"/download", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInfoAndHealth(t *testing.T) {
	h, _ := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"trainEndpoint":"https://station.example/trains","jobsEndpoint":"https://station.example/jobs"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/trains", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	assert.Equal(t, "198.51.100.7", clientFromRequest(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", clientFromRequest(req))
}
