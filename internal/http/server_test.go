package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdko-org/filevault/internal/apperr"
	"github.com/sdko-org/filevault/internal/handlers"
	"github.com/sdko-org/filevault/internal/pipeline"
)

type seen struct {
	Resource string            `json:"resource"`
	Params   map[string]string `json:"params"`
	Query    map[string]string `json:"query"`
	Auth     string            `json:"auth"`
	Body     string            `json:"body"`
	SourceIP string            `json:"sourceIp"`
}

func echo(_ context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return pipeline.OK(seen{
		Resource: req.Resource,
		Params:   req.PathParameters,
		Query:    req.QueryStringParameters,
		Auth:     pipeline.Header(req, "authorization"),
		Body:     req.Body,
		SourceIP: req.RequestContext.Identity.SourceIP,
	}), nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cors := pipeline.DefaultCORSConfig()

	routes := []handlers.Route{
		{Method: http.MethodGet, Path: "/files/{fileId}", Handler: pipeline.Wrap(echo, pipeline.CORS(cors))},
		{Method: http.MethodPost, Path: "/echo", Handler: echo},
		{Method: http.MethodGet, Path: "/binary", Handler: func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			return events.APIGatewayProxyResponse{
				StatusCode:        http.StatusOK,
				Body:              base64.StdEncoding.EncodeToString([]byte{0x00, 0xff, 0x10}),
				IsBase64Encoded:   true,
				MultiValueHeaders: map[string][]string{"X-Multi": {"a", "b"}},
			}, nil
		}},
		{Method: http.MethodGet, Path: "/broken", Handler: func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
			return events.APIGatewayProxyResponse{}, apperr.Conflict("already there")
		}},
	}
	fallback := func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return pipeline.ErrorResponse(apperr.NotFound("Route not found")), nil
	}

	srv := httptest.NewServer(NewRouter(logger, routes, fallback, cors, 16))
	t.Cleanup(srv.Close)
	return srv
}

func decodeSeen(t *testing.T, resp *http.Response) seen {
	t.Helper()
	var body struct {
		Data seen `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Data
}

func TestAdapterTranslatesRequest(t *testing.T) {
	srv := newServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/files/abc?limit=5", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer xyz")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get(pipeline.HeaderAllowOrigin))

	got := decodeSeen(t, resp)
	assert.Equal(t, "/files/{fileId}", got.Resource)
	assert.Equal(t, map[string]string{"fileId": "abc"}, got.Params)
	assert.Equal(t, map[string]string{"limit": "5"}, got.Query)
	assert.Equal(t, "Bearer xyz", got.Auth)
	assert.Equal(t, "127.0.0.1", got.SourceIP)
}

func TestAdapterBody(t *testing.T) {
	srv := newServer(t)

	resp, err := srv.Client().Post(srv.URL+"/echo", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "hello", decodeSeen(t, resp).Body)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/echo", strings.NewReader(strings.Repeat("x", 18)))
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get(pipeline.HeaderAllowOrigin))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "PAYLOAD_TOO_LARGE", body["error"])
}

func TestAdapterWritesBinaryAndMultiValueHeaders(t *testing.T) {
	srv := newServer(t)

	resp, err := srv.Client().Get(srv.URL + "/binary")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, body)
	assert.Equal(t, []string{"a", "b"}, resp.Header.Values("X-Multi"))
}

func TestAdapterRendersReturnedErrors(t *testing.T) {
	srv := newServer(t)

	resp, err := srv.Client().Get(srv.URL + "/broken")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRouterFallbackAndPreflight(t *testing.T) {
	srv := newServer(t)

	resp, err := srv.Client().Get(srv.URL + "/nowhere")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = srv.Client().Post(srv.URL+"/files/abc", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/files/abc", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(pipeline.HeaderAllowMethods))
}

func TestRunStopsOnCancel(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, logger, "127.0.0.1:0", http.NotFoundHandler())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, "Shutting down HTTP server", hook.LastEntry().Message)
}
