package httpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sdko-org/filevault/internal/apperr"
	"github.com/sdko-org/filevault/internal/handlers"
	"github.com/sdko-org/filevault/internal/pipeline"
)

const (
	readTimeout     = 30 * time.Second
	writeTimeout    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// NewRouter mounts every route on a mux router. Each path also answers
// OPTIONS through its own chain so preflights get the route's CORS headers.
// Unmatched requests go to fallback.
func NewRouter(logger *logrus.Logger, routes []handlers.Route, fallback pipeline.Handler, cors *pipeline.CORSConfig, maxBodyBytes int64) *mux.Router {
	r := mux.NewRouter()
	log := logger.WithField("component", "http")
	reject := pipeline.Standard(pipeline.DefaultPresetConfig(), pipeline.PresetDeps{Logger: logger, CORS: cors})

	preflight := map[string]bool{}
	for _, route := range routes {
		h := Adapt(log, route.Handler, reject, maxBodyBytes)
		r.Handle(route.Path, h).Methods(route.Method)
		if !preflight[route.Path] {
			preflight[route.Path] = true
			r.Handle(route.Path, h).Methods(http.MethodOptions)
		}
	}

	notFound := Adapt(log, fallback, reject, maxBodyBytes)
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = notFound
	return r
}

// Adapt serves h over net/http by translating each request into an API
// Gateway proxy event and writing the returned response back. Requests that
// cannot be translated are answered through reject instead of h.
func Adapt(log *logrus.Entry, h pipeline.Handler, reject pipeline.Middleware, maxBodyBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := toEvent(r, maxBodyBytes)
		handler := h
		if err != nil {
			handler = pipeline.Wrap(failWith(err), reject)
		}

		resp, err := handler(r.Context(), req)
		if err != nil {
			log.WithError(err).Error("Handler returned an error past the pipeline")
			resp = pipeline.ErrorResponse(err)
		}
		writeResponse(w, log, resp)
	})
}

func failWith(err error) pipeline.Handler {
	return func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return events.APIGatewayProxyResponse{}, err
	}
}

func toEvent(r *http.Request, maxBodyBytes int64) (events.APIGatewayProxyRequest, error) {
	req := events.APIGatewayProxyRequest{
		HTTPMethod:                      r.Method,
		Path:                            r.URL.Path,
		Headers:                         make(map[string]string, len(r.Header)),
		MultiValueHeaders:               make(map[string][]string, len(r.Header)),
		QueryStringParameters:           map[string]string{},
		MultiValueQueryStringParameters: map[string][]string{},
		PathParameters:                  mux.Vars(r),
	}
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			req.Resource = tpl
		}
	}

	for name, values := range r.Header {
		if len(values) == 0 {
			continue
		}
		req.Headers[name] = values[0]
		req.MultiValueHeaders[name] = values
	}
	if r.Host != "" {
		req.Headers["Host"] = r.Host
	}
	for name, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		req.QueryStringParameters[name] = values[0]
		req.MultiValueQueryStringParameters[name] = values
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	req.RequestContext = events.APIGatewayProxyRequestContext{
		HTTPMethod: r.Method,
		Path:       r.URL.Path,
		Identity: events.APIGatewayRequestIdentity{
			SourceIP:  ip,
			UserAgent: r.UserAgent(),
		},
	}

	if r.Body == nil {
		return req, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return req, apperr.InvalidRequest("Failed to read request body")
	}
	if int64(len(body)) > maxBodyBytes {
		return req, apperr.PayloadTooLarge(fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes))
	}
	req.Body = string(body)
	return req, nil
}

func writeResponse(w http.ResponseWriter, log *logrus.Entry, resp events.APIGatewayProxyResponse) {
	header := w.Header()
	for name, value := range resp.Headers {
		header.Set(name, value)
	}
	for name, values := range resp.MultiValueHeaders {
		header.Del(name)
		for _, v := range values {
			header.Add(name, v)
		}
	}

	body := []byte(resp.Body)
	if resp.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(resp.Body)
		if err != nil {
			log.WithError(err).Error("Response body is not valid base64")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body = decoded
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.WithError(err).Debug("Failed to write response body")
	}
}

// Run serves handler on addr until ctx is cancelled, then shuts down
// gracefully.
func Run(ctx context.Context, logger *logrus.Logger, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("Shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
