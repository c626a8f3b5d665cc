package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/datastreamhq/data-proxy/internal/constants"
	"github.com/datastreamhq/data-proxy/internal/models"
	"github.com/datastreamhq/data-proxy/pkg/httputils"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ProxyService is the public HTTP endpoint. Requests under /data/ are
// reissued against the local forward port and streamed back; /health answers
// locally with the connection summary and an on-demand reachability probe.
type ProxyService struct {
	descriptor models.ConnectionDescriptor
	logger     zerolog.Logger

	forwardClient *http.Client
	probeTimeout  time.Duration

	mu       sync.Mutex
	info     models.ConnectionInfo
	listener net.Listener
	server   *http.Server
}

// NewProxyService initializes a new ProxyService instance. The public and
// forward ports come from the descriptor.
func NewProxyService(descriptor models.ConnectionDescriptor, logger zerolog.Logger) *ProxyService {
	return &ProxyService{
		descriptor: descriptor,
		logger:     logger,
		forwardClient: &http.Client{
			// No overall timeout: large archives stream through and must
			// not be cut off mid-body. The dial timeout bounds how long a
			// dead forward path can stall a request.
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
				ResponseHeaderTimeout: 30 * time.Second,
				DisableCompression:    true,
			},
		},
		probeTimeout: constants.HealthProbeTimeout,
	}
}

// Start binds the public port and begins serving. The resolved connection
// info is what /health reports.
func (s *ProxyService) Start(info models.ConnectionInfo) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.descriptor.PublicPort))
	if err != nil {
		return fmt.Errorf("failed to bind public proxy port %d: %w", s.descriptor.PublicPort, err)
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.PathPrefix("/data/").HandlerFunc(s.handleData).Methods(http.MethodGet, http.MethodHead)

	server := &http.Server{Handler: router}

	s.mu.Lock()
	s.info = info
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Proxy listener stopped unexpectedly")
		}
	}()

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Proxy endpoint listening")
	return nil
}

// Stop shuts the listener down, letting in-flight requests drain until ctx
// expires.
func (s *ProxyService) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	s.logger.Info().Msg("Stopping proxy endpoint")
	return server.Shutdown(ctx)
}

// Addr returns the bound public address, or "" before Start.
func (s *ProxyService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *ProxyService) forwardURL(path, rawQuery string) string {
	u := fmt.Sprintf("http://127.0.0.1:%d/%s", s.descriptor.LocalPort, path)
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// handleData strips the /data/ prefix and replays the request against the
// forward target, streaming the response body straight through.
func (s *ProxyService) handleData(w http.ResponseWriter, r *http.Request) {
	relPath := strings.TrimPrefix(r.URL.EscapedPath(), "/data/")

	req, err := http.NewRequestWithContext(r.Context(), r.Method, s.forwardURL(relPath, r.URL.RawQuery), nil)
	if err != nil {
		s.logger.Error().Err(err).Str("path", relPath).Msg("Failed to build forward request")
		http.Error(w, "bad request path", http.StatusBadRequest)
		return
	}
	httputils.CopyRequestHeaders(req, r)

	resp, err := s.forwardClient.Do(req)
	if err != nil {
		s.logger.Error().Err(fmt.Errorf("%w: %v", ErrForwardUnavailable, err)).
			Str("path", relPath).Msg("Error proxying data request")

		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, "forward path unavailable", status)
		return
	}
	defer resp.Body.Close()

	httputils.CopyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		// The client went away or the tunnel dropped mid-stream; nothing
		// more can be written to this response.
		s.logger.Debug().Err(err).Str("path", relPath).Msg("Data stream interrupted")
	}
}

// handleHealth reports the connection summary and probes the forward path.
// The HTTP status is always 200; degradation shows up in the status field.
func (s *ProxyService) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	info := s.info
	s.mu.Unlock()

	status := models.HealthOK
	if err := s.probeForward(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("Health probe failed")
		status = models.HealthError
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(models.HealthReport{Status: status, Connection: info}); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write health response")
	}
}

// probeForward issues a cheap request through the forward path. Any HTTP
// response, whatever the status code, proves the chain is reachable.
func (s *ProxyService) probeForward(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, s.forwardURL("", ""), nil)
	if err != nil {
		return err
	}
	resp, err := s.forwardClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrForwardUnavailable, err)
	}
	resp.Body.Close()
	return nil
}
