package server

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/originserve/originserve/fastcgi"
	"github.com/originserve/originserve/hostconfig"
	"github.com/originserve/originserve/httpstream"
	"github.com/originserve/originserve/request"
	"github.com/originserve/originserve/response"
)

// handleLocalRequest drives the full single-host request lifecycle: parse
// already happened (stream is open), so this resolves the local file, maybe
// short-circuits on a cached entry, builds the response, and writes it back.
// Exactly one of these runs per accepted connection that isn't proxied.
func (s *Server) handleLocalRequest(stream *httpstream.HttpStream, peerAddr net.Addr, host hostconfig.HostConfig, logger *zap.Logger) {
	id := uuid.New().String()

	req, err := request.New(stream, peerAddr, host.Dir)
	if err != nil {
		logger.Error("resolving request path", zap.String("id", id), zap.Error(err))
		return
	}
	logger.Info("request received",
		zap.String("id", id), zap.String("method", req.Method()), zap.String("path", req.QueryPath()))

	c := s.cacheFor(host.Domain)
	if f, found, err := c.TryServe(req.Path(), req.QueryPath()); err == nil && found {
		defer f.Close()
		if writeErr := copyRaw(stream, f); writeErr != nil {
			logger.Error("serving cached entry", zap.String("id", id), zap.Error(writeErr))
			return
		}
		s.metrics.CacheHitsTotal.Inc()
		s.metrics.RequestsTotal.WithLabelValues(host.Domain, "200").Inc()
		logger.Info("request served from cache", zap.String("id", id))
		return
	} else if c.Qualifies(req.Path()) {
		s.metrics.CacheMissesTotal.Inc()
	}

	res, err := s.createResponse(req, host)
	if err != nil {
		logger.Error("building response", zap.String("id", id), zap.Error(err))
		s.metrics.RequestsTotal.WithLabelValues(host.Domain, "500").Inc()
		return
	}
	defer res.Close()

	if err := req.OutputResponse(res, c); err != nil {
		logger.Error("writing response", zap.String("id", id), zap.Error(err))
		return
	}
	s.metrics.RequestsTotal.WithLabelValues(host.Domain, fmt.Sprintf("%d", res.Status())).Inc()
	logger.Info("request succeeded",
		zap.String("id", id), zap.Int("status", res.Status()), zap.String("size", responseSize(res)))
}

// responseSize renders the response's Content-Length header (if any) in
// human-readable form for log lines.
func responseSize(res *response.Response) string {
	cl, ok := res.Header("Content-Length")
	if !ok {
		return "unknown"
	}
	var n uint64
	if _, err := fmt.Sscanf(cl, "%d", &n); err != nil {
		return "unknown"
	}
	return humanize.Bytes(n)
}

// copyRaw streams a cached entry's raw bytes directly to the client: the
// file already holds a fully serialized response (status line, headers, and
// body), so it's written verbatim rather than re-wrapped in a Response.
func copyRaw(stream *httpstream.HttpStream, f *os.File) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if werr := stream.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			return nil
		}
	}
}

// createResponse implements the routing decision: an existing regular file
// wins outright (dispatched to FastCGI first if it's a .php file); failing
// that, a configured PHP index file is tried as a fallback; failing that, a
// directory listing if browsing is enabled; otherwise 404. This order
// matches the host's own dispatch rule exactly.
func (s *Server) createResponse(req *request.Request, host hostconfig.HostConfig) (*response.Response, error) {
	if info, err := os.Stat(req.FilePath()); err == nil && info.Mode().IsRegular() {
		return s.fileResponse(req, host)
	}

	if host.PHPIndex != nil {
		indexPath := filepath.Join(host.Dir, *host.PHPIndex)
		if info, err := os.Stat(indexPath); err == nil && info.Mode().IsRegular() {
			req.Rewrite(indexPath)
			return s.fileResponse(req, host)
		}
	}

	if host.Browsing {
		if info, err := os.Stat(req.FilePath()); err == nil && info.IsDir() {
			return response.NewDirectory(req.FilePath(), req.QueryPath(), host.Domain)
		}
	}

	return response.NewNotFound(req.QueryPath()), nil
}

// fileResponse dispatches .php files to FastCGI and serves everything else
// as a static file.
func (s *Server) fileResponse(req *request.Request, host hostconfig.HostConfig) (*response.Response, error) {
	if strings.EqualFold(filepath.Ext(req.FilePath()), ".php") {
		return s.phpResponse(req, host)
	}
	return response.NewFile(req.FilePath())
}

func (s *Server) phpResponse(req *request.Request, host hostconfig.HostConfig) (*response.Response, error) {
	target := resolvePHPTarget(host)
	if !target.ok {
		// PHP isn't configured for this host: fall back to serving the
		// script's raw source as text/plain, without a Content-Length.
		f, err := os.Open(req.FilePath())
		if err != nil {
			return nil, fmt.Errorf("server: opening php source: %w", err)
		}
		return response.NewRaw(200, []response.Header{
			{Name: "Content-Type", Value: "text/plain"},
			{Name: "Connection", Value: "close"},
		}, f), nil
	}

	client, err := fastcgi.Dial(target.network, target.address, host.Port, host.Domain)
	if err != nil {
		s.metrics.FastCGIErrorsTotal.Inc()
		return nil, fmt.Errorf("server: dialing fastcgi responder: %w", err)
	}

	fcgiResp, err := client.Handle(req)
	if err != nil {
		client.Close()
		s.metrics.FastCGIErrorsTotal.Inc()
		return nil, fmt.Errorf("server: fastcgi request: %w", err)
	}

	status, err := fcgiResp.Status()
	if err != nil {
		client.Close()
		s.metrics.FastCGIErrorsTotal.Inc()
		return nil, fmt.Errorf("server: reading fastcgi status: %w", err)
	}
	headerMap, err := fcgiResp.Headers()
	if err != nil {
		client.Close()
		s.metrics.FastCGIErrorsTotal.Inc()
		return nil, fmt.Errorf("server: reading fastcgi headers: %w", err)
	}

	headers := make([]response.Header, 0, len(headerMap))
	for name, value := range headerMap {
		headers = append(headers, response.Header{Name: name, Value: value})
	}

	return response.NewFastCGI(status, headers, &fastcgiBodyCloser{Response: fcgiResp, client: client}), nil
}

// fastcgiBodyCloser closes the underlying connection once the response body
// has been fully consumed by the caller.
type fastcgiBodyCloser struct {
	*fastcgi.Response
	client *fastcgi.Client
}

func (c *fastcgiBodyCloser) Close() error { return c.client.Close() }
