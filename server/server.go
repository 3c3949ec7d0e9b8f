// Package server ties the request, response, fastcgi, cache, dispatch, and
// tlshost packages together into a running listener: one shared port per
// Server, multiple virtual hosts resolved by the inbound Host header, each
// either served locally or reverse-proxied to a load-balanced upstream set.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/originserve/originserve/cache"
	"github.com/originserve/originserve/dispatch"
	"github.com/originserve/originserve/hostconfig"
	"github.com/originserve/originserve/httpstream"
	"github.com/originserve/originserve/logging"
	"github.com/originserve/originserve/metrics"
	"github.com/originserve/originserve/tlshost"
)

// Server serves every virtual host sharing one TCP port: each connection is
// routed to a host by its Host header, then either handled locally or
// reverse-proxied, depending on that host's configuration.
type Server struct {
	hosts    []hostconfig.HostConfig
	byDomain map[string]hostconfig.HostConfig
	loggers  map[string]*zap.Logger
	caches   map[string]*cache.Cache
	dispatch map[string]*dispatch.Dispatcher
	resolver *tlshost.Resolver

	port   uint16
	useTLS bool

	logger  *zap.Logger
	metrics *metrics.Registry
}

// New builds a Server over hosts, which must all share one Port and one
// TLSEnabled setting — a single listener answers on exactly one port, so a
// mismatch across hosts is a configuration error.
func New(hosts []hostconfig.HostConfig, metricsReg *metrics.Registry, baseLogger *zap.Logger) (*Server, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("server: no hosts configured")
	}

	port := hosts[0].Port
	useTLS := hosts[0].TLSEnabled
	for _, h := range hosts[1:] {
		if h.Port != port {
			return nil, fmt.Errorf("server: host %s port %d does not match %d", h.Domain, h.Port, port)
		}
		if h.TLSEnabled != useTLS {
			return nil, fmt.Errorf("server: host %s TLS setting does not match the rest of the listener", h.Domain)
		}
	}

	s := &Server{
		hosts:    hosts,
		byDomain: make(map[string]hostconfig.HostConfig, len(hosts)),
		loggers:  make(map[string]*zap.Logger, len(hosts)),
		caches:   make(map[string]*cache.Cache, len(hosts)),
		dispatch: make(map[string]*dispatch.Dispatcher, len(hosts)),
		port:     port,
		useTLS:   useTLS,
		logger:   baseLogger,
		metrics:  metricsReg,
	}

	if useTLS {
		s.resolver = tlshost.NewResolver()
	}

	for _, h := range hosts {
		s.byDomain[h.Domain] = h
		s.caches[h.Domain] = &cache.Cache{Enabled: h.CacheEnabled, Dir: h.CacheDir, Patterns: h.CachePatterns}
		s.dispatch[h.Domain] = dispatch.New(h.LoadBalancingServers)

		hostLogger := baseLogger
		if h.LogsEnabled {
			built, err := logging.Build(logging.SinkFor(h.LogsDir), logging.ParseLevel(h.LogsMinLevel))
			if err != nil {
				return nil, fmt.Errorf("server: building logger for %s: %w", h.Domain, err)
			}
			hostLogger = built
		}
		s.loggers[h.Domain] = hostLogger.With(zap.String("host", h.Domain))

		if useTLS {
			if err := s.resolver.Add(h.Domain, h.TLSCertFile, h.TLSPrivateKey); err != nil {
				return nil, err
			}
		}
	}

	return s, nil
}

func (s *Server) cacheFor(domain string) *cache.Cache {
	if c, ok := s.caches[domain]; ok {
		return c
	}
	return &cache.Cache{}
}

func (s *Server) loggerFor(domain string) *zap.Logger {
	if l, ok := s.loggers[domain]; ok {
		return l
	}
	return s.logger
}

// resolveHost matches the request's Host header against the configured
// virtual hosts. With exactly one host configured, that host always
// answers, Host header or not. With more than one, the header is required
// and must match a configured domain exactly (case-sensitive on the value,
// case-insensitive only on the header name itself, which is stored with its
// original case and compared case-insensitively here).
func (s *Server) resolveHost(headers map[string]string) (hostconfig.HostConfig, error) {
	if len(s.hosts) == 1 {
		return s.hosts[0], nil
	}

	var hostHeader string
	for name, value := range headers {
		if strings.EqualFold(name, "host") {
			hostHeader = value
			break
		}
	}
	if hostHeader == "" {
		return hostconfig.HostConfig{}, fmt.Errorf("server: no Host header on a multi-host listener")
	}
	if h, ok := s.byDomain[hostHeader]; ok {
		return h, nil
	}
	return hostconfig.HostConfig{}, fmt.Errorf("server: no configured host matches %q", hostHeader)
}

// ListenAndServe binds the listener's shared port (wrapped in TLS if any
// host enables it) and runs the accept loop until ctx is canceled. Each
// accepted connection is handled in its own goroutine, unjoined: a stuck or
// slow connection never blocks accepting the next one, and the server does
// not wait for in-flight connections to drain on shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", addr, err)
	}
	if s.useTLS {
		ln = tls.NewListener(ln, &tls.Config{GetCertificate: s.resolver.GetCertificate})
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("server: accept on %s: %w", addr, err)
			}
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	stream, err := httpstream.Open(conn)
	if err != nil {
		return
	}

	host, err := s.resolveHost(stream.Headers())
	if err != nil {
		s.logger.Error("resolving virtual host", zap.Error(err))
		return
	}

	logger := s.loggerFor(host.Domain)
	peerAddr := conn.RemoteAddr()

	if host.LoadBalancingEnabled {
		s.dispatchRequest(stream, peerAddr, host, logger)
		return
	}
	s.handleLocalRequest(stream, peerAddr, host, logger)
}
