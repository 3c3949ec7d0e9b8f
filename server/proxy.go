package server

import (
	"bytes"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/originserve/originserve/cache"
	"github.com/originserve/originserve/hostconfig"
	"github.com/originserve/originserve/httpstream"
)

// dispatchRequest implements the reverse-proxy path: a cache hit short-
// circuits the whole request; otherwise the next upstream is picked via
// round robin, the downstream request is forwarded verbatim, and the
// upstream's response is streamed back — intercepting cache-control headers
// on the way through so a configured cache can admit the response body.
//
// The downstream request body is forwarded in 4 KiB chunks until ReadBody
// reports no more bytes, which happens once the declared Content-Length has
// been read (or at once when none was declared).
func (s *Server) dispatchRequest(downstream *httpstream.HttpStream, peerAddr net.Addr, host hostconfig.HostConfig, logger *zap.Logger) {
	c := s.cacheFor(host.Domain)
	if f, found, err := c.TryServe(downstream.Path(), downstream.QueryPath()); err == nil && found {
		defer f.Close()
		if err := copyRaw(downstream, f); err != nil {
			logger.Error("serving cached upstream entry", zap.Error(err))
			return
		}
		s.metrics.CacheHitsTotal.Inc()
		logger.Info("proxied request served from cache")
		return
	}

	disp, ok := s.dispatch[host.Domain]
	if !ok {
		logger.Error("no dispatcher configured for proxied host")
		s.metrics.ProxyErrorsTotal.Inc()
		return
	}
	endpoint, ok := disp.Next()
	if !ok {
		logger.Error("no upstream endpoint configured for proxied host")
		s.metrics.ProxyErrorsTotal.Inc()
		return
	}
	s.metrics.DispatcherSelectionsTotal.WithLabelValues(endpoint).Inc()

	upstream, err := net.Dial("tcp", endpoint)
	if err != nil {
		logger.Error("dialing upstream", zap.String("endpoint", endpoint), zap.Error(err))
		s.metrics.ProxyErrorsTotal.Inc()
		return
	}
	defer upstream.Close()

	if _, err := upstream.Write(downstream.HeaderBlock()); err != nil {
		logger.Error("forwarding request head", zap.Error(err))
		s.metrics.ProxyErrorsTotal.Inc()
		return
	}

	buf := make([]byte, 4*1024)
	for {
		n, err := downstream.ReadBody(buf)
		if n > 0 {
			if _, werr := upstream.Write(buf[:n]); werr != nil {
				logger.Error("forwarding request body", zap.Error(werr))
				s.metrics.ProxyErrorsTotal.Inc()
				return
			}
		}
		if err != nil || n == 0 {
			break
		}
	}

	if err := relayUpstreamResponse(downstream, upstream, c); err != nil {
		logger.Error("relaying upstream response", zap.Error(err))
		s.metrics.ProxyErrorsTotal.Inc()
		return
	}
	logger.Info("proxied request succeeded")
}

// relayUpstreamResponse reads the upstream's response in 1 KiB chunks,
// accumulating until the header block terminator is found. Once found, it
// reparses the header block (splitting on the bare ':' the upstream
// response uses, distinct from the ": " split used when parsing inbound
// requests), runs it through the cache's header-directive processor, and
// re-serializes the first line and remaining headers before forwarding.
// Every subsequent chunk is written straight through, and — if a cache
// write was armed — also accumulated for the eventual cache admission.
func relayUpstreamResponse(downstream *httpstream.HttpStream, upstream net.Conn, c *cache.Cache) error {
	var respBuf []byte
	headersParsed := false
	var cachePath string
	var cacheArmed bool
	var cacheBuf []byte

	chunk := make([]byte, 1024)
	for {
		n, err := upstream.Read(chunk)
		if n == 0 {
			break
		}

		if !headersParsed {
			respBuf = append(respBuf, chunk[:n]...)
			if idx := bytes.Index(respBuf, []byte("\r\n\r\n")); idx >= 0 {
				headerEnd := idx + 4
				headerBlock := respBuf[:headerEnd]
				body := respBuf[headerEnd:]

				lines := strings.Split(string(headerBlock), "\r\n")
				firstLine := ""
				if len(lines) > 0 {
					firstLine = lines[0]
				}

				headerMap := make(map[string]string)
				var order []string
				for _, line := range lines[1:] {
					if line == "" {
						continue
					}
					parts := strings.SplitN(line, ":", 2)
					if len(parts) != 2 {
						continue
					}
					name := parts[0]
					value := strings.TrimSpace(parts[1])
					headerMap[name] = value
					order = append(order, name)
				}

				cachePath, cacheArmed = c.ProcessHeaders(headerMap)

				var out bytes.Buffer
				out.WriteString(firstLine)
				out.WriteString("\r\n")
				for _, name := range order {
					value, ok := headerMap[name]
					if !ok {
						continue // stripped by ProcessHeaders
					}
					fmt.Fprintf(&out, "%s: %s\r\n", name, value)
				}
				out.WriteString("\r\n")
				out.Write(body)

				if err := downstream.Write(out.Bytes()); err != nil {
					return err
				}
				if cacheArmed {
					cacheBuf = append(cacheBuf, out.Bytes()...)
				}
				headersParsed = true
			}
		} else {
			if err := downstream.Write(chunk[:n]); err != nil {
				return err
			}
			if cacheArmed {
				cacheBuf = append(cacheBuf, chunk[:n]...)
			}
		}

		if err != nil {
			break
		}
	}

	if cacheArmed {
		_ = c.Write(cacheBuf, cachePath)
	}
	return nil
}
