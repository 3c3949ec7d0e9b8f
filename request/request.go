// Package request wraps an httpstream.HttpStream with document-root
// resolution and the response-emission step of the request lifecycle.
package request

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/originserve/originserve/cache"
	"github.com/originserve/originserve/httpstream"
	"github.com/originserve/originserve/response"
)

const writeChunkSize = 256 * 1024

// Request pairs a parsed HttpStream with the document root it resolves
// against and the peer address it arrived from.
type Request struct {
	stream   *httpstream.HttpStream
	docRoot  string
	peerAddr net.Addr
	filePath string
}

// New resolves stream's request path against docRoot. A path containing the
// literal substring "/.." is rejected outright: the local path falls back to
// docRoot itself rather than any attacker-controlled subpath. The combined
// path is percent-decoded exactly once.
func New(stream *httpstream.HttpStream, peerAddr net.Addr, docRoot string) (*Request, error) {
	localPath := docRoot
	if !strings.Contains(stream.Path(), "/..") {
		localPath += stream.Path()
	}

	decoded, err := url.PathUnescape(localPath)
	if err != nil {
		return nil, fmt.Errorf("request: decoding path: %w", err)
	}

	return &Request{
		stream:   stream,
		docRoot:  docRoot,
		peerAddr: peerAddr,
		filePath: filepath.Clean(decoded),
	}, nil
}

// Headers returns the underlying stream's case-preserving header map.
func (r *Request) Headers() map[string]string { return r.stream.Headers() }

// Header looks up a header by name, case-insensitively.
func (r *Request) Header(name string) (string, bool) { return r.stream.Header(name) }

// Query returns everything after the first '?' in the request target.
func (r *Request) Query() string { return r.stream.Query() }

// Method returns the uppercased HTTP method.
func (r *Request) Method() string { return r.stream.Method() }

// Path returns the request target without its query string.
func (r *Request) Path() string { return r.stream.Path() }

// QueryPath returns the raw, unsplit request target.
func (r *Request) QueryPath() string { return r.stream.QueryPath() }

// DocRoot returns the configured document root this request resolves against.
func (r *Request) DocRoot() string { return r.docRoot }

// PeerAddr returns the remote address the request arrived from.
func (r *Request) PeerAddr() net.Addr { return r.peerAddr }

// FilePath returns the resolved local filesystem path.
func (r *Request) FilePath() string { return r.filePath }

// Rewrite replaces the resolved local file path in place, used by the
// PHP-index fallback when the originally resolved path is not a regular file.
func (r *Request) Rewrite(filePath string) { r.filePath = filePath }

// HasBody reports whether the request method conventionally carries a body.
func (r *Request) HasBody() bool { return r.stream.HasBody() }

// ReadBody reads from the request body, bounded by the declared
// Content-Length, never blocking past it.
func (r *Request) ReadBody(buf []byte) (int, error) { return r.stream.ReadBody(buf) }

// HeaderBlock reconstructs the forwardable request-line + headers block used
// when proxying this request upstream.
func (r *Request) HeaderBlock() []byte { return r.stream.HeaderBlock() }

// OutputResponse writes res to the client: a status line, headers joined by
// '\n' (no trailing separator after the last header), a blank line, then the
// body streamed in 256 KiB chunks. The header join format and chunk size
// match the origin server this behavior was ported from byte for byte.
//
// Before anything is written, res's headers are run through c.ProcessHeaders:
// X-Cache-Delete and X-Cache-Delete-Like are honored immediately, and if
// X-Cache-Request armed a write path, everything emitted (status line,
// filtered headers, and body) is also accumulated and persisted via
// c.Write once the response has been fully sent. When c is enabled, the three
// control headers are stripped before anything reaches the wire; a disabled
// cache leaves them in the response unchanged. c is never nil for a live
// host (an unconfigured cache is still a valid, disabled *cache.Cache).
func (r *Request) OutputResponse(res *response.Response, c *cache.Cache) error {
	headers := res.Headers()
	headerMap := make(map[string]string, len(headers))
	order := make([]string, 0, len(headers))
	for _, h := range headers {
		headerMap[h.Name] = h.Value
		order = append(order, h.Name)
	}

	writePath, armed := c.ProcessHeaders(headerMap)

	filtered := make([]response.Header, 0, len(order))
	for _, name := range order {
		value, ok := headerMap[name]
		if !ok {
			continue // stripped by ProcessHeaders
		}
		filtered = append(filtered, response.Header{Name: name, Value: value})
	}

	var cacheBuf []byte

	statusLine := []byte(res.StatusLine())
	if err := r.stream.Write(statusLine); err != nil {
		return fmt.Errorf("request: writing status line: %w", err)
	}
	if armed {
		cacheBuf = append(cacheBuf, statusLine...)
	}

	i := 0
	for _, h := range filtered {
		var line string
		if i == len(filtered)-1 {
			line = fmt.Sprintf("%s:%s", h.Name, h.Value)
		} else {
			line = fmt.Sprintf("%s:%s\n", h.Name, h.Value)
		}
		if err := r.stream.Write([]byte(line)); err != nil {
			return fmt.Errorf("request: writing header: %w", err)
		}
		if armed {
			cacheBuf = append(cacheBuf, line...)
		}
		i++
	}

	terminator := []byte("\r\n\r\n")
	if err := r.stream.Write(terminator); err != nil {
		return fmt.Errorf("request: writing header terminator: %w", err)
	}
	if armed {
		cacheBuf = append(cacheBuf, terminator...)
	}

	buf := make([]byte, writeChunkSize)
	for {
		n, err := res.Read(buf)
		if n > 0 {
			if werr := r.stream.Write(buf[:n]); werr != nil {
				return fmt.Errorf("request: writing body: %w", werr)
			}
			if armed {
				cacheBuf = append(cacheBuf, buf[:n]...)
			}
		}
		if err != nil || n == 0 {
			break
		}
	}

	if armed {
		_ = c.Write(cacheBuf, writePath)
	}
	return nil
}
