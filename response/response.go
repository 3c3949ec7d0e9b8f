// Package response builds the Response variants a RequestHandler can emit:
// static files, directory listings, 404 pages, and FastCGI passthrough
// bodies. All variants share the same status-line/headers/body shape so
// request.OutputResponse can write any of them identically.
package response

import (
	"embed"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed templates/directory.html templates/404.html
var templates embed.FS

const serverVersion = "1.0.0"

// Header preserves insertion order, since Response bodies are keyed by a Go
// map's nondeterministic order in the teacher's own Caddy style just as
// often as not, but this implementation favors a stable, testable order.
type Header struct {
	Name  string
	Value string
}

// Response is a status code, an ordered header list, and a body reader.
type Response struct {
	status  int
	headers []Header
	body    io.Reader
	closer  io.Closer
}

// StatusLine renders "HTTP/1.1 <code> OK\r\n" — the status text is always
// the literal "OK" regardless of the actual code, matching the origin
// server's wire format exactly.
func (r *Response) StatusLine() string {
	return fmt.Sprintf("HTTP/1.1 %d OK\r\n", r.status)
}

// Status returns the numeric status code.
func (r *Response) Status() int { return r.status }

// Headers returns the ordered header list.
func (r *Response) Headers() []Header { return r.headers }

// Header looks up a header value by name, case-insensitively.
func (r *Response) Header(name string) (string, bool) {
	for _, h := range r.headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Read reads from the response body.
func (r *Response) Read(buf []byte) (int, error) {
	if r.body == nil {
		return 0, io.EOF
	}
	return r.body.Read(buf)
}

// Close releases any resource (open file) backing the response body.
func (r *Response) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func stringResponse(status int, body string, contentType string) *Response {
	return &Response{
		status: status,
		headers: []Header{
			{"Content-Length", fmt.Sprintf("%d", len(body))},
			{"Content-Type", contentType},
			{"Connection", "close"},
		},
		body: strings.NewReader(body),
	}
}

// NewFile opens path and returns a Response streaming its contents, with
// Content-Length and Content-Type (by extension) set.
func NewFile(path string) (*Response, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("response: opening file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("response: statting file: %w", err)
	}

	return &Response{
		status: 200,
		headers: []Header{
			{"Content-Length", fmt.Sprintf("%d", info.Size())},
			{"Content-Type", getMime(filepath.Ext(path))},
			{"Connection", "close"},
		},
		body:   f,
		closer: f,
	}, nil
}

// NewNotFound renders the embedded 404 template with queryPath substituted
// for the %path% placeholder.
func NewNotFound(queryPath string) *Response {
	tpl, err := templates.ReadFile("templates/404.html")
	if err != nil {
		// The template is embedded at build time; a read failure here means
		// the embed itself is broken, not a runtime condition to recover
		// from gracefully.
		panic(fmt.Sprintf("response: embedded 404 template missing: %v", err))
	}
	body := strings.ReplaceAll(string(tpl), "%path%", queryPath)
	return stringResponse(404, body, "text/html")
}

type dirItem struct {
	name  string
	isDir bool
	size  int64
}

// NewDirectory renders a listing of the directory at path. queryPath is the
// request's path component (used to build hrefs and the parent-directory
// link); hostName and the server version are substituted into the template.
func NewDirectory(path, queryPath, hostName string) (*Response, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("response: reading directory: %w", err)
	}

	items := make([]dirItem, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, dirItem{name: e.Name(), isDir: e.IsDir(), size: info.Size()})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return boolToInt(!items[i].isDir) < boolToInt(!items[j].isDir)
	})

	var list strings.Builder
	for _, it := range items {
		href := queryPath
		if !strings.HasSuffix(href, "/") {
			href += "/"
		}
		href += url.PathEscape(it.name)

		if it.isDir {
			fmt.Fprintf(&list, "<tr><td><a href=\"%s\">%s...</a></td><td>DIR</td><td></td></tr>", href, it.name)
		} else {
			size, unit := sizeUnit(it.size)
			fmt.Fprintf(&list, "<tr><td><a href=\"%s\">%s</a></td><td></td><td>%d %s</td></tr>", href, it.name, size, unit)
		}
	}

	parent := ""
	if queryPath != "/" {
		last := strings.LastIndex(queryPath, "/")
		href := queryPath[:last]
		if href == "" {
			href = "/"
		}
		parent = fmt.Sprintf("<a class=\"up\" href=\"%s\">Back</a>", href)
	}

	tpl, err := templates.ReadFile("templates/directory.html")
	if err != nil {
		panic(fmt.Sprintf("response: embedded directory template missing: %v", err))
	}
	body := string(tpl)
	body = strings.ReplaceAll(body, "%list%", list.String())
	body = strings.ReplaceAll(body, "%directory%", queryPath)
	body = strings.ReplaceAll(body, "%parent%", parent)
	body = strings.ReplaceAll(body, "%version%", serverVersion)
	body = strings.ReplaceAll(body, "%name%", hostName)

	return stringResponse(200, body, "text/html"), nil
}

// sizeUnit divides size down to KB, then to MB once the KB value exceeds
// 1024 — the exact two-step rule the origin server uses, not a general
// auto-unit algorithm.
func sizeUnit(size int64) (int64, string) {
	kb := size / 1024
	if kb > 1024 {
		return kb / 1024, "MB"
	}
	return kb, "KB"
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NewFastCGI wraps a FastCGI responder's status, headers, and STDOUT body
// reader in a Response, with no additional buffering. body's Close (if any)
// runs when the Response is closed, releasing the underlying connection.
func NewFastCGI(status int, headers []Header, body io.Reader) *Response {
	res := &Response{status: status, headers: headers, body: body}
	if closer, ok := body.(io.Closer); ok {
		res.closer = closer
	}
	return res
}

// NewRaw wraps an arbitrary status/header/body triple, used for the
// raw-file-passthrough fallback when no FastCGI responder is configured.
// body's Close (if any) runs when the Response is closed.
func NewRaw(status int, headers []Header, body io.Reader) *Response {
	res := &Response{status: status, headers: headers, body: body}
	if closer, ok := body.(io.Closer); ok {
		res.closer = closer
	}
	return res
}
