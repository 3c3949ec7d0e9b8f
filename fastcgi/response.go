package fastcgi

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"strings"
)

// Response reads a FastCGI responder's STDOUT stream, splitting the CGI
// header block (terminated by a blank line) from the body on first read
// and exposing it afterward as a plain pull-based io.Reader.
type Response struct {
	conn    net.Conn
	buf     []byte
	status  int
	headers map[string]string
	parsed  bool
}

func newResponse(conn net.Conn) *Response {
	return &Response{
		conn:    conn,
		status:  200,
		headers: map[string]string{"Connection": "close"},
	}
}

// Status returns the response's HTTP status code, defaulting to 200 if the
// responder never sent a Status: header.
func (r *Response) Status() (int, error) {
	if !r.parsed {
		if err := r.parseHead(); err != nil {
			return 0, err
		}
	}
	return r.status, nil
}

// Headers returns the response headers parsed from the CGI header block,
// always including "Connection: close".
func (r *Response) Headers() (map[string]string, error) {
	if !r.parsed {
		if err := r.parseHead(); err != nil {
			return nil, err
		}
	}
	return r.headers, nil
}

// parseHead accumulates STDOUT records until the CRLFCRLF header terminator
// appears, splits off the header block, and parses it. Any bytes read past
// the terminator remain buffered for subsequent Read calls.
func (r *Response) parseHead() error {
	r.parsed = true
	for {
		if idx := bytes.Index(r.buf, []byte("\r\n\r\n")); idx >= 0 {
			headerBlock := r.buf[:idx]
			r.buf = r.buf[idx+4:]
			r.parseHeaderBlock(headerBlock)
			return nil
		}
		n, err := r.readRecord()
		if n == 0 {
			if err != nil && err != io.EOF {
				return err
			}
			return nil
		}
	}
}

// parseHeaderBlock mirrors the origin responder's header reparsing: it
// always skips the block's first line (whether or not that line is the
// Status line) and parses every remaining line as "name:value". The Status
// line, if present anywhere in the block, sets the numeric status.
func (r *Response) parseHeaderBlock(block []byte) {
	lines := strings.Split(string(block), "\r\n")

	for _, line := range lines {
		if strings.HasPrefix(strings.ToLower(line), "status:") {
			fields := strings.Fields(line)
			if len(fields) > 1 {
				if code, err := strconv.Atoi(fields[1]); err == nil {
					r.status = code
				}
			}
			break
		}
	}

	if len(lines) <= 1 {
		return
	}
	for _, line := range lines[1:] {
		parts := strings.SplitN(strings.TrimSpace(line), ":", 2)
		if len(parts) == 2 {
			r.headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
}

// readRecord reads one FastCGI record off the connection and appends its
// STDOUT content to buf. STDERR records are read and discarded, and the next
// record is read in their place. It returns 0, io.EOF once an END_REQUEST
// record, or any other terminal condition, is reached.
func (r *Response) readRecord() (int, error) {
	var head [8]byte
	if _, err := io.ReadFull(r.conn, head[:]); err != nil {
		return 0, io.EOF
	}

	recType := head[1]
	contentLength := int(head[4])<<8 | int(head[5])
	paddingLength := int(head[6])

	content := make([]byte, contentLength)
	if contentLength > 0 {
		if _, err := io.ReadFull(r.conn, content); err != nil {
			return 0, io.EOF
		}
	}
	if paddingLength > 0 {
		padding := make([]byte, paddingLength)
		_, _ = io.ReadFull(r.conn, padding)
	}

	switch recType {
	case typeStdout:
		r.buf = append(r.buf, content...)
		return contentLength, nil
	case typeStderr:
		return r.readRecord()
	case typeEndRequest:
		return 0, io.EOF
	default:
		return 0, nil
	}
}

// Read drains already-buffered STDOUT bytes first, pulling exactly one more
// record from the responder when the buffer is empty — never read-ahead
// beyond what's needed to satisfy this call.
func (r *Response) Read(buf []byte) (int, error) {
	if !r.parsed {
		if err := r.parseHead(); err != nil {
			return 0, err
		}
	}
	if len(r.buf) == 0 {
		n, err := r.readRecord()
		if n == 0 {
			return 0, io.EOF
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
	}

	size := len(buf)
	if size > len(r.buf) {
		size = len(r.buf)
	}
	copy(buf, r.buf[:size])
	r.buf = r.buf[size:]
	return size, nil
}
