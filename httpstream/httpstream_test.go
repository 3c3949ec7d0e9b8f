package httpstream

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeConn wraps a net.Pipe half so tests can write a raw request onto the
// wire and let HttpStream read it back, same as it would a real TCP conn.
func pipeConn(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

func writeAsync(t *testing.T, conn net.Conn, data []byte) {
	t.Helper()
	go func() {
		_, _ = conn.Write(data)
	}()
}

func TestOpen_ParsesSimpleGet(t *testing.T) {
	client, server := pipeConn(t)
	writeAsync(t, client, []byte("GET /a/b?x=1 HTTP/1.1\r\nHost: example.com\r\n\r\n"))

	s, err := Open(server)
	require.NoError(t, err)
	assert.Equal(t, "GET", s.Method())
	assert.Equal(t, "/a/b", s.Path())
	assert.Equal(t, "x=1", s.Query())
	assert.Equal(t, "/a/b?x=1", s.QueryPath())
	host, ok := s.Header("Host")
	assert.True(t, ok)
	assert.Equal(t, "example.com", host)
}

func TestOpen_DuplicateHeaderLastWins(t *testing.T) {
	client, server := pipeConn(t)
	writeAsync(t, client, []byte("GET / HTTP/1.1\r\nX-Tag: first\r\nX-Tag: second\r\n\r\n"))

	s, err := Open(server)
	require.NoError(t, err)
	v, ok := s.Header("X-Tag")
	require.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestOpen_RejectsUnsupportedMethod(t *testing.T) {
	client, server := pipeConn(t)
	writeAsync(t, client, []byte("CONNECT / HTTP/1.1\r\n\r\n"))

	_, err := Open(server)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestOpen_PostWithoutContentLengthFails(t *testing.T) {
	client, server := pipeConn(t)
	writeAsync(t, client, []byte("POST /submit HTTP/1.1\r\nHost: x\r\n\r\n"))

	_, err := Open(server)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingContentLength)
}

func TestOpen_PutWithoutContentLengthFails(t *testing.T) {
	client, server := pipeConn(t)
	writeAsync(t, client, []byte("PUT /submit HTTP/1.1\r\nHost: x\r\n\r\n"))

	_, err := Open(server)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingContentLength)
}

func TestOpen_OversizedHeadFails(t *testing.T) {
	client, server := pipeConn(t)

	big := make([]byte, maxHeadSize+100)
	for i := range big {
		big[i] = 'a'
	}
	req := append([]byte("GET /"), big...)
	req = append(req, []byte(" HTTP/1.1\r\n\r\n")...)
	writeAsync(t, client, req)

	_, err := Open(server)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestOpen_EmptyReadIsProbe(t *testing.T) {
	client, server := pipeConn(t)
	_ = client.Close() // closes before sending anything

	_, err := Open(server)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProbablyProbe) || errors.Is(err, ErrNoValidHeader))
}

func TestReadBody_RespectsContentLength(t *testing.T) {
	client, server := pipeConn(t)
	writeAsync(t, client, []byte("POST /x HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"))

	s, err := Open(server)
	require.NoError(t, err)

	buf := make([]byte, 3)
	n, err := s.ReadBody(buf)
	require.NoError(t, err)
	assert.Equal(t, "hel", string(buf[:n]))

	buf = make([]byte, 16)
	n, err = s.ReadBody(buf)
	require.NoError(t, err)
	assert.Equal(t, "lo", string(buf[:n]))

	n, err = s.ReadBody(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "no more reads should occur once Content-Length bytes are consumed")
}

func TestReadBody_NoContentLengthReturnsZero(t *testing.T) {
	client, server := pipeConn(t)
	writeAsync(t, client, []byte("GET / HTTP/1.1\r\n\r\n"))

	s, err := Open(server)
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := s.ReadBody(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHeaderBlock_ReconstructsRequestLine(t *testing.T) {
	client, server := pipeConn(t)
	writeAsync(t, client, []byte("GET /app.php?x=1 HTTP/1.1\r\nHost: example.com\r\n\r\n"))

	s, err := Open(server)
	require.NoError(t, err)

	block := string(s.HeaderBlock())
	assert.Contains(t, block, "GET /app.php?x=1 HTTP/1.1\r\n")
	assert.Contains(t, block, "Host: example.com\r\n")
	assert.True(t, len(block) > 4 && block[len(block)-4:] == "\r\n\r\n")
}

func TestHasBody(t *testing.T) {
	cases := []struct {
		method string
		want   bool
	}{
		{"GET", false},
		{"HEAD", false},
		{"OPTIONS", false},
		{"POST", true},
		{"PUT", true},
		{"PATCH", true},
		{"DELETE", true},
	}
	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			s := &HttpStream{method: tc.method}
			assert.Equal(t, tc.want, s.HasBody())
		})
	}
}

func TestOpen_TimesOutIfNoHeadArrives(t *testing.T) {
	client, server := pipeConn(t)
	_ = client.SetDeadline(time.Now().Add(10 * time.Millisecond))
	_ = server.SetDeadline(time.Now().Add(10 * time.Millisecond))

	_, err := Open(server)
	require.Error(t, err)
}
