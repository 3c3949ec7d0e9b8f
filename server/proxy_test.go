package server

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/originserve/originserve/hostconfig"
	"github.com/originserve/originserve/httpstream"
)

// fakeUpstream starts a listener that replies with a fixed raw HTTP
// response to the first connection it accepts.
func fakeUpstream(t *testing.T, response string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = bufio.NewReader(conn).ReadString('\n') // drain the request line, best effort
		_, _ = conn.Write([]byte(response))
	}()

	return ln.Addr().String()
}

func TestDispatchRequest_ForwardsToUpstreamAndRelaysResponse(t *testing.T) {
	upstream := fakeUpstream(t, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi")

	host := hostconfig.HostConfig{
		Domain:               "proxy.example.com",
		Port:                 80,
		LoadBalancingEnabled: true,
		LoadBalancingServers: []string{upstream},
	}
	srv := newTestServer(t, []hostconfig.HostConfig{host})

	client, serverConn := pipeConn(t)
	writeAsync(t, client, []byte("GET / HTTP/1.1\r\nHost: proxy.example.com\r\n\r\n"))
	stream, err := httpstream.Open(serverConn)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		srv.dispatchRequest(stream, client.LocalAddr(), host, zap.NewNop())
		serverConn.Close()
		close(done)
	}()

	out, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Contains(t, string(out), "HTTP/1.1 200 OK")
	assert.Contains(t, string(out), "hi")
	<-done
}

func TestDispatchRequest_NoUpstreamConfiguredIsHandledGracefully(t *testing.T) {
	host := hostconfig.HostConfig{
		Domain:               "proxy.example.com",
		Port:                 80,
		LoadBalancingEnabled: true,
	}
	srv := newTestServer(t, []hostconfig.HostConfig{host})

	client, serverConn := pipeConn(t)
	writeAsync(t, client, []byte("GET / HTTP/1.1\r\nHost: proxy.example.com\r\n\r\n"))
	stream, err := httpstream.Open(serverConn)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		srv.dispatchRequest(stream, client.LocalAddr(), host, zap.NewNop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatchRequest did not return for a host with no configured upstreams")
	}
}
