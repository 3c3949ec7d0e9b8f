package server

import (
	"fmt"
	"net"
	"os/exec"

	"github.com/originserve/originserve/hostconfig"
)

// defaultFastCGIPort is the port the server tries to bootstrap a local
// php-cgi instance on when a host enables PHP but names neither an explicit
// port nor a unix socket.
const defaultFastCGIPort = 7077

// phpTarget resolves the dial network/address a host's PHP requests should
// use, and whether PHP is usable at all for that host.
type phpTarget struct {
	network string
	address string
	ok      bool
}

// resolvePHPTarget mirrors the bootstrap rule: an explicit socket wins, then
// an explicit port, then a fallback based on whether port 9000 looks free —
// if it's free, prefer 7077 (on the assumption nothing is already listening
// there for this host); otherwise fall back to 9000 directly.
func resolvePHPTarget(h hostconfig.HostConfig) phpTarget {
	if !h.PHPEnabled {
		return phpTarget{}
	}
	if h.PHPSocket != nil && *h.PHPSocket != "" {
		return phpTarget{network: "unix", address: *h.PHPSocket, ok: true}
	}
	if h.PHPPort != nil {
		return phpTarget{network: "tcp", address: loopbackAddr(*h.PHPPort), ok: true}
	}

	port := uint16(9000)
	if isLocalPortFree(9000) {
		port = defaultFastCGIPort
	}
	return phpTarget{network: "tcp", address: loopbackAddr(port), ok: true}
}

func loopbackAddr(port uint16) string {
	return net.JoinHostPort("127.0.0.1", portString(port))
}

func portString(port uint16) string {
	return fmt.Sprintf("%d", port)
}

// isLocalPortFree reports whether a TCP listener can be opened on port,
// closing it immediately afterward.
func isLocalPortFree(port uint16) bool {
	l, err := net.Listen("tcp", loopbackAddr(port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// BootstrapFastCGI best-effort spawns "php-cgi -b 127.0.0.1:<defaultFastCGIPort>"
// in the background if that port is currently free and a php-cgi binary is
// on PATH. The spawned process is not supervised past launch.
func BootstrapFastCGI() {
	if !isLocalPortFree(defaultFastCGIPort) {
		return
	}
	if _, err := exec.LookPath("php-cgi"); err != nil {
		return
	}
	go func() {
		cmd := exec.Command("php-cgi", "-b", loopbackAddr(defaultFastCGIPort))
		_ = cmd.Start() // not supervised past launch
	}()
}
