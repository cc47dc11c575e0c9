// ABOUTME: Reachability probers for the Connectivity Monitor
// ABOUTME: DialProber checks a TCP endpoint and classifies the active interface
package connectivity

import (
	"context"
	"net"
	"strings"
	"time"
)

// DialProber reports Available when Address accepts a TCP connection.
type DialProber struct {
	Address string
	Timeout time.Duration
	// Interfaces lists local interfaces. Defaults to net.Interfaces.
	Interfaces func() ([]net.Interface, error)
}

func (p *DialProber) Probe(ctx context.Context) State {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return Unavailable
	}
	local, _ := conn.LocalAddr().(*net.TCPAddr)
	_ = conn.Close()

	interfaces := p.Interfaces
	if interfaces == nil {
		interfaces = net.Interfaces
	}
	return Available(classify(local, interfaces))
}

// classify finds the interface owning addr and maps its name to a Kind.
func classify(addr *net.TCPAddr, interfaces func() ([]net.Interface, error)) Kind {
	if addr == nil {
		return KindOther
	}
	ifaces, err := interfaces()
	if err != nil {
		return KindOther
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.Equal(addr.IP) {
				return KindForInterface(iface.Name)
			}
		}
	}
	return KindOther
}

// KindForInterface maps common interface naming schemes to a link kind.
func KindForInterface(name string) Kind {
	switch {
	case hasAnyPrefix(name, "wl", "en", "eth"):
		return KindUnmetered
	case hasAnyPrefix(name, "ww", "rmnet", "ppp", "pdp_ip"):
		return KindMetered
	default:
		return KindOther
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// StaticProber always reports the same state. Used when no probe address is
// configured and in tests.
type StaticProber struct {
	State State
}

func (p StaticProber) Probe(context.Context) State {
	return p.State
}
