package transport

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tinyland-inc/wingman/pkg/config"
)

// localAddr resolves the source address requested by the platform config.
// An explicit source IP wins over an interface name. A nil address means
// the system picks the route.
func localAddr(cfg config.PlatformConfig) (*net.TCPAddr, error) {
	if cfg.SourceIP != "" {
		ip := net.ParseIP(cfg.SourceIP)
		if ip == nil {
			return nil, fmt.Errorf("invalid source_ip %q", cfg.SourceIP)
		}
		return &net.TCPAddr{IP: ip}, nil
	}
	if cfg.BindInterface == "" {
		return nil, nil
	}

	iface, err := net.InterfaceByName(cfg.BindInterface)
	if err != nil {
		return nil, fmt.Errorf("failed to find interface %s: %w", cfg.BindInterface, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses of %s: %w", cfg.BindInterface, err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLinkLocalUnicast() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return &net.TCPAddr{IP: ip4}, nil
		}
	}
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLinkLocalUnicast() {
			return &net.TCPAddr{IP: ipNet.IP}, nil
		}
	}
	return nil, fmt.Errorf("interface %s has no usable address", cfg.BindInterface)
}

// boundTransport returns an http.Transport whose dialer originates from
// addr. With a nil addr it behaves like the default transport.
func boundTransport(addr *net.TCPAddr) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if addr != nil {
		dialer.LocalAddr = addr
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = dialer.DialContext
	return t
}
