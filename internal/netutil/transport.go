package netutil

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// NewTransport returns an HTTP transport that dials through the system
// resolver. Certificate verification is off: head units ship without a
// usable CA bundle.
func NewTransport(logger *logrus.Logger) *http.Transport {
	return &http.Transport{
		DialContext:           dialContext(logger),
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12}, //nolint:gosec
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
	}
}

// NewHTTPClient returns a client using NewTransport.
func NewHTTPClient(timeout time.Duration, logger *logrus.Logger) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewTransport(logger),
	}
}

func dialContext(logger *logrus.Logger) func(ctx context.Context, network, addr string) (net.Conn, error) {
	var dialer net.Dialer
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"host":  host,
			"local": IsLocalHost(host),
		}).Debug("Dialing")
		return dialer.DialContext(ctx, network, addr)
	}
}

// IsLocalHost reports whether host is a loopback, link-local or private
// address, or a name under .local / .lan.
func IsLocalHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".lan") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}
