package lib

import (
	"net/url"
	"strings"

	"github.com/gravitational/trace"
)

// AddrToURL turns an address given on the command line into a URL. A bare
// host gets http for loopback hosts and https for everything else. The
// default port of the scheme is cut off.
func AddrToURL(addr string) (*url.URL, error) {
	if addr == "" {
		return nil, trace.BadParameter("empty address")
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		if isLoopback(addr) {
			addr = "http://" + addr
		} else {
			addr = "https://" + addr
		}
	}
	result, err := url.Parse(addr)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if result.Host == "" {
		return nil, trace.BadParameter("address %q has no host", addr)
	}
	if (result.Scheme == "https" && result.Port() == "443") || (result.Scheme == "http" && result.Port() == "80") {
		// Cut off the redundant port.
		result.Host = result.Hostname()
	}
	result.Path = strings.TrimSuffix(result.Path, "/")
	return result, nil
}

func isLoopback(addr string) bool {
	host := addr
	if i := strings.IndexAny(host, ":/"); i >= 0 {
		host = host[:i]
	}
	return host == "localhost" || strings.HasPrefix(host, "127.")
}
