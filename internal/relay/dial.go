package relay

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/proxy"
)

// SOCKS5Dialer returns a dial function that routes every connection
// through the SOCKS5 proxy at addr, normally the local Tor client.
//
// Tor isolates streams by SOCKS credentials, so every distinct isolation
// tag gets its own circuit. An empty tag shares the default circuit.
func SOCKS5Dialer(addr, isolation string) (DialContextFn, error) {
	if addr == "" {
		return nil, fmt.Errorf("socks address is empty")
	}

	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("socks address %q: %w", addr, err)
	}

	var auth *proxy.Auth
	if isolation != "" {
		auth = &proxy.Auth{User: isolation, Password: "\x00"}
	}

	d, err := proxy.SOCKS5("tcp", addr, auth, &net.Dialer{})
	if err != nil {
		return nil, fmt.Errorf("creating socks dialer: %w", err)
	}

	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks dialer does not support contexts")
	}

	// The proxy resolves names itself, so onion addresses pass through
	// unresolved.
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		switch network {
		case "tcp", "tcp4", "tcp6":
			return cd.DialContext(ctx, "tcp", address)
		default:
			return nil, fmt.Errorf("unsupported network %q", network)
		}
	}, nil
}
