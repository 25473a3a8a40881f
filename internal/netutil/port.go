// Package netutil picks the scheduler's listen address.
package netutil

import (
	"errors"
	"fmt"
	"net"
)

// Listen binds preferred, or the first free candidate when autoFallback is
// set. The listener is returned open so the address cannot be taken between
// the check and the server start.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("preferred bind address unavailable: %s: %w", preferred, err)
		}
	}

	for _, addr := range candidates {
		if addr == "" || addr == preferred {
			continue
		}
		if ln, err := net.Listen("tcp", addr); err == nil {
			return ln, nil
		}
	}

	return nil, errors.New("no available scheduler bind addresses")
}
