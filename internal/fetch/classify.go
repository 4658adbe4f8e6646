package fetch

import (
	"context"
	"errors"
	"net"

	"github.com/rankwatch/rankwatch/internal/monitor"
)

func classifyStatus(code int) monitor.ErrorClass {
	switch {
	case code < 400:
		return monitor.ErrClassNone
	case code == 429:
		return monitor.ErrClassHTTP429
	case code < 500:
		return monitor.ErrClassHTTP4xx
	default:
		return monitor.ErrClassHTTP5xx
	}
}

func classifyError(err error) monitor.ErrorClass {
	if err == nil {
		return monitor.ErrClassConnection
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return monitor.ErrClassTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return monitor.ErrClassDNS
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return monitor.ErrClassTimeout
	}
	return monitor.ErrClassConnection
}

func retryable(class monitor.ErrorClass) bool {
	switch class {
	case monitor.ErrClassTimeout, monitor.ErrClassConnection, monitor.ErrClassHTTP5xx:
		return true
	default:
		return false
	}
}
