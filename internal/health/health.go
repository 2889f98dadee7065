package health

import (
	"context"
	"net"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single probe attempt.
const DefaultTimeout = 5 * time.Second

// Probe checks one aspect of service health. Implementations report
// unhealthy as (false, nil); errors are reserved for misconfiguration.
type Probe interface {
	Check(ctx context.Context) (bool, error)
	Describe() string
}

// HTTPProbe performs a GET and treats 2xx/3xx as healthy; 4xx, 5xx and
// transport failures are unhealthy.
type HTTPProbe struct {
	URL     string
	Timeout time.Duration
}

func (p HTTPProbe) Describe() string { return "http:" + p.URL }

func (p HTTPProbe) Check(ctx context.Context) (bool, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, nil
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < 400, nil
}

// TCPProbe dials the address; a successful connect is healthy.
type TCPProbe struct {
	Addr    string
	Timeout time.Duration
}

func (p TCPProbe) Describe() string { return "tcp:" + p.Addr }

func (p TCPProbe) Check(ctx context.Context) (bool, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

// CheckHTTP is the manager's convenience wrapper: one GET against url,
// unhealthy on any failure.
func CheckHTTP(ctx context.Context, url string, timeout time.Duration) bool {
	ok, err := HTTPProbe{URL: url, Timeout: timeout}.Check(ctx)
	return err == nil && ok
}
