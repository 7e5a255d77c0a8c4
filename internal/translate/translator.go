// Package translate moves patient text between local languages and the
// model's working language.
//
// Translation is a network service. When it cannot be reached the
// translators return ErrConnectivityRequired and the caller stops before the
// reasoning stage.
package translate

import (
	"context"
	"errors"
	"net"
	"time"

	"nku/internal/logging"
)

var (
	// ErrConnectivityRequired means translation needs a network that is not there.
	ErrConnectivityRequired = errors.New("translation requires connectivity")
	// ErrUnsupportedLanguage is returned for codes outside the supported set.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// Translator converts text between two normalized language codes.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Offline is the translator used when no provider is configured. Every
// cross-language request needs connectivity it does not have.
type Offline struct{}

// Translate returns text unchanged for same-language requests and
// ErrConnectivityRequired otherwise.
func (Offline) Translate(_ context.Context, text, from, to string) (string, error) {
	if from == to {
		return text, nil
	}
	return "", ErrConnectivityRequired
}

// Prober reports whether the translation service is reachable.
type Prober interface {
	Online(ctx context.Context) bool
}

// DialProber probes connectivity with a TCP dial.
type DialProber struct {
	Addr    string
	Timeout time.Duration
}

// Online dials Addr and reports success.
func (p DialProber) Online(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		logging.TranslateDebug("probe %s failed: %v", p.Addr, err)
		return false
	}
	conn.Close()
	return true
}

// AlwaysOnline is a Prober that never blocks translation.
type AlwaysOnline struct{}

func (AlwaysOnline) Online(context.Context) bool { return true }

// isConnectivityError reports transport failures that mean "no network",
// as opposed to errors returned by a reachable service.
func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
