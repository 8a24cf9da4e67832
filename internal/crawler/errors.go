package crawler

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Fetch error categories.
var (
	ErrTransientFetch = errors.New("transient fetch error")
	ErrPermanentFetch = errors.New("permanent fetch error")
)

// ErrorKind names the cause of a failed fetch.
type ErrorKind string

// Known error kinds.
const (
	KindTimeout        ErrorKind = "timeout"
	KindConnection     ErrorKind = "connection"
	KindDNS            ErrorKind = "dns"
	KindDNSNotFound    ErrorKind = "dns_not_found"
	KindTLS            ErrorKind = "tls"
	KindTLSCertificate ErrorKind = "tls_certificate"
	KindHTTPStatus     ErrorKind = "http_status"
	KindRedirectLoop   ErrorKind = "redirect_loop"
	KindInvalidURL     ErrorKind = "invalid_url"
	KindUnknown        ErrorKind = "unknown"
)

// FetchError is the error every fetch failure is reported as.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString("fetch ")
	b.WriteString(e.URL)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		b.WriteString(" ")
		b.WriteString(strconv.Itoa(e.Status))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is matches ErrTransientFetch and ErrPermanentFetch.
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrPermanentFetch:
		return e.Permanent()
	case ErrTransientFetch:
		return !e.Permanent()
	}
	return false
}

// Permanent reports whether retrying cannot help.
func (e *FetchError) Permanent() bool {
	switch e.Kind {
	case KindDNSNotFound, KindTLSCertificate, KindRedirectLoop, KindInvalidURL:
		return true
	case KindHTTPStatus:
		return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
	}
	return false
}

// NewFetchError wraps err with the classified kind.
func NewFetchError(rawURL string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Kind: ClassifyError(err), URL: rawURL, Err: err}
}

// ClassifyError maps transport errors onto an ErrorKind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return KindDNSNotFound
		case dnsErr.IsTimeout:
			return KindTimeout
		default:
			return KindDNS
		}
	}
	var (
		verifyErr    *tls.CertificateVerificationError
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)
	if errors.As(err, &verifyErr) || errors.As(err, &authorityErr) ||
		errors.As(err, &hostnameErr) || errors.As(err, &invalidErr) {
		return KindTLSCertificate
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return KindTLS
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return KindConnection
	}
	return KindUnknown
}

// ParseRetryAfter reads a Retry-After value in seconds or HTTP-date form.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	if d := at.Sub(now); d > 0 {
		return d, true
	}
	return 0, true
}

// StatusError builds the FetchError for a retryable HTTP status.
func StatusError(resp FetchResponse, now time.Time) *FetchError {
	fe := &FetchError{
		Kind:   KindHTTPStatus,
		URL:    resp.URL,
		Status: resp.StatusCode,
		Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
	}
	if resp.Headers != nil {
		if d, ok := ParseRetryAfter(resp.Headers.Get("Retry-After"), now); ok {
			fe.RetryAfter = d
		}
	}
	return fe
}
