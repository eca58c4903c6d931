package ratelimit

import "net/http"

// Transport is an http.RoundTripper that routes every request through a
// Pacer. backend/k8sjob hangs it under client-go via
// rest.Config.WrapTransport, so submit/cancel/poll traffic to the API
// server is paced without the adapter code knowing about it.
type Transport struct {
	base  http.RoundTripper
	pacer Pacer
}

// NewTransport wraps base (http.DefaultTransport when nil) with p.
func NewTransport(base http.RoundTripper, p Pacer) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, pacer: p}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	release, err := t.pacer.Acquire(req.Context())
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := t.base.RoundTrip(req)
	t.pacer.Observe(resp)
	return resp, err
}
