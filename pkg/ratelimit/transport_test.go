package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jobsAPIStub stands in for a backend API server's job-collection
// endpoint, recording when each request arrives and optionally shedding
// the first few.
type jobsAPIStub struct {
	mu      sync.Mutex
	times   []time.Time
	sheds   int
	handler *httptest.Server
}

func newJobsAPIStub(sheds int) *jobsAPIStub {
	s := &jobsAPIStub{sheds: sheds}
	s.handler = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.times = append(s.times, time.Now())
		shed := len(s.times) <= s.sheds
		s.mu.Unlock()

		if shed {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	return s
}

func (s *jobsAPIStub) requestTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.times...)
}

func TestTransportSpacesStatusPolls(t *testing.T) {
	stub := newJobsAPIStub(0)
	defer stub.handler.Close()

	client := &http.Client{
		Transport: NewTransport(nil, NewPacer(Config{MinInterval: 30 * time.Millisecond, MaxInFlight: 2})),
	}

	for i := 0; i < 3; i++ {
		resp, err := client.Get(stub.handler.URL + "/apis/batch/v1/namespaces/batchctl-test/jobs")
		require.NoError(t, err)
		resp.Body.Close()
	}

	times := stub.requestTimes()
	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), 20*time.Millisecond,
			"consecutive polls must be spaced by roughly MinInterval")
	}
}

func TestTransportBacksOffWhenAPIServerSheds(t *testing.T) {
	stub := newJobsAPIStub(1)
	defer stub.handler.Close()

	client := &http.Client{
		Transport: NewTransport(nil, NewPacer(Config{MaxInFlight: 1, BackoffBase: 80 * time.Millisecond, BackoffCap: time.Second})),
	}

	url := stub.handler.URL + "/apis/batch/v1/namespaces/batchctl-test/jobs"

	resp, err := client.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, err = client.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	times := stub.requestTimes()
	require.Len(t, times, 2)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 60*time.Millisecond,
		"the call after a shed must wait out the suspension")
}

func TestTransportPropagatesContextCancellation(t *testing.T) {
	stub := newJobsAPIStub(0)
	defer stub.handler.Close()

	pacer := NewPacer(Config{MaxInFlight: 1, BackoffBase: time.Second, BackoffCap: time.Second})
	pacer.Observe(&http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}})

	client := &http.Client{
		Transport: NewTransport(nil, pacer),
		Timeout:   50 * time.Millisecond,
	}

	_, err := client.Get(stub.handler.URL + "/apis/batch/v1/namespaces/batchctl-test/jobs")
	assert.Error(t, err, "a request must give up when its deadline expires inside the suspension")
	assert.Empty(t, stub.requestTimes(), "the suspended request must never reach the server")
}
