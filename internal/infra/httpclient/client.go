package httpclient

import (
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// New returns an HTTP client with connection pooling suitable for
// repeated calls to provider APIs.
func New(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Breaker wraps an HTTP client with per-host circuit breakers so a
// degraded provider does not tie up request workers.
type Breaker struct {
	client *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// NewBreaker wraps client with circuit breaking keyed by request host.
func NewBreaker(client *http.Client) *Breaker {
	return &Breaker{
		client:   client,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

func (b *Breaker) breaker(host string) *gobreaker.CircuitBreaker[*http.Response] {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.breakers[host]
	if !ok {
		cb = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:    host,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 5 && counts.TotalFailures*2 > counts.Requests
			},
		})
		b.breakers[host] = cb
	}
	return cb
}

// Do executes the request through the breaker for its host. Responses
// with 5xx status count as failures.
func (b *Breaker) Do(req *http.Request) (*http.Response, error) {
	return b.breaker(req.URL.Host).Execute(func() (*http.Response, error) {
		resp, err := b.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			return nil, &ServerError{Status: resp.StatusCode, Host: req.URL.Host}
		}
		return resp, nil
	})
}

// ServerError signals a 5xx response from an upstream host.
type ServerError struct {
	Status int
	Host   string
}

func (e *ServerError) Error() string {
	return "upstream " + e.Host + " returned " + http.StatusText(e.Status)
}
