package httputil

import (
	"net/http"
	"time"
)

const DefaultTimeout = 10 * time.Second

// UserAgent identifies tenki to the JMA portal.
const UserAgent = "tenki/1.0 (+https://github.com/lox/tenki)"

// NewClient returns an HTTP client with standard timeout configuration.
// A non-positive timeout selects DefaultTimeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
	}
}
