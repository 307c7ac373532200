// Package census fetches American Community Survey estimates and
// variable metadata from the Census API.
package census

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/restyutil"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("lib/census")
var restyInstrumentOutput restyutil.InstrumentOutput

// SetRestyInstrumentOutput makes clients created afterwards dump every
// http exchange to `out`.
func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}

const DefaultBaseUrl = "https://api.census.gov/data"

type ClientOptions struct {
	BaseUrl string
	// applied as the `key` query parameter on every request. the API
	// serves small volumes without one but throttles hard.
	ApiKey string

	// requests per second, zero means 10
	RateLimit float64
	// zero means 5
	RateBurst int
	// zero means 3
	MaxRetries int
	// zero means 500ms
	RetryWaitTime time.Duration
	// zero means 8s
	RetryMaxWaitTime time.Duration
}

type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

func NewClient(opts ClientOptions) *Client {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst == 0 {
		opts.RateBurst = 5
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryWaitTime == 0 {
		opts.RetryWaitTime = 500 * time.Millisecond
	}
	if opts.RetryMaxWaitTime == 0 {
		opts.RetryMaxWaitTime = 8 * time.Second
	}

	client := resty.New().
		SetBaseURL(opts.BaseUrl).
		SetHeader("user-agent", "citizen-connect-acs/1.0").
		SetRetryCount(opts.MaxRetries).
		SetRetryWaitTime(opts.RetryWaitTime).
		SetRetryMaxWaitTime(opts.RetryMaxWaitTime).
		AddRetryCondition(func(res *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return res.StatusCode() == http.StatusTooManyRequests ||
				res.StatusCode() >= http.StatusInternalServerError
		}).
		SetRetryAfter(func(c *resty.Client, res *resty.Response) (time.Duration, error) {
			// honor Retry-After on throttled responses, zero falls
			// back to resty's jittered backoff
			if res == nil {
				return 0, nil
			}
			secs, err := strconv.Atoi(res.Header().Get("Retry-After"))
			if err != nil || secs <= 0 {
				return 0, nil
			}
			wait := time.Duration(secs) * time.Second
			if wait > c.RetryMaxWaitTime {
				wait = c.RetryMaxWaitTime
			}
			return wait, nil
		})
	if opts.ApiKey != "" {
		client.SetQueryParam("key", opts.ApiKey)
	}
	if restyInstrumentOutput != nil {
		// the dump middleware starts its own spans, never stack it on
		// top of InstrumentResty
		restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)
	} else {
		telemetry.InstrumentResty(client, "lib/census")
	}

	return &Client{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
	}
}

// StatusError is a non-OK response that survived the retry budget.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("census api returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (e *StatusError) IsAuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized ||
		e.StatusCode == http.StatusForbidden
}

const maxErrorBody = 300

func errorBody(body string) string {
	if len(body) > maxErrorBody {
		return body[:maxErrorBody] + "..."
	}
	return body
}
