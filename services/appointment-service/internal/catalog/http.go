package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/odontocare/odontocare/libs/httpx"
	"github.com/odontocare/odontocare/libs/retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// verifyPaths are the registry's verification routes per kind.
var verifyPaths = map[Kind]string{
	KindPatient: "verify/pacientes",
	KindDoctor:  "verify/doctores",
	KindCenter:  "verify/centros",
}

type HTTPConfig struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration // per attempt
	MaxAttempts int
	Transport   http.RoundTripper
}

// HTTPClient queries the user service's verify endpoints.
type HTTPClient struct {
	base    *url.URL
	token   string
	timeout time.Duration
	retry   retry.Policy
	http    *http.Client
}

func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid catalog url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	return &HTTPClient{
		base:    base,
		token:   cfg.Token,
		timeout: cfg.Timeout,
		retry:   policy,
		http:    &http.Client{Transport: otelhttp.NewTransport(transport)},
	}, nil
}

// verifyBody covers both the legacy and the current response shapes.
type verifyBody struct {
	Estado string `json:"estado"`
	Status string `json:"status"`
	Active *bool  `json:"active"`
}

func (c *HTTPClient) EntityExists(ctx context.Context, kind Kind, id string) (Status, error) {
	p, ok := verifyPaths[kind]
	if !ok {
		return StatusNotFound, fmt.Errorf("unknown catalog kind %q", kind)
	}
	target := c.base.JoinPath(p, id)

	status, err := retry.Do(ctx, c.retry, func(ctx context.Context) (Status, error) {
		return c.attempt(ctx, target.String())
	})
	if err != nil {
		return StatusNotFound, &UpstreamError{Which: kind, ID: id, Err: err}
	}
	return status, nil
}

func (c *HTTPClient) attempt(parent context.Context, target string) (Status, error) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return StatusNotFound, retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	httpx.PropagateRequestID(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if parent.Err() != nil {
			return StatusNotFound, retry.Permanent(err)
		}
		return StatusNotFound, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return decodeStatus(resp.Body), nil
	case resp.StatusCode == http.StatusNotFound:
		return StatusNotFound, nil
	case resp.StatusCode == http.StatusGone:
		return StatusInactive, nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return StatusNotFound, fmt.Errorf("catalog returned %d", resp.StatusCode)
	default:
		return StatusNotFound, retry.Permanent(fmt.Errorf("catalog returned %d", resp.StatusCode))
	}
}

func decodeStatus(body io.Reader) Status {
	var b verifyBody
	if err := json.NewDecoder(io.LimitReader(body, 64<<10)).Decode(&b); err != nil {
		return StatusActive
	}
	if b.Active != nil && !*b.Active {
		return StatusInactive
	}
	for _, s := range []string{b.Estado, b.Status} {
		switch strings.ToUpper(strings.TrimSpace(s)) {
		case "INACTIVO", "INACTIVE":
			return StatusInactive
		}
	}
	return StatusActive
}
