package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"orderdesk/internal/config"
	"orderdesk/internal/faults"
)

// serviceName identifies this dependency in failure metadata.
const serviceName = "customer-directory"

// maxResponseSize caps how much of a directory response is read (1MB).
const maxResponseSize = 1 << 20

// Customer is the directory's record for one customer.
type Customer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Client looks up customers in the external directory.
type Client interface {
	FetchCustomer(ctx context.Context, customerID int64) (*Customer, error)
}

// HTTPClient is the HTTP implementation of Client. It is the single point
// where directory transport and status outcomes are translated into typed
// failures; no raw net/http error escapes it.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient creates a directory client with the configured base URL and
// lookup timeout.
func NewHTTPClient(cfg config.DirectoryConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// FetchCustomer looks up a customer by id.
//
// Outcome mapping: 2xx with a well-formed body is a success; 404 is a
// business rejection (CUSTOMER_NOT_FOUND); 401/403 indicate a credentials or
// setup problem; everything else, including transport errors and malformed
// bodies, is an external-service failure carrying the observed status.
func (c *HTTPClient) FetchCustomer(ctx context.Context, customerID int64) (*Customer, error) {
	lookupURL := fmt.Sprintf("%s/customers/%d", c.baseURL, customerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return nil, faults.NewExternalService(serviceName, "building directory request failed").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, faults.NewCancelled(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, faults.NewExternalService(serviceName,
				"directory lookup timed out after %s", c.httpClient.Timeout).WithCause(err)
		}
		return nil, faults.NewExternalService(serviceName, "directory unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return c.decodeCustomer(resp.Body)
	case resp.StatusCode == http.StatusNotFound:
		return nil, faults.NewBusinessRule(faults.RuleCustomerNotFound,
			"customer %d not found in directory", customerID)
	case resp.StatusCode == http.StatusBadRequest:
		return nil, faults.NewExternalService(serviceName,
			"directory rejected the lookup request for customer %d", customerID).
			WithMeta("status", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, faults.NewConfiguration("DIRECTORY_BASE_URL",
			"directory refused credentials (status %d); check directory access configuration", resp.StatusCode).
			WithMeta("status", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		f := faults.NewExternalService(serviceName, "directory throttled the lookup").
			WithMeta("status", resp.StatusCode)
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			f = f.WithMeta("retry_after", retryAfter)
		}
		return nil, f
	default:
		return nil, faults.NewExternalService(serviceName,
			"directory returned unexpected status %d", resp.StatusCode).
			WithMeta("status", resp.StatusCode)
	}
}

func (c *HTTPClient) decodeCustomer(body io.Reader) (*Customer, error) {
	var customer Customer
	if err := json.NewDecoder(io.LimitReader(body, maxResponseSize)).Decode(&customer); err != nil {
		return nil, faults.NewExternalService(serviceName, "directory returned a malformed body").WithCause(err)
	}
	if customer.ID == 0 {
		return nil, faults.NewExternalService(serviceName, "directory returned a record without an id")
	}
	return &customer, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
