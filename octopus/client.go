package octopus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angas/agile-export/rates"
	"github.com/angas/agile-export/slots"
)

const (
	DefaultBaseURL = "https://api.octopus.energy"
	DefaultTimeout = 10 * time.Second

	contentType = "application/json; charset=UTF-8"
	maxPages    = 20
)

// Client reads product and tariff data from the Octopus Energy REST API.
// The public endpoints used here need no authentication.
type Client struct {
	BaseURL string
	Timeout time.Duration // Budget for each request, including reading the body
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client using httpClient as its session, nil means a new
// default client. An empty baseURL means DefaultBaseURL.
func New(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: DefaultTimeout,
		http:    httpClient,
		logger:  slog.Default().With("module", "octopus"),
	}
}

// Close releases idle connections held by the underlying session.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// DiscoverExportProduct finds the variable rate export product and resolves
// its monthly direct debit tariff code for every region.
//
// When several export products are listed the first one wins. This is a
// best-effort tie-break, the API does not say which one is current.
func (c *Client) DiscoverExportProduct(ctx context.Context) (Product, error) {
	var products productsResponse
	if err := c.getJSON(ctx, c.BaseURL+"/v1/products/?is_variable=true", &products); err != nil {
		return Product{}, err
	}
	if products.Results == nil {
		return Product{}, &DecodeError{URL: c.BaseURL + "/v1/products/", Err: errors.New("missing results")}
	}

	var export *productEntry
	for i, p := range products.Results {
		switch p.Direction {
		case directionExport:
			if export == nil {
				export = &products.Results[i]
			} else {
				c.logger.Warn("more than one export product listed, using the first",
					slog.String("using", export.Code),
					slog.String("ignored", p.Code))
			}
		case directionImport:
		default:
			c.logger.Debug("product with unknown direction", slog.String("code", p.Code), slog.String("direction", p.Direction))
		}
	}
	if export == nil || export.Code == "" {
		return Product{}, fmt.Errorf("%w: no export product listed", ErrProductDiscovery)
	}

	detailURL := fmt.Sprintf("%s/v1/products/%s/", c.BaseURL, url.PathEscape(export.Code))
	var detail productDetailResponse
	if err := c.getJSON(ctx, detailURL, &detail); err != nil {
		return Product{}, err
	}
	if detail.ElectricityTariffs == nil {
		return Product{}, &DecodeError{URL: detailURL, Err: errors.New("missing single_register_electricity_tariffs")}
	}

	tariffs := make(map[Region]string, len(regions))
	for _, region := range Regions() {
		entry, ok := detail.ElectricityTariffs["_"+string(region)]
		if !ok || entry.DirectDebitMonthly == nil || entry.DirectDebitMonthly.Code == "" {
			return Product{}, fmt.Errorf("%w: product %s has no direct debit tariff for region %s", ErrProductDiscovery, export.Code, region)
		}
		tariffs[region] = entry.DirectDebitMonthly.Code
	}

	c.logger.Debug("discovered export product", slog.String("code", export.Code), slog.String("name", export.DisplayName))

	return Product{
		Code:        export.Code,
		DisplayName: export.DisplayName,
		TariffCodes: tariffs,
	}, nil
}

// FetchRates returns the published half hourly unit rates of the tariff,
// prices converted from pence to pounds.
func (c *Client) FetchRates(ctx context.Context, tariff Tariff) (*rates.Table, error) {
	next := fmt.Sprintf("%s/v1/products/%s/electricity-tariffs/%s/standard-unit-rates",
		c.BaseURL,
		url.PathEscape(tariff.ProductCode),
		url.PathEscape(tariff.TariffCode))

	var result []rates.Rate
	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return nil, &DecodeError{URL: next, Err: fmt.Errorf("more than %d pages", maxPages)}
		}

		pageURL := next
		var body unitRatesResponse
		if err := c.getJSON(ctx, pageURL, &body); err != nil {
			return nil, err
		}
		if body.Results == nil {
			return nil, &DecodeError{URL: pageURL, Err: errors.New("missing results")}
		}

		for i, entry := range body.Results {
			if entry.ValidFrom == nil || entry.ValueIncVat == nil {
				return nil, &DecodeError{URL: pageURL, Err: fmt.Errorf("result %d: missing valid_from or value_inc_vat", i)}
			}
			start, err := slots.ParseIso(*entry.ValidFrom)
			if err != nil {
				return nil, &DecodeError{URL: pageURL, Err: fmt.Errorf("result %d: %w", i, err)}
			}
			result = append(result, rates.Rate{
				Start: start,
				Price: rates.FromMinorUnits(*entry.ValueIncVat),
			})
		}

		next = ""
		if body.Next != nil {
			next = *body.Next
		}
	}

	return rates.New(result), nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return fmt.Errorf("%w: GET %s", ErrTimeout, url)
		}
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if isTimeout(ctx, err) {
			return fmt.Errorf("%w: reading %s", ErrTimeout, url)
		}
		return &DecodeError{URL: url, Err: err}
	}

	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
