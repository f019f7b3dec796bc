package utility

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/shopspring/decimal"

	"github.com/raterudder/loadshift/pkg/common"
	"github.com/raterudder/loadshift/pkg/log"
	"github.com/raterudder/loadshift/pkg/types"
)

const (
	octopusPeriodFormat = "2006-01-02T15:04:05Z"
	octopusPricePlaces  = 3
	// a day of half hour slots fits in one page but the feed is paginated
	// regardless, stop following next links after this many pages
	octopusMaxPages = 20
)

// Octopus implements the Provider interface for the Octopus Energy public
// tariff API. Agile tariffs publish a unit rate for every half hour slot.
type Octopus struct {
	apiURL  string
	product string
	tariff  string
	apiKey  string
	client  *http.Client
}

// configuredOctopus sets up flags for Octopus and returns the instance.
func configuredOctopus() *Octopus {
	o := &Octopus{}
	apiURL := lflag.String("octopus-api-url", "https://api.octopus.energy/v1", "Base URL for the Octopus Energy API")
	product := lflag.String("octopus-product", "AGILE-18-02-21", "Octopus product code")
	tariff := lflag.String("octopus-tariff", "E-1R-AGILE-18-02-21-K", "Octopus electricity tariff code")
	apiKey := lflag.String("octopus-api-key", "", "Octopus API key (optional, tariff prices are public)")
	timeout := lflag.Duration("octopus-timeout", 10*time.Second, "Timeout for each Octopus API request")

	lflag.Do(func() {
		o.apiURL = strings.TrimSuffix(*apiURL, "/")
		o.product = *product
		o.tariff = *tariff
		o.apiKey = *apiKey
		o.client = common.HTTPClient(*timeout)
	})

	return o
}

// Validate ensures the configuration is valid.
func (o *Octopus) Validate() error {
	if o.apiURL == "" {
		return fmt.Errorf("octopus-api-url is required")
	}
	if _, err := url.Parse(o.apiURL); err != nil {
		return fmt.Errorf("failed to parse octopus url (%s): %w", o.apiURL, err)
	}
	if o.product == "" || o.tariff == "" {
		return fmt.Errorf("octopus-product and octopus-tariff are required")
	}
	return nil
}

type octopusRate struct {
	ValueIncVAT decimal.Decimal `json:"value_inc_vat"`
	ValidFrom   time.Time       `json:"valid_from"`
	ValidTo     *time.Time      `json:"valid_to"`
}

type octopusResponse struct {
	Count   int           `json:"count"`
	Next    *string       `json:"next"`
	Results []octopusRate `json:"results"`
}

// ratesURL returns the first page URL for the given period.
func (o *Octopus) ratesURL(start, end time.Time) (string, error) {
	u, err := url.Parse(fmt.Sprintf(
		"%s/products/%s/electricity-tariffs/%s/standard-unit-rates/",
		o.apiURL,
		url.PathEscape(o.product),
		url.PathEscape(o.tariff),
	))
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	params := url.Values{}
	params.Set("period_from", start.UTC().Format(octopusPeriodFormat))
	params.Set("period_to", end.UTC().Format(octopusPeriodFormat))
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// GetPrices fetches the unit rates between start and end, following the
// feed's pagination. Each price is rounded to 3 decimal places.
func (o *Octopus) GetPrices(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	next, err := o.ratesURL(start, end)
	if err != nil {
		return nil, err
	}

	var prices []types.Price
	for page := 0; next != ""; page++ {
		if page >= octopusMaxPages {
			return nil, fmt.Errorf("octopus api returned more than %d pages", octopusMaxPages)
		}
		resp, err := o.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			p := types.Price{
				Provider:    "octopus",
				TSStart:     r.ValidFrom,
				PencePerKWH: r.ValueIncVAT.Round(octopusPricePlaces),
			}
			if r.ValidTo != nil {
				p.TSEnd = *r.ValidTo
			} else {
				p.TSEnd = r.ValidFrom.Add(30 * time.Minute)
			}
			prices = append(prices, p)
		}
		next = ""
		if resp.Next != nil {
			next = *resp.Next
		}
	}

	// the feed returns the latest slot first
	sort.SliceStable(prices, func(i, j int) bool {
		return prices[i].TSStart.Before(prices[j].TSStart)
	})

	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched octopus prices",
		slog.Int("count", len(prices)),
		slog.Time("start", start),
		slog.Time("end", end),
	)

	return prices, nil
}

func (o *Octopus) fetchPage(ctx context.Context, u string) (*octopusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if o.apiKey != "" {
		req.SetBasicAuth(o.apiKey, "")
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching prices from octopus", slog.String("url", u))

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("octopus api returned status: %d", resp.StatusCode)
	}

	var data octopusResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &data, nil
}
