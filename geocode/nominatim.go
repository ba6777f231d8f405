// Package geocode resolves CDMX addresses and coordinates through the
// OpenStreetMap Nominatim API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"
	"golang.org/x/time/rate"

	"polpi-mx/services"
	"polpi-mx/utils"
)

const (
	DefaultBaseURL = "https://nominatim.openstreetmap.org"
	DefaultCity    = "Ciudad de México"
	UserAgent      = "Polpi-MX/1.0 (Real Estate Analysis Tool)"

	// cdmxViewbox bounds /search results to Mexico City (lon,lat,lon,lat).
	cdmxViewbox = "-99.36,19.59,-98.94,19.05"

	cacheGeohashChars = 8
)

// Result is a resolved location.
type Result struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Address     string  `json:"address"`
	Colonia     string  `json:"colonia,omitempty"`
	City        string  `json:"city,omitempty"`
	Delegacion  string  `json:"delegacion,omitempty"`
	DisplayName string  `json:"display_name"`
}

// Options configures a Client. Zero values fall back to Nominatim's public
// endpoint, one request per second and three attempts.
type Options struct {
	BaseURL    string
	RPS        float64
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// Client talks to Nominatim. It is safe for concurrent use; requests are
// serialised by the rate limiter.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	retry   *utils.RetryConfig
	logger  *utils.Logger

	mu    sync.Mutex
	cache map[string]*Result
}

// New creates a Client.
func New(opts Options, logger *utils.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/"),
		http:    opts.HTTPClient,
		limiter: rate.NewLimiter(limit, 1),
		retry: &utils.RetryConfig{
			MaxAttempts: opts.MaxRetries,
			BaseDelay:   opts.RetryDelay,
			MaxDelay:    10 * time.Second,
			Logger:      logger,
		},
		logger: logger,
		cache:  make(map[string]*Result),
	}
}

type nominatimAddress struct {
	Road          string `json:"road"`
	HouseNumber   string `json:"house_number"`
	Suburb        string `json:"suburb"`
	Neighbourhood string `json:"neighbourhood"`
	City          string `json:"city"`
	Town          string `json:"town"`
	CityDistrict  string `json:"city_district"`
	StateDistrict string `json:"state_district"`
}

type nominatimPlace struct {
	Lat         string           `json:"lat"`
	Lon         string           `json:"lon"`
	DisplayName string           `json:"display_name"`
	Address     nominatimAddress `json:"address"`
}

func (p *nominatimPlace) result(address, fallbackCity string) (*Result, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return nil, utils.Wrap(utils.ErrParse, "nominatim lat", err)
	}
	lng, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return nil, utils.Wrap(utils.ErrParse, "nominatim lon", err)
	}
	return &Result{
		Lat:         lat,
		Lng:         lng,
		Address:     address,
		Colonia:     firstOf(p.Address.Suburb, p.Address.Neighbourhood),
		City:        firstOf(p.Address.City, p.Address.Town, fallbackCity),
		Delegacion:  firstOf(p.Address.CityDistrict, p.Address.StateDistrict),
		DisplayName: p.DisplayName,
	}, nil
}

// Geocode resolves a street address or colonia inside city. An empty city
// means Ciudad de México. Only CDMX queries are bounded to the CDMX viewbox.
// A query with no match returns (nil, nil).
func (c *Client) Geocode(ctx context.Context, address, city string) (*Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, utils.NewError(utils.ErrInvalidInput, "empty address")
	}
	if city == "" {
		city = DefaultCity
	}
	q := fmt.Sprintf("%s, %s, México", address, city)
	key := "q:" + strings.ToLower(q)
	if r, ok := c.cached(key); ok {
		return r, nil
	}

	params := url.Values{
		"q":              {q},
		"format":         {"json"},
		"limit":          {"1"},
		"addressdetails": {"1"},
	}
	if services.CanonicalCity(city) == services.CanonicalCDMX {
		params.Set("bounded", "1")
		params.Set("viewbox", cdmxViewbox)
	}
	var places []nominatimPlace
	if err := c.get(ctx, "/search", params, &places); err != nil {
		return nil, err
	}

	var res *Result
	if len(places) > 0 {
		r, err := places[0].result(address, city)
		if err != nil {
			return nil, err
		}
		res = r
	}
	c.store(key, res)
	return res, nil
}

// Reverse resolves coordinates to the nearest address. Points that share a
// geohash cell share a cached answer.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (*Result, error) {
	key := pointKey(lat, lng)
	if r, ok := c.cached(key); ok {
		return r, nil
	}

	params := url.Values{
		"lat":            {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(lng, 'f', -1, 64)},
		"format":         {"json"},
		"addressdetails": {"1"},
	}
	var place struct {
		nominatimPlace
		Error string `json:"error"`
	}
	if err := c.get(ctx, "/reverse", params, &place); err != nil {
		return nil, err
	}
	if place.Error != "" {
		c.store(key, nil)
		return nil, nil
	}

	street := strings.TrimSpace(place.Address.Road + " " + place.Address.HouseNumber)
	if street == "" {
		street = place.DisplayName
	}
	res := &Result{
		Lat:         lat,
		Lng:         lng,
		Address:     street,
		Colonia:     firstOf(place.Address.Suburb, place.Address.Neighbourhood),
		City:        firstOf(place.Address.City, place.Address.Town, DefaultCity),
		Delegacion:  firstOf(place.Address.CityDistrict, place.Address.StateDistrict),
		DisplayName: place.DisplayName,
	}
	c.store(key, res)
	return res, nil
}

// SearchColonia looks a neighborhood up by name, trying the "Colonia X"
// form before the bare name.
func (c *Client) SearchColonia(ctx context.Context, name string) (*Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, utils.NewError(utils.ErrInvalidInput, "empty colonia name")
	}
	for _, q := range []string{"Colonia " + name, name} {
		r, err := c.Geocode(ctx, q, DefaultCity)
		if err != nil || r != nil {
			return r, err
		}
	}
	return nil, nil
}

// Lookup accepts either "lat, lng" or free text and resolves it.
func (c *Client) Lookup(ctx context.Context, input string) (*Result, error) {
	address, coords := ParseInput(input)
	if coords != nil {
		return c.Reverse(ctx, coords[0], coords[1])
	}
	return c.Geocode(ctx, address, DefaultCity)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.base + path + "?" + params.Encode()
	op := "nominatim " + path

	err := c.retry.DoContext(ctx, op, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return utils.Wrap(utils.ErrParse, "decode "+path, err)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if utils.IsKind(err, utils.ErrParse) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return utils.Wrap(utils.ErrUpstream, op, err)
}

func (c *Client) cached(key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.cache[key]
	return r, ok
}

func (c *Client) store(key string, r *Result) {
	c.mu.Lock()
	c.cache[key] = r
	c.mu.Unlock()
}

func pointKey(lat, lng float64) string {
	return "gh:" + geohash.EncodeWithPrecision(lat, lng, cacheGeohashChars)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
