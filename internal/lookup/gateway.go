package lookup

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang/geo/s2"
	"github.com/timmy/ipenrich/internal/logger"
)

const geoFields = "status,message,country,regionName,city,lat,lon,isp,org,as,query"

// GeoOrg is the combined geolocation and organization answer for one address.
type GeoOrg struct {
	Country   string
	City      string
	Region    string
	Latitude  float64
	Longitude float64
	ISP       *string
	Org       *string
	ASN       string
}

// Resolver performs PTR lookups. *net.Resolver satisfies it.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// Config holds Gateway settings.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	DNSTimeout time.Duration
	Retries    int
	Limiter    *Limiter
	Resolver   Resolver
}

// Gateway talks to an ip-api.com compatible geolocation provider and the
// system resolver.
type Gateway struct {
	client     *resty.Client
	limiter    *Limiter
	resolver   Resolver
	dnsTimeout time.Duration
}

type geoResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	ISP        string  `json:"isp"`
	Org        string  `json:"org"`
	AS         string  `json:"as"`
}

// NewGateway creates a Gateway. The limiter gates every HTTP attempt,
// retries included.
func NewGateway(cfg Config) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dnsTimeout := cfg.DNSTimeout
	if dnsTimeout <= 0 {
		dnsTimeout = 2 * time.Second
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	g := &Gateway{
		limiter:    cfg.Limiter,
		resolver:   resolver,
		dnsTimeout: dnsTimeout,
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	client.SetLogger(logger.GetDefault().WithField(logger.FieldComponent, "lookup"))
	if cfg.Retries > 0 {
		client.SetRetryCount(cfg.Retries)
		client.SetRetryWaitTime(200 * time.Millisecond)
		client.SetRetryMaxWaitTime(2 * time.Second)
		client.AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	}
	client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		return g.limiter.Wait(r.Context())
	})
	client.OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
		g.observeQuota(r.Header())
		return nil
	})
	g.client = client

	return g
}

// FetchGeoOrg returns location and organization data for ip. Failures are
// reported as *Error.
func (g *Gateway) FetchGeoOrg(ctx context.Context, ip string) (*GeoOrg, error) {
	start := time.Now()
	var body geoResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("fields", geoFields).
		SetResult(&body).
		ForceContentType("application/json").
		Get("/json/" + url.PathEscape(ip))
	if err != nil {
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldIP:         ip,
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
		}).WithError(err).Debug("Geolocation request failed")
		return nil, &Error{Reason: ReasonNetwork, Err: err}
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, &Error{Reason: ReasonRateLimited}
	case resp.StatusCode() < 200 || resp.StatusCode() >= 300:
		return nil, &Error{Reason: fmt.Sprintf("HTTP %d", resp.StatusCode())}
	}

	if body.Status != "success" {
		reason := body.Message
		if reason == "" {
			reason = "lookup failed"
		}
		return nil, &Error{Reason: reason}
	}
	if !s2.LatLngFromDegrees(body.Lat, body.Lon).IsValid() {
		return nil, &Error{Reason: ReasonInvalidCoordinates}
	}

	return &GeoOrg{
		Country:   body.Country,
		City:      body.City,
		Region:    body.RegionName,
		Latitude:  body.Lat,
		Longitude: body.Lon,
		ISP:       nonEmpty(body.ISP),
		Org:       nonEmpty(body.Org),
		ASN:       parseASN(body.AS),
	}, nil
}

// ReverseDNS returns the first PTR name for ip, or nil when there is none or
// the lookup fails for any reason.
func (g *Gateway) ReverseDNS(ctx context.Context, ip string) *string {
	ctx, cancel := context.WithTimeout(ctx, g.dnsTimeout)
	defer cancel()

	names, err := g.resolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return nil
	}
	return nonEmpty(strings.TrimSuffix(names[0], "."))
}

// observeQuota pauses the limiter when the provider says the window is spent.
func (g *Gateway) observeQuota(h http.Header) {
	remaining, err := strconv.Atoi(h.Get("X-Rl"))
	if err != nil || remaining > 0 {
		return
	}
	ttl, err := strconv.Atoi(h.Get("X-Ttl"))
	if err != nil {
		return
	}
	g.limiter.Pause(time.Duration(ttl) * time.Second)
}

// parseASN extracts "AS7922" from "AS7922 Comcast Cable Communications, LLC".
func parseASN(as string) string {
	fields := strings.Fields(as)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
