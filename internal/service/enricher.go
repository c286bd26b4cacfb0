package service

import (
	"context"
	"errors"
	"strings"

	"github.com/timmy/ipenrich/internal/classifier"
	"github.com/timmy/ipenrich/internal/domain"
	"github.com/timmy/ipenrich/internal/ipaddr"
	"github.com/timmy/ipenrich/internal/lookup"
	"github.com/timmy/ipenrich/internal/source"
)

// LookupGateway is the network side of enrichment. FetchGeoOrg failures end
// the row; ReverseDNS never fails and returns nil when nothing resolves.
type LookupGateway interface {
	FetchGeoOrg(ctx context.Context, ip string) (*lookup.GeoOrg, error)
	ReverseDNS(ctx context.Context, ip string) *string
}

// RowEnricher turns one row into an EnrichmentOutcome. Row-level errors are
// captured in the outcome and never returned.
type RowEnricher struct {
	gateway    LookupGateway
	validator  ipaddr.Validator
	classifier *classifier.Classifier
}

// NewRowEnricher creates a RowEnricher.
func NewRowEnricher(gateway LookupGateway, validator ipaddr.Validator, c *classifier.Classifier) *RowEnricher {
	return &RowEnricher{
		gateway:    gateway,
		validator:  validator,
		classifier: c,
	}
}

// Enrich enriches the address found in row[ipColumn].
func (e *RowEnricher) Enrich(ctx context.Context, row source.Row, ipColumn string, opts domain.EnrichmentOptions) domain.EnrichmentOutcome {
	raw, _ := row.Get(ipColumn)
	return e.EnrichAddress(ctx, raw, opts)
}

// EnrichAddress enriches a single address.
func (e *RowEnricher) EnrichAddress(ctx context.Context, raw string, opts domain.EnrichmentOptions) domain.EnrichmentOutcome {
	ip := strings.TrimSpace(raw)
	if ip == "" || !e.validator.IsValid(ip) {
		return domain.FailedOutcome(ip, domain.ErrInvalidIP)
	}

	geo, err := e.gateway.FetchGeoOrg(ctx, ip)
	if err != nil {
		return domain.FailedOutcome(ip, lookupReason(err))
	}

	outcome := domain.EnrichmentOutcome{IP: ip}
	if opts.IncludeGeolocation {
		outcome.Geolocation = &domain.Geolocation{
			Country:   geo.Country,
			City:      geo.City,
			Region:    geo.Region,
			Latitude:  geo.Latitude,
			Longitude: geo.Longitude,
		}
	}
	if opts.IncludeDomain {
		outcome.Domain = &domain.DomainInfo{Name: e.gateway.ReverseDNS(ctx, ip)}
	}

	outcome.ConsumerISP = e.classifier.IsConsumerISP(geo.ISP, geo.Org)

	if opts.IncludeCompany {
		outcome.Company = &domain.CompanyInfo{
			Name:        companyName(geo),
			ISPFiltered: outcome.ConsumerISP,
		}
	}
	if opts.IncludeNetwork {
		outcome.Network = &domain.NetworkInfo{
			ISP: deref(geo.ISP),
			ASN: geo.ASN,
		}
	}

	outcome.Success = true
	return outcome
}

func lookupReason(err error) string {
	var lerr *lookup.Error
	if errors.As(err, &lerr) {
		return lerr.Reason
	}
	return err.Error()
}

// companyName prefers the registered organization and falls back to the ISP
// when the provider leaves org empty.
func companyName(geo *lookup.GeoOrg) string {
	if geo.Org != nil {
		return *geo.Org
	}
	return deref(geo.ISP)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
