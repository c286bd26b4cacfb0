package service

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/timmy/ipenrich/internal/classifier"
	"github.com/timmy/ipenrich/internal/domain"
	"github.com/timmy/ipenrich/internal/ipaddr"
	"github.com/timmy/ipenrich/internal/lookup"
	"github.com/timmy/ipenrich/internal/source"
)

func newTestEnricher(g *fakeGateway) *RowEnricher {
	return NewRowEnricher(g, ipaddr.Validator{}, classifier.New(classifier.DefaultKeywords))
}

func TestEnrichAllGroups(t *testing.T) {
	g := newFakeGateway()
	e := newTestEnricher(g)

	row := source.Row{Index: 0, Fields: domain.RowData{{Name: "ip", Value: "8.8.8.8"}}}
	got := e.Enrich(context.Background(), row, "ip", domain.AllEnrichments())

	if !got.Success || got.Error != nil {
		t.Fatalf("expected success, got %+v", got)
	}
	if got.Geolocation == nil || got.Geolocation.City != "Mountain View" || got.Geolocation.Latitude != 37.386 {
		t.Errorf("unexpected geolocation: %+v", got.Geolocation)
	}
	if got.Domain == nil || got.Domain.Name == nil || *got.Domain.Name != "host-8-8-8-8.example.net" {
		t.Errorf("unexpected domain: %+v", got.Domain)
	}
	if got.Company == nil || got.Company.Name != "Google Public DNS" || got.Company.ISPFiltered {
		t.Errorf("unexpected company: %+v", got.Company)
	}
	if got.Network == nil || got.Network.ISP != "Google LLC" || got.Network.ASN != "AS15169" {
		t.Errorf("unexpected network: %+v", got.Network)
	}
	if got.ConsumerISP {
		t.Error("business network must not be classified as consumer ISP")
	}

	// Outcomes survive their persisted JSON form unchanged.
	raw, err := json.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	var decoded domain.EnrichmentOutcome
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(decoded, got) {
		t.Errorf("decoded outcome differs:\n got  %+v\n want %+v", decoded, got)
	}
}

func TestEnrichOmitsUnrequestedGroups(t *testing.T) {
	g := newFakeGateway()
	e := newTestEnricher(g)

	got := e.EnrichAddress(context.Background(), "73.1.2.3", domain.EnrichmentOptions{})
	if !got.Success {
		t.Fatalf("expected success, got %+v", got)
	}
	if got.Geolocation != nil || got.Domain != nil || got.Company != nil || got.Network != nil {
		t.Errorf("expected no groups, got %+v", got)
	}
	if !got.ConsumerISP {
		t.Error("consumer ISP must be classified even when company is not requested")
	}
	if g.dnsCalls != 0 {
		t.Errorf("reverse DNS should not run without the domain flag, ran %d times", g.dnsCalls)
	}
}

func TestEnrichInvalidAddressSkipsNetwork(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "octet out of range", raw: "999.999.999.999", want: "999.999.999.999"},
		{name: "empty", raw: "", want: ""},
		{name: "whitespace", raw: "   ", want: ""},
		{name: "not an address", raw: "localhost", want: "localhost"},
		{name: "ipv6 disabled", raw: "2001:4860:4860::8888", want: "2001:4860:4860::8888"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newFakeGateway()
			e := newTestEnricher(g)

			got := e.EnrichAddress(context.Background(), tt.raw, domain.AllEnrichments())
			if got.Success {
				t.Fatal("expected failure")
			}
			if got.ErrorMessage() != domain.ErrInvalidIP {
				t.Errorf("error = %q, want %q", got.ErrorMessage(), domain.ErrInvalidIP)
			}
			if got.IP != tt.want {
				t.Errorf("ip = %q, want %q", got.IP, tt.want)
			}
			if g.calls() != 0 {
				t.Errorf("expected no lookups, got %d", g.calls())
			}
		})
	}
}

func TestEnrichMissingColumnIsInvalid(t *testing.T) {
	g := newFakeGateway()
	e := newTestEnricher(g)

	row := source.Row{Fields: domain.RowData{{Name: "name", Value: "acme"}}}
	got := e.Enrich(context.Background(), row, "ip", domain.AllEnrichments())
	if got.Success || got.ErrorMessage() != domain.ErrInvalidIP {
		t.Errorf("expected invalid IP failure, got %+v", got)
	}
}

func TestEnrichLookupFailureCarriesReasonOnly(t *testing.T) {
	g := newFakeGateway()
	g.failures["8.8.4.4"] = &lookup.Error{Reason: lookup.ReasonRateLimited}
	e := newTestEnricher(g)

	got := e.EnrichAddress(context.Background(), "8.8.4.4", domain.AllEnrichments())
	if got.Success {
		t.Fatal("expected failure")
	}
	if got.ErrorMessage() != lookup.ReasonRateLimited {
		t.Errorf("error = %q", got.ErrorMessage())
	}
	if got.Geolocation != nil || got.Domain != nil || got.Company != nil || got.Network != nil || got.ConsumerISP {
		t.Errorf("failed outcome must not carry enrichment data: %+v", got)
	}
}

func TestEnrichNoPTRIsNotAnError(t *testing.T) {
	g := newFakeGateway()
	g.noPTR["1.1.1.1"] = true
	e := newTestEnricher(g)

	got := e.EnrichAddress(context.Background(), "1.1.1.1", domain.EnrichmentOptions{IncludeDomain: true})
	if !got.Success {
		t.Fatalf("expected success, got %+v", got)
	}
	if got.Domain == nil {
		t.Fatal("domain group should be present when requested")
	}
	if got.Domain.Name != nil {
		t.Errorf("expected nil domain name, got %q", *got.Domain.Name)
	}
}

type orglessGateway struct{ *fakeGateway }

func (g orglessGateway) FetchGeoOrg(ctx context.Context, ip string) (*lookup.GeoOrg, error) {
	geo, err := g.fakeGateway.FetchGeoOrg(ctx, ip)
	if err != nil {
		return nil, err
	}
	geo.Org = nil
	return geo, nil
}

func TestEnrichCompanyFallsBackToISP(t *testing.T) {
	e := NewRowEnricher(orglessGateway{newFakeGateway()}, ipaddr.Validator{}, classifier.New(classifier.DefaultKeywords))

	got := e.EnrichAddress(context.Background(), "8.8.8.8", domain.EnrichmentOptions{IncludeCompany: true})
	if got.Company == nil || got.Company.Name != "Google LLC" {
		t.Errorf("expected company to fall back to ISP, got %+v", got.Company)
	}
}
