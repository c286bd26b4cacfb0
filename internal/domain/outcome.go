package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// ErrInvalidIP is the row error recorded when the address column is missing
// or does not hold a valid address.
const ErrInvalidIP = "Invalid IP address"

// Geolocation is present on an outcome only when geolocation was requested.
type Geolocation struct {
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Region    string  `json:"region"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DomainInfo is present when domain enrichment was requested. A nil Name
// means the address has no PTR record, which is not an error.
type DomainInfo struct {
	Name *string `json:"name"`
}

// CompanyInfo is present when company enrichment was requested.
type CompanyInfo struct {
	Name        string `json:"name"`
	ISPFiltered bool   `json:"isp_filtered"`
}

// NetworkInfo is present when network enrichment was requested.
type NetworkInfo struct {
	ISP string `json:"isp"`
	ASN string `json:"asn"`
}

// EnrichmentOutcome is the immutable result of enriching one row.
//
// A failed outcome carries only IP and Error. A successful outcome carries
// exactly the groups enabled on the job; a nil group means "not requested".
// ConsumerISP is computed on every success regardless of flags because the
// filtered artifact depends on it.
type EnrichmentOutcome struct {
	IP          string       `json:"ip"`
	Success     bool         `json:"success"`
	Error       *string      `json:"error,omitempty"`
	Geolocation *Geolocation `json:"geolocation,omitempty"`
	Domain      *DomainInfo  `json:"domain,omitempty"`
	Company     *CompanyInfo `json:"company,omitempty"`
	Network     *NetworkInfo `json:"network,omitempty"`
	ConsumerISP bool         `json:"consumer_isp"`
}

// FailedOutcome builds a failed outcome for ip with the given reason.
func FailedOutcome(ip, reason string) EnrichmentOutcome {
	return EnrichmentOutcome{IP: ip, Success: false, Error: &reason}
}

// ErrorMessage returns the failure reason or an empty string.
func (o EnrichmentOutcome) ErrorMessage() string {
	if o.Error == nil {
		return ""
	}
	return *o.Error
}

// Value implements the driver.Valuer interface for database serialization.
func (o EnrichmentOutcome) Value() (driver.Value, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (o *EnrichmentOutcome) Scan(value interface{}) error {
	if value == nil {
		*o = EnrichmentOutcome{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan EnrichmentOutcome")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, o)
}
