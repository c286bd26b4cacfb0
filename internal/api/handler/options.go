package handler

import (
	"fmt"
	"strconv"

	"github.com/timmy/ipenrich/internal/domain"
)

// parseOptions reads the include_* flags through get. A flag that is not
// supplied defaults to enabled.
func parseOptions(get func(key string) (string, bool)) (domain.EnrichmentOptions, error) {
	opts := domain.AllEnrichments()
	flags := []struct {
		key    string
		target *bool
	}{
		{"include_geolocation", &opts.IncludeGeolocation},
		{"include_domain", &opts.IncludeDomain},
		{"include_company", &opts.IncludeCompany},
		{"include_network", &opts.IncludeNetwork},
	}
	for _, f := range flags {
		raw, ok := get(f.key)
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, fmt.Errorf("%s must be a boolean", f.key)
		}
		*f.target = v
	}
	return opts, nil
}
