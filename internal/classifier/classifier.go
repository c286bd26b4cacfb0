package classifier

import "strings"

// DefaultKeywords seeds the configuration default for residential ISP
// fragments. Matching is substring based, so short fragments such as "bt"
// are deliberately broad.
var DefaultKeywords = []string{
	"comcast",
	"verizon",
	"at&t",
	"telstra",
	"bt",
	"cox",
	"spectrum",
	"vodafone",
	"charter",
	"t-mobile",
	"sprint",
	"centurylink",
	"frontier",
	"optimum",
	"xfinity",
	"rogers",
	"bell canada",
	"telus",
	"shaw",
	"virgin media",
	"sky broadband",
	"talktalk",
	"orange",
	"deutsche telekom",
	"telefonica",
	"movistar",
	"optus",
	"tpg",
	"jio",
	"airtel",
}

// Classifier decides whether an ISP or organization name belongs to a
// common consumer ISP.
type Classifier struct {
	keywords []string
}

// New builds a Classifier from keywords. Keywords are lowercased and
// trimmed; blanks and duplicates are dropped.
func New(keywords []string) *Classifier {
	seen := make(map[string]struct{}, len(keywords))
	normalized := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		normalized = append(normalized, kw)
	}
	return &Classifier{keywords: normalized}
}

// Keywords returns the normalized keyword set.
func (c *Classifier) Keywords() []string {
	return append([]string(nil), c.keywords...)
}

// IsConsumerISP reports whether isp or org contains any keyword,
// case-insensitively. Nil or empty names never match.
func (c *Classifier) IsConsumerISP(isp, org *string) bool {
	if c == nil {
		return false
	}
	return c.matches(isp) || c.matches(org)
}

func (c *Classifier) matches(name *string) bool {
	if name == nil || *name == "" {
		return false
	}
	lower := strings.ToLower(*name)
	for _, kw := range c.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
