package scorer

import "strings"

// DefaultAuthority is returned for domains absent from the authority table.
const DefaultAuthority = 0.5

type suffixTier struct {
	suffix string
	score  float64
}

// suffixTiers are checked in order after an exact-domain miss.
var suffixTiers = []suffixTier{
	{".gov", 1.0},
	{".edu", 1.0},
	{".ac.kr", 1.0},
	{".go.kr", 1.0},
	{".or.kr", 0.9},
}

var domainTiers = map[string]float64{
	// Major news / research
	"reuters.com":             0.85,
	"apnews.com":              0.85,
	"nature.com":              0.9,
	"sciencedirect.com":       0.9,
	"arxiv.org":               0.85,
	"pubmed.ncbi.nlm.nih.gov": 0.9,
	"nytimes.com":             0.8,
	"washingtonpost.com":      0.8,
	"bbc.com":                 0.8,
	"bbc.co.uk":               0.8,
	"economist.com":           0.8,
	"ft.com":                  0.8,
	"bloomberg.com":           0.8,
	"wsj.com":                 0.8,
	"techcrunch.com":          0.75,
	"theverge.com":            0.7,
	"arstechnica.com":         0.75,
	"wired.com":               0.7,

	// Korean major media
	"chosun.com":   0.75,
	"donga.com":    0.75,
	"hani.co.kr":   0.75,
	"khan.co.kr":   0.75,
	"mk.co.kr":     0.7,
	"hankyung.com": 0.7,
	"yna.co.kr":    0.8,

	// Reference
	"wikipedia.org": 0.6,
	"namu.wiki":     0.4,

	// Blogs / user-generated
	"medium.com":     0.4,
	"tistory.com":    0.35,
	"velog.io":       0.35,
	"brunch.co.kr":   0.4,
	"blog.naver.com": 0.3,
	"reddit.com":     0.3,
}

// DomainAuthority returns the authority score (0-1) of a bare domain:
// exact match, then institutional suffix, then parent domain, else 0.5.
func DomainAuthority(domain string) float64 {
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")

	if score, ok := domainTiers[domain]; ok {
		return score
	}

	for _, t := range suffixTiers {
		if strings.HasSuffix(domain, t.suffix) {
			return t.score
		}
	}

	parts := strings.Split(domain, ".")
	if len(parts) > 2 {
		parent := strings.Join(parts[len(parts)-2:], ".")
		if score, ok := domainTiers[parent]; ok {
			return score
		}
	}

	return DefaultAuthority
}
