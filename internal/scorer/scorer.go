// Package scorer assigns reliability scores and content types to sources
// discovered by web search.
package scorer

import (
	"math"
	"strings"
	"time"

	"github.com/sells-group/deep-research/internal/model"
	"github.com/sells-group/deep-research/internal/urlnorm"
)

// DefaultMinScore is the reliability floor applied by Filter.
const DefaultMinScore = 0.2

// Weights of the reliability formula.
const (
	authorityWeight = 0.5
	freshnessWeight = 0.3
	crossValidBonus = 0.15
	baselineScore   = 0.05
)

// Scorer scores sources relative to a clock.
type Scorer struct {
	MinScore float64
	Now      func() time.Time
}

// New returns a Scorer with the given minimum score. A non-positive
// minimum uses DefaultMinScore.
func New(minScore float64) *Scorer {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &Scorer{MinScore: minScore, Now: time.Now}
}

// Score computes min(1, authority*0.5 + freshness*0.3 + 0.15·crossValidated + 0.05).
func (s *Scorer) Score(rawURL, pageAge string, crossValidated bool) float64 {
	auth := DomainAuthority(urlnorm.Domain(rawURL))
	fresh := Freshness(pageAge, s.now())

	score := auth*authorityWeight + fresh*freshnessWeight + baselineScore
	if crossValidated {
		score += crossValidBonus
	}
	return math.Min(1, score)
}

// Apply scores and classifies every source in place.
func (s *Scorer) Apply(sources []model.Source) {
	for i := range sources {
		src := &sources[i]
		src.ReliabilityScore = s.Score(src.URL, src.PageAge, src.CrossValidated)
		if src.SourceType == "" {
			src.SourceType = Classify(src.URL)
		}
	}
}

// Filter returns the sources scoring at least MinScore.
func (s *Scorer) Filter(sources []model.Source) []model.Source {
	out := make([]model.Source, 0, len(sources))
	for _, src := range sources {
		if src.ReliabilityScore >= s.MinScore {
			out = append(out, src)
		}
	}
	return out
}

func (s *Scorer) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

var academicMarkers = []string{
	"arxiv.org", "pubmed", "scholar.google", "sciencedirect",
	"nature.com", "springer.com", "ieee.org", "acm.org",
}

var newsDomains = []string{
	"reuters.com", "apnews.com", "bbc.com", "bbc.co.uk",
	"nytimes.com", "washingtonpost.com", "bloomberg.com", "wsj.com",
	"ft.com", "economist.com", "techcrunch.com", "theverge.com",
	"arstechnica.com", "wired.com", "cnn.com", "cnbc.com",
	"chosun.com", "donga.com", "hani.co.kr", "khan.co.kr",
	"mk.co.kr", "hankyung.com", "yna.co.kr", "yonhapnews.co.kr",
}

var blogDomains = []string{
	"medium.com", "tistory.com", "velog.io", "brunch.co.kr",
	"blog.naver.com", "wordpress.com", "substack.com", "dev.to",
	"namu.wiki", "wikipedia.org",
}

// Classify derives the content type of a source from its domain.
func Classify(rawURL string) model.SourceType {
	domain := urlnorm.Domain(rawURL)
	if domain == "" {
		return model.SourceOther
	}

	if strings.HasSuffix(domain, ".edu") || strings.HasSuffix(domain, ".ac.kr") || containsAny(domain, academicMarkers) {
		return model.SourceAcademic
	}

	for _, suffix := range []string{".gov", ".go.kr", ".or.kr", ".org"} {
		if strings.HasSuffix(domain, suffix) {
			return model.SourceOfficial
		}
	}

	for _, nd := range newsDomains {
		if domain == nd || strings.HasSuffix(domain, "."+nd) {
			return model.SourceNews
		}
	}

	if containsAny(domain, blogDomains) {
		return model.SourceBlog
	}

	return model.SourceOther
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
