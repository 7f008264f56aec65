package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/deep-research/internal/metrics"
	"github.com/sells-group/deep-research/internal/model"
	"github.com/sells-group/deep-research/internal/search"
)

const (
	claimsContentBudget = 10000
	claimPrefixRunes    = 30
	minClaimRunes       = 10
	defaultMaxClaims    = 5
)

var claimPrefixRe = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)

// verifyOrder fixes the slot of each provider in Grade's input.
var verifyOrder = [3]model.Provider{model.ProviderOpenAI, model.ProviderAnthropic, model.ProviderGemini}

// ParseClaims turns a numbered list into claims. Numbering and bullets are
// stripped and lines of 10 runes or fewer dropped; at most limit are kept.
func ParseClaims(text string, limit int) []string {
	var claims []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(claimPrefixRe.ReplaceAllString(line, ""))
		if utf8.RuneCountInString(line) <= minClaimRunes {
			continue
		}
		claims = append(claims, line)
		if limit > 0 && len(claims) == limit {
			break
		}
	}
	return claims
}

// AttributePhase returns the phase whose task content contains the first
// 30 runes of claim. Later phases win; the default is phase 1.
func AttributePhase(claim string, tasks []model.PhaseTask) int {
	prefix := truncate(claim, claimPrefixRunes)
	phase := 1
	for _, t := range tasks {
		if strings.Contains(t.Content, prefix) {
			phase = t.Phase
		}
	}
	return phase
}

// FactCheck extracts the key claims of the analysis and verifies each one
// against every provider.
func (p *Pipeline) FactCheck(ctx context.Context, run *runState) ([]model.FactCheckItem, error) {
	limit := p.cfg.Pipeline.MaxClaims
	if limit <= 0 {
		limit = defaultMaxClaims
	}

	system, user, err := p.prompts.claims.render(claimsPromptData{
		Topic:   run.ac.Topic,
		Count:   limit,
		Content: truncate(run.ac.AllContent(), claimsContentBudget),
	})
	if err != nil {
		return nil, err
	}
	gen, err := p.gen.generate(ctx, run.tracker, p.cfg.Anthropic.SonnetModel, maxTokensClaims, system, user)
	if err != nil {
		return nil, err
	}

	claims := ParseClaims(gen.Text, limit)
	run.emit(model.Event{
		Type:    model.EventFactCheckStart,
		Message: fmt.Sprintf("%d개 핵심 주장 추출 완료, 3사 교차 검증 시작", len(claims)),
	})

	window := p.cfg.Pipeline.FactCheckConcurrency
	if window <= 0 {
		window = 3
	}

	items := make([]model.FactCheckItem, len(claims))
	var g errgroup.Group
	g.SetLimit(window)
	for i, claim := range claims {
		g.Go(func() error {
			run.emit(model.Event{
				Type:    model.EventFactCheckStart,
				Message: fmt.Sprintf("주장 %d/%d 검증 중: %s...", i+1, len(claims), truncate(claim, 60)),
			})
			items[i] = p.verifyClaim(ctx, run, claim)
			return nil
		})
	}
	_ = g.Wait()

	for _, it := range items {
		metrics.FactCheckGrades.WithLabelValues(string(it.Grade)).Inc()
	}
	return items, nil
}

// verifyClaim queries every provider in parallel in verify mode and grades
// their agreement.
func (p *Pipeline) verifyClaim(ctx context.Context, run *runState, claim string) model.FactCheckItem {
	var (
		mu      sync.Mutex
		results = make(map[model.Provider]*search.Result, len(verifyOrder))
		wg      sync.WaitGroup
	)
	for _, prov := range p.providers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := p.search.Search(ctx, prov, search.Options{
				Query:    claim,
				Mode:     search.ModeVerify,
				Language: model.LangBoth,
			})
			if r != nil {
				run.tracker.Record(prov, r.Model, r.Usage)
			}
			mu.Lock()
			results[prov] = r
			mu.Unlock()
		}()
	}
	wg.Wait()

	var texts [3]*string
	for i, prov := range verifyOrder {
		texts[i] = verificationText(results[prov])
	}

	grade := Grade(texts)
	return model.FactCheckItem{
		ResearchID:      run.req.ResearchID,
		Phase:           AttributePhase(claim, run.ac.Tasks()),
		Claim:           claim,
		OpenAIResult:    texts[0],
		AnthropicResult: texts[1],
		GeminiResult:    texts[2],
		Grade:           grade,
		ConfidenceScore: averageConfidence(results[model.ProviderGemini]),
		Notes:           grade.Note(),
	}
}

// verificationText is nil for a failed or empty answer.
func verificationText(r *search.Result) *string {
	if !r.OK() || strings.TrimSpace(r.Text) == "" {
		return nil
	}
	t := r.Text
	return &t
}

// averageConfidence is the mean grounding confidence of a result's
// sources, nil when none carries one.
func averageConfidence(r *search.Result) *float64 {
	if !r.OK() {
		return nil
	}
	var sum float64
	var n int
	for _, s := range r.Sources {
		if s.Confidence != nil {
			sum += *s.Confidence
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

var (
	contradictionKeywords = []string{"아니", "틀린", "잘못", "거짓", "부정확", "반박", "incorrect", "false", "wrong", "inaccurate"}
	confirmationKeywords  = []string{"맞", "확인", "사실", "정확", "일치", "근거", "correct", "true", "confirmed", "verified"}
)

// Grade maps up to three provider verification texts to a trust grade by
// keyword matching. It is lexical, not semantic: "incorrect" also contains
// "correct", and a text that merely quotes a denial counts as
// contradicting. Neutral texts count as confirming. Grade distributions
// downstream are calibrated against exactly this behavior.
func Grade(texts [3]*string) model.TrustGrade {
	var available []string
	for _, t := range texts {
		if t != nil && *t != "" {
			available = append(available, *t)
		}
	}
	switch len(available) {
	case 0:
		return model.GradeF
	case 1:
		return model.GradeC
	}

	// Casers are stateful; one per call keeps Grade safe for concurrent use.
	lower := cases.Lower(language.Und)
	var confirming, contradicting int
	for _, text := range available {
		normalized := lower.String(norm.NFC.String(text))
		hasContradiction := containsAny(normalized, contradictionKeywords)
		hasConfirmation := containsAny(normalized, confirmationKeywords)
		switch {
		case hasConfirmation && !hasContradiction:
			confirming++
		case hasContradiction:
			contradicting++
		default:
			confirming++
		}
	}

	switch {
	case contradicting > 0 && confirming > 0:
		return model.GradeD
	case contradicting >= 2:
		return model.GradeF
	case confirming >= 3:
		return model.GradeA
	case confirming == 2:
		return model.GradeB
	case confirming == 1:
		return model.GradeC
	}
	return model.GradeD
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
