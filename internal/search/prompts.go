package search

import (
	"fmt"

	"github.com/sells-group/deep-research/internal/model"
)

type promptSet struct {
	system string
	user   map[model.Language]string
}

var prompts = map[Mode]promptSet{
	ModeSearch: {
		system: "당신은 웹 리서치 전문가입니다. 웹 검색을 활용하여 주어진 주제에 대해 포괄적이고 정확한 정보를 수집하세요. 모든 정보의 출처를 명시하세요. 핵심 사실, 주요 플레이어, 최신 동향을 중심으로 정리하세요.",
		user: map[model.Language]string{
			model.LangKorean:  "다음 주제에 대해 한국어 소스를 중심으로 검색하세요: %s",
			model.LangEnglish: "Search comprehensively for the following topic in English: %s",
			model.LangBoth:    "다음 주제에 대해 한국어와 영어 소스를 모두 활용하여 포괄적으로 검색하세요: %s",
		},
	},
	ModeVerify: {
		system: "당신은 팩트체크 전문가입니다. 웹 검색으로 주어진 주장의 정확성을 검증하세요. 원본 출처를 추적하고, 검증 결과를 '확인됨/부분확인/미확인/오류'로 분류하세요. 근거가 되는 소스를 반드시 명시하세요.",
		user: map[model.Language]string{
			model.LangKorean:  "다음 주장을 한국어 소스로 검증하세요: \"%s\"",
			model.LangEnglish: "Verify the following claim using English sources: \"%s\"",
			model.LangBoth:    "다음 주장을 검증하세요 (한국어/영어 소스 모두 활용): \"%s\"",
		},
	},
	ModeDeep: {
		system: "당신은 심층 리서치 분석가입니다. 웹 검색을 최대한 활용하여 주제의 다양한 측면(역사, 현재, 미래 전망, 찬반 의견)을 모두 조사하세요. 학술 자료, 업계 보고서, 뉴스 기사 등 다양한 소스를 활용하세요. 정보의 신뢰도를 평가하고, 서로 상충하는 관점이 있다면 모두 포함하세요.",
		user: map[model.Language]string{
			model.LangKorean:  "다음 주제에 대해 한국어 소스를 중심으로 심층 조사하세요: %s",
			model.LangEnglish: "Conduct deep research on the following topic in English: %s",
			model.LangBoth:    "다음 주제에 대해 한국어와 영어 소스를 모두 활용하여 심층 조사하세요: %s",
		},
	},
}

// Prompts returns the system and user prompt for opts. Unknown modes use
// the search family and unknown languages use the bilingual template.
func Prompts(opts Options) (system, user string) {
	set, ok := prompts[opts.Mode]
	if !ok {
		set = prompts[ModeSearch]
	}
	tmpl, ok := set.user[opts.Language]
	if !ok {
		tmpl = set.user[model.LangBoth]
	}
	return set.system, fmt.Sprintf(tmpl, opts.Query)
}
