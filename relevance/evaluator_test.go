package relevance

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(DefaultOptions(), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return e
}

func padTo(s string, runes int) string {
	for len([]rune(s)) < runes {
		s += " lorem"
	}
	return s
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEvaluate_InvalidContent(t *testing.T) {
	e := newTestEvaluator(t)

	testCases := []struct {
		name    string
		content string
	}{
		{"Empty", ""},
		{"Whitespace", "   \n\t "},
		{"NotFound", padTo("Error 404 Not Found: the page you requested", 600)},
		{"Forbidden", "403 FORBIDDEN"},
		{"AccessDenied", "Access denied for chip exports"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := e.Evaluate(tc.content, "chip exports")
			if res.Score != 0 || res.IsPassing {
				t.Errorf("expected failing zero score, got %+v", res)
			}
			if !reflect.DeepEqual(res.Reasons, []string{ReasonInvalidContent}) {
				t.Errorf("expected invalid_content, got %v", res.Reasons)
			}
			if res.Reason != "Invalid content" {
				t.Errorf("unexpected reason text %q", res.Reason)
			}
		})
	}
}

func TestEvaluate_FullMatch(t *testing.T) {
	e := newTestEvaluator(t)
	content := padTo("Chip exports to Asia rose sharply this quarter.", 600)

	res := e.Evaluate(content, "chip exports Asia")
	if !approx(res.Score, 100) || !res.IsPassing {
		t.Fatalf("expected passing 100, got %+v", res)
	}
	if len(res.Reasons) != 0 || res.Reason != "Content meets heuristic checks" {
		t.Errorf("unexpected reasons %v / %q", res.Reasons, res.Reason)
	}
	if !reflect.DeepEqual(res.MatchedKeywords, []string{"asia", "chip", "exports"}) {
		t.Errorf("unexpected matched keywords %v", res.MatchedKeywords)
	}
}

func TestEvaluate_PartialMatch(t *testing.T) {
	e := newTestEvaluator(t)
	content := padTo("Chip exports are discussed here.", 600)

	res := e.Evaluate(content, "chip exports tariffs sanctions")
	// keywords 2/4 -> 50 * 0.6 + 100 * 0.4
	if !approx(res.Score, 70) || !res.IsPassing {
		t.Fatalf("expected passing 70, got %+v", res)
	}
	if !res.HasReason(ReasonPartialKeywordHit) || res.HasReason(ReasonNoKeywordHit) {
		t.Errorf("unexpected reasons %v", res.Reasons)
	}
}

func TestEvaluate_ShortAndMissing(t *testing.T) {
	e := newTestEvaluator(t)

	res := e.Evaluate("A short note about weather.", "chip exports")
	if res.IsPassing {
		t.Fatalf("short unrelated content must fail, got %+v", res)
	}
	want := []string{ReasonTooShort, ReasonNoKeywordHit}
	if !reflect.DeepEqual(res.Reasons, want) {
		t.Errorf("expected %v, got %v", want, res.Reasons)
	}
	if res.Reason != "Content too short; Keywords missing" {
		t.Errorf("unexpected reason text %q", res.Reason)
	}
}

func TestEvaluate_StopwordOnlyQueryUsesLengthOnly(t *testing.T) {
	e := newTestEvaluator(t)
	content := strings.Repeat("x", 250)

	a := e.Evaluate(content, "the and of")
	b := e.Evaluate(content, "is are was were")

	// 250 runes of a 500 rune saturation -> length score 50, weighted 0.4
	if !approx(a.Score, 20) || !approx(a.Score, b.Score) {
		t.Fatalf("expected length-only score 20, got %v and %v", a.Score, b.Score)
	}
	if a.HasReason(ReasonNoKeywordHit) {
		t.Errorf("no_keyword_hit must not apply without keywords: %v", a.Reasons)
	}
}

func TestEvaluate_LengthFloor(t *testing.T) {
	e := newTestEvaluator(t)

	res := e.Evaluate("x", "the")
	if !approx(res.Score, 2) {
		t.Errorf("expected floor 5 weighted to 2, got %v", res.Score)
	}
}

func TestEvaluate_URLFalsePositive(t *testing.T) {
	e := newTestEvaluator(t)

	res := e.Evaluate("Read more at https://example.net", ".NET")
	for _, kw := range res.MatchedKeywords {
		if kw == ".net" {
			t.Fatalf(".net must not match inside a URL: %+v", res)
		}
	}
	if !res.HasReason(ReasonURLFalsePositive) {
		t.Errorf("expected %s in %v", ReasonURLFalsePositive, res.Reasons)
	}
	if !res.HasReason(ReasonNoKeywordHit) {
		t.Errorf("expected %s in %v", ReasonNoKeywordHit, res.Reasons)
	}
}

func TestEvaluate_CJKContainment(t *testing.T) {
	e := newTestEvaluator(t)
	content := padTo("台積電公布第三季財報，營收創新高", 600)

	res := e.Evaluate(content, "台積電 財報")
	if !reflect.DeepEqual(res.MatchedKeywords, []string{"台積電", "財報"}) {
		t.Errorf("unexpected matched keywords %v", res.MatchedKeywords)
	}
	if !res.IsPassing {
		t.Errorf("expected passing, got %+v", res)
	}
}

func TestEvaluate_LengthInRunes(t *testing.T) {
	e := newTestEvaluator(t)
	// 150 CJK runes are 450 bytes but still short.
	res := e.Evaluate(strings.Repeat("財", 150), "the")
	if !res.HasReason(ReasonTooShort) {
		t.Errorf("expected too_short for 150 runes, got %v", res.Reasons)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := newTestEvaluator(t)
	content := padTo("GPT-4 and .NET news from https://example.net and C++ updates", 320)
	query := "GPT-4 .NET C++ rust"

	first := e.Evaluate(content, query)
	for i := 0; i < 20; i++ {
		if got := e.Evaluate(content, query); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestEvaluate_RecoversFromPanic(t *testing.T) {
	e := &Evaluator{maxLength: 500, logger: zap.NewNop()}

	res := e.Evaluate("content", "query")
	if res.Score != 0 || res.IsPassing || !res.HasReason(ReasonEvaluationError) {
		t.Errorf("expected evaluation_error result, got %+v", res)
	}
}

func TestNewEvaluator_Weights(t *testing.T) {
	testCases := []struct {
		name    string
		kw, len float64
		wantErr bool
	}{
		{"Negative", -1, 1, true},
		{"ZeroSum", 0, 0, true},
		{"Normalized", 3, 1, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.KeywordWeight, opts.LengthWeight = tc.kw, tc.len
			e, err := NewEvaluator(opts, nil)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidWeights) {
					t.Fatalf("expected ErrInvalidWeights, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !approx(e.keywordWeight, 0.75) || !approx(e.lengthWeight, 0.25) {
				t.Errorf("weights not normalized: %v %v", e.keywordWeight, e.lengthWeight)
			}
		})
	}
}

func TestEvaluate_PunctuationJoinedTopic(t *testing.T) {
	e := newTestEvaluator(t)
	content := strings.Repeat("AI chips market update. ", 12)

	res := e.Evaluate(content, "AI,chips")

	if !res.IsPassing {
		t.Fatalf("expected passing, got score %v reasons %v", res.Score, res.Reasons)
	}
	if !reflect.DeepEqual(res.MatchedKeywords, []string{"ai", "chips"}) {
		t.Errorf("expected matched [ai chips], got %v", res.MatchedKeywords)
	}
}
