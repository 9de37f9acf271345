package eval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillrag/internal/domain/directory"
)

const validOutput = `{"score": 4.2, "level": "whatever", "strengths": ["clear"], "areas_for_improvement": ["depth"], "justification": "solid answer"}`

type fakeRetriever struct {
	mu       sync.Mutex
	passages []ContextPassage
	errs     []error
	calls    int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, namespace, query string, topK int) ([]ContextPassage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.passages, nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	outputs  []string
	errs     []error
	calls    int
	requests []*GenerationRequest
}

func (f *fakeGenerator) Generate(ctx context.Context, req *GenerationRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	if len(f.outputs) == 0 {
		return validOutput, nil
	}
	out := f.outputs[0]
	if len(f.outputs) > 1 {
		f.outputs = f.outputs[1:]
	}
	return out, nil
}

type memCache struct {
	mu sync.Mutex
	m  map[string]*Result
}

func newMemCache() *memCache {
	return &memCache{m: make(map[string]*Result)}
}

func (c *memCache) Get(ctx context.Context, tenantID, fingerprint string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.m[tenantID+"/"+fingerprint]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

func (c *memCache) Set(ctx context.Context, tenantID, fingerprint string, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *result
	c.m[tenantID+"/"+fingerprint] = &cp
}

type fakePrompts struct {
	ps  *PromptSet
	err error
}

func (f *fakePrompts) ActivePrompts(ctx context.Context, tenantID string) (*PromptSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.ps == nil {
		return &PromptSet{}, nil
	}
	return f.ps, nil
}

func testTenant(id string) *directory.Tenant {
	return &directory.Tenant{
		ID:       id,
		Name:     "Acme",
		Slug:     "acme-" + id,
		IsActive: true,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func testRequest() *Request {
	return &Request{
		Competency: "communication",
		Question:   "Describe a time you resolved a conflict.",
		Answer:     "I listened to both sides and proposed a compromise.",
	}
}

func newTestPipeline(ret *fakeRetriever, gen *fakeGenerator, cache ResultCache, prompts PromptSource) *Pipeline {
	if ret == nil {
		ret = &fakeRetriever{}
	}
	if gen == nil {
		gen = &fakeGenerator{}
	}
	if cache == nil {
		cache = newMemCache()
	}
	if prompts == nil {
		prompts = &fakePrompts{}
	}
	return NewPipeline(testConfig(), ret, gen, cache, prompts)
}

func TestEvaluateSecondCallHitsCache(t *testing.T) {
	gen := &fakeGenerator{}
	p := newTestPipeline(nil, gen, nil, nil)
	tenant := testTenant("t1")

	first, err := p.Evaluate(context.Background(), tenant, testRequest())
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 4.2, first.Score)

	second, err := p.Evaluate(context.Background(), tenant, testRequest())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.EvaluationID, second.EvaluationID)
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Justification, second.Justification)
	assert.Equal(t, 1, gen.calls, "generator must not run on cache hit")
}

func TestEvaluateWhitespaceVariantsShareCache(t *testing.T) {
	gen := &fakeGenerator{}
	p := newTestPipeline(nil, gen, nil, nil)
	tenant := testTenant("t1")

	_, err := p.Evaluate(context.Background(), tenant, testRequest())
	require.NoError(t, err)

	padded := testRequest()
	padded.Question = "  " + padded.Question + "\n"
	padded.Answer = "\t" + padded.Answer + "  "

	res, err := p.Evaluate(context.Background(), tenant, padded)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 1, gen.calls)
}

func TestEvaluatePromptChangeMissesCache(t *testing.T) {
	gen := &fakeGenerator{}
	prompts := &fakePrompts{}
	p := newTestPipeline(nil, gen, nil, prompts)
	tenant := testTenant("t1")

	_, err := p.Evaluate(context.Background(), tenant, testRequest())
	require.NoError(t, err)

	prompts.ps = &PromptSet{Evaluation: "Score strictly against the internal rubric."}

	res, err := p.Evaluate(context.Background(), tenant, testRequest())
	require.NoError(t, err)
	assert.False(t, res.Cached, "changed prompt set must change the fingerprint")
	assert.Equal(t, 2, gen.calls)
}

func TestEvaluateTenantsDoNotShareCache(t *testing.T) {
	gen := &fakeGenerator{}
	p := newTestPipeline(nil, gen, nil, nil)

	_, err := p.Evaluate(context.Background(), testTenant("t1"), testRequest())
	require.NoError(t, err)

	res, err := p.Evaluate(context.Background(), testTenant("t2"), testRequest())
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, gen.calls)
}

func TestEvaluateLevelRecomputedFromScore(t *testing.T) {
	gen := &fakeGenerator{outputs: []string{
		`{"score": 2.5, "level": "Expert", "strengths": [], "areas_for_improvement": [], "justification": "ok"}`,
	}}
	p := newTestPipeline(nil, gen, nil, nil)

	res, err := p.Evaluate(context.Background(), testTenant("t1"), testRequest())
	require.NoError(t, err)
	assert.Equal(t, LevelBasic, res.Level, "model-reported level must be ignored")
}

func TestEvaluateScoreClamped(t *testing.T) {
	gen := &fakeGenerator{outputs: []string{
		`{"score": 7.3, "level": "", "strengths": [], "areas_for_improvement": [], "justification": "ok"}`,
	}}
	p := newTestPipeline(nil, gen, nil, nil)

	res, err := p.Evaluate(context.Background(), testTenant("t1"), testRequest())
	require.NoError(t, err)
	assert.Equal(t, MaxScore, res.Score)
	assert.Equal(t, LevelExpert, res.Level)
}

func TestEvaluateEmptyContextStillSucceeds(t *testing.T) {
	ret := &fakeRetriever{passages: nil}
	p := newTestPipeline(ret, nil, nil, nil)

	res, err := p.Evaluate(context.Background(), testTenant("t1"), testRequest())
	require.NoError(t, err)
	assert.False(t, res.ContextUsed)
}

func TestEvaluateContextUsedFlag(t *testing.T) {
	ret := &fakeRetriever{passages: []ContextPassage{
		{ID: "c1", Content: "Conflict resolution rubric", Score: 0.9, Source: "rubric.md"},
	}}
	gen := &fakeGenerator{}
	p := newTestPipeline(ret, gen, nil, nil)

	res, err := p.Evaluate(context.Background(), testTenant("t1"), testRequest())
	require.NoError(t, err)
	assert.True(t, res.ContextUsed)
	require.NotEmpty(t, gen.requests)
	assert.Contains(t, gen.requests[0].Prompt, "Conflict resolution rubric")
}

func TestEvaluateRetrievalRetriesOnceThenFails(t *testing.T) {
	ret := &fakeRetriever{errs: []error{
		fmt.Errorf("connection refused"),
		fmt.Errorf("connection refused"),
	}}
	p := newTestPipeline(ret, nil, nil, nil)

	_, err := p.Evaluate(context.Background(), testTenant("t1"), testRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetrieval))
	assert.Equal(t, 2, ret.calls)
}

func TestEvaluateRetrievalRecoversOnRetry(t *testing.T) {
	ret := &fakeRetriever{errs: []error{fmt.Errorf("timeout"), nil}}
	p := newTestPipeline(ret, nil, nil, nil)

	_, err := p.Evaluate(context.Background(), testTenant("t1"), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, ret.calls)
}

func TestEvaluateGenerationRetryAppendsStrictInstruction(t *testing.T) {
	gen := &fakeGenerator{outputs: []string{"sorry, I cannot produce JSON", validOutput}}
	p := newTestPipeline(nil, gen, nil, nil)

	res, err := p.Evaluate(context.Background(), testTenant("t1"), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 4.2, res.Score)
	require.Len(t, gen.requests, 2)
	assert.NotContains(t, gen.requests[0].Prompt, strictFormatInstruction)
	assert.Contains(t, gen.requests[1].Prompt, strictFormatInstruction)
}

func TestEvaluateGenerationExhaustsRetries(t *testing.T) {
	gen := &fakeGenerator{outputs: []string{"not json", "still not json"}}
	cache := newMemCache()
	p := newTestPipeline(nil, gen, cache, nil)

	_, err := p.Evaluate(context.Background(), testTenant("t1"), testRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGeneration))
	assert.Equal(t, 2, gen.calls)
	assert.Empty(t, cache.m, "failed evaluations must not be cached")
}

func TestEvaluateTemperatureIsZero(t *testing.T) {
	gen := &fakeGenerator{}
	p := newTestPipeline(nil, gen, nil, nil)

	_, err := p.Evaluate(context.Background(), testTenant("t1"), testRequest())
	require.NoError(t, err)
	require.NotEmpty(t, gen.requests)
	assert.Equal(t, 0.0, gen.requests[0].Temperature)
}

func TestEvaluateValidation(t *testing.T) {
	p := newTestPipeline(nil, nil, nil, nil)

	tests := []struct {
		name string
		req  Request
	}{
		{"missing competency", Request{Question: "q", Answer: "a"}},
		{"missing question", Request{Competency: "c", Answer: "a"}},
		{"missing answer", Request{Competency: "c", Question: "q"}},
		{"whitespace only", Request{Competency: " ", Question: "q", Answer: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Evaluate(context.Background(), testTenant("t1"), &tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestEvaluateInactiveTenantRejected(t *testing.T) {
	p := newTestPipeline(nil, nil, nil, nil)
	tenant := testTenant("t1")
	tenant.IsActive = false

	_, err := p.Evaluate(context.Background(), tenant, testRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestEvaluateBatchPreservesOrderAndIsolatesFailures(t *testing.T) {
	p := newTestPipeline(nil, nil, nil, nil)
	tenant := testTenant("t1")

	reqs := []Request{
		*testRequest(),
		{Competency: "", Question: "q", Answer: "a"}, // invalid
		{Competency: "leadership", Question: "How do you delegate?", Answer: "By trust and follow-up."},
	}

	items, err := p.EvaluateBatch(context.Background(), tenant, reqs)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.NoError(t, items[0].Err)
	assert.Equal(t, "communication", items[0].Result.Competency)

	assert.Error(t, items[1].Err)
	assert.True(t, errors.Is(items[1].Err, ErrValidation))
	assert.Nil(t, items[1].Result)

	assert.NoError(t, items[2].Err)
	assert.Equal(t, "leadership", items[2].Result.Competency)
}

// markedGenerator 对包含 marker 的 prompt 返回不可解析输出，其余返回 validOutput。
// 批量并发执行时无法依赖调用顺序，按 prompt 内容区分失败项。
type markedGenerator struct {
	marker string
}

func (g *markedGenerator) Generate(ctx context.Context, req *GenerationRequest) (string, error) {
	if strings.Contains(req.Prompt, g.marker) {
		return "the model refuses to emit JSON", nil
	}
	return validOutput, nil
}

func TestEvaluateBatchGenerationFailureIsolated(t *testing.T) {
	const badAnswer = "An answer that only ever yields malformed model output."
	gen := &markedGenerator{marker: badAnswer}
	p := NewPipeline(testConfig(), &fakeRetriever{}, gen, newMemCache(), &fakePrompts{})
	tenant := testTenant("t1")

	reqs := []Request{
		*testRequest(),
		{Competency: "teamwork", Question: "How do you handle disagreement?", Answer: badAnswer},
		{Competency: "leadership", Question: "How do you delegate?", Answer: "By trust and follow-up."},
	}

	items, err := p.EvaluateBatch(context.Background(), tenant, reqs)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.NoError(t, items[0].Err)
	assert.Equal(t, "communication", items[0].Result.Competency)

	assert.Error(t, items[1].Err)
	assert.True(t, errors.Is(items[1].Err, ErrGeneration))
	assert.Nil(t, items[1].Result)

	assert.NoError(t, items[2].Err)
	assert.Equal(t, "leadership", items[2].Result.Competency)
}

func TestEvaluateBatchSizeLimit(t *testing.T) {
	p := newTestPipeline(nil, nil, nil, nil)

	reqs := make([]Request, 11)
	for i := range reqs {
		reqs[i] = *testRequest()
	}
	_, err := p.EvaluateBatch(context.Background(), testTenant("t1"), reqs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = p.EvaluateBatch(context.Background(), testTenant("t1"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestPreviewContextSkipsGenerationAndCache(t *testing.T) {
	ret := &fakeRetriever{passages: []ContextPassage{
		{ID: "c1", Content: "rubric text", Score: 0.8, Source: "rubric.md"},
	}}
	gen := &fakeGenerator{}
	cache := newMemCache()
	p := newTestPipeline(ret, gen, cache, nil)

	preview, err := p.PreviewContext(context.Background(), testTenant("t1"), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, preview.Total)
	assert.NotEmpty(t, preview.Fingerprint)
	assert.Contains(t, preview.Query, "communication")
	assert.Zero(t, gen.calls)
	assert.Empty(t, cache.m)
}

func TestSearchQueryTruncated(t *testing.T) {
	p := newTestPipeline(nil, nil, nil, nil)

	req := testRequest()
	req.Answer = strings.Repeat("长答案", 400)
	query := p.searchQuery(req)
	assert.LessOrEqual(t, len([]rune(query)), p.cfg.QueryMaxChars)
}
