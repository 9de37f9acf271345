package eval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"skillrag/internal/domain/directory"
	applog "skillrag/internal/platform/log"
)

// generationTemperature 固定为 0：可复现性是管线的不变量，不是请求级选项。
const generationTemperature = 0.0

// Config 管线配置。构造时传入，之后不可变。
type Config struct {
	Model           string        // 默认生成模型（租户可覆盖）
	TopK            int           // 检索片段数
	QueryMaxChars   int           // 检索 query 截断长度
	MaxBatch        int           // 批量评估上限
	MaxOutputTokens int           // 生成输出 token 上限
	RetryBackoff    time.Duration // 检索重试前的退避
}

// DefaultConfig 默认管线配置。
func DefaultConfig() Config {
	return Config{
		Model:           "claude-sonnet-4-20250514",
		TopK:            5,
		QueryMaxChars:   500,
		MaxBatch:        10,
		MaxOutputTokens: 2048,
		RetryBackoff:    300 * time.Millisecond,
	}
}

// retryPolicy 有界重试策略：maxAttempts 次尝试，
// 重试前用 transform 改写 prompt（追加更严格的格式指令）。
type retryPolicy struct {
	maxAttempts int
	transform   func(prompt string) string
}

var generationRetry = retryPolicy{
	maxAttempts: 2,
	transform: func(prompt string) string {
		return prompt + "\n\n" + strictFormatInstruction
	},
}

// Pipeline 评估管线：缓存查找 → 向量检索 → 生成 → 缓存写回。
// 无内部状态，可在任意数量的并发 goroutine 上安全运行。
type Pipeline struct {
	cfg       Config
	retriever Retriever
	generator Generator
	cache     ResultCache
	prompts   PromptSource
}

// NewPipeline 组装管线。所有依赖必填。
func NewPipeline(cfg Config, retriever Retriever, generator Generator, cache ResultCache, prompts PromptSource) *Pipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 10
	}
	if cfg.QueryMaxChars <= 0 {
		cfg.QueryMaxChars = 500
	}
	return &Pipeline{
		cfg:       cfg,
		retriever: retriever,
		generator: generator,
		cache:     cache,
		prompts:   prompts,
	}
}

// Evaluate 执行单次评估。
//
// 相同输入（租户、胜任力、问题、回答、提示词版本）必命中缓存并返回逐字节
// 相同的结果：缓存 + temperature 0 共同构成"同输入同输出"的一致性保证。
func (p *Pipeline) Evaluate(ctx context.Context, tenant *directory.Tenant, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !tenant.IsActive {
		return nil, fmt.Errorf("tenant %s is not active: %w", tenant.Slug, ErrValidation)
	}

	ps, err := p.prompts.ActivePrompts(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("load active prompts: %w", err)
	}

	fp := Fingerprint(tenant.ID, ps.Version(), req)

	// 缓存命中：跳过检索与生成，原样返回
	if cached, ok := p.cache.Get(ctx, tenant.ID, fp); ok {
		hit := *cached
		hit.Cached = true
		applog.Debug("[Eval] Cache hit", "tenant", tenant.Slug, "fingerprint", fp[:12])
		return &hit, nil
	}

	passages, err := p.retrieve(ctx, tenant, req)
	if err != nil {
		return nil, err
	}

	raw, err := p.generate(ctx, tenant, ps, passages, req)
	if err != nil {
		return nil, err
	}

	score := ClampScore(raw.Score)
	result := &Result{
		EvaluationID:        uuid.New().String(),
		Competency:          strings.TrimSpace(req.Competency),
		Score:               score,
		Level:               LevelForScore(score), // 无视生成端自带的 level，保证档位一致
		Strengths:           raw.Strengths,
		AreasForImprovement: raw.AreasForImprovement,
		Justification:       raw.Justification,
		Cached:              false,
		ContextUsed:         len(passages) > 0,
	}

	// 写失败由缓存实现记录并吞掉，绝不影响本次评估
	p.cache.Set(ctx, tenant.ID, fp, result)

	return result, nil
}

// EvaluateBatch 批量评估（≤ MaxBatch）。子项并发执行，互不阻塞；
// 单项失败只影响该项，输出顺序与输入一致。
func (p *Pipeline) EvaluateBatch(ctx context.Context, tenant *directory.Tenant, reqs []Request) ([]BatchItem, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("evaluations list is empty: %w", ErrValidation)
	}
	if len(reqs) > p.cfg.MaxBatch {
		return nil, fmt.Errorf("batch size %d exceeds maximum %d: %w", len(reqs), p.cfg.MaxBatch, ErrValidation)
	}

	items := make([]BatchItem, len(reqs))
	var wg sync.WaitGroup
	wg.Add(len(reqs))
	for i := range reqs {
		go func(i int) {
			defer wg.Done()
			res, err := p.Evaluate(ctx, tenant, &reqs[i])
			items[i] = BatchItem{Result: res, Err: err}
		}(i)
	}
	wg.Wait()

	return items, nil
}

// PreviewContext 诊断变体：只执行检索，不触发生成，不读写缓存。
func (p *Pipeline) PreviewContext(ctx context.Context, tenant *directory.Tenant, req *Request) (*ContextPreview, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !tenant.IsActive {
		return nil, fmt.Errorf("tenant %s is not active: %w", tenant.Slug, ErrValidation)
	}

	ps, err := p.prompts.ActivePrompts(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("load active prompts: %w", err)
	}

	passages, err := p.retrieve(ctx, tenant, req)
	if err != nil {
		return nil, err
	}

	return &ContextPreview{
		Query:       p.searchQuery(req),
		Fingerprint: Fingerprint(tenant.ID, ps.Version(), req),
		Passages:    passages,
		Total:       len(passages),
	}, nil
}

// retrieve 在租户 namespace 中检索上下文。失败重试一次（带退避）；
// 重试后仍失败按系统性故障上报 ErrRetrieval。空结果是正常降级，不报错。
func (p *Pipeline) retrieve(ctx context.Context, tenant *directory.Tenant, req *Request) ([]ContextPassage, error) {
	query := p.searchQuery(req)
	namespace := tenant.Namespace()

	passages, err := p.retriever.Retrieve(ctx, namespace, query, p.cfg.TopK)
	if err != nil {
		applog.Warn("[Eval] Retrieval failed, retrying once", "tenant", tenant.Slug, "error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("retrieval cancelled: %w", ErrRetrieval)
		case <-time.After(p.cfg.RetryBackoff):
		}
		passages, err = p.retriever.Retrieve(ctx, namespace, query, p.cfg.TopK)
		if err != nil {
			return nil, fmt.Errorf("retrieve context after retry: %v: %w", err, ErrRetrieval)
		}
	}

	if len(passages) == 0 {
		applog.Debug("[Eval] No context passages retrieved", "tenant", tenant.Slug)
	}
	return passages, nil
}

// generate 调用生成服务并解析结构化输出。
// 失败（调用或解析）允许一次重试，重试 prompt 追加更严格的格式指令。
func (p *Pipeline) generate(ctx context.Context, tenant *directory.Tenant, ps *PromptSet, passages []ContextPassage, req *Request) (*rawEvaluation, error) {
	model := p.cfg.Model
	if tenant.Model != "" {
		model = tenant.Model
	}

	prompt := ComposePrompt(ps, passages, req)

	var lastErr error
	for attempt := 1; attempt <= generationRetry.maxAttempts; attempt++ {
		if attempt > 1 {
			prompt = generationRetry.transform(prompt)
			applog.Warn("[Eval] Generation retry with strict format instruction",
				"tenant", tenant.Slug, "attempt", attempt, "error", lastErr)
		}

		genReq := &GenerationRequest{
			Model:       model,
			System:      ps.SystemOrDefault(),
			Prompt:      prompt,
			Temperature: generationTemperature,
			MaxTokens:   p.cfg.MaxOutputTokens,
		}

		output, err := p.generator.Generate(ctx, genReq)
		if err != nil {
			lastErr = err
			continue
		}

		parsed, err := parseEvaluation(output)
		if err != nil {
			lastErr = err
			continue
		}
		return parsed, nil
	}

	// 绝不伪造结果：重试耗尽即失败
	return nil, fmt.Errorf("generate evaluation after %d attempts: %v: %w",
		generationRetry.maxAttempts, lastErr, ErrGeneration)
}

// searchQuery 拼接胜任力 + 问题 + 回答作为检索 query，并截断。
func (p *Pipeline) searchQuery(req *Request) string {
	query := strings.TrimSpace(req.Competency) + "\n" +
		strings.TrimSpace(req.Question) + "\n" +
		strings.TrimSpace(req.Answer)
	runes := []rune(query)
	if len(runes) > p.cfg.QueryMaxChars {
		return string(runes[:p.cfg.QueryMaxChars])
	}
	return query
}
