package eval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// 内置默认提示词。租户未配置时回退到这里。
const defaultSystemPrompt = `You are an expert competency evaluator. You assess candidate answers against a knowledge base of competency frameworks, rubrics and examples.

General rules:
1. Ground your evaluation in the knowledge base context when it is provided.
2. Be precise, fair and consistent: identical answers must receive identical evaluations.
3. Always respond in the exact JSON format requested.`

const defaultEvaluationPrompt = `Evaluate the candidate's answer to the question below for the given competency.

Respond with a single JSON object with exactly these keys:
- "score": number between 1.0 and 5.0
- "level": string
- "strengths": array of strings
- "areas_for_improvement": array of strings
- "justification": string`

// strictFormatInstruction 解析失败后重试时追加的格式约束。
const strictFormatInstruction = `IMPORTANT: respond ONLY with a single valid JSON object. No markdown fences, no commentary, no text before or after the JSON. Required keys: score (number), level (string), strengths (array of strings), areas_for_improvement (array of strings), justification (string).`

// PromptSet 租户激活的提示词集合。字段为空表示未配置。
type PromptSet struct {
	System     string
	Evaluation string
}

// Version 提示词集合版本号，参与缓存指纹。
// 均未配置时固定为 "default"；否则取内容哈希，内容一变缓存即失效。
func (ps *PromptSet) Version() string {
	if ps == nil || (ps.System == "" && ps.Evaluation == "") {
		return "default"
	}
	h := sha256.New()
	h.Write([]byte(ps.System))
	h.Write([]byte{0})
	h.Write([]byte(ps.Evaluation))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// SystemOrDefault 显式回退规则：激活值优先，否则内置默认。
func (ps *PromptSet) SystemOrDefault() string {
	if ps != nil && strings.TrimSpace(ps.System) != "" {
		return ps.System
	}
	return defaultSystemPrompt
}

// EvaluationOrDefault 同上。
func (ps *PromptSet) EvaluationOrDefault() string {
	if ps != nil && strings.TrimSpace(ps.Evaluation) != "" {
		return ps.Evaluation
	}
	return defaultEvaluationPrompt
}

// ComposePrompt 组装生成请求的 user prompt：
// 评估指令 + 知识库上下文（每段标注来源）+ 胜任力 + 问题 + 回答。
func ComposePrompt(ps *PromptSet, passages []ContextPassage, req *Request) string {
	var sb strings.Builder

	sb.WriteString(ps.EvaluationOrDefault())
	sb.WriteString("\n\n## Knowledge Base Context\n")
	sb.WriteString(FormatContext(passages))

	sb.WriteString("\n\n## Competency\n")
	sb.WriteString(strings.TrimSpace(req.Competency))
	sb.WriteString("\n\n## Question\n")
	sb.WriteString(strings.TrimSpace(req.Question))
	sb.WriteString("\n\n## Answer\n")
	sb.WriteString(strings.TrimSpace(req.Answer))

	return sb.String()
}

// FormatContext 将检索片段格式化为上下文文本。
func FormatContext(passages []ContextPassage) string {
	if len(passages) == 0 {
		return "No relevant context was found in the knowledge base."
	}

	var sb strings.Builder
	for i, p := range passages {
		sb.WriteString(fmt.Sprintf("[%d] ", i+1))
		sb.WriteString(p.Content)
		if p.Source != "" {
			sb.WriteString(fmt.Sprintf("\n(source: %s)", p.Source))
		}
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// rawEvaluation 生成服务的结构化输出。
type rawEvaluation struct {
	Score               float64  `json:"score"`
	Level               string   `json:"level"`
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areas_for_improvement"`
	Justification       string   `json:"justification"`
}

// parseEvaluation 解析模型输出为结构化评估。
// 容忍 markdown 代码块包裹；除此之外不做任何修补，解析不动即报错。
func parseEvaluation(text string) (*rawEvaluation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty generation output")
	}

	candidate := text
	if idx := strings.Index(candidate, "```json"); idx >= 0 {
		candidate = candidate[idx+len("```json"):]
		if end := strings.Index(candidate, "```"); end >= 0 {
			candidate = candidate[:end]
		}
	} else if idx := strings.Index(candidate, "```"); idx >= 0 {
		candidate = candidate[idx+len("```"):]
		if end := strings.Index(candidate, "```"); end >= 0 {
			candidate = candidate[:end]
		}
	}
	candidate = strings.TrimSpace(candidate)

	var out rawEvaluation
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		return nil, fmt.Errorf("parse evaluation JSON: %w", err)
	}
	if out.Justification == "" && out.Score == 0 {
		return nil, fmt.Errorf("evaluation JSON missing score and justification")
	}
	return &out, nil
}
