package eval

import (
	"fmt"
	"strings"
)

// Request 单次评估请求（瞬态，管线不落库）。
type Request struct {
	Competency string `json:"competency"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
}

// Validate 校验必填字段。任何外部调用之前执行。
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Competency) == "" {
		return fmt.Errorf("competency is required: %w", ErrValidation)
	}
	if strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("question is required: %w", ErrValidation)
	}
	if strings.TrimSpace(r.Answer) == "" {
		return fmt.Errorf("answer is required: %w", ErrValidation)
	}
	return nil
}

// Result 评估结果。一旦返回即不可变；cached 标记来源。
type Result struct {
	EvaluationID        string   `json:"evaluation_id"`
	Competency          string   `json:"competency"`
	Score               float64  `json:"score"`
	Level               string   `json:"level"`
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areas_for_improvement"`
	Justification       string   `json:"justification"`
	Cached              bool     `json:"cached"`
	ContextUsed         bool     `json:"context_used"`
}

// ContextPassage 检索到的上下文片段（仅在单次管线调用内存活）。
type ContextPassage struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	Source  string  `json:"source,omitempty"`
}

// ContextPreview preview-context 变体的返回结果。
type ContextPreview struct {
	Query       string           `json:"query"`
	Fingerprint string           `json:"fingerprint"`
	Passages    []ContextPassage `json:"passages"`
	Total       int              `json:"total"`
}

// BatchItem 批量评估中单项的结果：成功或该项自身的错误，二者取一。
type BatchItem struct {
	Result *Result
	Err    error
}

// 分数边界与等级档位。
const (
	MinScore = 1.0
	MaxScore = 5.0
)

const (
	LevelNotDemonstrated = "Not Demonstrated"
	LevelBasic           = "Basic"
	LevelCompetent       = "Competent"
	LevelAdvanced        = "Advanced"
	LevelExpert          = "Expert"
)

// ClampScore 将分数收敛到 [1.0, 5.0]。
func ClampScore(s float64) float64 {
	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// LevelForScore 分数到等级的固定映射。
// 纯函数：即使生成服务给出了自己的 level，也以这里为准，保证分数与等级一致。
func LevelForScore(s float64) string {
	switch {
	case s < 2.0:
		return LevelNotDemonstrated
	case s < 3.0:
		return LevelBasic
	case s < 4.0:
		return LevelCompetent
	case s < 5.0:
		return LevelAdvanced
	default:
		return LevelExpert
	}
}
