package eval

import "errors"

// 评估管线错误分类。API 层用 errors.Is 映射到 HTTP 状态码。
var (
	// ErrValidation 输入非法（缺字段、批量超限等），在任何外部调用前拒绝。
	ErrValidation = errors.New("validation failed")

	// ErrRetrieval 向量检索在一次重试后仍不可用。
	ErrRetrieval = errors.New("retrieval failed")

	// ErrGeneration 生成服务不可用，或输出在一次重试后仍无法解析。
	ErrGeneration = errors.New("generation failed")
)
