package eval

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint 计算评估请求的确定性指纹，作为缓存 key。
//
// 参与哈希的字段：租户 ID、胜任力标签、问题、回答、激活提示词集合的版本号。
// 问题与回答仅去除首尾空白（格式噪音不应造成缓存 miss），不做大小写折叠
// （回答按原文评估）。提示词版本纳入哈希，提示词变更即失效。
func Fingerprint(tenantID, promptVersion string, req *Request) string {
	h := sha256.New()
	for _, part := range []string{
		tenantID,
		req.Competency,
		strings.TrimSpace(req.Question),
		strings.TrimSpace(req.Answer),
		promptVersion,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
