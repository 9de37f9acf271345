package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintDeterministic(t *testing.T) {
	req := &Request{Competency: "communication", Question: "Q?", Answer: "A."}

	fp1 := Fingerprint("t1", "default", req)
	fp2 := Fingerprint("t1", "default", req)
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64)
}

func TestFingerprintTrimsWhitespace(t *testing.T) {
	base := &Request{Competency: "communication", Question: "Q?", Answer: "A."}
	padded := &Request{Competency: "communication", Question: "  Q?\n", Answer: "\tA.  "}

	assert.Equal(t,
		Fingerprint("t1", "default", base),
		Fingerprint("t1", "default", padded),
	)
}

func TestFingerprintSensitivity(t *testing.T) {
	base := &Request{Competency: "communication", Question: "Q?", Answer: "A."}
	fp := Fingerprint("t1", "default", base)

	tests := []struct {
		name    string
		tenant  string
		version string
		req     Request
	}{
		{"different tenant", "t2", "default", *base},
		{"different prompt version", "t1", "abc123", *base},
		{"different competency", "t1", "default", Request{Competency: "leadership", Question: "Q?", Answer: "A."}},
		{"different question", "t1", "default", Request{Competency: "communication", Question: "Q2?", Answer: "A."}},
		{"different answer", "t1", "default", Request{Competency: "communication", Question: "Q?", Answer: "B."}},
		{"case differs", "t1", "default", Request{Competency: "communication", Question: "Q?", Answer: "a."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, fp, Fingerprint(tt.tenant, tt.version, &tt.req))
		})
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	// 字段间用分隔符哈希，字段内容移位不能得到相同指纹
	a := &Request{Competency: "ab", Question: "c", Answer: "d"}
	b := &Request{Competency: "a", Question: "bc", Answer: "d"}
	assert.NotEqual(t, Fingerprint("t1", "default", a), Fingerprint("t1", "default", b))
}
