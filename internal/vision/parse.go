package vision

import (
	"regexp"
	"strconv"
	"strings"

	"lid-inspector/internal/domain"
)

var confidencePattern = regexp.MustCompile(`(?i)confidence\s*:?\s*(\d{1,3})\s*%`)

// Result is a parsed model verdict.
type Result struct {
	Verdict    domain.Verdict
	Reason     string
	Confidence int
	Raw        string
	Model      string
}

// ParseResponse interprets a reply of the form "ACCEPT - reason (Confidence: 90%)".
// Anything not starting with ACCEPT or REJECT is an ERROR verdict carrying the full text.
func ParseResponse(text string) Result {
	text = strings.TrimSpace(text)
	res := Result{Raw: text, Confidence: parseConfidence(text)}
	if text == "" {
		res.Verdict = domain.VerdictError
		res.Reason = "empty response"
		return res
	}

	head, rest, _ := strings.Cut(text, " ")
	// "ACCEPT-reason" arrives without a space; split before upper-casing,
	// which may change byte offsets
	if i := strings.IndexAny(head, "-–"); i > 0 {
		rest = strings.TrimSpace(head[i:] + " " + rest)
		head = head[:i]
	}
	token := strings.ToUpper(strings.TrimRight(head, ".,:;-–"))

	switch domain.Verdict(token) {
	case domain.VerdictAccept, domain.VerdictReject:
		res.Verdict = domain.Verdict(token)
		res.Reason = cleanReason(rest)
	default:
		res.Verdict = domain.VerdictError
		res.Reason = text
	}
	return res
}

func cleanReason(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "-–— ")
	return strings.TrimSpace(s)
}

func parseConfidence(text string) int {
	m := confidencePattern.FindStringSubmatch(text)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return min(n, 100)
}
