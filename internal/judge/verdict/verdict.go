// Package verdict defines judging outcomes and the classifier that derives them.
package verdict

import (
	"fmt"
	"strings"
)

// Verdict is the final classification of one test case or one submission.
type Verdict uint8

const (
	// Accepted is the zero value on purpose: an empty case set is accepted.
	Accepted Verdict = iota
	WrongAnswer
	TimeLimitExceeded
	MemoryLimitExceeded
	RuntimeError
	CompileError

	verdictCount
)

var codes = [verdictCount]string{
	Accepted:            "AC",
	WrongAnswer:         "WA",
	TimeLimitExceeded:   "TLE",
	MemoryLimitExceeded: "MLE",
	RuntimeError:        "RTE",
	CompileError:        "CE",
}

// All returns every verdict in declaration order.
func All() []Verdict {
	out := make([]Verdict, 0, verdictCount)
	for v := Verdict(0); v < verdictCount; v++ {
		out = append(out, v)
	}
	return out
}

// Valid reports whether v is one of the declared verdicts.
func (v Verdict) Valid() bool {
	return v < verdictCount
}

// String returns the short code, e.g. "AC".
func (v Verdict) String() string {
	if !v.Valid() {
		return fmt.Sprintf("Verdict(%d)", uint8(v))
	}
	return codes[v]
}

// Accepted reports whether v is AC.
func (v Verdict) Accepted() bool {
	return v == Accepted
}

// ParseVerdict converts a short code back to a Verdict. "RE" is accepted as an alias of RTE.
func ParseVerdict(s string) (Verdict, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if code == "RE" {
		return RuntimeError, nil
	}
	for v, c := range codes {
		if c == code {
			return Verdict(v), nil
		}
	}
	return 0, fmt.Errorf("unknown verdict %q", s)
}

func (v Verdict) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("invalid verdict %d", uint8(v))
	}
	return []byte(codes[v]), nil
}

func (v *Verdict) UnmarshalText(text []byte) error {
	parsed, err := ParseVerdict(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Final reports whether v is a terminal outcome. Every verdict is final: verdicts are
// persisted as-is and never retried.
func (v Verdict) Final() bool {
	return v.Valid()
}
