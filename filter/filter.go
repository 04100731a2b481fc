// Package filter provides attempt filter expressions using expr-lang/expr
package filter

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/Zerofisher/honeypot/banner"
	"github.com/Zerofisher/honeypot/pkg/model"
)

// AttemptEnv is the environment for expression evaluation.
// It exposes attempt columns under short names, e.g.
//
//	port == 22 && data contains "root"
//	service in ["ssh", "telnet"] and len(data) > 100
type AttemptEnv struct {
	ID        int64  `expr:"id"`
	IP        string `expr:"ip"`
	Port      int    `expr:"port"`
	Service   string `expr:"service"`
	Data      string `expr:"data"`
	UserAgent string `expr:"user_agent"`
	Session   string `expr:"session"`
	Seq       int    `expr:"seq"`

	// Time fields
	Unix int64  `expr:"unix"`
	Hour int    `expr:"hour"`
	Date string `expr:"date"` // YYYY-MM-DD, UTC

	// Convenience flags
	Empty bool `expr:"empty"` // nothing was received
}

// CompiledFilter holds a compiled filter expression
type CompiledFilter struct {
	source  string
	program *vm.Program
}

// Compile compiles a filter expression. An empty expression matches everything.
func Compile(filterStr string) (*CompiledFilter, error) {
	filterStr = strings.TrimSpace(filterStr)
	if filterStr == "" {
		return &CompiledFilter{}, nil
	}

	program, err := expr.Compile(preprocessFilter(filterStr), expr.Env(AttemptEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter '%s': %w", filterStr, err)
	}
	return &CompiledFilter{source: filterStr, program: program}, nil
}

// String returns the original expression.
func (f *CompiledFilter) String() string {
	return f.source
}

// Match reports whether a satisfies the filter. Evaluation errors count as
// no match.
func (f *CompiledFilter) Match(a *model.ConnectionAttempt) bool {
	if f == nil || f.program == nil {
		return true
	}
	result, err := expr.Run(f.program, attemptToEnv(a))
	if err != nil {
		return false
	}
	b, ok := result.(bool)
	return ok && b
}

// Apply returns the attempts matching the filter, preserving order.
func (f *CompiledFilter) Apply(attempts []*model.ConnectionAttempt) []*model.ConnectionAttempt {
	if f == nil || f.program == nil {
		return attempts
	}
	out := make([]*model.ConnectionAttempt, 0, len(attempts))
	for _, a := range attempts {
		if f.Match(a) {
			out = append(out, a)
		}
	}
	return out
}

// preprocessFilter converts Wireshark-style operators to expr syntax
func preprocessFilter(filter string) string {
	// Handle "in {x, y, z}" syntax - convert to "in [x, y, z]"
	filter = strings.ReplaceAll(filter, "{", "[")
	filter = strings.ReplaceAll(filter, "}", "]")

	// "eq"/"ne" spellings
	filter = replaceWord(filter, "eq", "==")
	filter = replaceWord(filter, "ne", "!=")
	return filter
}

// replaceWord replaces whole-word occurrences of old outside string literals.
func replaceWord(s, old, repl string) string {
	var b strings.Builder
	inQuote := rune(0)
	i := 0
	for i < len(s) {
		ch := rune(s[i])
		if inQuote != 0 {
			b.WriteByte(s[i])
			if ch == '\\' && i+1 < len(s) {
				b.WriteByte(s[i+1])
				i += 2
				continue
			}
			if ch == inQuote {
				inQuote = 0
			}
			i++
			continue
		}
		if ch == '"' || ch == '\'' || ch == '`' {
			inQuote = ch
			b.WriteByte(s[i])
			i++
			continue
		}
		if strings.HasPrefix(s[i:], old) && isBoundary(s, i-1) && isBoundary(s, i+len(old)) {
			b.WriteString(repl)
			i += len(old)
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func isBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c == '_' || c == '.' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'))
}

// attemptToEnv converts an attempt to an AttemptEnv for expression evaluation
func attemptToEnv(a *model.ConnectionAttempt) AttemptEnv {
	env := AttemptEnv{
		ID:        a.ID,
		IP:        a.IPAddress,
		Port:      a.Port,
		Service:   banner.Service(a.Port),
		Data:      a.Data,
		UserAgent: a.UserAgent,
		Session:   a.SessionID,
		Seq:       a.Seq,
		Empty:     a.Data == "",
	}
	if !a.Timestamp.IsZero() {
		ts := a.Timestamp.UTC()
		env.Unix = ts.Unix()
		env.Hour = ts.Hour()
		env.Date = ts.Format("2006-01-02")
	}
	return env
}
