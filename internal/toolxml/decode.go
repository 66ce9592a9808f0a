package toolxml

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/compresr/turn-gateway/internal/openai"
)

// Call is a tool invocation decoded from model text. Argument values are
// coerced to int, float64, bool, or string.
type Call struct {
	Name      string
	Arguments map[string]any
}

// Result is the outcome of decoding one reply.
type Result struct {
	// HasCall reports whether a well-formed tagged block was found.
	HasCall bool
	// Call is the decoded invocation when HasCall is true.
	Call *Call
	// TextBefore is everything preceding the matched opening tag, or the
	// full input unchanged when no call was found.
	TextBefore string
}

// openingTag matches a candidate opening tag: "<" followed by an identifier
// and an immediate ">". The identifier charset here must stay in sync with
// ClassifyTagPrefix, which the streaming path uses for withholding.
var openingTag = regexp.MustCompile(`<([A-Za-z_][A-Za-z0-9_-]*)>`)

// numericLiteral gates coercion so that things ParseFloat accepts loosely
// ("Inf", "NaN", hex) stay strings.
var numericLiteral = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// Decode extracts at most one tool invocation from free-form model text.
// Only the first opening tag whose closing tag appears later is treated as a
// call; malformed or partial markup never errors, it degrades to plain text.
func Decode(text string) Result {
	for _, loc := range openingTag.FindAllStringSubmatchIndex(text, -1) {
		name := text[loc[2]:loc[3]]
		closing := "</" + name + ">"
		end := strings.Index(text[loc[1]:], closing)
		if end < 0 {
			continue
		}
		inner := text[loc[1] : loc[1]+end]
		return Result{
			HasCall:    true,
			Call:       &Call{Name: name, Arguments: parseParams(inner)},
			TextBefore: text[:loc[0]],
		}
	}
	return Result{TextBefore: text}
}

// parseParams extracts immediate <name>value</name> children. The scan
// position jumps past each closed pair so nested tags inside a value are not
// mistaken for sibling parameters.
func parseParams(inner string) map[string]any {
	args := make(map[string]any)
	pos := 0
	for pos < len(inner) {
		m := openingTag.FindStringSubmatchIndex(inner[pos:])
		if m == nil {
			break
		}
		name := inner[pos+m[2] : pos+m[3]]
		closing := "</" + name + ">"
		rest := inner[pos+m[1]:]
		end := strings.Index(rest, closing)
		if end < 0 {
			// Unclosed child: skip the opening tag and keep scanning.
			pos += m[1]
			continue
		}
		args[name] = coerce(strings.TrimSpace(rest[:end]))
		pos += m[1] + end + len(closing)
	}
	return args
}

// coerce converts a trimmed parameter value to its typed form.
func coerce(v string) any {
	if numericLiteral.MatchString(v) {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}

// NewCallID generates a tool-call id. Uniqueness within a response is the
// only requirement.
func NewCallID() string {
	return "call_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24]
}

// ToToolCall converts a decoded call into the client wire representation,
// serializing arguments as a JSON object string.
func (c *Call) ToToolCall() openai.ToolCall {
	return openai.ToolCall{
		ID:   NewCallID(),
		Type: "function",
		Function: openai.FunctionCall{
			Name:      c.Name,
			Arguments: openai.MarshalJSONString(c.Arguments),
		},
	}
}
