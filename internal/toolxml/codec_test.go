package toolxml

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/turn-gateway/internal/openai"
)

func readFileTool() openai.Tool {
	return openai.Tool{
		Type: "function",
		Function: openai.FunctionDefinition{
			Name:        "read_file",
			Description: "Reads a file from disk",
			Parameters: openai.Parameters{
				Type: "object",
				Properties: map[string]openai.Property{
					"path":  {Type: "string", Description: "File path to read"},
					"limit": {Type: "number", Description: "Max bytes"},
				},
				Required: []string{"path"},
			},
		},
	}
}

// TestEncode_ContainsToolBlock verifies the instructional section names the
// tool, marks parameters, and shows a usage example.
func TestEncode_ContainsToolBlock(t *testing.T) {
	out := Encode([]openai.Tool{readFileTool()})

	assert.Contains(t, out, "## read_file")
	assert.Contains(t, out, "Description: Reads a file from disk")
	assert.Contains(t, out, "- path: (required, string) File path to read")
	assert.Contains(t, out, "- limit: (optional, number) Max bytes")
	assert.Contains(t, out, "<read_file>")
	assert.Contains(t, out, "</read_file>")
}

func TestEncode_Empty(t *testing.T) {
	assert.Equal(t, "", Encode(nil))
	assert.Equal(t, "", Encode([]openai.Tool{}))
}

func TestEncode_Deterministic(t *testing.T) {
	tools := []openai.Tool{readFileTool()}
	assert.Equal(t, Encode(tools), Encode(tools))
}

// TestDecode_WellFormedCall is the basic round trip: encoded tool, tagged
// invocation in model text, decoded call.
func TestDecode_WellFormedCall(t *testing.T) {
	res := Decode("<read_file>\n<path>/tmp/a.txt</path>\n</read_file>")

	require.True(t, res.HasCall)
	require.NotNil(t, res.Call)
	assert.Equal(t, "read_file", res.Call.Name)
	assert.Equal(t, "/tmp/a.txt", res.Call.Arguments["path"])
	assert.Equal(t, "", res.TextBefore)
}

func TestDecode_TextBeforeCall(t *testing.T) {
	res := Decode("I will read the file now.\n<read_file><path>a.txt</path></read_file>")

	require.True(t, res.HasCall)
	assert.Equal(t, "I will read the file now.\n", res.TextBefore)
}

// TestDecode_TypeCoercion checks int, float, bool, and string coercion of
// parameter values.
func TestDecode_TypeCoercion(t *testing.T) {
	res := Decode("<run><count>42</count><ratio>0.5</ratio><force>TRUE</force><name>abc</name></run>")

	require.True(t, res.HasCall)
	assert.Equal(t, 42, res.Call.Arguments["count"])
	assert.Equal(t, 0.5, res.Call.Arguments["ratio"])
	assert.Equal(t, true, res.Call.Arguments["force"])
	assert.Equal(t, "abc", res.Call.Arguments["name"])
}

func TestDecode_WhitespaceTrimmed(t *testing.T) {
	res := Decode("<run>\n<path>\n  /tmp/x  \n</path>\n</run>")

	require.True(t, res.HasCall)
	assert.Equal(t, "/tmp/x", res.Call.Arguments["path"])
}

// TestDecode_NoCall covers plain text, partial tags, and markup with no
// closing tag - none of which are errors.
func TestDecode_NoCall(t *testing.T) {
	cases := map[string]string{
		"plain":       "just some prose with no tags",
		"partial":     "an unclosed <read_file",
		"no_closing":  "<read_file><path>a</path>",
		"math":        "3 < 5 and 7 > 2",
		"empty":       "",
		"lone_angle":  "<",
		"digit_start": "<3 things to do",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			res := Decode(text)
			assert.False(t, res.HasCall)
			assert.Equal(t, text, res.TextBefore)
		})
	}
}

// TestDecode_FirstCallWins verifies only the first well-formed block is
// treated as a call even when several appear.
func TestDecode_FirstCallWins(t *testing.T) {
	res := Decode("<first><a>1</a></first> and <second><b>2</b></second>")

	require.True(t, res.HasCall)
	assert.Equal(t, "first", res.Call.Name)
}

// TestDecode_SkipsUnclosedCandidate verifies an earlier opening tag without
// a closing tag does not shadow a later complete block.
func TestDecode_SkipsUnclosedCandidate(t *testing.T) {
	res := Decode("<dangling> then <real><x>1</x></real>")

	require.True(t, res.HasCall)
	assert.Equal(t, "real", res.Call.Name)
	assert.Equal(t, "<dangling> then ", res.TextBefore)
}

func TestDecode_NumericLookalikesStayStrings(t *testing.T) {
	res := Decode("<run><a>Inf</a><b>NaN</b><c>0x10</c><d>1.2.3</d></run>")

	require.True(t, res.HasCall)
	assert.Equal(t, "Inf", res.Call.Arguments["a"])
	assert.Equal(t, "NaN", res.Call.Arguments["b"])
	assert.Equal(t, "0x10", res.Call.Arguments["c"])
	assert.Equal(t, "1.2.3", res.Call.Arguments["d"])
}

// TestRoundTrip encodes a tool, simulates the model invoking it, and checks
// the decoded call serializes into valid tool-call arguments.
func TestRoundTrip(t *testing.T) {
	tools := []openai.Tool{readFileTool()}
	block := Encode(tools)
	require.Contains(t, block, "<read_file>")

	res := Decode("<read_file>\n<path>/etc/hosts</path>\n<limit>1024</limit>\n</read_file>")
	require.True(t, res.HasCall)

	tc := res.Call.ToToolCall()
	assert.Equal(t, "read_file", tc.Function.Name)
	assert.True(t, strings.HasPrefix(tc.ID, "call_"))

	var args map[string]any
	require.NoError(t, json.Unmarshal([]byte(tc.Function.Arguments), &args))
	assert.Equal(t, "/etc/hosts", args["path"])
	assert.Equal(t, float64(1024), args["limit"])
}

func TestNewCallID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewCallID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestClassifyTagPrefix(t *testing.T) {
	cases := []struct {
		in   string
		want TagPrefix
	}{
		{"<", TagIncomplete},
		{"<r", TagIncomplete},
		{"<read_file", TagIncomplete},
		{"<read_file>", TagComplete},
		{"<a>", TagComplete},
		{"< ", TagInvalid},
		{"<3", TagInvalid},
		{"<a b", TagInvalid},
		{"<<", TagInvalid},
		{"</", TagInvalid},
	}
	for _, c := range cases {
		got, _ := ClassifyTagPrefix(c.in)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}

	kind, n := ClassifyTagPrefix("<read_file>rest")
	assert.Equal(t, TagComplete, kind)
	assert.Equal(t, len("<read_file>"), n)
}

func TestClassifyTagPrefix_NameCap(t *testing.T) {
	long := "<" + strings.Repeat("a", maxTagNameLen+10)
	kind, _ := ClassifyTagPrefix(long)
	assert.Equal(t, TagInvalid, kind)
}
