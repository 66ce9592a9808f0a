// Package toolxml bridges structured function calling and free-form model
// text. The upstream has no native tool-call field: tools are offered as an
// instructional text block in the system message, and invocations come back
// as inline XML-tagged blocks the codec decodes out of the reply.
package toolxml

import (
	"fmt"
	"sort"
	"strings"

	"github.com/compresr/turn-gateway/internal/openai"
)

const encodeHeader = `# Tool Use

You have access to the tools listed below. To use a tool, reply with an XML
block whose outer tag is the tool name and whose nested tags are the
parameters. Invoke at most one tool per message. After the tool runs, its
result arrives in the next user message.

`

// Encode renders the tool definitions as one instructional section to be
// appended to the system message. Returns "" when no tools are given.
func Encode(tools []openai.Tool) string {
	if len(tools) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(encodeHeader)

	for _, tool := range tools {
		fn := tool.Function
		fmt.Fprintf(&b, "## %s\n", fn.Name)
		if fn.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", fn.Description)
		}

		names := sortedParams(fn.Parameters)
		if len(names) > 0 {
			b.WriteString("Parameters:\n")
			for _, name := range names {
				prop := fn.Parameters.Properties[name]
				marker := "optional"
				if isRequired(fn.Parameters.Required, name) {
					marker = "required"
				}
				if prop.Type != "" {
					fmt.Fprintf(&b, "- %s: (%s, %s) %s\n", name, marker, prop.Type, prop.Description)
				} else {
					fmt.Fprintf(&b, "- %s: (%s) %s\n", name, marker, prop.Description)
				}
			}
		}

		b.WriteString("Usage:\n")
		fmt.Fprintf(&b, "<%s>\n", fn.Name)
		for _, name := range names {
			fmt.Fprintf(&b, "<%s>value here</%s>\n", name, name)
		}
		fmt.Fprintf(&b, "</%s>\n\n", fn.Name)
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// sortedParams returns parameter names in stable order so the encoded block
// is deterministic across runs.
func sortedParams(p openai.Parameters) []string {
	names := make([]string, 0, len(p.Properties))
	for name := range p.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isRequired(required []string, name string) bool {
	for _, r := range required {
		if r == name {
			return true
		}
	}
	return false
}
