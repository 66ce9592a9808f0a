package toolxml

// maxTagNameLen bounds the lookahead the streaming path holds back while it
// decides whether a "<" starts a real tag. No generated tool name comes close.
const maxTagNameLen = 256

// TagPrefix classifies the text following a "<" for the streaming withholder.
type TagPrefix int

const (
	// TagIncomplete means the text could still grow into an opening tag.
	TagIncomplete TagPrefix = iota
	// TagComplete means the text begins with a full opening tag.
	TagComplete
	// TagInvalid means the text can never be an opening tag.
	TagInvalid
)

// ClassifyTagPrefix examines s, which must start with "<", and reports
// whether it is a complete opening tag, a possible prefix of one, or neither.
// For TagComplete the returned length covers the tag including both brackets.
// The identifier charset matches the openingTag pattern used by Decode.
func ClassifyTagPrefix(s string) (TagPrefix, int) {
	if len(s) == 0 || s[0] != '<' {
		return TagInvalid, 0
	}
	if len(s) == 1 {
		return TagIncomplete, 0
	}

	c := s[1]
	if !isTagStart(c) {
		return TagInvalid, 0
	}

	for i := 2; i < len(s); i++ {
		switch {
		case s[i] == '>':
			return TagComplete, i + 1
		case isTagChar(s[i]):
			if i > maxTagNameLen {
				return TagInvalid, 0
			}
		default:
			return TagInvalid, 0
		}
	}
	if len(s) > maxTagNameLen {
		return TagInvalid, 0
	}
	return TagIncomplete, 0
}

func isTagStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isTagChar(c byte) bool {
	return isTagStart(c) || c == '-' || (c >= '0' && c <= '9')
}
