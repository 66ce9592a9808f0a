package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateChatRequest_Accepts(t *testing.T) {
	cases := map[string]string{
		"minimal":        `{"messages":[{"role":"user","content":"hi"}]}`,
		"full":           `{"model":"m","messages":[{"role":"system","content":"s"},{"role":"user","content":"u"}],"temperature":0.7,"top_p":0.9,"max_tokens":100,"stream":true}`,
		"tool_result":    `{"messages":[{"role":"tool","content":"out","tool_call_id":"call_1"}]}`,
		"assistant_call": `{"messages":[{"role":"assistant","tool_calls":[{"id":"call_1","type":"function","function":{"name":"f","arguments":"{}"}}]}]}`,
		"null_sampling":  `{"messages":[{"role":"user","content":"hi"}],"temperature":null,"top_p":null,"max_tokens":null,"stream":null}`,
		"boundary_temps": `{"messages":[{"role":"user","content":"hi"}],"temperature":2,"top_p":1}`,
		"empty_content":  `{"messages":[{"role":"user","content":""}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, ValidateChatRequest([]byte(body)))
		})
	}
}

func TestValidateChatRequest_Rejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		code string
	}{
		{"not_json", `{messages`, "invalid_json"},
		{"no_messages", `{"model":"m"}`, "missing_messages"},
		{"messages_not_array", `{"messages":"hi"}`, "invalid_messages"},
		{"empty_messages", `{"messages":[]}`, "empty_messages"},
		{"missing_role", `{"messages":[{"content":"hi"}]}`, "missing_role"},
		{"role_wrong_type", `{"messages":[{"role":1,"content":"hi"}]}`, "missing_role"},
		{"bad_role", `{"messages":[{"role":"wizard","content":"hi"}]}`, "invalid_role"},
		{"missing_content", `{"messages":[{"role":"user"}]}`, "missing_content"},
		{"null_content", `{"messages":[{"role":"user","content":null}]}`, "missing_content"},
		{"assistant_no_content_no_calls", `{"messages":[{"role":"assistant"}]}`, "missing_content"},
		{"temp_too_high", `{"messages":[{"role":"user","content":"hi"}],"temperature":2.5}`, "invalid_temperature"},
		{"temp_negative", `{"messages":[{"role":"user","content":"hi"}],"temperature":-1}`, "invalid_temperature"},
		{"temp_wrong_type", `{"messages":[{"role":"user","content":"hi"}],"temperature":"hot"}`, "invalid_temperature"},
		{"top_p_zero", `{"messages":[{"role":"user","content":"hi"}],"top_p":0}`, "invalid_top_p"},
		{"top_p_above_one", `{"messages":[{"role":"user","content":"hi"}],"top_p":1.5}`, "invalid_top_p"},
		{"max_tokens_zero", `{"messages":[{"role":"user","content":"hi"}],"max_tokens":0}`, "invalid_max_tokens"},
		{"max_tokens_fraction", `{"messages":[{"role":"user","content":"hi"}],"max_tokens":1.5}`, "invalid_max_tokens"},
		{"stream_wrong_type", `{"messages":[{"role":"user","content":"hi"}],"stream":"yes"}`, "invalid_stream"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			verr := ValidateChatRequest([]byte(c.body))
			require.NotNil(t, verr)
			assert.Equal(t, c.code, verr.Code)
		})
	}
}

func TestMessageContentNeverOmitted(t *testing.T) {
	raw := MarshalJSONString(Message{Role: RoleAssistant})
	assert.Contains(t, raw, `"content":""`)
}
