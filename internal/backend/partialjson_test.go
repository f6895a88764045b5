package backend

import (
	"encoding/json"
	"testing"
)

func TestCompletePartialJSON(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
		{
			name:  "balanced document unchanged",
			input: `{"items":["a","b"]}`,
			want:  `{"items":["a","b"]}`,
		},
		{
			name:  "open string inside open array",
			input: `{"items":["alp`,
			want:  `{"items":["alp"]}`,
		},
		{
			name:  "trailing comma trimmed",
			input: `{"items":["alpha",`,
			want:  `{"items":["alpha"]}`,
		},
		{
			name:  "open string value",
			input: `{"reasoning":"thinking abo`,
			want:  `{"reasoning":"thinking abo"}`,
		},
		{
			name:  "key without value dropped",
			input: `{"a":1,"b":`,
			want:  `{"a":1}`,
		},
		{
			name:  "open key string dropped with its colon",
			input: `{"a":1,"lon":`,
			want:  `{"a":1}`,
		},
		{
			name:  "bare minus trimmed",
			input: `[-`,
			want:  `[]`,
		},
		{
			name:  "escaped quote keeps string open",
			input: `{"a":"x\"`,
			want:  `{"a":"x\""}`,
		},
		{
			name:  "dangling backslash escaped before closing",
			input: `{"a":"x\`,
			want:  `{"a":"x\\"}`,
		},
		{
			name:  "nested containers closed in order",
			input: `{"events":[{"title":"standup","attendees":["bob"`,
			want:  `{"events":[{"title":"standup","attendees":["bob"]}]}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := CompletePartialJSON(tc.input)
			if got != tc.want {
				t.Errorf("CompletePartialJSON(%q) = %q, want %q", tc.input, got, tc.want)
			}
			if got != "" && !json.Valid([]byte(got)) {
				t.Errorf("completed document is not valid JSON: %q", got)
			}
		})
	}
}
