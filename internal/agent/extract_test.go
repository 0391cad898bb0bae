package agent

import "testing"

func TestExtractText(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   string
	}{
		{name: "result field", stdout: `{"type":"result","result":"  done  "}`, want: "done"},
		{name: "output field", stdout: `{"output":"from output"}`, want: "from output"},
		{name: "text field", stdout: `{"text":"from text"}`, want: "from text"},
		{name: "result wins over text", stdout: `{"text":"second","result":"first"}`, want: "first"},
		{name: "blank result falls through", stdout: `{"result":"  ","output":"next"}`, want: "next"},
		{name: "non-string result ignored", stdout: `{"result":42,"text":"ok"}`, want: "ok"},
		{name: "content blocks", stdout: `{"content":[{"text":"a"},{"type":"tool"},{"text":"b"}]}`, want: "a\nb"},
		{name: "content skips blanks and non-objects", stdout: `{"content":["x",{"text":"  "},{"text":" c "}]}`, want: "c"},
		{name: "empty content", stdout: `{"content":[]}`, want: ""},
		{name: "empty object", stdout: `{}`, want: ""},
		{name: "json scalar", stdout: `"just a string"`, want: ""},
		{name: "json array", stdout: `[1,2]`, want: ""},
		{name: "plain text", stdout: "  hello world\n", want: "hello world"},
		{name: "empty", stdout: "", want: ""},
		{name: "whitespace", stdout: " \n\t", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractText(tt.stdout); got != tt.want {
				t.Errorf("ExtractText(%q) = %q, want %q", tt.stdout, got, tt.want)
			}
		})
	}
}
