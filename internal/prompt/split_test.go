package prompt

import "testing"

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "SingleLine",
			text: "hello world",
			want: []string{"hello world"},
		},
		{
			name: "MultipleLines",
			text: "first\nsecond\nthird",
			want: []string{"first", "second", "third"},
		},
		{
			name: "TrailingNewline",
			text: "first\nsecond\n",
			want: []string{"first", "second"},
		},
		{
			name: "InteriorEmptyLineKept",
			text: "first\n\nthird",
			want: []string{"first", "", "third"},
		},
		{
			name: "WindowsLineEndings",
			text: "first\r\nsecond\r\n",
			want: []string{"first", "second"},
		},
		{
			name: "EmptyInput",
			text: "",
			want: nil,
		},
		{
			name: "OnlyNewline",
			text: "\n",
			want: []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitLines(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitLines(%q) = %d prompts, want %d", tt.text, len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Prompt %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
