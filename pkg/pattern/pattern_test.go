package pattern

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		glob    string
		input   string
		want    bool
		wantErr bool
	}{
		{name: "literal match", glob: "latest", input: "latest", want: true},
		{name: "literal mismatch", glob: "latest", input: "latest-1", want: false},
		{name: "anchored prefix", glob: "v1", input: "v1.0", want: false},
		{name: "star suffix", glob: "v1.*", input: "v1.0", want: true},
		{name: "star suffix multi", glob: "v1.*", input: "v1.0.3-alpine", want: true},
		{name: "star matches empty run", glob: "v1*", input: "v1", want: true},
		{name: "star middle", glob: "release-*-rc", input: "release-2024-rc", want: true},
		{name: "question single char", glob: "v?", input: "v1", want: true},
		{name: "question needs a char", glob: "v?", input: "v", want: false},
		{name: "question exactly one", glob: "v?", input: "v10", want: false},
		{name: "case sensitive", glob: "Latest", input: "latest", want: false},
		{name: "dot is literal", glob: "v1.0", input: "v1x0", want: false},
		{name: "regex chars are literal", glob: "a+b", input: "a+b", want: true},
		{name: "regex chars are literal mismatch", glob: "a+b", input: "aab", want: false},
		{name: "match everything", glob: "*", input: "anything-goes", want: true},
		{name: "empty pattern is invalid", glob: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.glob)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Compile(%q) succeeded, want error", tt.glob)
				}
				return
			}
			if err != nil {
				t.Fatalf("Compile(%q) returned error: %v", tt.glob, err)
			}
			if got := p.Match(tt.input); got != tt.want {
				t.Errorf("Compile(%q).Match(%q) = %v, want %v", tt.glob, tt.input, got, tt.want)
			}
		})
	}
}

func TestMatchAny(t *testing.T) {
	patterns, err := CompileAll([]string{"latest", "v1.*", "stable-?"})
	if err != nil {
		t.Fatalf("CompileAll returned error: %v", err)
	}

	if !MatchAny(patterns, "v1.4") {
		t.Error("expected v1.4 to match")
	}
	if !MatchAny(patterns, "stable-a") {
		t.Error("expected stable-a to match")
	}
	if MatchAny(patterns, "v2.0") {
		t.Error("expected v2.0 not to match")
	}
	if MatchAny(nil, "anything") {
		t.Error("expected no match against empty pattern list")
	}
}

func TestCompileAllFailsFast(t *testing.T) {
	if _, err := CompileAll([]string{"ok", ""}); err == nil {
		t.Fatal("expected error for empty pattern in list")
	}
}
