package cmdutil

import (
	"reflect"
	"testing"
)

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"simple", "A=1 B=2", []string{"A=1", "B=2"}, false},
		{"quoted value", `A=1 B='two words' C="x y"`, []string{"A=1", "B=two words", "C=x y"}, false},
		{"value with equals", "URL=http://h/?a=b", []string{"URL=http://h/?a=b"}, false},
		{"empty", "", []string{}, false},
		{"missing equals", "A=1 oops", nil, true},
		{"unterminated quote", `A='open`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAssignments(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAssignments() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseAssignments() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("entry %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseAssignmentList(t *testing.T) {
	tests := []struct {
		name    string
		input   interface{}
		want    []string
		wantErr bool
	}{
		{"nil", nil, nil, false},
		{"string", "A=1 B='x y'", []string{"A=1", "B=x y"}, false},
		{"string keeps malformed entry", "A=1 oops", []string{"A=1", "oops"}, false},
		{"unterminated string", "A='open", nil, true},
		{"string slice", []string{"A=1"}, []string{"A=1"}, false},
		{"interface slice", []interface{}{"A=1", "B=2"}, []string{"A=1", "B=2"}, false},
		{"non-string item", []interface{}{"A=1", 2}, nil, true},
		{"wrong type", 42, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAssignmentList(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAssignmentList() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseAssignmentList() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatAssignments(t *testing.T) {
	if got := FormatAssignments(nil); got != "<none>" {
		t.Errorf("FormatAssignments(nil) = %q", got)
	}
	if got := FormatAssignments([]string{"A=1", "B=two words"}); got != `A=1 'B=two words'` {
		t.Errorf("FormatAssignments() = %q", got)
	}
}

func TestRedactAssignments(t *testing.T) {
	got := RedactAssignments([]string{"API_KEY=abc", "MODE=prod", "db_password=hunter2", "GITHUB_TOKEN=ghp"})
	want := []string{"API_KEY=***REDACTED***", "MODE=prod", "db_password=***REDACTED***", "GITHUB_TOKEN=***REDACTED***"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("RedactAssignments() = %v, want %v", got, want)
	}
}
