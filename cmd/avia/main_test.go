package main

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/opensource-finance/avia/internal/domain"
)

func TestReadRecords(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []domain.ClaimRecord
	}{
		{
			name:  "single object",
			input: `{"policy_number": "521585", "total_claim_amount": 71610}`,
			want: []domain.ClaimRecord{
				{"policy_number": "521585", "total_claim_amount": 71610.0},
			},
		},
		{
			name:  "array",
			input: `[{"policy_number": "1"}, {"policy_number": "2"}]`,
			want: []domain.ClaimRecord{
				{"policy_number": "1"},
				{"policy_number": "2"},
			},
		},
		{
			name:  "jsonl",
			input: "{\"policy_number\": \"1\"}\n{\"policy_number\": \"2\"}\n\n{\"policy_number\": \"3\"}\n",
			want: []domain.ClaimRecord{
				{"policy_number": "1"},
				{"policy_number": "2"},
				{"policy_number": "3"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readRecords(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("readRecords failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("records mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadRecordsErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"empty array", "[]"},
		{"scalar", "42"},
		{"truncated", `{"policy_number": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := readRecords(strings.NewReader(tt.input)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
