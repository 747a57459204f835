package autemo

import (
	"errors"
	"strings"
	"testing"
)

func TestSplitShout(t *testing.T) {
	long := strings.Repeat("x", 251)

	tests := []struct {
		name    string
		message string
		want    []string
		wantErr error
	}{
		{
			name:    "empty message",
			message: "",
			want:    nil,
		},
		{
			name:    "whitespace only",
			message: "  \t\n  ",
			want:    nil,
		},
		{
			name:    "short message single chunk",
			message: "hello there",
			want:    []string{"hello there"},
		},
		{
			name:    "exactly at the limit",
			message: strings.Repeat("x", 250),
			want:    []string{strings.Repeat("x", 250)},
		},
		{
			name:    "internal whitespace normalized",
			message: "a  b\tc",
			want:    []string{"a b c"},
		},
		{
			name:    "splits on word boundary",
			message: strings.Repeat("x", 248) + " yy",
			want:    []string{strings.Repeat("x", 248), "yy"},
		},
		{
			name:    "word fitting with separator stays in chunk",
			message: strings.Repeat("x", 247) + " yy",
			want:    []string{strings.Repeat("x", 247) + " yy"},
		},
		{
			name:    "unsplittable word",
			message: long,
			want:    nil,
			wantErr: ErrMessageTooLong,
		},
		{
			name:    "complete chunks survive unsplittable word",
			message: strings.Repeat("x", 250) + " " + strings.Repeat("y", 250) + " " + long,
			want:    []string{strings.Repeat("x", 250)},
			wantErr: ErrMessageTooLong,
		},
		{
			name:    "pending partial chunk dropped on error",
			message: "short " + long,
			want:    nil,
			wantErr: ErrMessageTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitShout(tt.message)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("splitShout() error = %v, want %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("splitShout() = %d chunks, want %d: %q", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitShoutReproducesInput(t *testing.T) {
	message := strings.Repeat("word ", 200) // 1000 chars, splits into several chunks

	chunks, err := splitShout(message)
	if err != nil {
		t.Fatalf("splitShout() error = %v", err)
	}

	for i, chunk := range chunks {
		if len(chunk) > maxShoutLen {
			t.Errorf("chunk[%d] is %d chars, exceeds %d", i, len(chunk), maxShoutLen)
		}
	}

	joined := strings.Join(chunks, " ")
	want := strings.Join(strings.Fields(message), " ")
	if joined != want {
		t.Errorf("joined chunks do not reproduce input:\ngot  %q\nwant %q", joined, want)
	}
}
