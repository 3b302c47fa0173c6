package limits

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantErr error
	}{
		{
			name:    "empty message",
			message: "",
			wantErr: ErrMessageEmpty,
		},
		{
			name:    "valid small message",
			message: "Hello, world!",
			wantErr: nil,
		},
		{
			name:    "valid max-size message",
			message: strings.Repeat("a", MaxMessageLength),
			wantErr: nil,
		},
		{
			name:    "message too large",
			message: strings.Repeat("a", MaxMessageLength+1),
			wantErr: ErrMessageTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.message)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChunk(t *testing.T) {
	if err := ValidateChunk(MaxChunkSize); err != nil {
		t.Errorf("ValidateChunk(MaxChunkSize) = %v, want nil", err)
	}
	if err := ValidateChunk(MaxChunkSize + 1); !errors.Is(err, ErrChunkTooLarge) {
		t.Errorf("ValidateChunk(MaxChunkSize+1) = %v, want ErrChunkTooLarge", err)
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"plain", "a.bin", "a.bin", nil},
		{"nested", "dir/sub/a.bin", "a.bin", nil},
		{"absolute", "/etc/passwd", "passwd", nil},
		{"windows separators", `..\..\boot.ini`, "boot.ini", nil},
		{"parent only", "..", "", ErrDirectoryTraversal},
		{"root", "/", "", ErrDirectoryTraversal},
		{"too long", strings.Repeat("x", MaxFileNameLength+1), "", ErrFileNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeFileName(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SanitizeFileName(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDefaultTransferCap(t *testing.T) {
	if DefaultMaxTransfersPerPeer != 20 {
		t.Errorf("DefaultMaxTransfersPerPeer = %d, want 20", DefaultMaxTransfersPerPeer)
	}
}
