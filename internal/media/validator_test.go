package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// TestValidateFile_ValidFile tests validation of existing readable file
func TestValidateFile_ValidFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "test-video.mp4")
	if err := os.WriteFile(tmpFile, []byte("test content"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	result := ValidateFile(tmpFile)

	if !result.Readable {
		t.Errorf("Expected readable=true for existing file, got false. Reasons: %v", result.Reasons)
	}
	if len(result.Reasons) > 0 {
		t.Errorf("Expected no reasons for valid file, got: %v", result.Reasons)
	}
	if result.Size != int64(len("test content")) {
		t.Errorf("Expected size %d, got %d", len("test content"), result.Size)
	}
	if result.Summary() != "" {
		t.Errorf("Expected empty summary, got %q", result.Summary())
	}
}

// TestValidateFile_NonExistentFile tests validation of non-existent file
func TestValidateFile_NonExistentFile(t *testing.T) {
	result := ValidateFile("/nonexistent/path/to/video.mp4")

	if result.Readable {
		t.Error("Expected readable=false for non-existent file, got true")
	}
	if !containsIgnoreCase(result.Summary(), "does not exist") {
		t.Errorf("Expected summary to mention file not existing, got: %q", result.Summary())
	}
}

// TestValidateFile_EmptyPath tests validation when no path was recorded
func TestValidateFile_EmptyPath(t *testing.T) {
	result := ValidateFile("")

	if result.Readable {
		t.Error("Expected readable=false for empty path, got true")
	}
	if len(result.Reasons) != 1 {
		t.Errorf("Expected one reason, got: %v", result.Reasons)
	}
}

// TestValidateFile_Directory tests validation when path is a directory
func TestValidateFile_Directory(t *testing.T) {
	result := ValidateFile(t.TempDir())

	if result.Readable {
		t.Error("Expected readable=false for directory, got true")
	}
	if !containsIgnoreCase(result.Summary(), "directory") {
		t.Errorf("Expected summary to mention directory, got: %q", result.Summary())
	}
}

// TestValidateFile_EmptyFile tests validation of a zero-byte download
func TestValidateFile_EmptyFile(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "empty.mp4")
	if err := os.WriteFile(tmpFile, nil, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	result := ValidateFile(tmpFile)

	if result.Readable {
		t.Error("Expected readable=false for empty file, got true")
	}
	if !containsIgnoreCase(result.Summary(), "empty") {
		t.Errorf("Expected summary to mention empty file, got: %q", result.Summary())
	}
}

// TestValidateFile_PermissionDenied tests validation when file is not readable
func TestValidateFile_PermissionDenied(t *testing.T) {
	if os.PathSeparator == '\\' {
		t.Skip("Skipping permission test on Windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("Skipping permission test as root")
	}

	tmpFile := filepath.Join(t.TempDir(), "unreadable.mp4")
	if err := os.WriteFile(tmpFile, []byte("test content"), 0000); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	defer os.Chmod(tmpFile, 0644)

	result := ValidateFile(tmpFile)

	if result.Readable {
		t.Error("Expected readable=false for unreadable file, got true")
	}
	if !containsIgnoreCase(result.Summary(), "permission") {
		t.Errorf("Expected summary to mention permission, got: %q", result.Summary())
	}
}
