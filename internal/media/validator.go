package media

import (
	"os"
	"strings"
)

// ValidationResult contains the result of asset validation
type ValidationResult struct {
	Readable bool     // File exists, is a regular non-empty file and can be opened
	Size     int64    // Size in bytes when the file could be stat'ed
	Reasons  []string // Human-readable reasons the asset cannot be played
}

// Summary joins the reasons into one message suitable for an item's error
func (r ValidationResult) Summary() string {
	if len(r.Reasons) == 0 {
		return ""
	}
	return "asset unplayable: " + strings.Join(r.Reasons, "; ")
}

// ValidateFile checks if a downloaded asset exists and is readable
func ValidateFile(filePath string) ValidationResult {
	result := ValidationResult{
		Reasons: []string{},
	}

	if filePath == "" {
		result.Reasons = append(result.Reasons, "no file path recorded")
		return result
	}

	// Check if file exists and get info
	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			result.Reasons = append(result.Reasons, "file does not exist")
		} else if os.IsPermission(err) {
			result.Reasons = append(result.Reasons, "file is not readable (permission denied)")
		} else {
			result.Reasons = append(result.Reasons, "file access error: "+err.Error())
		}
		return result
	}

	if info.IsDir() {
		result.Reasons = append(result.Reasons, "path is a directory, not a file")
		return result
	}

	result.Size = info.Size()
	if result.Size == 0 {
		result.Reasons = append(result.Reasons, "file is empty")
		return result
	}

	// Actually try to open the file to verify read permissions
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsPermission(err) {
			result.Reasons = append(result.Reasons, "file is not readable (permission denied)")
		} else {
			result.Reasons = append(result.Reasons, "cannot open file: "+err.Error())
		}
		return result
	}
	file.Close()

	result.Readable = true
	return result
}
