package roots

import (
	"path"
	"strings"

	"github.com/majoor-app/majoor/pkg/errcode"
)

// SafeRelPath parses a user-supplied relative path (subfolder + filename
// style input) and normalizes it to forward slashes. It fails on absolute
// paths, parent traversal, NUL bytes, and drive letters.
func SafeRelPath(s string) (string, error) {
	if strings.ContainsRune(s, 0) {
		return "", errcode.New(errcode.InvalidInput, "path contains NUL byte")
	}

	normalized := strings.ReplaceAll(s, "\\", "/")

	if strings.HasPrefix(normalized, "/") {
		return "", errcode.New(errcode.InvalidInput, "absolute paths are not allowed")
	}
	// Windows drive letters ("C:", "C:/...") are absolute regardless of
	// the host this server runs on.
	if len(normalized) >= 2 && normalized[1] == ':' &&
		((normalized[0] >= 'a' && normalized[0] <= 'z') || (normalized[0] >= 'A' && normalized[0] <= 'Z')) {
		return "", errcode.New(errcode.InvalidInput, "drive-letter paths are not allowed")
	}

	for _, seg := range strings.Split(normalized, "/") {
		if seg == ".." {
			return "", errcode.New(errcode.InvalidInput, "parent traversal is not allowed")
		}
	}

	cleaned := path.Clean(normalized)
	if cleaned == "." {
		return "", nil
	}
	if strings.HasPrefix(cleaned, "../") || cleaned == ".." || strings.HasPrefix(cleaned, "/") {
		return "", errcode.New(errcode.InvalidInput, "parent traversal is not allowed")
	}
	return cleaned, nil
}
