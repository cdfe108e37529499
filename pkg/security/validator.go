package security

import (
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

// Validator guards the cache directory and downloaded image payloads.
type Validator struct {
	root         string
	maxImageSize int64
}

// NewValidator creates a validator for the cache rooted at root.
// A maxImageSize <= 0 disables the size limit.
func NewValidator(root string, maxImageSize int64) *Validator {
	slog.Info("security_validator_init",
		"root", root,
		"max_image_size_mb", maxImageSize/1024/1024)

	return &Validator{
		root:         filepath.Clean(root),
		maxImageSize: maxImageSize,
	}
}

// ValidatePath checks that path resolves to a file directly inside the cache root.
// Relative paths are interpreted against the root.
func (v *Validator) ValidatePath(path string) error {
	if path == "" {
		slog.Error("security_path_validation_failed", "path", path, "reason", "empty_path")
		return fmt.Errorf("security: empty path")
	}

	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(v.root, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(v.root, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		slog.Error("security_path_validation_failed", "path", path, "root", v.root, "reason", "outside_root")
		return fmt.Errorf("security: path %s escapes cache root %s", path, v.root)
	}

	if strings.ContainsRune(rel, filepath.Separator) {
		slog.Error("security_path_validation_failed", "path", path, "reason", "nested_path")
		return fmt.Errorf("security: nested path not allowed: %s", path)
	}

	return nil
}

// ValidateImageSize checks a payload against the configured maximum.
func (v *Validator) ValidateImageSize(size int64) error {
	if v.maxImageSize > 0 && size > v.maxImageSize {
		slog.Error("security_image_size_exceeded",
			"image_size_mb", size/1024/1024,
			"max_image_size_mb", v.maxImageSize/1024/1024)
		return fmt.Errorf("security: image size %d exceeds max %d", size, v.maxImageSize)
	}
	return nil
}

// ValidateImageContent sniffs data and rejects payloads that are not images,
// such as HTML error pages served with a 200 status.
func (v *Validator) ValidateImageContent(data []byte) error {
	if len(data) == 0 {
		slog.Error("security_image_content_failed", "reason", "empty_payload")
		return fmt.Errorf("security: empty image payload")
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		slog.Error("security_image_content_failed", "content_type", contentType)
		return fmt.Errorf("security: payload is %s, not an image", contentType)
	}
	return nil
}

// MaxImageSize returns the configured limit.
func (v *Validator) MaxImageSize() int64 {
	return v.maxImageSize
}
