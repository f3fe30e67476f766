package service

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/EslamTharwaat/remove-image-background/config"
)

var (
	imageExtensions   = []string{"png", "jpg", "jpeg", "gif", "bmp", "tiff"}
	archiveExtensions = append(slices.Clone(imageExtensions), "webp")
)

// Validator checks uploads against the configured limits. It has no side effects.
type Validator struct {
	limits config.LimitsConfig
}

func NewValidator(limits config.LimitsConfig) *Validator {
	return &Validator{limits: limits}
}

// Limits returns the limits the validator enforces.
func (v *Validator) Limits() config.LimitsConfig {
	return v.limits
}

// ValidateImage checks a directly uploaded image. head may be nil or the
// first bytes of the payload; when present its content type is sniffed.
func (v *Validator) ValidateImage(name string, size int64, head []byte) error {
	return v.validateImage(name, size, head, imageExtensions)
}

// ValidateArchiveMember is ValidateImage for files found inside a ZIP,
// which additionally accepts webp.
func (v *Validator) ValidateArchiveMember(name string, size int64, head []byte) error {
	return v.validateImage(name, size, head, archiveExtensions)
}

func (v *Validator) validateImage(name string, size int64, head []byte, allowed []string) error {
	if err := ValidateFileName(name); err != nil {
		return err
	}
	if !slices.Contains(allowed, Extension(name)) {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
	if size > v.limits.MaxImageBytes {
		return fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrTooLarge, name, size, v.limits.MaxImageBytes)
	}
	if len(head) > 0 && !isImageContent(head) {
		return fmt.Errorf("%w: %s content is %s", ErrUnsupportedFormat, name, mimetype.Detect(head).String())
	}
	return nil
}

// ValidateArchive checks the compressed upload before it is opened.
func (v *Validator) ValidateArchive(name string, size int64) error {
	if err := ValidateFileName(name); err != nil {
		return err
	}
	if Extension(name) != "zip" {
		return fmt.Errorf("%w: %q is not a zip archive", ErrUnsupportedFormat, name)
	}
	if size > v.limits.MaxArchiveBytes {
		return fmt.Errorf("%w: %d bytes compressed, limit is %d", ErrArchiveTooLarge, size, v.limits.MaxArchiveBytes)
	}
	return nil
}

// ValidateFileName rejects names that could escape the storage directory.
func ValidateFileName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidFileName)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: contains a null byte", ErrInvalidFileName)
	case strings.Contains(name, ".."), strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return nil
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// ImageExtensions lists the extensions accepted for direct uploads.
func ImageExtensions() []string {
	return slices.Clone(imageExtensions)
}

// IsArchive reports whether name looks like a ZIP upload.
func IsArchive(name string) bool {
	return Extension(name) == "zip"
}

func isImageContent(head []byte) bool {
	for m := mimetype.Detect(head); m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return true
		}
	}
	return false
}
