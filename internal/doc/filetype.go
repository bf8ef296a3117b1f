package doc

import (
	"path/filepath"
	"strings"
)

// FileTypeFromName classifies an uploaded file by extension. Unknown
// extensions are treated as plain text.
func FileTypeFromName(name string) FileType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FileTypePDF
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg":
		return FileTypeImage
	case ".md", ".markdown":
		return FileTypeMD
	default:
		return FileTypeTXT
	}
}
