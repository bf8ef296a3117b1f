package doc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileTypeFromName(t *testing.T) {
	tests := map[string]FileType{
		"report.PDF":   FileTypePDF,
		"photo.jpeg":   FileTypeImage,
		"README.md":    FileTypeMD,
		"notes.txt":    FileTypeTXT,
		"no-extension": FileTypeTXT,
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, FileTypeFromName(name))
		})
	}
}
