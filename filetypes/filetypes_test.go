package filetypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtCategory(t *testing.T) {
	for _, test := range []struct {
		ext  string
		want FileCategory
	}{
		{"jpg", CategoryImage},
		{"mp3", CategoryAudio},
		{"mp4", CategoryVideo},
		{"txt", CategoryText},
		{"go", CategoryCode},
		{"pdf", CategoryPdf},
		{"zip", CategoryArchive},
		{"docx", CategoryDocument},
		{"xlsx", CategorySheet},
		{"pptx", CategoryPresentation},
		{"unknownext", CategoryGeneric},
		{"", CategoryGeneric},
	} {
		assert.Equal(t, test.want, ExtCategory(test.ext), test.ext)
	}
}

func TestExtContentType(t *testing.T) {
	assert.Equal(t, "", ExtContentType(""))
	assert.Equal(t, "application/pdf", ExtContentType("pdf"))
	assert.Equal(t, "", ExtContentType("no-such-extension"))
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", DetectContentType([]byte("%PDF-1.4")))
	assert.Contains(t, DetectContentType([]byte("plain text content")), "text/plain")
}
