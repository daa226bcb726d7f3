package files

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parleyhq/parley/domain"
)

func TestSniffMIME(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}
	assert.Equal(t, "image/png", SniffMIME(png))

	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0, 0, 0}
	assert.Equal(t, "image/jpeg", SniffMIME(jpeg))

	// text sniffing carries a charset parameter that must be stripped
	assert.Equal(t, "text/plain", SniffMIME([]byte("hello world")))
}

func TestAllowed(t *testing.T) {
	assert.True(t, Allowed("image/png"))
	assert.True(t, Allowed("application/pdf"))
	assert.False(t, Allowed("application/x-msdownload"))
	assert.False(t, Allowed("text/html"))
}

func TestMessageType(t *testing.T) {
	assert.Equal(t, domain.MessageTypeImage, MessageType("image/webp"))
	assert.Equal(t, domain.MessageTypeVoice, MessageType("audio/ogg"))
	assert.Equal(t, domain.MessageTypeFile, MessageType("application/pdf"))
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "report_final.pdf", SafeName("report final.pdf"))
	assert.Equal(t, "passwd", SafeName("../../etc/passwd"))
	assert.Equal(t, "notes.txt", SafeName("C:\\Users\\me\\notes.txt"))
	assert.Equal(t, "file", SafeName(""))
}

func TestThumbnailKey(t *testing.T) {
	assert.Equal(t,
		"messages/conv_1/thumb_abc_photo.jpg",
		thumbnailKey("messages/conv_1/abc_photo.png"))
}
