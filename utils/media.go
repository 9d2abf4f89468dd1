package utils

import (
	"github.com/gotd/td/tg"
)

// AttachmentName extracts the filename carried by a message's media, or ""
// when the media has no searchable filename. Stickers are deliberately
// nameless, their filenames are generated noise.
func AttachmentName(media tg.MessageMediaClass) string {
	m, ok := media.(*tg.MessageMediaDocument)
	if !ok {
		return ""
	}
	doc, ok := m.Document.AsNotEmpty()
	if !ok {
		return ""
	}
	var filename string
	for _, attr := range doc.GetAttributes() {
		switch attr := attr.(type) {
		case *tg.DocumentAttributeSticker, *tg.DocumentAttributeHasStickers:
			return ""
		case *tg.DocumentAttributeFilename:
			filename = attr.GetFileName()
		}
	}
	return filename
}
