package blob

import "strings"

// MaxBlobSize is the largest content the engine is expected to move.
// Enforcing it is the caller's job; see Metadata.TooLarge.
const MaxBlobSize int64 = 100 * 1024 * 1024

// MimeAttachment is the display type of anything that is not renderable.
const MimeAttachment = "unknown/attachment"

// mimeTypes lists the types a client renders inline. Everything else is
// shown as an attachment.
var mimeTypes = map[string]string{
	"apng": "image/apng",
	"avif": "image/avif",
	"png":  "image/png",
	"gif":  "image/gif",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"bmp":  "image/bmp",
	"svg":  "image/svg+xml",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"webp": "image/webp",
}

// ContentHandle identifies one piece of transferable content.
type ContentHandle struct {
	ID       string
	Filename string
	Length   int64 // zero when unknown
	Owner    string
}

// Metadata is display information derived from a ContentHandle.
type Metadata struct {
	Extension  string
	MimeType   string
	Renderable bool
	TooLarge   bool
}

// Classify derives Metadata from h. Unknown extensions classify as
// non-renderable attachments.
func Classify(h ContentHandle) Metadata {
	var ext string
	name := strings.ToLower(h.Filename)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		ext = name[i+1:]
	}

	md := Metadata{
		Extension: ext,
		MimeType:  MimeAttachment,
		TooLarge:  h.Length > MaxBlobSize,
	}
	if mt, ok := mimeTypes[ext]; ok {
		md.MimeType = mt
		md.Renderable = true
	}
	return md
}
