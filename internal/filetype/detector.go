package filetype

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Info describes a detected payload type and how it can be dispatched.
type Info struct {
	MIMEType    string
	Extension   string
	IsImage     bool
	NeedsRender bool // PDF pages are rendered to JPEG before dispatch
	Supported   bool
	Description string
}

// visionMIMEs are the image types hosted multimodal deployments accept.
var visionMIMEs = map[string]string{
	"image/png":  "PNG image",
	"image/jpeg": "JPEG image",
	"image/gif":  "GIF image",
	"image/webp": "WebP image",
}

// Detector classifies payloads by magic bytes, never by filename.
type Detector struct{}

func New() *Detector { return &Detector{} }

// Detect sniffs the payload type from its leading bytes.
func (d *Detector) Detect(data []byte) Info {
	mtype := mimetype.Detect(data)
	info := Info{MIMEType: mtype.String(), Extension: mtype.Extension()}
	d.classify(&info)

	log.Debug().
		Str("mime", info.MIMEType).
		Str("ext", info.Extension).
		Bool("supported", info.Supported).
		Msg("detected payload type")
	return info
}

func (d *Detector) classify(info *Info) {
	// mimetype appends parameters to some types (e.g. charset); match on
	// the bare media type.
	mime := info.MIMEType
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	if desc, ok := visionMIMEs[mime]; ok {
		info.IsImage = true
		info.Supported = true
		info.Description = desc
		return
	}

	switch {
	case mime == "application/pdf":
		info.NeedsRender = true
		info.Supported = true
		info.Description = "PDF document"
	case strings.HasPrefix(mime, "image/"):
		info.IsImage = true
		info.Description = fmt.Sprintf("Unsupported image type: %s", mime)
	default:
		info.Description = fmt.Sprintf("Unsupported payload type: %s", mime)
	}
}
