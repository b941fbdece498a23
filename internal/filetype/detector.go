package filetype

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// ErrUnsupported is returned for anything that is not a PDF.
var ErrUnsupported = errors.New("unsupported file type")

// MIMEPDF is the only accepted content type.
const MIMEPDF = "application/pdf"

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType    string
	Extension   string
	Supported   bool
	Description string
}

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect sniffs the upload by its magic bytes. name only feeds the log.
func (d *Detector) Detect(data []byte, name string) *FileTypeInfo {
	mtype := mimetype.Detect(data)
	info := &FileTypeInfo{MIMEType: mtype.String(), Extension: mtype.Extension()}
	d.classify(info)
	log.Debug().Str("mime", info.MIMEType).Str("ext", info.Extension).Str("file", name).Bool("supported", info.Supported).Msg("detected file type")
	if info.Supported && name != "" && !strings.EqualFold(filepath.Ext(name), ".pdf") {
		log.Debug().Str("file", name).Msg("PDF content behind a non-pdf file name")
	}
	return info
}

// RequirePDF returns ErrUnsupported unless data is a PDF.
func (d *Detector) RequirePDF(data []byte, name string) (*FileTypeInfo, error) {
	info := d.Detect(data, name)
	if !info.Supported {
		return info, fmt.Errorf("%w: %s", ErrUnsupported, info.MIMEType)
	}
	return info, nil
}

func (d *Detector) classify(info *FileTypeInfo) {
	switch {
	case info.MIMEType == MIMEPDF || strings.HasPrefix(info.MIMEType, MIMEPDF+";"):
		info.MIMEType = MIMEPDF
		info.Supported = true
		info.Description = "PDF document"
	default:
		info.Supported = false
		info.Description = fmt.Sprintf("Unsupported file type: %s", info.MIMEType)
	}
}
