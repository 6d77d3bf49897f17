package draft

import (
	"time"

	"github.com/google/uuid"

	"civicreport/models"
)

// PreviewHandle is a display resource tied to the held image (the server-side
// analog of an object URL). The pipeline guarantees Release is called exactly
// once on every exit path: discard, replacement, successful submit, eviction.
type PreviewHandle interface {
	Release()
}

// Draft is the in-memory, not-yet-submitted issue report. It is created when
// an image is attached and destroyed on submission, discard or eviction. The
// analysis result, once set, is never modified; user edits go to Form only.
type Draft struct {
	ID        string
	Image     []byte
	ImageMIME string

	preview         PreviewHandle
	previewReleased bool

	Analysis *models.AnalysisResponse

	Form            models.FormFields
	LocationAddress string
	Location        *models.Location

	CreatedAt time.Time
}

func newDraft(image []byte, mimeType string, preview PreviewHandle, now time.Time) *Draft {
	return &Draft{
		ID:        uuid.New().String(),
		Image:     image,
		ImageMIME: mimeType,
		preview:   preview,
		CreatedAt: now,
		Form: models.FormFields{
			Category: models.DefaultCategory,
			Severity: models.DefaultSeverity,
		},
	}
}

// releasePreview releases the preview resource. Safe to call on every exit
// path; the flag keeps the release from happening twice.
func (d *Draft) releasePreview() {
	if d == nil || d.previewReleased {
		return
	}
	d.previewReleased = true
	if d.preview != nil {
		d.preview.Release()
	}
}
