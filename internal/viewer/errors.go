package viewer

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed document.
	ErrClosed = errors.New("viewer closed")
	// ErrNotLoaded is returned when the document has not finished loading.
	ErrNotLoaded = errors.New("document not loaded")
	// ErrNoPage is returned for page numbers the document does not show.
	ErrNoPage = errors.New("no such page")
	// ErrInvalidOption is wrapped by DocumentOptions.Validate failures.
	ErrInvalidOption = errors.New("invalid option")

	errNoImage = errors.New("render produced no image")
)

// LoadError reports that a document (Page 0) or a page failed to load.
type LoadError struct {
	Page int
	Err  error
}

func (e *LoadError) Error() string {
	if e.Page == 0 {
		return fmt.Sprintf("load document: %v", e.Err)
	}
	return fmt.Sprintf("load page %d: %v", e.Page, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RenderError reports that drawing a loaded page failed.
type RenderError struct {
	Page int
	Err  error
}

func (e *RenderError) Error() string { return fmt.Sprintf("render page %d: %v", e.Page, e.Err) }

func (e *RenderError) Unwrap() error { return e.Err }
