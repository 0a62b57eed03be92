// Package labels reads and represents ground-truth object labels for
// detection training samples.
//
// A label file holds one object per line, five space-delimited columns:
//
//	class x_center y_center width height
//
// Coordinates are in centroid format, normalized to [0,1] by the image
// width (x, w) and height (y, h). Class ids start at 0. Lines starting
// with '#' are comments.
package labels

import "fmt"

// Object is one labeled object in a sample.
type Object struct {
	// Class is the object class id, starting at 0.
	Class int
	// X, Y are the bounding box center, normalized by image width and height.
	X, Y float32
	// W, H are the bounding box width and height, normalized likewise.
	W, H float32
}

// FormatError reports a label line that does not parse into exactly
// five numeric fields with a valid class column. A format error aborts
// the whole sample: a partially read label set would corrupt the
// training signal.
type FormatError struct {
	// Line is the 1-based line number within the label source.
	Line int
	// Reason describes what was wrong with the line.
	Reason string
	cause  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("label line %d: %s", e.Line, e.Reason)
}

func (e *FormatError) Unwrap() error { return e.cause }
