package schemas

import "errors"

// ErrInvalidFingerprint is returned when a fingerprint lacks the tag name that
// gates every comparison.
var ErrInvalidFingerprint = errors.New("invalid fingerprint: tag name is required")

// -- Fingerprint Schemas --

// BoundingBox is an element's rendered geometry in CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Neighbor describes a nearby sibling or ancestor of an element.
type Neighbor struct {
	Tag  string `json:"tag" yaml:"tag"`
	Text string `json:"text,omitempty" yaml:"text,omitempty"`
}

// ElementFingerprint is the identity signature of a DOM element, either the
// last known good snapshot for a selector or a live candidate being evaluated.
//
// Neighbors distinguishes "not captured" (nil) from "captured, nothing nearby"
// (empty, non-nil). Only the former removes the signal from scoring.
type ElementFingerprint struct {
	TagName           string      `json:"tag_name" yaml:"tag_name"`
	TextContent       string      `json:"text_content,omitempty" yaml:"text_content,omitempty"`
	VisualBoundingBox BoundingBox `json:"visual_bounding_box" yaml:"visual_bounding_box"`
	AccessibilityPath string      `json:"accessibility_path,omitempty" yaml:"accessibility_path,omitempty"`
	Neighbors         []Neighbor  `json:"neighbors" yaml:"neighbors"`
}

// Validate reports whether the fingerprint may take part in scoring.
func (f ElementFingerprint) Validate() error {
	if f.TagName == "" {
		return ErrInvalidFingerprint
	}
	return nil
}

// HasText reports whether visible text was captured.
func (f ElementFingerprint) HasText() bool { return f.TextContent != "" }

// HasNeighbors reports whether neighbor context was captured, even if empty.
func (f ElementFingerprint) HasNeighbors() bool { return f.Neighbors != nil }
