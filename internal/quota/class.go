// Package quota tracks per-account cooldowns for the upstream resource
// classes. Text is the foundational class: while it is cooling down every
// other class is reported unavailable as well, regardless of its own state.
package quota

import "time"

// Class is a resource dimension subject to its own rate-limit cooldown.
type Class int

const (
	ClassText Class = iota
	ClassImages
	ClassVideos

	numClasses = 3
)

// Classes lists every known class in reporting order.
var Classes = [numClasses]Class{ClassText, ClassImages, ClassVideos}

func (c Class) String() string {
	switch c {
	case ClassText:
		return "text"
	case ClassImages:
		return "images"
	case ClassVideos:
		return "videos"
	default:
		return "unknown"
	}
}

// Valid reports whether c is one of the known classes.
func (c Class) Valid() bool {
	return c >= ClassText && c <= ClassVideos
}

// ParseClass maps a persisted class name back to its enum value.
func ParseClass(name string) (Class, bool) {
	switch name {
	case "text":
		return ClassText, true
	case "images":
		return ClassImages, true
	case "videos":
		return ClassVideos, true
	default:
		return ClassText, false
	}
}

// Durations holds the configured cooldown length per class.
type Durations struct {
	Text   time.Duration
	Images time.Duration
	Videos time.Duration
}

// For returns the cooldown duration for a class. Unknown classes fall back to
// the text duration.
func (d Durations) For(c Class) time.Duration {
	switch c {
	case ClassImages:
		return d.Images
	case ClassVideos:
		return d.Videos
	default:
		return d.Text
	}
}
