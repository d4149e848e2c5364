// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"strconv"
	"strings"
)

// Segment is one path component of a parsed tag. A segment is either
// textual or a numeric index; numeric segments arise from trailing
// integer components of the raw tag string ("loss/10" indexes series
// 10 under "loss").
type Segment struct {
	Text  string
	Index int
	// Numeric reports whether Index is meaningful; when false, Text is.
	Numeric bool
}

func (s Segment) String() string {
	if s.Numeric {
		return strconv.Itoa(s.Index)
	}
	return s.Text
}

// Tag is a parsed, canonical tag path. Tags are value types: parse
// once with ParseTag, then compare by Key.
type Tag struct {
	segments []Segment
	key      string
}

// Segments returns a copy of the tag's path components.
func (t Tag) Segments() []Segment {
	out := make([]Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// Key returns the canonical map key for the tag. Two tags with equal
// keys index the same series.
func (t Tag) Key() string { return t.key }

func (t Tag) String() string { return t.key }

// IsZero reports whether the tag has no segments.
func (t Tag) IsZero() bool { return len(t.segments) == 0 }

// TagParser memoizes ParseTag. Raw tag strings repeat for every
// record in a file, so each engine carries one parser for its loaders.
// Only the poll goroutine parses, so a plain map suffices.
type TagParser struct {
	cache map[string]Tag
}

func NewTagParser() *TagParser {
	return &TagParser{cache: make(map[string]Tag)}
}

// Parse is a memoizing ParseTag.
func (p *TagParser) Parse(raw string) Tag {
	if tag, ok := p.cache[raw]; ok {
		return tag
	}
	tag := ParseTag(raw)
	p.cache[raw] = tag
	return tag
}

// ParseTag converts a raw tag string into its canonical path form.
// A trailing "/image" component is dropped (writers append it to tags
// of image summaries), then any run of trailing integer components is
// split off into numeric index segments. The remaining head, slashes
// and all, stays a single textual segment.
func ParseTag(raw string) Tag {
	head := strings.TrimSuffix(raw, "/image")
	var indexes []Segment
	for {
		slash := strings.LastIndexByte(head, '/')
		if slash < 0 {
			break
		}
		n, err := strconv.Atoi(head[slash+1:])
		if err != nil {
			break
		}
		indexes = append(indexes, Segment{Index: n, Numeric: true})
		head = head[:slash]
	}

	segments := make([]Segment, 0, 1+len(indexes))
	segments = append(segments, Segment{Text: head})
	for i := len(indexes) - 1; i >= 0; i-- {
		segments = append(segments, indexes[i])
	}
	return newTag(segments)
}

// NewTag builds a tag directly from segments, bypassing string
// parsing. Used for synthetic tags such as record-batch image planes.
func NewTag(segments ...Segment) Tag {
	copied := make([]Segment, len(segments))
	copy(copied, segments)
	return newTag(copied)
}

// TextSegment and IndexSegment are convenience constructors for NewTag.
func TextSegment(text string) Segment { return Segment{Text: text} }
func IndexSegment(n int) Segment      { return Segment{Index: n, Numeric: true} }

func newTag(segments []Segment) Tag {
	var b strings.Builder
	for i, s := range segments {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(s.String())
	}
	return Tag{segments: segments, key: b.String()}
}
