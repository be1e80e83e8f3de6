// Package mention splits message text into plain and @mention segments.
package mention

import "regexp"

type SegmentType string

const (
	SegmentText    SegmentType = "text"
	SegmentMention SegmentType = "mention"
)

type Segment struct {
	Type     SegmentType
	Content  string
	Username string // set for mentions only, without the leading @
	Self     bool   // mention of the current user
}

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// Highlight scans content left to right for @word tokens. Concatenating the
// segment contents in order reproduces the input exactly. No check is made
// that a mentioned username exists.
func Highlight(content, currentUsername string) []Segment {
	matches := mentionPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		if content == "" {
			return nil
		}
		return []Segment{{Type: SegmentText, Content: content}}
	}

	segments := make([]Segment, 0, len(matches)*2+1)
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > last {
			segments = append(segments, Segment{Type: SegmentText, Content: content[last:start]})
		}
		username := content[m[2]:m[3]]
		segments = append(segments, Segment{
			Type:     SegmentMention,
			Content:  content[start:end],
			Username: username,
			Self:     currentUsername != "" && username == currentUsername,
		})
		last = end
	}
	if last < len(content) {
		segments = append(segments, Segment{Type: SegmentText, Content: content[last:]})
	}
	return segments
}
