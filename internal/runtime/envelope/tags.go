package envelope

import "strings"

// Tag stored in the extra field. An empty value marks a flag.
type Tag struct {
	Key   string
	Value string
}

// ParseTags decodes an extra string of the form "k=v|flag|k2=v2". Order is
// preserved and later duplicates replace earlier ones.
func ParseTags(extra string) []Tag {
	if extra == "" {
		return nil
	}
	var tags []Tag
	for _, element := range strings.Split(extra, "|") {
		if element == "" {
			continue
		}
		key, value, _ := strings.Cut(element, "=")
		tags = setTag(tags, key, value)
	}
	return tags
}

// EncodeTags is the inverse of ParseTags.
func EncodeTags(tags []Tag) string {
	var sb strings.Builder
	for i, t := range tags {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(t.Key)
		if t.Value != "" {
			sb.WriteByte('=')
			sb.WriteString(t.Value)
		}
	}
	return sb.String()
}

func setTag(tags []Tag, key, value string) []Tag {
	for i := range tags {
		if tags[i].Key == key {
			tags[i].Value = value
			return tags
		}
	}
	return append(tags, Tag{Key: key, Value: value})
}

// Tags returns the parsed extra tags as a map.
func (e *Envelope) Tags() map[string]string {
	tags := ParseTags(e.extra)
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[t.Key] = t.Value
	}
	return out
}

// Tag returns a tag value and whether the tag exists.
func (e *Envelope) Tag(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	for _, t := range ParseTags(e.extra) {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// AddTag sets a tag. Use an empty value for a flag.
func (e *Envelope) AddTag(key, value string) *Envelope {
	if key == "" {
		return e
	}
	e.extra = EncodeTags(setTag(ParseTags(e.extra), key, value))
	return e
}

func (e *Envelope) RemoveTag(key string) *Envelope {
	if key == "" {
		return e
	}
	tags := ParseTags(e.extra)
	kept := tags[:0]
	for _, t := range tags {
		if t.Key != key {
			kept = append(kept, t)
		}
	}
	e.extra = EncodeTags(kept)
	return e
}
