// Package attachment encodes file and image attachments into the plain
// message content string, so they ride the same channel as text.
package attachment

import (
	"encoding/json"
	"strings"
)

// Descriptor identifies an uploaded file carried inside a message.
type Descriptor struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
}

// IsImage reports whether the descriptor points at an image.
func (d Descriptor) IsImage() bool {
	return strings.HasPrefix(d.MimeType, "image/")
}

// Encode serializes a descriptor into a message content string.
func Encode(d Descriptor) string {
	data, _ := json.Marshal(d)
	return string(data)
}

// Decode attempts to parse a message content string as an attachment
// descriptor. It returns nil when the content is plain text: anything
// that is not JSON, or JSON missing the name or url fields. It never
// fails loudly; callers treat nil as "render as text".
func Decode(content string) *Descriptor {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "{") {
		return nil
	}
	var d Descriptor
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil
	}
	if d.Name == "" || d.URL == "" {
		return nil
	}
	return &d
}
