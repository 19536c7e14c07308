package contract

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// ParseFileDataURL decodes the chat client's file encoding:
// data:<mime>;base64,<payload>[,filename:<urlencoded name>]
func ParseFileDataURL(raw string) (ContentPart, error) {
	if !strings.HasPrefix(raw, "data:") {
		return ContentPart{}, fmt.Errorf("file part is not a data URL")
	}
	header, rest, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok {
		return ContentPart{}, fmt.Errorf("file data URL has no payload")
	}
	mime, encoding, _ := strings.Cut(header, ";")
	if encoding != "base64" {
		return ContentPart{}, fmt.Errorf("file data URL must be base64 encoded")
	}
	if mime == "" {
		mime = "application/octet-stream"
	}

	part := ContentPart{Type: PartFile, MimeType: mime, Data: rest}
	if payload, name, found := strings.Cut(rest, ",filename:"); found {
		part.Data = payload
		decoded, err := url.QueryUnescape(name)
		if err != nil {
			decoded = name
		}
		part.Filename = decoded
	}
	if _, err := base64.StdEncoding.DecodeString(part.Data); err != nil {
		return ContentPart{}, fmt.Errorf("file payload: %w", err)
	}
	return part, nil
}

// DataURL re-encodes a file or inline image part for providers that accept URLs.
func (p ContentPart) DataURL() string {
	if p.URL != "" {
		return p.URL
	}
	return "data:" + p.MimeType + ";base64," + p.Data
}

// IsImage reports whether the part should be sent to the model as an image.
func (p ContentPart) IsImage() bool {
	return p.Type == PartImage || (p.Type == PartFile && strings.HasPrefix(p.MimeType, "image/"))
}

// InlineText renders a non-image part as prompt text. Text-like files are
// decoded; binary files collapse to a placeholder naming the file.
func (p ContentPart) InlineText() string {
	switch p.Type {
	case PartText:
		return p.Text
	case PartFile:
		name := p.Filename
		if name == "" {
			name = "attachment"
		}
		if isTextMime(p.MimeType) {
			if b, err := base64.StdEncoding.DecodeString(p.Data); err == nil {
				return fmt.Sprintf("[file %s]\n%s", name, string(b))
			}
		}
		return fmt.Sprintf("[file %s (%s) attached]", name, p.MimeType)
	case PartImage:
		return "[image " + p.URL + "]"
	}
	return ""
}

func isTextMime(mime string) bool {
	if strings.HasPrefix(mime, "text/") {
		return true
	}
	switch mime {
	case "application/json", "application/xml", "application/x-yaml", "application/yaml", "application/csv":
		return true
	}
	return false
}

// FlattenText renders every part of m as text, images included as placeholders.
func (m Message) FlattenText() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var sb strings.Builder
	if m.Content != "" {
		sb.WriteString(m.Content)
	}
	for _, p := range m.Parts {
		txt := p.InlineText()
		if txt == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(txt)
	}
	return sb.String()
}
