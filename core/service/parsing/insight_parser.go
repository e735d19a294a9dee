// Package parsing turns Gmail API "full" messages into plain email records.
package parsing

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"insight_server/core/domain"
)

const (
	mimeTextPlain   = "text/plain"
	mimeTextHTML    = "text/html"
	mimeAlternative = "multipart/alternative"
)

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	// quoted-printable 잔여물 (=20, =3D 등)
	qpResiduePattern = regexp.MustCompile(`=\d{2}`)
)

// Parser implements out.EmailParser. It never fails: undecodable parts
// contribute nothing and missing headers become empty strings.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse extracts id, date, From, Subject and a normalized body text.
func (p *Parser) Parse(raw *domain.RawEmail) domain.EmailRecord {
	if raw == nil {
		return domain.EmailRecord{}
	}

	rec := domain.EmailRecord{
		ID:           raw.ID,
		InternalDate: raw.InternalDate,
	}
	if raw.Payload == nil {
		return rec
	}

	rec.From = header(raw.Payload.Headers, "From")
	rec.Subject = header(raw.Payload.Headers, "Subject")
	rec.BodyText = clean(partText(raw.Payload))
	return rec
}

// header returns the first header value matching name case-insensitively.
func header(headers []domain.RawHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func partText(part *domain.RawPart) string {
	if part == nil {
		return ""
	}

	switch strings.ToLower(part.MimeType) {
	case mimeTextPlain:
		return decodeBody(part.Body)
	case mimeTextHTML:
		return htmlToText(decodeBody(part.Body))
	}

	if len(part.Parts) == 0 {
		return ""
	}

	if strings.EqualFold(part.MimeType, mimeAlternative) {
		return alternativeText(part.Parts)
	}

	texts := make([]string, 0, len(part.Parts))
	for _, sub := range part.Parts {
		if t := partText(sub); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, " ")
}

// alternativeText picks one rendering of the same content, plain text first.
func alternativeText(parts []*domain.RawPart) string {
	for _, sub := range parts {
		if sub != nil && strings.EqualFold(sub.MimeType, mimeTextPlain) {
			if t := partText(sub); strings.TrimSpace(t) != "" {
				return t
			}
		}
	}
	for _, sub := range parts {
		if t := partText(sub); strings.TrimSpace(t) != "" {
			return t
		}
	}
	return ""
}

// decodeBody decodes base64url data with or without padding. Standard
// alphabet input is accepted too. Invalid input yields "".
func decodeBody(body *domain.RawBody) string {
	if body == nil || body.Data == "" {
		return ""
	}

	data := strings.TrimRight(strings.TrimSpace(body.Data), "=")
	data = strings.NewReplacer("+", "-", "/", "_", "\n", "", "\r", "").Replace(data)

	decoded, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return ""
	}
	return strings.ToValidUTF8(string(decoded), "")
}

// htmlToText returns the visible text nodes of an HTML document joined by spaces.
func htmlToText(content string) string {
	if content == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}
	doc.Find("script, style, head, noscript").Remove()

	var texts []string
	collectText(doc.Selection, &texts)
	return strings.Join(texts, " ")
}

func collectText(s *goquery.Selection, texts *[]string) {
	s.Contents().Each(func(_ int, node *goquery.Selection) {
		if goquery.NodeName(node) == "#text" {
			if t := strings.TrimSpace(node.Text()); t != "" {
				*texts = append(*texts, t)
			}
			return
		}
		collectText(node, texts)
	})
}

func clean(text string) string {
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = qpResiduePattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
