package parsing

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"

	"insight_server/core/domain"
)

func b64(s string) *domain.RawBody {
	return &domain.RawBody{Data: base64.URLEncoding.EncodeToString([]byte(s))}
}

func TestParseHeadersAndPlainBody(t *testing.T) {
	raw := &domain.RawEmail{
		ID:           "m1",
		InternalDate: "1710400000000",
		Payload: &domain.RawPart{
			MimeType: "text/plain",
			Headers: []domain.RawHeader{
				{Name: "from", Value: "HDFC Bank <alerts@hdfcbank.net>"},
				{Name: "SUBJECT", Value: "Transaction alert"},
			},
			Body: b64("Your card\r\n\tending 4532   was charged"),
		},
	}

	rec := NewParser().Parse(raw)

	assert.Equal(t, "m1", rec.ID)
	assert.Equal(t, "1710400000000", rec.InternalDate)
	assert.Equal(t, "HDFC Bank <alerts@hdfcbank.net>", rec.From)
	assert.Equal(t, "Transaction alert", rec.Subject)
	assert.Equal(t, "Your card ending 4532 was charged", rec.BodyText)
}

func TestParseAlternativePrefersPlain(t *testing.T) {
	raw := &domain.RawEmail{
		ID: "m2",
		Payload: &domain.RawPart{
			MimeType: "multipart/alternative",
			Parts: []*domain.RawPart{
				{MimeType: "text/html", Body: b64("<p>html version</p>")},
				{MimeType: "text/plain", Body: b64("plain version")},
			},
		},
	}

	assert.Equal(t, "plain version", NewParser().Parse(raw).BodyText)
}

func TestParseHTMLOnly(t *testing.T) {
	html := `<html><head><title>t</title><style>p{color:red}</style></head>
<body><p>Paid <b>₹499</b> to Swiggy</p><script>var x = 1;</script><div>Thanks</div></body></html>`
	raw := &domain.RawEmail{
		Payload: &domain.RawPart{
			MimeType: "multipart/alternative",
			Parts:    []*domain.RawPart{{MimeType: "text/html", Body: b64(html)}},
		},
	}

	assert.Equal(t, "Paid ₹499 to Swiggy Thanks", NewParser().Parse(raw).BodyText)
}

func TestParseNestedMultipart(t *testing.T) {
	raw := &domain.RawEmail{
		Payload: &domain.RawPart{
			MimeType: "multipart/mixed",
			Parts: []*domain.RawPart{
				{
					MimeType: "multipart/alternative",
					Parts: []*domain.RawPart{
						{MimeType: "text/plain", Body: b64("statement ready")},
						{MimeType: "text/html", Body: b64("<p>statement ready</p>")},
					},
				},
				{MimeType: "application/pdf", Filename: "statement.pdf", Body: &domain.RawBody{Size: 1024}},
				{MimeType: "text/plain", Body: b64("footer")},
			},
		},
	}

	assert.Equal(t, "statement ready footer", NewParser().Parse(raw).BodyText)
}

func TestParseBase64Variants(t *testing.T) {
	text := "amount due??>"
	tests := []struct {
		name string
		data string
	}{
		{"url padded", base64.URLEncoding.EncodeToString([]byte(text))},
		{"url raw", base64.RawURLEncoding.EncodeToString([]byte(text))},
		{"std padded", base64.StdEncoding.EncodeToString([]byte(text))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := &domain.RawEmail{Payload: &domain.RawPart{MimeType: "text/plain", Body: &domain.RawBody{Data: tt.data}}}
			assert.Equal(t, text, NewParser().Parse(raw).BodyText)
		})
	}
}

func TestParseRemovesQuotedPrintableResidue(t *testing.T) {
	raw := &domain.RawEmail{Payload: &domain.RawPart{MimeType: "text/plain", Body: b64("Total=20due =3D Rs. 1200")}}

	assert.Equal(t, "Totaldue =3D Rs. 1200", NewParser().Parse(raw).BodyText)
}

func TestParseIsTotal(t *testing.T) {
	p := NewParser()

	assert.Equal(t, domain.EmailRecord{}, p.Parse(nil))
	assert.Equal(t, domain.EmailRecord{ID: "x"}, p.Parse(&domain.RawEmail{ID: "x"}))

	invalid := &domain.RawEmail{ID: "y", Payload: &domain.RawPart{MimeType: "text/plain", Body: &domain.RawBody{Data: "!!!not base64!!!"}}}
	rec := p.Parse(invalid)
	assert.Equal(t, "y", rec.ID)
	assert.Empty(t, rec.From)
	assert.Empty(t, rec.BodyText)
}
