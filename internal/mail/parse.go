package mail

import (
	"bytes"
	"html"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
)

var htmlStripper = bluemonday.StrictPolicy()

// ParsedEmail is the header and body subset extracted from a raw
// RFC 5322 message.
type ParsedEmail struct {
	MessageID   string
	InReplyTo   string
	Subject     string
	FromAddress string
	FromName    string
	Date        time.Time
	Body        string
}

// ParseRaw decodes a raw message. Multipart bodies prefer the text/plain
// part; an HTML-only message is flattened to plain text. Unknown
// charsets degrade to the undecoded bytes instead of failing the whole
// message.
func ParseRaw(raw []byte) (*ParsedEmail, error) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, err
	}
	if mr == nil {
		return nil, err
	}

	parsed := &ParsedEmail{}
	header := mr.Header

	if subject, err := header.Subject(); err == nil {
		parsed.Subject = strings.TrimSpace(subject)
	}
	if id, err := header.MessageID(); err == nil {
		parsed.MessageID = id
	}
	if refs, err := header.MsgIDList("In-Reply-To"); err == nil && len(refs) > 0 {
		parsed.InReplyTo = refs[0]
	}
	if date, err := header.Date(); err == nil {
		parsed.Date = date
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		parsed.FromAddress = from[0].Address
		parsed.FromName = strings.TrimSpace(from[0].Name)
	}

	var plain, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			break
		}
		inline, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := inline.ContentType()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			if plain == "" {
				plain = string(data)
			}
		case "text/html":
			if htmlBody == "" {
				htmlBody = string(data)
			}
		}
	}

	body := plain
	if body == "" && htmlBody != "" {
		body = FlattenHTML(htmlBody)
	}
	parsed.Body = strings.TrimSpace(body)
	return parsed, nil
}

// FlattenHTML strips markup from an HTML body and collapses the result
// into readable plain text.
func FlattenHTML(htmlBody string) string {
	stripped := htmlStripper.Sanitize(htmlBody)
	stripped = html.UnescapeString(stripped)

	lines := strings.Split(stripped, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
