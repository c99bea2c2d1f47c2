package mailparse

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
)

const maxNestingDepth = 16

// GoMessageParser is the primary strategy, built on go-message's entity reader.
// Transfer encodings and registered charsets are decoded by go-message itself.
type GoMessageParser struct {
	addrParser *mail.AddressParser
}

func NewGoMessageParser() *GoMessageParser {
	return &GoMessageParser{
		addrParser: &mail.AddressParser{
			WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
		},
	}
}

func (p *GoMessageParser) Name() string { return "go-message" }

func (p *GoMessageParser) Parse(raw []byte) (Message, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !isTolerable(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	if entity == nil {
		return nil, fmt.Errorf("failed to read message: empty entity")
	}

	m := newParsedMessage(p.addrParser)

	fields := entity.Header.Fields()
	for fields.Next() {
		decoded, err := fields.Text()
		if err != nil {
			decoded = fields.Value()
		}
		m.setHeader(fields.Key(), fields.Value(), decoded)
	}

	subject, err := entity.Header.Text("Subject")
	if err != nil {
		subject = entity.Header.Get("Subject")
	}
	m.subject = cleanText(strings.TrimSpace(subject))

	var body strings.Builder
	p.walk(m, entity, &body, 0)
	m.body = body.String()

	return m, nil
}

func (p *GoMessageParser) walk(m *parsedMessage, e *message.Entity, body *strings.Builder, depth int) {
	if depth > maxNestingDepth {
		return
	}

	mediaType, _, err := e.Header.ContentType()
	if err != nil {
		mediaType = "text/plain"
	}
	mediaType = strings.ToLower(mediaType)

	if mr := e.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return
			}
			if err != nil && (part == nil || !isTolerable(err)) {
				return
			}
			p.walk(m, part, body, depth+1)
		}
	}

	switch mediaType {
	case "message/rfc822", "message/global":
		inner, err := message.Read(e.Body)
		if inner == nil || (err != nil && !isTolerable(err)) {
			return
		}
		p.walk(m, inner, body, depth+1)
	case "message/delivery-status", "message/global-delivery-status":
		data := readPart(e.Body)
		for key, value := range parseDeliveryStatus(data) {
			m.mergeDSNField(key, value)
		}
		appendText(body, partText(mediaType, data))
	default:
		appendText(body, partText(mediaType, readPart(e.Body)))
	}
}

func isTolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
