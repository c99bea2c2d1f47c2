package mailparse

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// NetMailParser is the fallback strategy. It is more lenient than go-message
// about broken MIME structure and never rejects an unknown charset.
type NetMailParser struct {
	decoder    *mime.WordDecoder
	addrParser *mail.AddressParser
}

func NewNetMailParser() *NetMailParser {
	decoder := &mime.WordDecoder{CharsetReader: charsetReader}
	return &NetMailParser{
		decoder:    decoder,
		addrParser: &mail.AddressParser{WordDecoder: decoder},
	}
}

func (p *NetMailParser) Name() string { return "net/mail" }

func (p *NetMailParser) Parse(raw []byte) (Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	m := newParsedMessage(p.addrParser)
	for key, values := range msg.Header {
		for _, value := range values {
			m.setHeader(key, value, p.decodeHeader(value))
		}
	}
	m.subject = cleanText(strings.TrimSpace(p.decodeHeader(msg.Header.Get("Subject"))))

	var body strings.Builder
	p.walk(m, msg.Header, msg.Body, &body, 0)
	m.body = body.String()

	return m, nil
}

func (p *NetMailParser) decodeHeader(value string) string {
	decoded, err := p.decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

type headerGetter interface {
	Get(key string) string
}

func (p *NetMailParser) walk(m *parsedMessage, header headerGetter, r io.Reader, body *strings.Builder, depth int) {
	if depth > maxNestingDepth {
		return
	}

	mediaType, params, err := mime.ParseMediaType(header.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
	}
	mediaType = strings.ToLower(mediaType)

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(r, params["boundary"])
		for {
			part, err := mr.NextRawPart()
			if err != nil {
				return
			}
			p.walk(m, part.Header, part, body, depth+1)
		}
	}

	r = decodeTransfer(header.Get("Content-Transfer-Encoding"), r)

	switch mediaType {
	case "message/rfc822", "message/global":
		inner, err := mail.ReadMessage(r)
		if err != nil {
			return
		}
		p.walk(m, inner.Header, inner.Body, body, depth+1)
	case "message/delivery-status", "message/global-delivery-status":
		data := readPart(r)
		for key, value := range parseDeliveryStatus(data) {
			m.mergeDSNField(key, value)
		}
		appendText(body, partText(mediaType, data))
	default:
		appendText(body, partText(mediaType, decodeCharset(params["charset"], readPart(r))))
	}
}

func decodeTransfer(cte string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(cte)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

func decodeCharset(charset string, data []byte) []byte {
	if charset == "" {
		return data
	}
	enc, err := ianaindex.IANA.Encoding(strings.ToLower(charset))
	if err != nil || enc == nil {
		return data
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return decoded
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	if charset == "" {
		return input, nil
	}
	enc, err := ianaindex.IANA.Encoding(strings.ToLower(charset))
	if err != nil || enc == nil {
		return input, nil
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}
