// Package mailparse turns raw RFC 5322 bytes into the text the classifier works on.
package mailparse

import (
	"errors"
	"fmt"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
)

// Message is the capability contract every parser strategy provides.
type Message interface {
	// Headers returns decoded header values keyed by canonical MIME key, first occurrence wins.
	// Fields of a message/delivery-status part are merged in without overriding top-level headers.
	Headers() map[string]string
	SubjectText() string
	// BodyText is the decoded text of every part in MIME traversal order.
	BodyText() string
	// AddressList returns bare addresses of a header; entries that do not parse are kept verbatim.
	AddressList(name string) []string
}

// Parser is one parsing strategy.
type Parser interface {
	Name() string
	Parse(raw []byte) (Message, error)
}

// Chain tries parsers in order and returns the first successful result.
type Chain []Parser

// DefaultChain is the go-message parser with the net/mail parser as fallback.
func DefaultChain() Chain {
	return Chain{NewGoMessageParser(), NewNetMailParser()}
}

func (c Chain) Name() string {
	names := make([]string, 0, len(c))
	for _, p := range c {
		names = append(names, p.Name())
	}
	return strings.Join(names, "+")
}

func (c Chain) Parse(raw []byte) (Message, error) {
	if len(c) == 0 {
		return nil, fmt.Errorf("%w: no parser configured", domain.ErrMalformedMessage)
	}

	errs := make([]error, 0, len(c))
	for _, p := range c {
		msg, err := p.Parse(raw)
		if err == nil {
			return msg, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}

	return nil, fmt.Errorf("%w: %w", domain.ErrMalformedMessage, errors.Join(errs...))
}

// parsedMessage is the Message shared by both strategies.
type parsedMessage struct {
	headers    map[string]string
	rawHeaders map[string][]string
	subject    string
	body       string
	addrParser *mail.AddressParser
}

func newParsedMessage(addrParser *mail.AddressParser) *parsedMessage {
	return &parsedMessage{
		headers:    make(map[string]string),
		rawHeaders: make(map[string][]string),
		addrParser: addrParser,
	}
}

func (m *parsedMessage) Headers() map[string]string {
	out := make(map[string]string, len(m.headers))
	for k, v := range m.headers {
		out[k] = v
	}
	return out
}

func (m *parsedMessage) SubjectText() string { return m.subject }

func (m *parsedMessage) BodyText() string { return m.body }

func (m *parsedMessage) AddressList(name string) []string {
	values := m.rawHeaders[textproto.CanonicalMIMEHeaderKey(name)]
	if len(values) == 0 {
		return nil
	}
	return parseAddressList(strings.Join(values, ", "), m.addrParser)
}

// setHeader records a header without overriding an earlier value.
func (m *parsedMessage) setHeader(key string, raw string, decoded string) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	m.rawHeaders[key] = append(m.rawHeaders[key], raw)
	if _, ok := m.headers[key]; !ok {
		m.headers[key] = strings.TrimSpace(decoded)
	}
}

// mergeDSNField adds a delivery-status field unless a header of that name is already known.
func (m *parsedMessage) mergeDSNField(key string, value string) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	if _, ok := m.headers[key]; ok {
		return
	}
	m.headers[key] = strings.TrimSpace(value)
}

// HeaderValue looks up a header case-insensitively.
func HeaderValue(headers map[string]string, name string) string {
	if v, ok := headers[textproto.CanonicalMIMEHeaderKey(name)]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
