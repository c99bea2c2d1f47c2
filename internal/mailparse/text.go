package mailparse

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/k3a/html2text"
)

// maxPartBytes bounds how much of a single part is read into memory.
const maxPartBytes = 4 << 20

func parseAddressList(value string, parser *mail.AddressParser) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if addrs, err := parser.ParseList(value); err == nil {
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, a.Address)
		}
		return out
	}

	entries := splitAddressList(value)
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if addr, err := parser.Parse(entry); err == nil {
			out = append(out, addr.Address)
			continue
		}
		out = append(out, entry)
	}
	return out
}

// splitAddressList splits on commas outside quotes and angle brackets.
func splitAddressList(value string) []string {
	var (
		out     []string
		current strings.Builder
		quoted  bool
		angle   int
		escaped bool
	)

	flush := func() {
		if entry := strings.TrimSpace(current.String()); entry != "" {
			out = append(out, entry)
		}
		current.Reset()
	}

	for _, r := range value {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quoted:
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == '<' && !quoted:
			angle++
		case r == '>' && !quoted && angle > 0:
			angle--
		case r == ',' && !quoted && angle == 0:
			flush()
			continue
		}
		current.WriteRune(r)
	}
	flush()

	return out
}

// readPart reads a part body, keeping whatever was read before an error.
func readPart(r io.Reader) []byte {
	data, _ := io.ReadAll(io.LimitReader(r, maxPartBytes))
	return data
}

// partText turns a decoded leaf part into plain text. Non-text parts yield "".
func partText(mediaType string, data []byte) string {
	switch {
	case mediaType == "text/html":
		return cleanText(html2text.HTML2Text(string(data)))
	case strings.HasPrefix(mediaType, "text/"),
		mediaType == "message/delivery-status",
		mediaType == "message/global-delivery-status",
		mediaType == "":
		return cleanText(string(data))
	default:
		return ""
	}
}

// cleanText drops invalid UTF-8 and NUL bytes.
func cleanText(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.ReplaceAll(s, "\x00", "")
}

func appendText(b *strings.Builder, text string) {
	text = strings.TrimRight(text, "\r\n")
	if strings.TrimSpace(text) == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(text)
}

// parseDeliveryStatus reads the per-message and per-recipient field groups of a
// message/delivery-status body (RFC 3464). The first value of each field wins.
func parseDeliveryStatus(data []byte) map[string]string {
	fields := make(map[string]string)
	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(data)))

	for {
		group, err := reader.ReadMIMEHeader()
		for key, values := range group {
			if _, ok := fields[key]; ok || len(values) == 0 {
				continue
			}
			fields[key] = strings.TrimSpace(values[0])
		}
		if err != nil && (errors.Is(err, io.EOF) || len(group) == 0) {
			break
		}
	}

	return fields
}
