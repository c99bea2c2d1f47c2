package mailparse

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
)

func crlf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n"))
}

var dsnMessage = crlf(
	"From: MAILER-DAEMON@mx.example.net",
	"To: sender@ours.com, Bad Entry <<broken",
	"Cc: ops@ours.com",
	"Subject: =?UTF-8?Q?Undelivered_Mail_Returned_to_Sender?=",
	"MIME-Version: 1.0",
	`Content-Type: multipart/report; report-type=delivery-status; boundary="B1"`,
	"",
	"--B1",
	"Content-Type: text/plain; charset=utf-8",
	"",
	"This is the mail system at host mx.example.net.",
	"--B1",
	"Content-Type: message/delivery-status",
	"",
	"Reporting-MTA: dns; mx.example.net",
	"",
	"Final-Recipient: rfc822; alice@example.org",
	"Action: failed",
	"Status: 5.1.1",
	"Diagnostic-Code: smtp; 550 5.1.1 user unknown",
	"--B1--",
	"",
)

func parsers() []Parser {
	return []Parser{NewGoMessageParser(), NewNetMailParser()}
}

func TestParseDeliveryStatusReport(t *testing.T) {
	t.Parallel()

	for _, p := range parsers() {
		p := p
		t.Run(p.Name(), func(t *testing.T) {
			t.Parallel()

			msg, err := p.Parse(dsnMessage)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}

			if got := msg.SubjectText(); got != "Undelivered Mail Returned to Sender" {
				t.Fatalf("SubjectText() = %q", got)
			}

			headers := msg.Headers()
			wantHeaders := map[string]string{
				"Status":          "5.1.1",
				"Action":          "failed",
				"Final-Recipient": "rfc822; alice@example.org",
				"Reporting-Mta":   "dns; mx.example.net",
				"From":            "MAILER-DAEMON@mx.example.net",
			}
			for key, want := range wantHeaders {
				if got := headers[key]; got != want {
					t.Fatalf("Headers()[%q] = %q, want %q", key, got, want)
				}
			}

			body := msg.BodyText()
			if !strings.Contains(body, "This is the mail system") {
				t.Fatalf("BodyText() missing text part: %q", body)
			}
			if !strings.Contains(body, "550 5.1.1 user unknown") {
				t.Fatalf("BodyText() missing delivery-status part: %q", body)
			}
			if strings.Index(body, "mail system") > strings.Index(body, "Diagnostic-Code") {
				t.Fatalf("BodyText() parts out of order: %q", body)
			}

			to := msg.AddressList("to")
			if len(to) != 2 || to[0] != "sender@ours.com" || to[1] != "Bad Entry <<broken" {
				t.Fatalf("AddressList(to) = %#v", to)
			}
			cc := msg.AddressList("Cc")
			if len(cc) != 1 || cc[0] != "ops@ours.com" {
				t.Fatalf("AddressList(Cc) = %#v", cc)
			}
			if got := msg.AddressList("Bcc"); got != nil {
				t.Fatalf("AddressList(Bcc) = %#v, want nil", got)
			}
		})
	}
}

func TestParseDecodesBodies(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		raw     []byte
		want    string
		notWant string
	}{
		{
			name: "html is flattened",
			raw: crlf(
				"Subject: bounce",
				"Content-Type: text/html; charset=utf-8",
				"",
				"<html><body><p>Mailbox <b>full</b></p></body></html>",
			),
			want:    "Mailbox",
			notWant: "<b>",
		},
		{
			name: "base64 transfer encoding",
			raw: crlf(
				"Subject: bounce",
				"Content-Type: text/plain; charset=utf-8",
				"Content-Transfer-Encoding: base64",
				"",
				base64.StdEncoding.EncodeToString([]byte("550 5.1.1 user unknown")),
			),
			want: "550 5.1.1 user unknown",
		},
		{
			name: "quoted printable transfer encoding",
			raw: crlf(
				"Subject: bounce",
				"Content-Type: text/plain; charset=utf-8",
				"Content-Transfer-Encoding: quoted-printable",
				"",
				"quota exceeded for =",
				"bob@mail.example",
			),
			want: "quota exceeded for bob@mail.example",
		},
		{
			name: "latin1 charset",
			raw: append(crlf(
				"Subject: bounce",
				"Content-Type: text/plain; charset=iso-8859-1",
				"",
				"caf",
			), 0xe9),
			want: "café",
		},
		{
			name: "attachments contribute no text",
			raw: crlf(
				"Subject: bounce",
				`Content-Type: multipart/mixed; boundary="X"`,
				"",
				"--X",
				"Content-Type: text/plain",
				"",
				"mailbox unavailable",
				"--X",
				"Content-Type: application/octet-stream",
				"",
				"BINARYJUNK",
				"--X--",
			),
			want:    "mailbox unavailable",
			notWant: "BINARYJUNK",
		},
	}

	for _, tc := range testCases {
		tc := tc
		for _, p := range parsers() {
			p := p
			t.Run(tc.name+"/"+p.Name(), func(t *testing.T) {
				t.Parallel()

				msg, err := p.Parse(tc.raw)
				if err != nil {
					t.Fatalf("Parse() error = %v", err)
				}
				body := msg.BodyText()
				if !strings.Contains(body, tc.want) {
					t.Fatalf("BodyText() = %q, want it to contain %q", body, tc.want)
				}
				if tc.notWant != "" && strings.Contains(body, tc.notWant) {
					t.Fatalf("BodyText() = %q, must not contain %q", body, tc.notWant)
				}
			})
		}
	}
}

type stubParser struct {
	name string
	msg  Message
	err  error
}

func (s stubParser) Name() string { return s.name }

func (s stubParser) Parse([]byte) (Message, error) { return s.msg, s.err }

func TestChainFallsBack(t *testing.T) {
	t.Parallel()

	want := newParsedMessage(nil)
	want.subject = "from fallback"

	chain := Chain{
		stubParser{name: "primary", err: errors.New("boom")},
		stubParser{name: "fallback", msg: want},
	}

	msg, err := chain.Parse([]byte("x"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if msg.SubjectText() != "from fallback" {
		t.Fatalf("SubjectText() = %q, want from fallback", msg.SubjectText())
	}
}

func TestChainRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := DefaultChain().Parse([]byte("this is not an email at all"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, domain.ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
	if !strings.Contains(err.Error(), "go-message") || !strings.Contains(err.Error(), "net/mail") {
		t.Fatalf("error should name every strategy, got %v", err)
	}

	if _, err := (Chain{}).Parse([]byte("Subject: x\r\n\r\n")); !errors.Is(err, domain.ErrMalformedMessage) {
		t.Fatalf("empty chain error = %v, want ErrMalformedMessage", err)
	}
}

func TestSplitAddressList(t *testing.T) {
	t.Parallel()

	got := splitAddressList(`"Doe, Jane" <jane@x.io>, bob@y.io,, <a,b@z.io>`)
	want := []string{`"Doe, Jane" <jane@x.io>`, "bob@y.io", "<a,b@z.io>"}
	if len(got) != len(want) {
		t.Fatalf("splitAddressList() = %#v, want %#v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitAddressList()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHeaderValue(t *testing.T) {
	t.Parallel()

	headers := map[string]string{"Final-Recipient": "rfc822; a@b.c", "x-odd-key": "v"}
	if got := HeaderValue(headers, "final-recipient"); got != "rfc822; a@b.c" {
		t.Fatalf("HeaderValue() = %q", got)
	}
	if got := HeaderValue(headers, "X-Odd-Key"); got != "v" {
		t.Fatalf("HeaderValue() = %q", got)
	}
	if got := HeaderValue(headers, "Missing"); got != "" {
		t.Fatalf("HeaderValue() = %q, want empty", got)
	}
}
