package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

const (
	SecurityStartTLS = "starttls"
	SecurityTLS      = "tls"
	SecurityNone     = "none"

	defaultSMTPTimeout = 30 * time.Second
)

type SMTPConfig struct {
	Addr     string
	Username string
	Password string
	From     string
	Security string
	Timeout  time.Duration
}

// SMTPNotifier submits notifications to a relay, one connection per message.
type SMTPNotifier struct {
	cfg    SMTPConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewSMTPNotifier(cfg SMTPConfig, logger *zap.Logger) (*SMTPNotifier, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("smtp address is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp sender address is required")
	}

	switch cfg.Security {
	case "":
		cfg.Security = SecurityStartTLS
	case SecurityStartTLS, SecurityTLS, SecurityNone:
	default:
		return nil, fmt.Errorf("unsupported smtp security %q", cfg.Security)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SMTPNotifier{cfg: cfg, logger: logger, now: time.Now}, nil
}

func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := n.render(msg)
	if err != nil {
		return fmt.Errorf("failed to render message: %w", err)
	}

	client, err := n.dial()
	if err != nil {
		return &SendError{Transport: "smtp", Message: "connect failed", Transient: true, Cause: err}
	}
	defer client.Close()

	client.CommandTimeout = n.cfg.Timeout
	client.SubmissionTimeout = n.cfg.Timeout

	if n.cfg.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", n.cfg.Username, n.cfg.Password)); err != nil {
			return smtpSendError("authentication failed", err)
		}
	}

	if err := client.Mail(n.cfg.From, nil); err != nil {
		return smtpSendError("sender rejected", err)
	}
	for _, rcpt := range msg.Recipients() {
		if err := client.Rcpt(rcpt, nil); err != nil {
			return smtpSendError("recipient "+rcpt+" rejected", err)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return smtpSendError("data rejected", err)
	}
	if _, err := wc.Write(payload); err != nil {
		_ = wc.Close()
		return &SendError{Transport: "smtp", Message: "write failed", Transient: true, Cause: err}
	}
	if err := wc.Close(); err != nil {
		return smtpSendError("message rejected", err)
	}

	if err := client.Quit(); err != nil {
		n.logger.Warn("smtp quit failed", zap.Error(err))
	}
	return nil
}

func (n *SMTPNotifier) dial() (*smtp.Client, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	switch n.cfg.Security {
	case SecurityTLS:
		return smtp.DialTLS(n.cfg.Addr, tlsConfig)
	case SecurityNone:
		return smtp.Dial(n.cfg.Addr)
	default:
		return smtp.DialStartTLS(n.cfg.Addr, tlsConfig)
	}
}

func (n *SMTPNotifier) render(msg Message) ([]byte, error) {
	var h mail.Header
	h.SetDate(n.now())
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{{Address: n.cfg.From}})
	h.SetAddressList("To", toAddresses(msg.To))
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", toAddresses(msg.Cc))
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toAddresses(list []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(list))
	for _, addr := range list {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, &mail.Address{Address: addr})
		}
	}
	return out
}

// smtpSendError treats 4xx replies and network timeouts as transient; 5xx and auth failures are fatal.
func smtpSendError(stage string, err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &SendError{
			Transport:  "smtp",
			StatusCode: smtpErr.Code,
			Message:    stage,
			Transient:  smtpErr.Code >= 400 && smtpErr.Code < 500,
			Cause:      err,
		}
	}

	var netErr net.Error
	transient := errors.As(err, &netErr) && netErr.Timeout()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		transient = true
	}

	return &SendError{Transport: "smtp", Message: stage, Transient: transient, Cause: err}
}
