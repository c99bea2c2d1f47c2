package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	NotifierSMTP    = "smtp"
	NotifierWebhook = "webhook"
	NotifierSES     = "ses"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	IMAPAddr     string `env:"IMAP_ADDR"`
	IMAPUsername string `env:"IMAP_USERNAME"`
	IMAPPassword string `env:"IMAP_PASSWORD"`
	IMAPTLS      bool   `env:"IMAP_TLS,default=true"`
	MboxDir      string `env:"MBOX_DIR"`

	InboxFolder         string `env:"INBOX_FOLDER,default=INBOX"`
	ProcessedFolder     string `env:"PROCESSED_FOLDER,default=Processed"`
	SkippedFolder       string `env:"SKIPPED_FOLDER,default=Skipped"`
	ProblemFolder       string `env:"PROBLEM_FOLDER,default=Problem"`
	TestInboxFolder     string `env:"TEST_INBOX_FOLDER,default=TestInbox"`
	TestProcessedFolder string `env:"TEST_PROCESSED_FOLDER,default=TestProcessed"`
	TestSkippedFolder   string `env:"TEST_SKIPPED_FOLDER,default=TestSkipped"`
	TestProblemFolder   string `env:"TEST_PROBLEM_FOLDER,default=TestProblem"`

	TestMode          bool   `env:"TEST_MODE,default=false"`
	TestRecipientsRaw string `env:"TEST_RECIPIENTS"`
	NotifyAlwaysRaw   string `env:"NOTIFY_ALWAYS"`
	NotifyFrom        string `env:"NOTIFY_FROM,default=bounces@localhost"`
	MaxAttempts       int    `env:"MAX_ATTEMPTS,default=3"`
	PersistAttempts   int    `env:"PERSIST_ATTEMPTS,default=3"`

	Notifier         string `env:"NOTIFIER,default=smtp"`
	SMTPAddr         string `env:"SMTP_ADDR"`
	SMTPUsername     string `env:"SMTP_USERNAME"`
	SMTPPassword     string `env:"SMTP_PASSWORD"`
	SMTPSecurity     string `env:"SMTP_SECURITY,default=starttls"`
	WebhookURL       string `env:"WEBHOOK_URL"`
	SESRegion        string `env:"SES_REGION"`
	SESAccessKeyID   string `env:"SES_ACCESS_KEY_ID"`
	SESSecretKey     string `env:"SES_SECRET_ACCESS_KEY"`
	NotifyRatePerSec int    `env:"NOTIFY_RATE_PER_SEC,default=10"`

	PassIntervalRaw string `env:"PASS_INTERVAL,default=5m"`
	PassLockTTLRaw  string `env:"PASS_LOCK_TTL,default=5m"`
	RulesFile       string `env:"RULES_FILE"`
	APIPort         int    `env:"API_PORT,default=8080"`
	LogLevel        string `env:"LOG_LEVEL,default=info"`

	// Resolved from the raw values above by Load.
	PassInterval   time.Duration
	PassLockTTL    time.Duration
	TestRecipients []string
	NotifyAlways   []string
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) resolve() error {
	var err error
	if c.PassInterval, err = time.ParseDuration(c.PassIntervalRaw); err != nil || c.PassInterval <= 0 {
		return fmt.Errorf("invalid PASS_INTERVAL %q", c.PassIntervalRaw)
	}
	if c.PassLockTTL, err = time.ParseDuration(c.PassLockTTLRaw); err != nil || c.PassLockTTL <= 0 {
		return fmt.Errorf("invalid PASS_LOCK_TTL %q", c.PassLockTTLRaw)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be >= 1 (got %d)", c.MaxAttempts)
	}
	if c.PersistAttempts < 1 {
		return fmt.Errorf("PERSIST_ATTEMPTS must be >= 1 (got %d)", c.PersistAttempts)
	}

	if strings.TrimSpace(c.IMAPAddr) == "" && strings.TrimSpace(c.MboxDir) == "" {
		return fmt.Errorf("IMAP_ADDR or MBOX_DIR is required")
	}

	c.TestRecipients = splitList(c.TestRecipientsRaw)
	c.NotifyAlways = splitList(c.NotifyAlwaysRaw)
	if c.TestMode && len(c.TestRecipients) == 0 {
		return fmt.Errorf("TEST_RECIPIENTS is required when TEST_MODE is enabled")
	}

	c.Notifier = strings.ToLower(strings.TrimSpace(c.Notifier))
	switch c.Notifier {
	case NotifierSMTP:
		if c.SMTPAddr == "" {
			return fmt.Errorf("SMTP_ADDR is required for the smtp notifier")
		}
	case NotifierWebhook:
		if c.WebhookURL == "" {
			return fmt.Errorf("WEBHOOK_URL is required for the webhook notifier")
		}
	case NotifierSES:
		if c.SESRegion == "" {
			return fmt.Errorf("SES_REGION is required for the ses notifier")
		}
	default:
		return fmt.Errorf("unknown NOTIFIER %q", c.Notifier)
	}
	return nil
}

// Folders is the mailbox folder set one pass works on.
type Folders struct {
	Inbox     string
	Processed string
	Skipped   string
	Problem   string
}

// ActiveFolders returns the test folders in test mode and the production folders otherwise.
func (c *Config) ActiveFolders() Folders {
	if c.TestMode {
		return Folders{
			Inbox:     c.TestInboxFolder,
			Processed: c.TestProcessedFolder,
			Skipped:   c.TestSkippedFolder,
			Problem:   c.TestProblemFolder,
		}
	}
	return Folders{
		Inbox:     c.InboxFolder,
		Processed: c.ProcessedFolder,
		Skipped:   c.SkippedFolder,
		Problem:   c.ProblemFolder,
	}
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
