package notifier

import "fmt"

// BounceNotice is the first notification sent for a bounced recipient.
func BounceNotice(to []string, cc []string, recipient string, subject string, reason string) Message {
	return Message{
		To:      to,
		Cc:      cc,
		Subject: fmt.Sprintf("[Bounce] Delivery failed to %s", recipient),
		Body:    fmt.Sprintf("Delivery to %s failed.\n\nSubject: %s\nReason: %s\n", recipient, subject, reason),
	}
}

// RetryNotice is the notification resent by the retry queue.
func RetryNotice(to []string, cc []string, recipient string, subject string, reason string) Message {
	return Message{
		To:      to,
		Cc:      cc,
		Subject: fmt.Sprintf("[Retry] Delivery failed to %s", recipient),
		Body:    fmt.Sprintf("Bounce retry: %s\nReason: %s\nSubject: %s\n", recipient, reason, subject),
	}
}
