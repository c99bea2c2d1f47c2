package main

import (
	"testing"

	"github.com/kursadbilgin/bounce-engine/internal/config"
)

func TestPassConfigFollowsMode(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		InboxFolder:         "INBOX",
		ProcessedFolder:     "Processed",
		SkippedFolder:       "Skipped",
		ProblemFolder:       "Problem",
		TestInboxFolder:     "TestInbox",
		TestProcessedFolder: "TestProcessed",
		TestSkippedFolder:   "TestSkipped",
		TestProblemFolder:   "TestProblem",
		TestRecipients:      []string{"qa@ours.com"},
		NotifyAlways:        []string{"ops@ours.com"},
		MaxAttempts:         4,
		PersistAttempts:     2,
	}

	pc := passConfig(cfg)
	if pc.TestMode || pc.InboxFolder != "INBOX" || pc.ProblemFolder != "Problem" {
		t.Fatalf("passConfig() = %+v, want production folders", pc)
	}
	if pc.MaxAttempts != 4 || pc.PersistAttempts != 2 {
		t.Fatalf("passConfig() attempts = %d/%d, want 4/2", pc.MaxAttempts, pc.PersistAttempts)
	}
	if len(pc.NotifyAlways) != 1 || pc.NotifyAlways[0] != "ops@ours.com" {
		t.Fatalf("passConfig().NotifyAlways = %v", pc.NotifyAlways)
	}

	cfg.TestMode = true
	pc = passConfig(cfg)
	if !pc.TestMode || pc.InboxFolder != "TestInbox" || pc.ProcessedFolder != "TestProcessed" ||
		pc.SkippedFolder != "TestSkipped" || pc.ProblemFolder != "TestProblem" {
		t.Fatalf("passConfig() = %+v, want test folders", pc)
	}
	if got := pc.NotifyRecipients([]string{"cc@x.io"}); len(got) != 1 || got[0] != "qa@ours.com" {
		t.Fatalf("NotifyRecipients() = %v, want test recipients", got)
	}
}
