// Package notify provides a concrete notification-sink adapter for
// escalation jobs produced by internal/orchestrator, since spec.md §4.4
// treats "the notification sink" as an external collaborator and names
// no concrete implementation.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/slack-go/slack"

	"github.com/nexusiot/fleetcore/internal/orchestrator"
)

// ChannelResolver maps a tenant to the Slack channel its notifications
// should land in.
type ChannelResolver func(tenant string) string

// SlackSink posts escalation notification jobs to Slack, deduplicating
// by IdempotencyKey so a redelivered job is never posted twice within
// this process's lifetime.
type SlackSink struct {
	client   *slack.Client
	channels ChannelResolver

	mu   sync.Mutex
	sent map[string]struct{}
}

func NewSlackSink(client *slack.Client, channels ChannelResolver) *SlackSink {
	return &SlackSink{client: client, channels: channels, sent: make(map[string]struct{})}
}

// Produce posts a message for job, idempotent on (alert_id,
// escalation_level). The underlying API call itself provides
// at-least-once delivery per spec.md §4.4; this in-process dedup guards
// only against redundant local retries.
func (s *SlackSink) Produce(ctx context.Context, job orchestrator.NotificationJob) error {
	key := job.IdempotencyKey()

	s.mu.Lock()
	if _, seen := s.sent[key]; seen {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	channel := s.channels(job.Tenant)
	if channel == "" {
		return fmt.Errorf("notify: no slack channel configured for tenant %q", job.Tenant)
	}

	text := fmt.Sprintf("[%s] alert %s escalated to level %d (%s) — paging %s",
		job.Tenant, job.AlertID, job.EscalationLevel, job.ActionKind, job.Recipient)

	_, _, err := s.client.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify: slack post failed: %w", err)
	}

	s.mu.Lock()
	s.sent[key] = struct{}{}
	s.mu.Unlock()
	return nil
}
