package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nholik/lakehouse-bootstrap/internal/report"
	"github.com/nholik/lakehouse-bootstrap/internal/transition"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

const (
	slackMaxBlocks = 50
	// header and context blocks are repeated in every message
	slackReservedBlocks = 2
	slackMaxTransitions = slackMaxBlocks - slackReservedBlocks
)

// SlackNotifier posts run summaries to a Slack incoming webhook.
type SlackNotifier struct {
	logger zerolog.Logger
	timing timingConfig
	poster *httpPoster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides rate limit and backoff parameters.
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier, or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; slack notifications disabled")
	}

	notifier := &SlackNotifier{logger: logger, timing: defaultTiming}
	for _, opt := range opts {
		opt(notifier)
	}
	notifier.poster = newHTTPPoster(logger, "slack", webhookURL, notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, run report.Report, transitions []transition.NodeTransition) error {
	if len(transitions) == 0 {
		return nil
	}
	if err := n.poster.waitForRateLimit(ctx); err != nil {
		return err
	}

	messages := buildSlackMessages(run, transitions)
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		if err := n.poster.post(ctx, payload); err != nil {
			return err
		}
	}

	n.logger.Debug().
		Str("run_id", run.RunID).
		Int("transitions", len(transitions)).
		Int("messages", len(messages)).
		Msg("slack notification sent")

	return nil
}

func buildSlackMessages(run report.Report, transitions []transition.NodeTransition) []slack.WebhookMessage {
	total := len(transitions)
	if total == 0 {
		return nil
	}

	parts := (total + slackMaxTransitions - 1) / slackMaxTransitions
	messages := make([]slack.WebhookMessage, 0, parts)
	for start := 0; start < total; start += slackMaxTransitions {
		end := min(start+slackMaxTransitions, total)
		part := start/slackMaxTransitions + 1
		messages = append(messages, buildSlackMessage(run, transitions[start:end], total, part, parts))
	}
	return messages
}

func buildSlackMessage(run report.Report, transitions []transition.NodeTransition, total, part, parts int) slack.WebhookMessage {
	summary := fmt.Sprintf("Lakehouse bootstrap %s: %d service transition(s)", statusLabel(string(run.Status)), total)
	if parts > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, part, parts)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, summary, false, false))

	elements := []slack.MixedElement{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("Run: `%s`", run.RunID), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, "Nodes: "+formatCounts(run), false, false),
	}
	if parts > 1 {
		elements = append(elements, slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("Batch: %d/%d", part, parts), false, false))
	}

	blocks := []slack.Block{header, slack.NewContextBlock("", elements...)}
	for _, change := range transitions {
		blocks = append(blocks, buildTransitionBlock(change))
	}

	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}

func buildTransitionBlock(change transition.NodeTransition) slack.Block {
	title := fmt.Sprintf("*%s*: `%s` → `%s`", change.Name, statusLabel(string(change.PreviousState)), statusLabel(string(change.CurrentState)))
	text := slack.NewTextBlockObject(slack.MarkdownType, title, false, false)

	fields := make([]*slack.TextBlockObject, 0, 3)
	if change.FailedStage != "" {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, "*Stage:*\n`"+change.FailedStage+"`", false, false))
	}
	if change.Reason != "" {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, "*Reason:*\n"+change.Reason, false, false))
	}
	if len(change.Applied) > 0 {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, "*Applied:*\n• "+strings.Join(change.Applied, "\n• "), false, false))
	}
	if len(fields) == 0 {
		fields = nil
	}

	return slack.NewSectionBlock(text, fields, nil)
}

func formatCounts(run report.Report) string {
	counts := run.Counts()
	return fmt.Sprintf("%d succeeded, %d failed, %d skipped",
		counts[report.StateSucceeded], counts[report.StateFailed], counts[report.StateSkipped])
}

func statusLabel(status string) string {
	if status == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(status)
}
