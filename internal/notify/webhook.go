package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/nholik/lakehouse-bootstrap/internal/report"
	"github.com/nholik/lakehouse-bootstrap/internal/transition"
	"github.com/rs/zerolog"
)

const defaultWebhookTemplate = `{"run_id":"{{ .RunID }}","status":"{{ .Status }}","transitions":{{ toJson .Transitions }}}`

// WebhookPayload is the template context for webhook notifications.
type WebhookPayload struct {
	RunID       string
	Status      report.Status
	Report      report.Report
	Transitions []transition.NodeTransition
	GeneratedAt time.Time
}

// WebhookNotifier renders a template and posts it to a generic webhook.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	poster   *httpPoster
}

// NewWebhookNotifier returns nil when webhookURL is empty.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL string, tmpl string) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").Funcs(template.FuncMap{
		"toJson": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	return &WebhookNotifier{
		logger:   logger,
		template: parsed,
		poster:   newHTTPPoster(logger, "webhook", webhookURL, defaultTiming),
	}, nil
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, run report.Report, transitions []transition.NodeTransition) error {
	if n == nil || len(transitions) == 0 {
		return nil
	}
	if err := n.poster.waitForRateLimit(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	err := n.template.Execute(&buf, WebhookPayload{
		RunID:       run.RunID,
		Status:      run.Status,
		Report:      run,
		Transitions: transitions,
		GeneratedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("render webhook template: %w", err)
	}

	if err := n.poster.post(ctx, buf.Bytes()); err != nil {
		return err
	}

	n.logger.Debug().
		Str("run_id", run.RunID).
		Int("transitions", len(transitions)).
		Msg("webhook notification sent")

	return nil
}
