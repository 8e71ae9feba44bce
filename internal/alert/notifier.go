package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/pkg/logger"
)

// Notifier delivers alerts to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, alerts []model.Alert) error
}

// LogNotifier writes an alert summary to the structured log.
type LogNotifier struct {
	logger *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Notify(_ context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		n.logger.Debug("all health checks passed")
		return nil
	}

	critical, warning := CountBySeverity(alerts)
	n.logger.Warn("health check alerts",
		zap.Int("total", len(alerts)),
		zap.Int("critical", critical),
		zap.Int("warning", warning))

	for _, a := range alerts {
		fields := []zap.Field{
			zap.String("category", string(a.Category)),
			zap.String("metric", a.Metric),
			zap.Float64("value", a.Value),
			zap.Float64("threshold", a.Threshold),
		}
		if a.Details != "" {
			fields = append(fields, zap.String("details", a.Details))
		}
		if a.Severity == model.SeverityCritical {
			n.logger.Error(a.Message, fields...)
		} else {
			n.logger.Warn(a.Message, fields...)
		}
	}
	return nil
}

// SlackNotifier posts critical alerts to a Slack incoming webhook.
// Non-critical alerts are skipped; a missing webhook URL disables it.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	logger     *logger.Logger
}

func NewSlackNotifier(webhookURL string, log *logger.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     log,
	}
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (n *SlackNotifier) Notify(ctx context.Context, alerts []model.Alert) error {
	var critical []model.Alert
	for _, a := range alerts {
		if a.Severity == model.SeverityCritical {
			critical = append(critical, a)
		}
	}
	if len(critical) == 0 {
		return nil
	}
	if n.webhookURL == "" {
		n.logger.Warn("slack webhook not configured, critical alerts logged only",
			zap.Int("critical", len(critical)))
		return nil
	}

	blocks := []slackBlock{{
		Type: "header",
		Text: &slackText{Type: "plain_text", Text: "NextNest Broker Pipeline Critical Alert"},
	}}
	for _, a := range critical {
		text := fmt.Sprintf("*%s*", a.Message)
		if a.Details != "" {
			text += "\n" + a.Details
		}
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: text},
		})
	}

	payload := map[string]any{
		"text":   fmt.Sprintf("%d critical alert(s)", len(critical)),
		"blocks": blocks,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

// CountBySeverity tallies critical and warning alerts.
func CountBySeverity(alerts []model.Alert) (critical, warning int) {
	for _, a := range alerts {
		switch a.Severity {
		case model.SeverityCritical:
			critical++
		case model.SeverityWarning:
			warning++
		}
	}
	return critical, warning
}

// Monitor runs the evaluator on a fixed interval and feeds results to the
// notifiers. Notification failures are logged, never fatal.
type Monitor struct {
	evaluator *Evaluator
	notifiers []Notifier
	interval  time.Duration
	logger    *logger.Logger
}

func NewMonitor(evaluator *Evaluator, interval time.Duration, log *logger.Logger, notifiers ...Notifier) *Monitor {
	if interval == 0 {
		interval = time.Minute
	}
	return &Monitor{
		evaluator: evaluator,
		notifiers: notifiers,
		interval:  interval,
		logger:    log,
	}
}

// Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alerts := m.evaluator.Evaluate(ctx)
			for _, n := range m.notifiers {
				if err := n.Notify(ctx, alerts); err != nil {
					m.logger.Warn("alert notification failed", zap.Error(err))
				}
			}
		}
	}
}
