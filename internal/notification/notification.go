// Package notification is the outbound message sink. The log notifier is the
// development delivery channel; a mail or messaging gateway implements the
// same surface in production.
package notification

import (
	"context"
	"log/slog"

	"enroll/pkg/domain"
)

// LogNotifier writes every outbound message to the structured log instead of
// delivering it. Secrets never pass through here; templates carry only
// parameter names and public values.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, address, templateID string, params map[string]string, locale string) error {
	n.logger.InfoContext(ctx, "outbound notification",
		slog.String("address", address),
		slog.String("template", templateID),
		slog.String("locale", locale),
		slog.Any("params", params),
	)
	return nil
}

func (n *LogNotifier) SendToGroup(ctx context.Context, group domain.GroupPath, templateID string, params map[string]string, locale string) error {
	n.logger.InfoContext(ctx, "outbound group notification",
		slog.String("group", group.String()),
		slog.String("template", templateID),
		slog.String("locale", locale),
		slog.Any("params", params),
	)
	return nil
}
