// Package mailer отвечает за отправку транзакционных писем.
//
// Отправка для сервиса — fire-and-forget: сбои логируются и не
// превращаются в ошибки бизнес-операций.
package mailer

import (
	"context"
	"errors"
	"regexp"

	"go.uber.org/zap"
)

// Message описывает одно исходящее письмо.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer отправляет транзакционные письма.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

// plainText делает текстовую версию письма из HTML-разметки.
func plainText(html string) string {
	return tagRe.ReplaceAllString(html, " ")
}

// LogMailer пишет письма в журнал вместо реальной отправки (dry-run режим).
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer создаёт mailer, который только логирует письма.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send логирует письмо и всегда завершается успешно.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("dry-run email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// Chain пробует несколько транспортов по порядку, пока один не сработает.
type Chain struct {
	mailers []Mailer
	logger  *zap.Logger
}

// NewChain создаёт цепочку транспортов с общим журналом.
func NewChain(logger *zap.Logger, mailers ...Mailer) *Chain {
	return &Chain{mailers: mailers, logger: logger}
}

// Send отправляет письмо первым доступным транспортом.
func (c *Chain) Send(ctx context.Context, msg Message) error {
	if len(c.mailers) == 0 {
		return errors.New("no mail transport configured")
	}

	var lastErr error
	for _, m := range c.mailers {
		if lastErr = m.Send(ctx, msg); lastErr == nil {
			return nil
		}
		c.logger.Warn("mail transport failed, trying next",
			zap.String("to", msg.To),
			zap.Error(lastErr),
		)
	}
	return lastErr
}
