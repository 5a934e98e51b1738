package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Sender interface {
	SendShippingStarted(ctx context.Context, to string, event *domain.ShippingStartedEvent) error
	SendStatusChanged(ctx context.Context, to string, event *domain.OrderStatusChangedEvent) error
}

type smtpSender struct {
	from     string
	password string
	host     string
	port     string
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewSMTPSender(cfg config.SMTP, logger *zap.Logger) Sender {
	return &smtpSender{
		from:     cfg.User,
		password: cfg.Password,
		host:     cfg.Host,
		port:     cfg.Port,
		logger:   logger,
		tracer:   otel.Tracer("notification/email"),
	}
}

func (s *smtpSender) SendShippingStarted(ctx context.Context, to string, event *domain.ShippingStartedEvent) error {
	ctx, span := s.tracer.Start(ctx, "smtp.SendShippingStarted")
	defer span.End()

	span.SetAttributes(
		attribute.String("to.email", to),
		attribute.String("order_id", event.OrderID),
	)

	subject := fmt.Sprintf("Subject: Your order %s is on its way\n", event.OrderID)
	body := fmt.Sprintf(`
		<h1>Your order has shipped</h1>
		<p>Tracking number: <b>%s</b></p>
		<p>Shipping to: %s</p>
		<p>Estimated delivery: %s</p>
	`, event.TrackingNumber, event.ShippingAddress, event.EstimatedDelivery.Format("2006-01-02"))

	return s.send(ctx, span, to, subject, body)
}

func (s *smtpSender) SendStatusChanged(ctx context.Context, to string, event *domain.OrderStatusChangedEvent) error {
	ctx, span := s.tracer.Start(ctx, "smtp.SendStatusChanged")
	defer span.End()

	span.SetAttributes(
		attribute.String("to.email", to),
		attribute.String("order_id", event.OrderID),
		attribute.String("status", string(event.NewStatus)),
	)

	subject := fmt.Sprintf("Subject: Order %s is now %s\n", event.OrderID, strings.ToLower(string(event.NewStatus)))
	body := fmt.Sprintf(`
		<h1>Order status update</h1>
		<p>Your order moved from %s to <b>%s</b>.</p>
		<p>%s</p>
	`, event.PreviousStatus, event.NewStatus, event.Reason)

	return s.send(ctx, span, to, subject, body)
}

func (s *smtpSender) send(ctx context.Context, span trace.Span, to, subject, body string) error {
	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(subject + mime + body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	auth := smtp.PlainAuth("", s.from, s.password, s.host)

	if err := smtp.SendMail(addr, auth, s.from, []string{to}, msg); err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			s.logger,
			"Error sending email",
			zap.String("to", to),
			zap.Error(err),
		)

		return fmt.Errorf("failed to send mail: %w", err)
	}

	mylogger.Info(ctx, s.logger, "Email sent successfully", zap.String("to", to))
	return nil
}

type logSender struct {
	logger *zap.Logger
}

// NewLogSender writes notifications to the log instead of mailing them.
func NewLogSender(logger *zap.Logger) Sender {
	return &logSender{logger: logger}
}

func (s *logSender) SendShippingStarted(ctx context.Context, to string, event *domain.ShippingStartedEvent) error {
	mylogger.Info(
		ctx,
		s.logger,
		"Shipping notification",
		zap.String("to", to),
		zap.String("order_id", event.OrderID),
		zap.String("tracking_number", event.TrackingNumber),
	)
	return nil
}

func (s *logSender) SendStatusChanged(ctx context.Context, to string, event *domain.OrderStatusChangedEvent) error {
	mylogger.Info(
		ctx,
		s.logger,
		"Status notification",
		zap.String("to", to),
		zap.String("order_id", event.OrderID),
		zap.String("from", string(event.PreviousStatus)),
		zap.String("to_status", string(event.NewStatus)),
		zap.String("reason", event.Reason),
	)
	return nil
}
