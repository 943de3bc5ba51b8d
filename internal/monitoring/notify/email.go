package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// EmailChannel sends notifications over SMTP with implicit TLS, the way the
// upstream mail relay expects connections on port 465.
type EmailChannel struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
	timeout  time.Duration
}

// EmailOption configures the email channel.
type EmailOption func(*EmailChannel)

// WithSendTimeout overrides the default send timeout.
func WithSendTimeout(timeout time.Duration) EmailOption {
	return func(ch *EmailChannel) {
		if timeout > 0 {
			ch.timeout = timeout
		}
	}
}

// NewEmailChannel constructs an email channel.
func NewEmailChannel(host string, port int, username, password, from string, to []string, opts ...EmailOption) (*EmailChannel, error) {
	if host == "" || port <= 0 {
		return nil, errors.New("email channel: invalid smtp address")
	}
	if from == "" {
		return nil, errors.New("email channel: empty sender")
	}
	if len(to) == 0 {
		return nil, errors.New("email channel: no recipients")
	}
	channel := &EmailChannel{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
		timeout:  15 * time.Second,
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send delivers one message to all configured recipients.
func (ch *EmailChannel) Send(ctx context.Context, subject, body string) error {
	if ch == nil {
		return errors.New("email channel: nil channel")
	}

	deadline := time.Now().Add(ch.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	addr := fmt.Sprintf("%s:%d", ch.host, ch.port)
	dialer := &net.Dialer{Deadline: deadline}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: ch.host})
	if err != nil {
		return fmt.Errorf("email channel: dial: %w", err)
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, ch.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("email channel: handshake: %w", err)
	}
	defer client.Close()

	if ch.username != "" {
		auth := smtp.PlainAuth("", ch.username, ch.password, ch.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("email channel: auth: %w", err)
		}
	}

	if err := client.Mail(ch.from); err != nil {
		return fmt.Errorf("email channel: mail from: %w", err)
	}
	for _, recipient := range ch.to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("email channel: rcpt %s: %w", recipient, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("email channel: data: %w", err)
	}
	if _, err := writer.Write(buildMessage(ch.from, ch.to, subject, body)); err != nil {
		writer.Close()
		return fmt.Errorf("email channel: write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("email channel: close data: %w", err)
	}
	return client.Quit()
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var sb strings.Builder
	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	sb.WriteString("Subject: " + subject + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	sb.WriteString("\r\n")
	return []byte(sb.String())
}
