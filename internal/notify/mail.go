package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/badya367/taskmanager/internal/config"
	"github.com/badya367/taskmanager/internal/event"
)

// SendFunc is smtp.SendMail with a context that bounds the conversation.
type SendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

type MailDispatcher struct {
	cfg  config.Mail
	send SendFunc
	now  func() time.Time
}

// NewMailDispatcher sends through SendMail when send is nil. An empty From
// falls back to the SMTP username; a zero Timeout becomes 30s.
func NewMailDispatcher(cfg config.Mail, send SendFunc) *MailDispatcher {
	if send == nil {
		send = SendMail
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &MailDispatcher{cfg: cfg, send: send, now: time.Now}
}

func (d *MailDispatcher) Handle(ctx context.Context, env event.StatusChange) error {
	if d.cfg.SMTPHost == "" || d.cfg.From == "" || d.cfg.Recipient == "" {
		return fmt.Errorf("mail host, sender or recipient not configured: %w", event.ErrInvalidState)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.SMTPHost)
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(d.cfg.SMTPHost, d.cfg.SMTPPort)
	if err := d.send(ctx, addr, auth, d.cfg.From, []string{d.cfg.Recipient}, d.message(env)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (d *MailDispatcher) message(env event.StatusChange) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", d.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", d.cfg.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", d.cfg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", d.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "Task with id %d was updated\r\n", env.TaskID())
	return b.Bytes()
}

// SendMail follows smtp.SendMail but dials with ctx and closes the
// connection when ctx ends, so a server that stalls cannot hold the caller.
func SendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return withCtx(ctx, err)
	}
	defer c.Close()

	if err := converse(c, host, a, from, to, msg); err != nil {
		return withCtx(ctx, err)
	}
	return nil
}

func converse(c *smtp.Client, host string, a smtp.Auth, from string, to []string, msg []byte) error {
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// withCtx reports the context's error when it is what broke the conversation.
func withCtx(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}
