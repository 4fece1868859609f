package email

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

type SMTPProvider struct {
	addr string
	host string
	from string
	auth smtp.Auth

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

// NewSMTPProvider authenticates with PLAIN when username is set.
func NewSMTPProvider(host string, port int, username, password, from string) *SMTPProvider {
	p := &SMTPProvider{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		host: host,
		from: from,
		send: smtp.SendMail,
		now:  time.Now,
	}
	if username != "" {
		p.auth = smtp.PlainAuth("", username, password, host)
	}
	return p
}

func (p *SMTPProvider) Send(ctx context.Context, msg *Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sender, err := mail.ParseAddress(p.from)
	if err != nil {
		return fmt.Errorf("invalid EMAIL_FROM: %w", err)
	}
	recipient, err := mail.ParseAddress(msg.To)
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}

	body := p.compose(sender, recipient, msg)
	if err := p.send(p.addr, p.auth, sender.Address, []string{recipient.Address}, body); err != nil {
		return fmt.Errorf("failed to send email via smtp: %w", err)
	}
	return nil
}

func (p *SMTPProvider) compose(from, to *mail.Address, msg *Message) []byte {
	var b bytes.Buffer
	header := func(key, value string) {
		b.WriteString(key + ": " + value + "\r\n")
	}
	header("From", from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", p.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Text, "\r\n", "\n"), "\n", "\r\n"))
	return b.Bytes()
}
