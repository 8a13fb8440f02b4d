package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/go-mail/mail/v2"
)

//go:embed "templates"
var templateFS embed.FS

type Mailer interface {
	Send(recipient, templateFile string, data any) error
}

type SMTPMailer struct {
	dialer *mail.Dialer
	sender string
}

func NewSMTPMailer(host string, port int, username, password, sender string) *SMTPMailer {
	dialer := mail.NewDialer(host, port, username, password)
	dialer.Timeout = 5 * time.Second

	return &SMTPMailer{
		dialer: dialer,
		sender: sender,
	}
}

func (m *SMTPMailer) Send(recipient, templateFile string, data any) error {
	rendered, err := Render(templateFile, data)
	if err != nil {
		return err
	}

	msg := mail.NewMessage()
	msg.SetHeader("To", recipient)
	msg.SetHeader("From", m.sender)
	msg.SetHeader("Subject", rendered.Subject)
	msg.SetBody("text/plain", rendered.PlainBody)
	msg.AddAlternative("text/html", rendered.HTMLBody)

	return m.dialer.DialAndSend(msg)
}

type Rendered struct {
	Subject   string
	PlainBody string
	HTMLBody  string
}

// Render executes the subject, plainBody and htmlBody templates of templateFile.
func Render(templateFile string, data any) (*Rendered, error) {
	tmpl, err := template.New("email").ParseFS(templateFS, "templates/"+templateFile)
	if err != nil {
		return nil, fmt.Errorf("parse email template %s: %w", templateFile, err)
	}

	var parts [3]bytes.Buffer

	for i, name := range []string{"subject", "plainBody", "htmlBody"} {
		if err := tmpl.ExecuteTemplate(&parts[i], name, data); err != nil {
			return nil, fmt.Errorf("render %s of %s: %w", name, templateFile, err)
		}
	}

	return &Rendered{
		Subject:   parts[0].String(),
		PlainBody: parts[1].String(),
		HTMLBody:  parts[2].String(),
	}, nil
}
