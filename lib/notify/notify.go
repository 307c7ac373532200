// Package notify sends the end-of-run summary email: one message per
// pipeline run, reporting either the applied revision or the stage
// that failed.
package notify

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"
)

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

type Config struct {
	Smtp SmtpConfig `json:"smtp"`
	To   []string   `json:"to"`
}

func (c Config) Enabled() bool {
	return c.Smtp.Server != "" && len(c.To) > 0
}

type Mailer struct {
	config Config
}

func NewMailer(config Config) Mailer {
	return Mailer{config: config}
}

type RunReport struct {
	Sources      []string
	Rows         int
	RevisionUrls []string
	Took         time.Duration
}

func (m Mailer) RunSucceeded(report RunReport) error {
	body := fmt.Sprintf(`The scheduled dataset update finished successfully.

Sources: %s
Rows published: %d
Revisions:
  %s
Took: %s`,
		strings.Join(report.Sources, ", "),
		report.Rows,
		strings.Join(report.RevisionUrls, "\n  "),
		report.Took.Round(time.Second),
	)
	return m.send("Citizen Connect data update succeeded", body)
}

func (m Mailer) RunFailed(source, stage string, runErr error) error {
	body := fmt.Sprintf(`The scheduled dataset update failed and the hosted dataset was not modified.

Source: %s
Stage: %s
Error: %s`,
		source, stage, runErr,
	)
	return m.send("Citizen Connect data update FAILED", body)
}

func (m Mailer) send(subject, body string) error {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Citizen Connect Pipeline <%s>", m.config.Smtp.EmailAddress)
	mail.To = m.config.To
	mail.Subject = subject
	mail.Text = []byte(body)

	addr := fmt.Sprintf("%s:%d", m.config.Smtp.Server, m.config.Smtp.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", m.config.Smtp.EmailAddress, m.config.Smtp.Password, m.config.Smtp.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("send %q: %w", subject, err)
	}
	return nil
}
