package report

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
)

type SmtpConfig struct {
	Server   string `json:"server"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Mailer delivers run reports over SMTP. The zero value is not usable; check
// Configured before sending.
type Mailer struct {
	Smtp      SmtpConfig
	Sender    string
	Recipient string
}

func (m Mailer) Configured() bool {
	return m.Smtp.Server != "" && m.Sender != "" && m.Recipient != ""
}

// SendReport delivers the normal end-of-run summary.
func (m Mailer) SendReport(subject, body string) error {
	return m.send(subject, body)
}

// SendFailure delivers the failure notification for a run that died before
// producing a report. Distinct from the success report so operators can
// filter on it.
func (m Mailer) SendFailure(runErr error) error {
	body := fmt.Sprintf(`The scheduled Sprouts coupon run failed before completing.

%v

Check the logs for the full context.`, runErr)
	return m.send("Sprouts coupons: run FAILED", body)
}

func (m Mailer) send(subject, body string) error {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Sprouts Clipper <%s>", m.Sender)
	mail.To = []string{m.Recipient}
	mail.Subject = subject
	mail.Text = []byte(body)

	addr := fmt.Sprintf("%s:%d", m.Smtp.Server, m.Smtp.Port)
	err := mail.Send(addr, smtp.PlainAuth("", m.Smtp.Username, m.Smtp.Password, m.Smtp.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		return mail.Send(addr, nil)
	}
	return err
}
