package plugins

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	tt "text/template"

	"github.com/jordan-wright/email"
	"github.com/rotisserie/eris"

	"github.com/kelly/gopack/pkg/bundler"
)

const notifyText = `{{ if .Err -}}
The build of {{ .Project }} failed after {{ .Duration }}:

{{ .Err }}
{{- else -}}
The build {{ .BuildID }} of {{ .Project }} finished in {{ .Duration }}.

{{ .Modules }} modules, {{ len .Artifacts }} artifacts:
{{ range .Artifacts }}
  {{ .Path }} ({{ len .Data }} bytes)
{{- end }}
{{- end }}
`

// NotifyParams contains the values that will be passed to the mail template
type NotifyParams struct {
	*bundler.Stats
	Project string
}

// Sender delivers a prepared mail; it's replaced in tests
type Sender func(mail *email.Email, opts *bundler.NotifyOptions) error

// NotifyPlugin sends a mail once a build finishes. It does nothing unless sender, recipient and
// mail server are configured.
type NotifyPlugin struct {
	opts    *bundler.NotifyOptions
	project string
	tpl     *tt.Template
	send    Sender
}

func NewNotifyPlugin(opts *bundler.NotifyOptions, project string) *NotifyPlugin {
	return &NotifyPlugin{
		opts:    opts,
		project: project,
		tpl:     tt.Must(tt.New("notification mail template").Parse(notifyText)),
		send:    sendMail,
	}
}

// WithSender replaces the SMTP delivery
func (p *NotifyPlugin) WithSender(send Sender) *NotifyPlugin {
	p.send = send
	return p
}

func (p *NotifyPlugin) Name() string {
	return "notify"
}

// Active reports whether the plugin will send anything
func (p *NotifyPlugin) Active() bool {
	return p.opts.Active()
}

func (p *NotifyPlugin) Done(ctx context.Context, stats *bundler.Stats) error {
	if !p.Active() || stats.DryRun {
		return nil
	}

	mail, err := p.compose(stats)
	if err != nil {
		return err
	}

	bundler.Log(ctx).Debug().Msgf("Sending build notification to %s", p.opts.ToEmail)
	if err := p.send(mail, p.opts); err != nil {
		// a failed notification never fails the build
		bundler.Log(ctx).Warn().Err(err).Msg("Failed to send build notification")
		return nil
	}

	bundler.Log(ctx).Debug().Msg("Mail successfully sent")
	return nil
}

func (p *NotifyPlugin) compose(stats *bundler.Stats) (*email.Email, error) {
	mail := email.NewEmail()
	mail.From = p.opts.FromEmail
	mail.To = []string{p.opts.ToEmail}
	if stats.Err != nil {
		mail.Subject = fmt.Sprintf("[gopack] %s: build failed", p.project)
	} else {
		mail.Subject = fmt.Sprintf("[gopack] %s: build succeeded", p.project)
	}

	text := strings.Builder{}
	err := p.tpl.Execute(&text, NotifyParams{Stats: stats, Project: p.project})
	if err != nil {
		return nil, eris.Wrap(err, "failed to execute notification template")
	}

	mail.Text = []byte(text.String())
	return mail, nil
}

func sendMail(mail *email.Email, opts *bundler.NotifyOptions) error {
	var auth smtp.Auth
	if opts.Password != "" {
		auth = smtp.PlainAuth("", opts.FromEmail, opts.Password, opts.Host)
	}
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)

	var err error
	switch opts.Encryption {
	case "STARTTLS":
		err = mail.SendWithStartTLS(addr, auth, &tls.Config{
			ServerName: opts.Host,
		})
	case "SSL":
		err = mail.SendWithTLS(addr, auth, &tls.Config{
			ServerName: opts.Host,
		})
	default:
		err = mail.Send(addr, auth)
	}

	if err != nil {
		return eris.Wrap(err, "failed to send mail")
	}
	return nil
}
