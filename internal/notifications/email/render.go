// Package email renders and dispatches the email channel of notifications.
package email

import (
	"bytes"
	htmltemplate "html/template"
	texttemplate "text/template"

	"estatecrm/internal/types"
)

// Rendered is the subject/body output of rendering one notification.
type Rendered struct {
	Subject  string
	TextBody string
	HTMLBody string
}

// renderContext is the data every template sees.
type renderContext struct {
	RecipientName string
	Title         string
	Message       string
	Metadata      types.Metadata
}

const textBody = `Hi {{.RecipientName}},

{{.Message}}
{{- if .Metadata.leadId}}

Lead: {{.Metadata.leadId}}
{{- end}}

— EstateCRM
`

const htmlBody = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1f2933;">
  <p>Hi {{.RecipientName}},</p>
  <p>{{.Message}}</p>
  {{- if .Metadata.leadId}}
  <p><strong>Lead:</strong> {{.Metadata.leadId}}</p>
  {{- end}}
  <p style="color: #7b8794;">&mdash; EstateCRM</p>
</body>
</html>
`

// Renderer turns notifications into email subjects and bodies. The subject
// is the notification title; bodies come from a shared template pair so
// every notification type renders consistently.
type Renderer struct {
	text *texttemplate.Template
	html *htmltemplate.Template
}

// NewRenderer creates a Renderer with the built-in templates.
func NewRenderer() *Renderer {
	return &Renderer{
		text: texttemplate.Must(texttemplate.New("text").Parse(textBody)),
		html: htmltemplate.Must(htmltemplate.New("html").Parse(htmlBody)),
	}
}

// Render produces the email content for a notification.
func (r *Renderer) Render(n *types.Notification, recipientName string) (*Rendered, error) {
	data := renderContext{
		RecipientName: recipientName,
		Title:         n.Title,
		Message:       n.Message,
		Metadata:      n.Metadata,
	}
	if data.Metadata == nil {
		data.Metadata = types.Metadata{}
	}

	var textBuf, htmlBuf bytes.Buffer
	if err := r.text.Execute(&textBuf, data); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render email text body", err)
	}
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render email html body", err)
	}

	return &Rendered{
		Subject:  n.Title,
		TextBody: textBuf.String(),
		HTMLBody: htmlBuf.String(),
	}, nil
}
