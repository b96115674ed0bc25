package notification

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/Akhil-Ferry/Smart-city/internal/model"
)

// templateData is what the channel templates render from.
type templateData struct {
	AlertID     string
	Title       string
	Description string
	Severity    string
	Category    string
	Status      string
	Priority    int
	CreatedAt   time.Time
	Location    string
	SensorValue string
	Link        string
}

const emailHTMLTemplate = `
<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<title>{{.Title}}</title>
</head>
<body>
	<h2>[{{.Severity}}] {{.Title}}</h2>
	<p>{{.Description}}</p>
	<hr>
	<table>
		<tr><td><strong>Alert:</strong></td><td>{{.AlertID}}</td></tr>
		<tr><td><strong>Category:</strong></td><td>{{.Category}}</td></tr>
		<tr><td><strong>Status:</strong></td><td>{{.Status}}</td></tr>
		<tr><td><strong>Priority:</strong></td><td>{{.Priority}}</td></tr>
		<tr><td><strong>Created:</strong></td><td>{{.CreatedAt.Format "2006-01-02 15:04:05 UTC"}}</td></tr>
		{{if .Location}}<tr><td><strong>Location:</strong></td><td>{{.Location}}</td></tr>{{end}}
		{{if .SensorValue}}<tr><td><strong>Reading:</strong></td><td>{{.SensorValue}}</td></tr>{{end}}
	</table>
	<p><a href="{{.Link}}">Open alert</a></p>
</body>
</html>
`

const emailTextTemplate = `[{{.Severity}}] {{.Title}}

{{.Description}}

Alert:    {{.AlertID}}
Category: {{.Category}}
Status:   {{.Status}}
Priority: {{.Priority}}
Created:  {{.CreatedAt.Format "2006-01-02 15:04:05 UTC"}}
{{if .Location}}Location: {{.Location}}
{{end}}{{if .SensorValue}}Reading:  {{.SensorValue}}
{{end}}
Open alert: {{.Link}}
`

const smsTemplate = `ALERT [{{.Severity}}] {{.Title}} ({{.Category}}) {{.Link}}`

// renderer holds the parsed channel templates.
type renderer struct {
	emailHTML *template.Template
	emailText *texttemplate.Template
	sms       *texttemplate.Template
	baseURL   string
}

func newRenderer(baseURL string) (*renderer, error) {
	htmlTmpl, err := template.New("email-html").Parse(emailHTMLTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email HTML template: %w", err)
	}
	textTmpl, err := texttemplate.New("email-text").Parse(emailTextTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email text template: %w", err)
	}
	smsTmpl, err := texttemplate.New("sms").Parse(smsTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SMS template: %w", err)
	}
	return &renderer{
		emailHTML: htmlTmpl,
		emailText: textTmpl,
		sms:       smsTmpl,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}, nil
}

func (r *renderer) data(alert *model.Alert) templateData {
	d := templateData{
		AlertID:     alert.AlertID,
		Title:       alert.Title,
		Description: alert.Description,
		Severity:    strings.ToUpper(string(alert.Severity)),
		Category:    string(alert.Category),
		Status:      string(alert.Status),
		Priority:    alert.Priority,
		CreatedAt:   alert.CreatedAt,
		Link:        fmt.Sprintf("%s/alerts/%s", r.baseURL, alert.ID),
	}
	if alert.Source.Location != nil {
		d.Location = fmt.Sprintf("%.5f, %.5f", alert.Source.Location.Latitude, alert.Source.Location.Longitude)
	}
	if alert.Threshold != nil {
		d.SensorValue = fmt.Sprintf("%s %g %s (threshold %s %g)",
			alert.Threshold.Parameter, alert.Threshold.Actual, alert.Threshold.Unit,
			alert.Threshold.Operator, alert.Threshold.Limit)
	}
	return d
}

func (r *renderer) emailSubject(alert *model.Alert) string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title)
}

func (r *renderer) emailBodies(alert *model.Alert) (htmlBody, textBody string, err error) {
	data := r.data(alert)

	var htmlBuf bytes.Buffer
	if err := r.emailHTML.Execute(&htmlBuf, data); err != nil {
		return "", "", fmt.Errorf("failed to render email HTML: %w", err)
	}

	var textBuf bytes.Buffer
	if err := r.emailText.Execute(&textBuf, data); err != nil {
		return "", "", fmt.Errorf("failed to render email text: %w", err)
	}

	return htmlBuf.String(), textBuf.String(), nil
}

func (r *renderer) smsBody(alert *model.Alert) (string, error) {
	var buf bytes.Buffer
	if err := r.sms.Execute(&buf, r.data(alert)); err != nil {
		return "", fmt.Errorf("failed to render SMS body: %w", err)
	}
	return buf.String(), nil
}

// inAppPayload builds the push payload for the real-time channel.
func inAppPayload(alert *model.Alert) map[string]interface{} {
	return map[string]interface{}{
		"id":          alert.ID,
		"alert_id":    alert.AlertID,
		"title":       alert.Title,
		"description": alert.Description,
		"severity":    alert.Severity,
		"category":    alert.Category,
		"status":      alert.Status,
		"priority":    alert.Priority,
		"created_at":  alert.CreatedAt,
	}
}
