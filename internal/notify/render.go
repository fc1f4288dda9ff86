package notify

import (
	"bytes"
	"fmt"
	htmlTemplate "html/template"
	"strings"
	textTemplate "text/template"

	"github.com/foxzi/sendry-lab/internal/models"
)

const (
	alertSubjectTmpl = `[{{.Severity | upper}}] {{.Title}}: {{.CampaignName}}`

	alertTextTmpl = `{{.Title}} for campaign "{{.CampaignName}}"

{{.Alert.Message}}

Recommended action: {{.Alert.RecommendedAction}}
{{- if .Alert.VariantID}}
Variant: {{.Alert.VariantID}}{{end}}
Detected at {{.Alert.CreatedAt.UTC.Format "2006-01-02 15:04 MST"}}
`

	alertHTMLTmpl = `<html><body>
<h2>{{.Title}}</h2>
<p>Campaign: <strong>{{.CampaignName}}</strong></p>
<p>{{.Alert.Message}}</p>
<p>Recommended action: {{.Alert.RecommendedAction}}</p>
{{- if .Alert.VariantID}}
<p>Variant: {{.Alert.VariantID}}</p>{{end}}
<p><small>Detected at {{.Alert.CreatedAt.UTC.Format "2006-01-02 15:04 MST"}}</small></p>
</body></html>`

	alertSMSTmpl = `{{.Title}} ({{.CampaignName}}): {{.Alert.Message}} {{.Alert.RecommendedAction}}`
)

var funcs = map[string]any{"upper": strings.ToUpper}

var (
	subjectTemplate = textTemplate.Must(textTemplate.New("subject").Funcs(funcs).Parse(alertSubjectTmpl))
	textBody        = textTemplate.Must(textTemplate.New("text").Funcs(funcs).Parse(alertTextTmpl))
	smsBody         = textTemplate.Must(textTemplate.New("sms").Funcs(funcs).Parse(alertSMSTmpl))
	htmlBody        = htmlTemplate.Must(htmlTemplate.New("html").Parse(alertHTMLTmpl))
)

var alertTitles = map[models.AlertType]string{
	models.AlertEarlyWinner:       "Early winner detected",
	models.AlertSignificantChange: "Significant performance gap",
	models.AlertPerformanceDrop:   "Conversion rate drop",
	models.AlertTestComplete:      "Test ready to complete",
}

type alertData struct {
	Alert        *models.Alert
	CampaignName string
	Title        string
	Severity     string
}

// RenderAlert builds the message for an alert on the given channel
func RenderAlert(alert *models.Alert, campaignName, channel, destination string) (Message, error) {
	title, ok := alertTitles[alert.Type]
	if !ok {
		title = string(alert.Type)
	}
	if campaignName == "" {
		campaignName = alert.CampaignID
	}
	data := alertData{
		Alert:        alert,
		CampaignName: campaignName,
		Title:        title,
		Severity:     string(alert.Severity),
	}

	msg := Message{Destination: destination, Channel: channel}

	if channel == models.ChannelSMS {
		body, err := renderText(smsBody, data)
		if err != nil {
			return Message{}, fmt.Errorf("failed to render sms: %w", err)
		}
		msg.Body = strings.Join(strings.Fields(body), " ")
		return msg, nil
	}

	subject, err := renderText(subjectTemplate, data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to render subject: %w", err)
	}
	msg.Subject = subject

	if msg.Body, err = renderText(textBody, data); err != nil {
		return Message{}, fmt.Errorf("failed to render text: %w", err)
	}

	var buf bytes.Buffer
	if err := htmlBody.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("failed to render html: %w", err)
	}
	msg.HTML = buf.String()

	return msg, nil
}

func renderText(t *textTemplate.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
