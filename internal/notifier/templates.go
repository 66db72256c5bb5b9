package notifier

import (
	"bytes"
	"embed"
	"strings"
	"text/template"

	"github.com/good-yellow-bee/flarepage/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

// Templates holds parsed notification body templates.
type Templates struct {
	html  *template.Template
	plain *template.Template
}

// TemplateData contains data for template rendering.
type TemplateData struct {
	IncidentID    string
	Number        int64
	Title         string
	Severity      string
	SeverityColor string
	ServiceID     string
	Level         int
	TriggeredAt   string
}

// LoadTemplates loads the embedded notification templates.
func LoadTemplates() (*Templates, error) {
	funcs := template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}

	htmlTmpl, err := template.New("incident.html").Funcs(funcs).ParseFS(templateFS, "templates/incident.html")
	if err != nil {
		return nil, err
	}

	plainTmpl, err := template.New("incident.txt").Funcs(funcs).ParseFS(templateFS, "templates/incident.txt")
	if err != nil {
		return nil, err
	}

	return &Templates{
		html:  htmlTmpl,
		plain: plainTmpl,
	}, nil
}

// RenderHTML renders the HTML notification body.
func (t *Templates) RenderHTML(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.html.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPlain renders the plain text notification body.
func (t *Templates) RenderPlain(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.plain.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// severityColor returns the display color for a severity level.
func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#d32f2f" // red
	case models.SeverityHigh:
		return "#f57c00" // orange
	case models.SeverityMedium:
		return "#fbc02d" // yellow
	case models.SeverityLow:
		return "#388e3c" // green
	default:
		return "#757575" // gray
	}
}

// MessageToTemplateData converts a notification message to template data.
func MessageToTemplateData(msg *Message) TemplateData {
	return TemplateData{
		IncidentID:    msg.IncidentID,
		Number:        msg.Number,
		Title:         msg.Title,
		Severity:      string(msg.Severity),
		SeverityColor: severityColor(msg.Severity),
		ServiceID:     msg.ServiceID,
		Level:         msg.Level,
		TriggeredAt:   msg.TriggeredAt.Format("2006-01-02 15:04:05 MST"),
	}
}
