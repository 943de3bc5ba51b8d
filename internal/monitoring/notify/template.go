package notify

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// BreachLine is one threshold crossing rendered into a notification.
type BreachLine struct {
	Channel  string
	Value    float64
	Limit    float64
	Severity string
}

// MessageData carries everything a notification template may reference.
type MessageData struct {
	NodeID     string
	NodeName   string
	Instrument string
	Severity   string
	ObservedAt string
	Breaches   []BreachLine
	Test       bool
}

const defaultSubjectTemplate = `[{{ .Severity }}] {{ .Instrument }} {{ .NodeName }}{{ if .Test }} (test notification){{ end }}`

const defaultBodyTemplate = `Instrument {{ .NodeName }} ({{ .Instrument }}, node {{ .NodeID }}) reported severity {{ .Severity }} at {{ .ObservedAt }}.
{{ if .Test }}
This is a test notification. No threshold was crossed.
{{ else }}
Channels over limit:
{{ range .Breaches }}  {{ .Channel }}: {{ printf "%.4f" .Value }} (limit {{ printf "%.4f" .Limit }}, {{ .Severity }})
{{ end }}{{ end }}`

// Template renders notification subjects and bodies.
type Template struct {
	subject *template.Template
	body    *template.Template
}

// NewTemplate parses subject and body templates. Empty strings fall back to
// the built-in defaults.
func NewTemplate(subject, body string) (*Template, error) {
	if subject == "" {
		subject = defaultSubjectTemplate
	}
	if body == "" {
		body = defaultBodyTemplate
	}
	subjectTmpl, err := template.New("subject").Parse(subject)
	if err != nil {
		return nil, fmt.Errorf("notify template: subject: %w", err)
	}
	bodyTmpl, err := template.New("body").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("notify template: body: %w", err)
	}
	return &Template{subject: subjectTmpl, body: bodyTmpl}, nil
}

// DefaultTemplate returns the built-in template. It never fails.
func DefaultTemplate() *Template {
	tmpl, err := NewTemplate("", "")
	if err != nil {
		panic(err)
	}
	return tmpl
}

// Render produces the subject and body for one notification.
func (t *Template) Render(data MessageData) (string, string, error) {
	var subject, body strings.Builder
	if err := t.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("notify template: render subject: %w", err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("notify template: render body: %w", err)
	}
	return strings.TrimSpace(subject.String()), strings.TrimSpace(body.String()), nil
}

// FormatObservedAt normalizes timestamps for message rendering.
func FormatObservedAt(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
