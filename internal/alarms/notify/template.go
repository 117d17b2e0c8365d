package notify

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	alarmapp "plantwatch/internal/alarms/application"
	alarms "plantwatch/internal/alarms/domain"
	tags "plantwatch/internal/tags/domain"
)

// EventEscalated marks a reminder for an alarm that stayed active.
const EventEscalated = "escalated"

// DefaultTemplate renders a plain text alarm message.
const DefaultTemplate = `[{{.EventLabel}}] {{.FaultFamily}}:{{.FaultMember}}:{{.FaultCode}} ({{or .Severity "unrated"}})
Tag: {{.Tag}}{{if .Value}} = {{.Value}}{{end}}
Condition: {{.Condition}}
State: {{.State}}{{if .Info}} ({{.Info}}){{end}}
Since: {{.Time}}
{{- if .ConsoleURL}}
Console: {{.ConsoleURL}}
{{- end}}
`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	AlarmID     string
	FaultFamily string
	FaultMember string
	FaultCode   int
	Tag         string
	TagID       string
	Value       string
	Condition   string
	Time        string
	State       string
	Info        string
	Severity    string
	ConsoleURL  string
	Event       string
	EventLabel  string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(text string) (*Template, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	parsed, err := template.New("alarm").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("alarm template: %w", err)
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alarm template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("alarm template: %w", err)
	}
	return buf.String(), nil
}

// templateData flattens an alarm and its tag. tag may be nil when the tag is unknown.
func templateData(event string, alarm alarms.Alarm, tag *tags.Tag, consoleURL string) TemplateData {
	data := TemplateData{
		AlarmID:     alarm.ID,
		FaultFamily: alarm.FaultFamily,
		FaultMember: alarm.FaultMember,
		FaultCode:   alarm.FaultCode,
		Tag:         alarm.TagID,
		TagID:       alarm.TagID,
		Condition:   conditionText(alarm.Condition),
		State:       strings.ToLower(string(alarm.Published.State)),
		Info:        alarm.Published.Info,
		Severity:    alarm.Severity,
		ConsoleURL:  consoleURL,
		Event:       event,
		EventLabel:  eventLabels[event],
	}
	if data.EventLabel == "" {
		data.EventLabel = event
	}
	if tag != nil {
		if tag.Name != "" {
			data.Tag = tag.Name
		}
		data.Value = valueText(tag.Value)
	}
	at := alarm.Published.Timestamp
	if at.IsZero() {
		at = alarm.Timestamp
	}
	data.Time = at.UTC().Format(time.RFC3339)
	return data
}

var eventLabels = map[string]string{
	alarmapp.EventActive:      "Alarm raised",
	alarmapp.EventTerminate:   "Alarm cleared",
	alarmapp.EventRepublished: "Alarm republished",
	EventEscalated:            "Alarm still active",
}

func conditionText(cond alarms.Condition) string {
	switch cond.Type {
	case alarms.ConditionValue:
		return "= " + valueText(cond.Value)
	case alarms.ConditionRange:
		where := "inside"
		if cond.Outside {
			where = "outside"
		}
		return fmt.Sprintf("%s [%s, %s]", where, valueText(cond.Min), valueText(cond.Max))
	case alarms.ConditionThreshold:
		return fmt.Sprintf("%s %s", cond.Operator, valueText(cond.Threshold))
	default:
		return string(cond.Type)
	}
}

func valueText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case float64:
		return fmt.Sprintf("%.2f", v)
	case float32:
		return fmt.Sprintf("%.2f", v)
	default:
		return fmt.Sprint(v)
	}
}
