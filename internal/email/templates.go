package email

import (
	"bytes"
	"fmt"
	"html/template"
)

type baseEmailData struct {
	Title   string
	Heading string
}

type activityAssignedEmailData struct {
	baseEmailData
	AssigneeName    string
	LeadName        string
	ActivitySubject string
}

type slaViolationEmailData struct {
	baseEmailData
	LeadCount     int
	ThresholdDays int
}

const emailLayout = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family:Arial,sans-serif;color:#1f2933;margin:0;padding:24px;">
<h2 style="margin-top:0;">{{.Heading}}</h2>
%s
</body>
</html>`

var (
	activityAssignedTemplate = template.Must(template.New("activity_assigned").Parse(
		sprintfLayout(`<p>Hi {{.AssigneeName}},</p>
<p>The activity <strong>{{.ActivitySubject}}</strong> for lead <strong>{{.LeadName}}</strong> has been assigned to you.</p>
<p>Please follow up from your dashboard.</p>`)))

	slaViolationTemplate = template.Must(template.New("sla_violation").Parse(
		sprintfLayout(`<p>{{.LeadCount}} lead(s) have had no updates for more than {{.ThresholdDays}} days.</p>
<p>Review them in the duplicates and automation dashboard.</p>`)))
)

func sprintfLayout(body string) string {
	return fmt.Sprintf(emailLayout, body)
}

func renderEmailTemplate(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
