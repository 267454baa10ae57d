package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nuance-network/nuance-validator/internal/config"
	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// topNodes is how many weights a report lists
const topNodes = 10

// Service handles sending notifications via various channels
type Service struct {
	config *config.Config
	client *resty.Client
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle    string      `json:"activityTitle,omitempty"`
	ActivitySubtitle string      `json:"activitySubtitle,omitempty"`
	ActivityText     string      `json:"activityText,omitempty"`
	Facts            []TeamsFact `json:"facts,omitempty"`
	Markdown         bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type rankedWeight struct {
	Hotkey string
	Weight float64
	Score  float64
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
}

// Enabled reports whether any channel is configured
func (s *Service) Enabled() bool {
	return s.config.TeamsWebhookURL != "" || s.config.NotificationEmail != ""
}

// SendReport sends a weight report via configured notification channels
func (s *Service) SendReport(report *models.WeightReport) error {
	subject := fmt.Sprintf("Nuance weights - %d nodes (%d interactions)", len(report.Weights), report.Interactions)

	return s.deliver("report", s.buildTeamsMessage(report), func() (string, string, string, error) {
		htmlBody, err := buildEmailHTML(report)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to build email HTML: %w", err)
		}
		return subject, buildEmailText(report), htmlBody, nil
	})
}

// SendAlert sends an urgent alert notification
func (s *Service) SendAlert(alert *models.Alert) error {
	message := &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: alertColor(alert.Type),
		Title:      fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Type), alert.Title),
		Text:       alert.Message,
		Sections: []TeamsSection{{
			Facts: []TeamsFact{
				{Name: "Raised", Value: alert.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC")},
				{Name: "Alert ID", Value: alert.ID},
			},
		}},
	}

	return s.deliver("alert", message, func() (string, string, string, error) {
		subject := fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Type), alert.Title)
		text := fmt.Sprintf("%s\n\nRaised: %s\nAlert ID: %s\n",
			alert.Message, alert.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"), alert.ID)
		return subject, text, "", nil
	})
}

// deliver fans a message out to Teams and email, collecting every failure
func (s *Service) deliver(kind string, teams *TeamsMessage, email func() (subject, text, html string, err error)) error {
	var errors []string

	if s.config.TeamsWebhookURL != "" {
		if err := s.sendToTeams(teams); err != nil {
			logrus.Errorf("Failed to send Teams %s: %v", kind, err)
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Infof("Successfully sent %s to Teams", kind)
		}
	}

	if s.config.NotificationEmail != "" {
		subject, text, html, err := email()
		if err == nil {
			err = s.sendEmail(subject, text, html)
		}
		if err != nil {
			logrus.Errorf("Failed to send email %s: %v", kind, err)
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Infof("Successfully sent %s via email", kind)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (s *Service) sendToTeams(message *TeamsMessage) error {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)

	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func (s *Service) buildTeamsMessage(report *models.WeightReport) *TeamsMessage {
	message := &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   fmt.Sprintf("Nuance Weights - %s", report.GeneratedAt.UTC().Format("2006-01-02 15:04")),
		Text:    fmt.Sprintf("Scored %d interactions across %d nodes", report.Interactions, len(report.Weights)),
	}

	message.Sections = append(message.Sections, TeamsSection{
		ActivityTitle: "Summary",
		Facts: []TeamsFact{
			{Name: "Window Start", Value: report.WindowStart.UTC().Format("2006-01-02 15:04:05 UTC")},
			{Name: "Interactions", Value: fmt.Sprintf("%d", report.Interactions)},
			{Name: "Skipped", Value: fmt.Sprintf("%d", report.Skipped)},
			{Name: "Submitted", Value: fmt.Sprintf("%t", report.Submitted)},
		},
		Markdown: true,
	})

	if ranked := rankWeights(report); len(ranked) > 0 {
		var lines []string
		for i, r := range ranked {
			if i == topNodes {
				break
			}
			lines = append(lines, fmt.Sprintf("**%s** - %.4f", r.Hotkey, r.Weight))
		}
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Top Nodes",
			ActivityText:  strings.Join(lines, "\n\n"),
			Markdown:      true,
		})
	}

	return message
}

func (s *Service) sendEmail(subject, textBody, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	if htmlBody != "" {
		m.AddAlternative("text/html", htmlBody)
	}

	d := gomail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUsername, s.config.SMTPPassword)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// rankWeights orders nodes by weight, heaviest first
func rankWeights(report *models.WeightReport) []rankedWeight {
	ranked := make([]rankedWeight, 0, len(report.Weights))
	for hotkey, weight := range report.Weights {
		ranked = append(ranked, rankedWeight{Hotkey: hotkey, Weight: weight, Score: report.Scores[hotkey]})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Weight != ranked[j].Weight {
			return ranked[i].Weight > ranked[j].Weight
		}
		return ranked[i].Hotkey < ranked[j].Hotkey
	})
	return ranked
}

func alertColor(kind string) string {
	switch kind {
	case "critical":
		return "d13438"
	case "warning":
		return "ffb900"
	default:
		return "0078d4"
	}
}

const emailTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Nuance Weights Report</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #0078d4; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        table { border-collapse: collapse; }
        td, th { padding: 6px 12px; border-bottom: 1px solid #ddd; text-align: left; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Nuance Weights Report</h1>
        <p>Generated on {{.Report.GeneratedAt.Format "January 2, 2006 at 3:04 PM UTC"}}</p>
    </div>

    <div class="summary">
        <h2>Summary</h2>
        <p><strong>Window start:</strong> {{.Report.WindowStart.Format "2006-01-02 15:04 UTC"}}</p>
        <p><strong>Interactions scored:</strong> {{.Report.Interactions}}</p>
        <p><strong>Interactions skipped:</strong> {{.Report.Skipped}}</p>
        <p><strong>Submitted:</strong> {{.Report.Submitted}}</p>
    </div>

    {{if .Ranked}}
    <h2>Weights</h2>
    <table>
        <tr><th>Hotkey</th><th>Score</th><th>Weight</th></tr>
        {{range .Ranked}}
        <tr><td>{{.Hotkey}}</td><td>{{printf "%.4f" .Score}}</td><td>{{printf "%.4f" .Weight}}</td></tr>
        {{end}}
    </table>
    {{end}}

    <hr>
    <p><small>This report was generated automatically by the Nuance validator.</small></p>
</body>
</html>
`

func buildEmailHTML(report *models.WeightReport) (string, error) {
	t, err := template.New("email").Parse(emailTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	data := struct {
		Report *models.WeightReport
		Ranked []rankedWeight
	}{Report: report, Ranked: rankWeights(report)}
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func buildEmailText(report *models.WeightReport) string {
	var text strings.Builder

	text.WriteString("Nuance Weights Report\n")
	text.WriteString(fmt.Sprintf("Generated: %s\n\n", report.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC")))

	text.WriteString("SUMMARY\n")
	text.WriteString("=======\n")
	text.WriteString(fmt.Sprintf("Window start: %s\n", report.WindowStart.UTC().Format("2006-01-02 15:04:05 UTC")))
	text.WriteString(fmt.Sprintf("Interactions scored: %d\n", report.Interactions))
	text.WriteString(fmt.Sprintf("Interactions skipped: %d\n", report.Skipped))
	text.WriteString(fmt.Sprintf("Submitted: %t\n", report.Submitted))

	if ranked := rankWeights(report); len(ranked) > 0 {
		text.WriteString("\nWEIGHTS\n")
		text.WriteString("=======\n")
		for i, r := range ranked {
			text.WriteString(fmt.Sprintf("%d. %s  score=%.4f  weight=%.4f\n", i+1, r.Hotkey, r.Score, r.Weight))
		}
	}

	text.WriteString("\n---\nThis report was generated automatically by the Nuance validator.\n")

	return text.String()
}
