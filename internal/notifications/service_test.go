package notifications

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nuance-network/nuance-validator/internal/config"
	"github.com/nuance-network/nuance-validator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *models.WeightReport {
	return &models.WeightReport{
		GeneratedAt:  time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
		WindowStart:  time.Date(2026, 2, 25, 12, 0, 0, 0, time.UTC),
		Interactions: 12,
		Skipped:      1,
		Scores:       map[string]float64{"hk-a": 3, "hk-b": 1},
		Weights:      map[string]float64{"hk-a": 0.75, "hk-b": 0.25},
		Submitted:    true,
	}
}

func TestService_SendReportToTeams(t *testing.T) {
	var got TeamsMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	service := NewService(&config.Config{TeamsWebhookURL: server.URL})
	require.True(t, service.Enabled())
	require.NoError(t, service.SendReport(sampleReport()))

	assert.Equal(t, "MessageCard", got.Type)
	assert.Contains(t, got.Text, "12 interactions across 2 nodes")
	require.Len(t, got.Sections, 2)
	assert.Equal(t, "Top Nodes", got.Sections[1].ActivityTitle)
	assert.Equal(t, "**hk-a** - 0.7500\n\n**hk-b** - 0.2500", got.Sections[1].ActivityText)
}

func TestService_SendAlertFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	service := NewService(&config.Config{TeamsWebhookURL: server.URL})
	err := service.SendAlert(&models.Alert{ID: "a1", Type: "critical", Title: "Weight submission failed", CreatedAt: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Teams")
}

func TestService_NoChannels(t *testing.T) {
	service := NewService(&config.Config{})
	assert.False(t, service.Enabled())
	assert.NoError(t, service.SendReport(sampleReport()))
	assert.NoError(t, service.SendAlert(&models.Alert{Type: "info"}))
}

func TestEmailBodies(t *testing.T) {
	report := sampleReport()

	html, err := buildEmailHTML(report)
	require.NoError(t, err)
	assert.Contains(t, html, "<td>hk-a</td><td>3.0000</td><td>0.7500</td>")

	text := buildEmailText(report)
	assert.Contains(t, text, "1. hk-a  score=3.0000  weight=0.7500")
	assert.Contains(t, text, "Interactions skipped: 1")
}

func TestAlertColor(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{"critical", "d13438"},
		{"warning", "ffb900"},
		{"info", "0078d4"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Equal(t, tt.want, alertColor(tt.kind))
		})
	}
}
