package notifications

import "github.com/nuance-network/nuance-validator/internal/models"

// NotificationInterface defines the contract for notification services
type NotificationInterface interface {
	SendReport(report *models.WeightReport) error
	SendAlert(alert *models.Alert) error
}
