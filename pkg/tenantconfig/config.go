package tenantconfig

// TenantConfig is the JSONB config stored in public.tenants.config —
// per-portfolio operational defaults applied where a booking or channel
// connection does not override them.
type TenantConfig struct {
	DefaultCurrency      string `json:"default_currency"`
	DefaultTimezone      string `json:"default_timezone"`
	DefaultCancelWindowH int    `json:"default_cancel_window_hours"`
	SlackAlertChannel    string `json:"slack_alert_channel"`
}

// UpdateRequest is the payload for PUT /api/v1/tenant-config.
type UpdateRequest struct {
	DefaultCurrency      string `json:"default_currency" validate:"required,len=3"`
	DefaultTimezone      string `json:"default_timezone" validate:"required"`
	DefaultCancelWindowH int    `json:"default_cancel_window_hours" validate:"gte=0"`
	SlackAlertChannel    string `json:"slack_alert_channel"`
}

// ConfigResponse is the JSON response for GET /api/v1/tenant-config.
type ConfigResponse struct {
	DefaultCurrency      string `json:"default_currency"`
	DefaultTimezone      string `json:"default_timezone"`
	DefaultCancelWindowH int    `json:"default_cancel_window_hours"`
	SlackAlertChannel    string `json:"slack_alert_channel"`
	UpdatedAt            string `json:"updated_at"`
}
