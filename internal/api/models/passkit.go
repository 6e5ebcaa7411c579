package models

// RegisterDeviceRequest is the body Wallet sends when registering a device
// for pass updates.
type RegisterDeviceRequest struct {
	PushToken string `json:"pushToken"`
}

// UpdatedSerialsResponse answers an update check: the serials that changed
// plus the marker the device echoes back as passesUpdatedSince next time.
type UpdatedSerialsResponse struct {
	LastUpdated   string   `json:"lastUpdated"`
	SerialNumbers []string `json:"serialNumbers"`
}

// LogRequest is the diagnostic payload Wallet posts to /v1/log.
type LogRequest struct {
	Logs []string `json:"logs"`
}
