package models

import "time"

// PassCreateRequest is the operator request to issue a new pass.
type PassCreateRequest struct {
	SerialNumber     string `json:"serialNumber,omitempty"`
	Description      string `json:"description"`
	OrganizationName string `json:"organizationName"`
	Message          string `json:"message"`
}

// PassMessageRequest is the operator request to change a pass's message.
type PassMessageRequest struct {
	Message string `json:"message"`
}

// PassResponse is the operator view of a pass. The full authentication token
// is returned only on creation; afterwards only the last 4 characters.
type PassResponse struct {
	SerialNumber        string    `json:"serialNumber"`
	PassTypeIdentifier  string    `json:"passTypeIdentifier"`
	AuthenticationToken string    `json:"authenticationToken,omitempty"`
	TokenLast4          string    `json:"tokenLast4,omitempty"`
	Description         string    `json:"description"`
	OrganizationName    string    `json:"organizationName"`
	Message             string    `json:"message"`
	LastModifiedAt      time.Time `json:"lastModifiedAt"`
	CreatedAt           time.Time `json:"createdAt"`
	DownloadURL         string    `json:"downloadUrl,omitempty"`
}

// Health represents a liveness or readiness answer.
type Health struct {
	Status string                 `json:"status"`
	Time   time.Time              `json:"time"`
	Detail map[string]interface{} `json:"detail,omitempty"`
}

// HealthStatusOK is the healthy status value.
const HealthStatusOK = "OK"
