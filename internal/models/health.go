package models

const (
	// HealthOK means the forward path answered the reachability probe.
	HealthOK = "OK"

	// HealthError means the chain is up as a process but the forward path
	// did not answer.
	HealthError = "ERROR"
)

// ConnectionInfo summarizes the descriptor on the health endpoint.
type ConnectionInfo struct {
	Hostname       string `json:"hostname"`
	Username       string `json:"username"`
	UsingSSHConfig bool   `json:"using_ssh_config"`
}

// HealthReport is the /health response body.
type HealthReport struct {
	Status     string         `json:"status"`
	Connection ConnectionInfo `json:"connection"`
}
