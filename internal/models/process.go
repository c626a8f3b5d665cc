package models

// RemoteProcess is the handle to the file server spawned on the remote host.
// It is only reachable while the tunnel session that created it is active.
type RemoteProcess struct {
	PID        int    `json:"pid"`
	ListenPort int    `json:"listen_port"`
	WorkingDir string `json:"working_dir"`
	SessionID  string `json:"session_id"`
}
