package models

import "time"

// Host is one machine reachable over SSH that runs node containers.
// The IP is unique within a chain and never belongs to the manager itself.
type Host struct {
	ID       int64      `json:"id" db:"id"`
	ChainID  int64      `json:"chainId" db:"chain_id"`
	AgencyID int64      `json:"agencyId" db:"agency_id"`
	IP       string     `json:"ip" db:"ip"`
	SSHUser  string     `json:"sshUser" db:"ssh_user"`
	SSHPort  int        `json:"sshPort" db:"ssh_port"`
	RootDir  string     `json:"rootDir" db:"root_dir"`
	Status   HostStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// HostStatus tracks bootstrap of a host.
type HostStatus string

const (
	// HostAdded means the row exists but the bundle has not been pushed yet
	HostAdded        HostStatus = "added"
	HostInitializing HostStatus = "initializing"
	HostReady        HostStatus = "ready"
	HostFailed       HostStatus = "failed"
)

// SSHCredentials are the parameters used to open a remote channel.
type SSHCredentials struct {
	User string
	Port int
}

// Credentials returns the SSH parameters recorded for the host.
func (h *Host) Credentials() SSHCredentials {
	return SSHCredentials{User: h.SSHUser, Port: h.SSHPort}
}
