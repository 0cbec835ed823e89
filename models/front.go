package models

import (
	"fmt"
	"time"
)

// Front is one node process, recorded as a row and materialised as a
// container on its host. HostIndex is the ordinal slot of the node on the
// host and determines its directory name and ports.
type Front struct {
	ID        int64       `json:"id" db:"id"`
	NodeID    string      `json:"nodeId" db:"node_id"`
	ChainID   int64       `json:"chainId" db:"chain_id"`
	HostID    int64       `json:"hostId" db:"host_id"`
	AgencyID  int64       `json:"agencyId" db:"agency_id"`
	GroupID   int         `json:"groupId" db:"group_id"`
	HostIndex int         `json:"hostIndex" db:"host_index"`
	Status    FrontStatus `json:"status" db:"status"`
	ImageTag  string      `json:"imageTag" db:"image_tag"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Port bases; the slot index is added to each.
const (
	P2PPortBase     = 30300
	ChannelPortBase = 20200
	RPCPortBase     = 8545
	FrontPortBase   = 5002
)

// NodePorts are the ports a node listens on.
type NodePorts struct {
	P2P     int `json:"p2p"`
	Channel int `json:"channel"`
	RPC     int `json:"rpc"`
	Front   int `json:"front"`
}

// PortsForIndex derives the ports of the node in the given host slot.
func PortsForIndex(hostIndex int) NodePorts {
	return NodePorts{
		P2P:     P2PPortBase + hostIndex,
		Channel: ChannelPortBase + hostIndex,
		RPC:     RPCPortBase + hostIndex,
		Front:   FrontPortBase + hostIndex,
	}
}

// Ports returns the ports of the front.
func (f *Front) Ports() NodePorts {
	return PortsForIndex(f.HostIndex)
}

// NodeDirName is the directory name of the node on its host.
func NodeDirName(hostIndex int) string {
	return fmt.Sprintf("node%d", hostIndex)
}

// ContainerName is the container name of the node on its host.
func ContainerName(chainName string, hostIndex int) string {
	return fmt.Sprintf("%s-%s", chainName, NodeDirName(hostIndex))
}
