// Package routing wraps an endpoint with method dispatch, schema
// reconciliation, and typed outbound calls (spec.md §4.6), plus the
// server-only client-to-client forwarding primitive (spec.md §4.7).
package routing

import "github.com/jabolina/go-nrpc/pkg/nrpc/endpoint"

// AppClientInfo is one entry of ApplicationInfo's client list.
type AppClientInfo struct {
	ClientID    uint64 `json:"client_id"`
	IsValidated bool   `json:"is_validated"`
	IsLost      bool   `json:"is_lost"`
	EntryFile   string `json:"entry_file"`
}

// AppInfo is the response shape for RoutingMessage.GetAppInfo (spec.md
// §6 ApplicationInfo).
type AppInfo struct {
	ServerID     int                `json:"server_id"`
	ClientID     uint64             `json:"client_id"`
	IsAlive      bool               `json:"is_alive"`
	IsReady      bool               `json:"is_ready"`
	SocketType   string             `json:"socket_type"`
	ProtocolType string             `json:"protocol_type"`
	Types        int                `json:"types"`
	Services     int                `json:"services"`
	Servers      int                `json:"servers"`
	Metadata     endpoint.Metadata  `json:"metadata"`
	ClientCount  int                `json:"client_count"`
	Clients      []AppClientInfo    `json:"clients"`
	ClientIDs    []uint64           `json:"client_ids"`
	EntryFile    string             `json:"entry_file"`
	IPAddress    string             `json:"ip_address"`
	Port         int                `json:"port"`
	Format       string             `json:"format"`
}
