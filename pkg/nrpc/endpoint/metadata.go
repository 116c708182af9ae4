package endpoint

// Metadata is the per-endpoint SocketMetadataInfo record exchanged during
// the connect handshake and observable via GetAppInfo/GetSchema (spec.md
// §3, §6).
type Metadata struct {
	ServerID            int                    `json:"server_id"`
	ClientID            int                    `json:"client_id"`
	Lang                string                 `json:"lang"`
	IPAddress           string                 `json:"ip_address"`
	MainPort            int                    `json:"main_port"`
	MainPortRev         int                    `json:"main_port_rev"`
	Host                string                 `json:"host"`
	EntryFile           string                 `json:"entry_file"`
	StartTime           string                 `json:"start_time"`
	ClientSignature     string                 `json:"client_signature"`
	ClientSignatureRev  string                 `json:"client_signature_rev"`
	ServerSignature     string                 `json:"server_signature"`
	ServerSignatureRev  string                 `json:"server_signature_rev"`
	Extra               map[string]interface{} `json:"extra,omitempty"`
}

// Set attaches an arbitrary key/value pair that survives to every snapshot
// of this metadata (e.g. a fixed_start_time used for deterministic
// ordering across reconnects).
func (m *Metadata) Set(key string, value interface{}) {
	if m.Extra == nil {
		m.Extra = map[string]interface{}{}
	}
	m.Extra[key] = value
}
