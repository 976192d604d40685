package domain

// Wire types for the snapshot artifact. The JSON field set is shared with the
// downstream consumers of the bucket, so renames here are breaking changes.

// QueryPayload is the structured response of a successful protocol query.
type QueryPayload struct {
	Hostname   string            `json:"hostname"`
	Gamemode   string            `json:"gamemode"`
	Language   string            `json:"language"`
	Passworded bool              `json:"passworded"`
	MaxPlayers int               `json:"maxplayers"`
	Online     int               `json:"online"`
	Ping       int64             `json:"ping"`
	Rules      map[string]string `json:"rules"`
	Players    []Player          `json:"players,omitempty"`
}

type Player struct {
	ID    uint8  `json:"id"`
	Name  string `json:"name"`
	Score int32  `json:"score"`
	Ping  uint32 `json:"ping"`
}

type ASNInfo struct {
	Number  uint   `json:"number"`
	OrgName string `json:"orgName"`
}

type IPInfo struct {
	Address   string   `json:"address"`
	ASN       ASNInfo  `json:"asn"`
	Country   string   `json:"country"`
	City      string   `json:"city"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Ping      *float64 `json:"ping"`
}

type GuildInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// ProbeResult is the single record produced for every candidate of a run,
// successes and failures alike. Payload is nil when the probe exhausted its
// retry budget.
type ProbeResult struct {
	Hostname string        `json:"hostname"` // host:port identity
	Port     uint16        `json:"port"`
	Hosted   bool          `json:"hosted"`
	OpenMP   bool          `json:"openmp"`
	Origin   string        `json:"origin"`
	Payload  *QueryPayload `json:"payload"`
	IP       IPInfo        `json:"ip"`
	Guild    *GuildInfo    `json:"guild,omitempty"`
}

// Snapshot is the body of one immutable artifact. The capture time is encoded
// in the object key, not in the body.
type Snapshot struct {
	Servers []ProbeResult `json:"servers"`
}
