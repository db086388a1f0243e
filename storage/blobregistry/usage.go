package blobregistry

// Usage restricts which programs accept a given backend.
//
// Backends are linked at build time: a backend registers itself via init() and is
// enabled in a binary by importing its package (usually as a blank import).
type Usage uint8

const (
	// UsageCLI marks backends a blob client may open (veritaslog, veritaslogd,
	// blobcli).
	UsageCLI Usage = 1 << iota
	// UsageDaemon marks backends veritas-blobd may serve. The grpc backend is
	// excluded so the daemon never proxies to itself.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }
