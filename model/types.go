package model

// RegisterRequest is the submission accepted by POST /api/register-log.
type RegisterRequest struct {
	Title      string `json:"title"`
	Severity   string `json:"severity"`
	ModuleName string `json:"moduleName"`
	Narrative  string `json:"narrative"`
	Notes      string `json:"notes,omitempty"`
	CreatedAt  int64  `json:"createdAt,omitempty"`
	Owner      string `json:"owner,omitempty"`
}

// SealInfo describes how the artifact was encrypted.
type SealInfo struct {
	IDHex           string   `json:"idHex"`
	Threshold       int      `json:"threshold"`
	ServerObjectIDs []string `json:"serverObjectIds"`
	PackageID       string   `json:"packageId"`
}

type RegisterResponse struct {
	BlobID        string   `json:"blobId"`
	CommitmentHex string   `json:"commitmentHex"`
	LogID         string   `json:"logId,omitempty"`
	Seal          SealInfo `json:"seal"`
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
}

type AccessRequest struct {
	Requester   string `json:"requester"`
	Reason      string `json:"reason"`
	RequestedAt int64  `json:"requestedAt"`
}

// Rejection is an access request the owner turned down.
type Rejection struct {
	Requester  string `json:"requester"`
	Reason     string `json:"reason"`
	RejectedAt int64  `json:"rejectedAt"`
}

// LogRecord is the ledger view of one registered log.
type LogRecord struct {
	ID            string          `json:"id"`
	BlobID        string          `json:"walrusCid"`
	CommitmentHex string          `json:"metaCommitment"`
	Owner         string          `json:"owner"`
	Allowed       []string        `json:"allowed"`
	Pending       []AccessRequest `json:"pending"`
	Rejected      []Rejection     `json:"rejected,omitempty"`
	CreatedAt     int64           `json:"createdAt"`
	SeverityCode  uint8           `json:"severityCode"`
	Severity      string          `json:"severity"`
}

// LogEvent is one "log registered" ledger event.
type LogEvent struct {
	LogID         string `json:"logId"`
	BlobID        string `json:"blobId"`
	CommitmentHex string `json:"commitmentHex"`
	CreatedAt     int64  `json:"createdAt"`
	SeverityCode  uint8  `json:"severityCode"`
	Owner         string `json:"owner"`
}

type EventList struct {
	Events []LogEvent `json:"events"`
}

type AccessRequestBody struct {
	Requester string `json:"requester"`
	Reason    string `json:"reason,omitempty"`
}

type DecisionBody struct {
	Caller    string `json:"caller"`
	Requester string `json:"requester"`
	Reason    string `json:"reason,omitempty"`
}

// VerifyRequest asks the API to compare candidate content, rebuilt with meta,
// against the ledger commitment of a log.
type VerifyRequest struct {
	Meta      BundleMeta `json:"meta"`
	Candidate string     `json:"candidate"`
}

type BundleMeta struct {
	Title      string `json:"title"`
	Severity   string `json:"severity"`
	ModuleName string `json:"moduleName"`
	Notes      string `json:"notes"`
	CreatedAt  int64  `json:"createdAt"`
}

type VerifyResponse struct {
	Match       bool   `json:"match"`
	Mode        string `json:"mode"`
	ExpectedHex string `json:"expectedHex"`
	ComputedHex string `json:"computedHex"`
	Detail      string `json:"detail,omitempty"`
}
