// Package api holds the JSON payloads of the key server and a client for them.
package api

const (
	// HeaderUserAgent carries "app;appVersion;build;os;osVersion".
	HeaderUserAgent = "User-Agent"
	// HeaderPublishedUntil is the exclusive end of the release window of a key file,
	// in epoch milliseconds.
	HeaderPublishedUntil = "X-Published-Until"
	// HeaderKeyBundleTag is the value to pass back as lastKeyBundleTag.
	HeaderKeyBundleTag = "X-Key-Bundle-Tag"
	HeaderSignature    = "Signature"
	HeaderKeyID        = "X-Key-Id"
)

// GaenKey is a key as uploaded by a device.
type GaenKey struct {
	// KeyData is the base64 encoded key.
	KeyData               string `json:"keyData" validate:"required,base64"`
	RollingStartNumber    int64  `json:"rollingStartNumber" validate:"gte=0"`
	RollingPeriod         int32  `json:"rollingPeriod" validate:"gte=0,lte=144"`
	TransmissionRiskLevel int32  `json:"transmissionRiskLevel"`
	// Fake is 1 for padding keys.
	Fake int `json:"fake" validate:"oneof=0 1"`
}

// GaenRequest is the body of an upload. Devices pad it to a fixed number of keys.
type GaenRequest struct {
	GaenKeys []GaenKey `json:"gaenKeys" validate:"required,min=1,max=30,dive"`
	// DelayedKeyDate is the rolling start number of the key that will be sent the next day.
	DelayedKeyDate int64 `json:"delayedKeyDate"`
}

// GaenSecondDay is the body of the delayed upload of the key of the upload day.
type GaenSecondDay struct {
	DelayedKey GaenKey `json:"delayedKey" validate:"required"`
}

type VersionRsp struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
}

type ReadinessRsp struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
