package webhooks

import "time"

// Event types dispatched by the integrity monitor.
const (
	EventChainCompromised = "ledger.compromised"
	EventChainRecovered   = "ledger.recovered"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Docchain-Signature"

// Endpoint is a configured receiver. Secret keys the body signature.
type Endpoint struct {
	URL    string `mapstructure:"url"`
	Secret string `mapstructure:"secret"`
}

// Event is the JSON body POSTed to every endpoint.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}
