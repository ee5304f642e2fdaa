package core

// Frame is one encoded message on a channel.
type Frame []byte

// Signalling frame types spoken between the WebRTC transport and the broker.
const (
	SignalOpen      = "open"
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
	SignalError     = "error"
	SignalPing      = "ping"
	SignalPong      = "pong"
)

// Signalling error codes.
const (
	SignalErrIDTaken     = "id_taken"
	SignalErrUnknownPeer = "unknown_peer"
	SignalErrInvalidID   = "invalid_id"
	SignalErrBadPayload  = "bad_payload"
)

// SignalMessage is the JSON frame relayed by the signalling broker. The broker
// stamps Src on everything it forwards; it never reads SDP.
type SignalMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Src       string `json:"src,omitempty"`
	Dst       string `json:"dst,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	Error     string `json:"error,omitempty"`
}
