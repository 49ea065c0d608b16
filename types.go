package bunker

// PeerMetadata is what a peer says about itself. It is never used for authorization.
type PeerMetadata struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// UnpairedContext is the single pending invitation a new peer can redeem with its secret.
type UnpairedContext struct {
	Secret string   `json:"secret"`
	Relays []string `json:"relays"`
}

// PairedSession is the trust record for one peer, keyed by its public key.
type PairedSession struct {
	PeerPubKey string        `json:"peer_pubkey"`
	Relays     []string      `json:"relays"`
	Metadata   *PeerMetadata `json:"metadata,omitempty"`
}

// Command is a decoded request. Name is the method as sent on the wire.
type Command struct {
	ID     string
	Method Method
	Name   string
	Params []string
}

// Response is what goes back to the peer; Result and Error are always both serialized.
type Response struct {
	ID     string `json:"id"`
	Result string `json:"result"`
	Error  string `json:"error"`
}
