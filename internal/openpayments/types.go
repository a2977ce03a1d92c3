// Package openpayments is the boundary to an Open Payments network.
//
// The rest of the module talks to the network only through the Client
// interface. HTTPClient is the production implementation: JSON over HTTP,
// GNAP access tokens, and Ed25519 HTTP message signatures.
package openpayments

import "time"

// AccessType names a resource type a grant can cover.
type AccessType string

const (
	AccessIncomingPayment AccessType = "incoming-payment"
	AccessQuote           AccessType = "quote"
	AccessOutgoingPayment AccessType = "outgoing-payment"
)

// Action is an operation permitted by a grant.
type Action string

const (
	ActionRead     Action = "read"
	ActionCreate   Action = "create"
	ActionComplete Action = "complete"
	ActionList     Action = "list"
)

// InteractRedirect is the interaction start mode that sends a human to the
// authorization server's consent screen.
const InteractRedirect = "redirect"

// Amount is an asset-denominated value in minor units.
type Amount struct {
	Value      string `json:"value"`
	AssetCode  string `json:"assetCode"`
	AssetScale int    `json:"assetScale"`
}

// WalletAddress describes a resolvable payment account.
type WalletAddress struct {
	ID             string `json:"id"`
	PublicName     string `json:"publicName,omitempty"`
	AssetCode      string `json:"assetCode"`
	AssetScale     int    `json:"assetScale"`
	AuthServer     string `json:"authServer"`
	ResourceServer string `json:"resourceServer"`
}

// Limits caps what an outgoing-payment grant may spend.
type Limits struct {
	DebitAmount   *Amount `json:"debitAmount,omitempty"`
	ReceiveAmount *Amount `json:"receiveAmount,omitempty"`
}

// AccessItem is one entry of a grant's access list.
type AccessItem struct {
	Type       AccessType `json:"type"`
	Actions    []Action   `json:"actions"`
	Identifier string     `json:"identifier,omitempty"`
	Limits     *Limits    `json:"limits,omitempty"`
}

// AccessTokenRequest is the access_token section of a grant request.
type AccessTokenRequest struct {
	Access []AccessItem `json:"access"`
}

// InteractFinish asks the auth server to call back or redirect when the
// user finishes interacting.
type InteractFinish struct {
	Method string `json:"method"`
	URI    string `json:"uri"`
	Nonce  string `json:"nonce"`
}

// InteractRequest asks for an interactive grant.
type InteractRequest struct {
	Start  []string        `json:"start"`
	Finish *InteractFinish `json:"finish,omitempty"`
}

// GrantRequest is the body sent to an authorization server.
// Client is filled in by the transport when empty.
type GrantRequest struct {
	AccessToken AccessTokenRequest `json:"access_token"`
	Client      string             `json:"client"`
	Interact    *InteractRequest   `json:"interact,omitempty"`
}

// AccessToken is an issued GNAP access token.
type AccessToken struct {
	Value     string       `json:"value"`
	Manage    string       `json:"manage,omitempty"`
	ExpiresIn int          `json:"expires_in,omitempty"`
	Access    []AccessItem `json:"access,omitempty"`
}

// ContinueToken authorizes a grant continuation call.
type ContinueToken struct {
	Value string `json:"value"`
}

// Continue is the continuation handle of a grant.
type Continue struct {
	AccessToken ContinueToken `json:"access_token"`
	URI         string        `json:"uri"`
	Wait        int           `json:"wait,omitempty"`
}

// Interact carries the URL a human must visit to approve a grant.
type Interact struct {
	Redirect string `json:"redirect"`
	Finish   string `json:"finish,omitempty"`
}

// Grant is the response to a grant request or continuation. A grant is
// either finalized (AccessToken set) or pending interaction (Interact set).
type Grant struct {
	AccessToken *AccessToken `json:"access_token,omitempty"`
	Continue    *Continue    `json:"continue,omitempty"`
	Interact    *Interact    `json:"interact,omitempty"`
}

// IsFinalized reports whether the grant carries a usable access token.
func (g *Grant) IsFinalized() bool {
	return g != nil && g.AccessToken != nil && g.AccessToken.Value != ""
}

// IsPending reports whether the grant still needs user interaction.
func (g *Grant) IsPending() bool {
	return g != nil && g.Interact != nil && g.Interact.Redirect != ""
}

// IncomingPaymentRequest creates the receiving leg of a payment.
type IncomingPaymentRequest struct {
	WalletAddress  string            `json:"walletAddress"`
	IncomingAmount *Amount           `json:"incomingAmount,omitempty"`
	ExpiresAt      *time.Time        `json:"expiresAt,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// IncomingPayment is a resource-server record for the receiving leg.
type IncomingPayment struct {
	ID             string            `json:"id"`
	WalletAddress  string            `json:"walletAddress"`
	IncomingAmount *Amount           `json:"incomingAmount,omitempty"`
	ReceivedAmount *Amount           `json:"receivedAmount,omitempty"`
	Completed      bool              `json:"completed"`
	ExpiresAt      *time.Time        `json:"expiresAt,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// QuoteRequest asks the sender's resource server to price a payment.
type QuoteRequest struct {
	WalletAddress string  `json:"walletAddress"`
	Receiver      string  `json:"receiver"`
	Method        string  `json:"method"`
	DebitAmount   *Amount `json:"debitAmount,omitempty"`
	ReceiveAmount *Amount `json:"receiveAmount,omitempty"`
}

// Quote locks in debit and receive amounts for a payment.
type Quote struct {
	ID            string     `json:"id"`
	WalletAddress string     `json:"walletAddress"`
	Receiver      string     `json:"receiver"`
	Method        string     `json:"method"`
	DebitAmount   Amount     `json:"debitAmount"`
	ReceiveAmount Amount     `json:"receiveAmount"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// OutgoingPaymentRequest creates the sending leg from a quote.
type OutgoingPaymentRequest struct {
	WalletAddress string            `json:"walletAddress"`
	QuoteID       string            `json:"quoteId"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// OutgoingPayment is a resource-server record for the sending leg.
type OutgoingPayment struct {
	ID            string            `json:"id"`
	WalletAddress string            `json:"walletAddress"`
	QuoteID       string            `json:"quoteId,omitempty"`
	Receiver      string            `json:"receiver"`
	Failed        bool              `json:"failed"`
	DebitAmount   Amount            `json:"debitAmount"`
	ReceiveAmount Amount            `json:"receiveAmount"`
	SentAmount    Amount            `json:"sentAmount"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}
