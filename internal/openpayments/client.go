package openpayments

import "context"

// Client is the set of network operations the payment flows depend on.
type Client interface {
	ResolveWallet(ctx context.Context, url string) (*WalletAddress, error)
	RequestGrant(ctx context.Context, authServer string, req GrantRequest) (*Grant, error)
	CreateIncomingPayment(ctx context.Context, resourceServer, token string, req IncomingPaymentRequest) (*IncomingPayment, error)
	CreateQuote(ctx context.Context, resourceServer, token string, req QuoteRequest) (*Quote, error)
	ContinueGrant(ctx context.Context, continueURI, continueToken string) (*Grant, error)
	CreateOutgoingPayment(ctx context.Context, resourceServer, token string, req OutgoingPaymentRequest) (*OutgoingPayment, error)
}
