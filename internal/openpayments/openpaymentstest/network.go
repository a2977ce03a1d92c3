// Package openpaymentstest provides an in-memory Open Payments network for
// tests of code that depends on openpayments.Client.
package openpaymentstest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mbd888/interpay/internal/openpayments"
)

// Network implements openpayments.Client against in-memory state. Wallets
// must be registered with AddWallet; interactive grants stay pending until
// Approve is called with their redirect URL.
type Network struct {
	mu       sync.Mutex
	seq      int
	wallets  map[string]*openpayments.WalletAddress
	pending  map[string]string // redirect URL -> continue token
	approved map[string]bool   // continue token -> approved
	failures map[string]error  // operation -> error
	calls    map[string]int
	incoming map[string]*openpayments.IncomingPayment
	quotes   map[string]*openpayments.Quote
	outgoing []*openpayments.OutgoingPayment
}

var _ openpayments.Client = (*Network)(nil)

// New creates an empty network.
func New() *Network {
	return &Network{
		wallets:  make(map[string]*openpayments.WalletAddress),
		pending:  make(map[string]string),
		approved: make(map[string]bool),
		failures: make(map[string]error),
		calls:    make(map[string]int),
		incoming: make(map[string]*openpayments.IncomingPayment),
		quotes:   make(map[string]*openpayments.Quote),
	}
}

// AddWallet registers a wallet reachable at walletURL. Its auth and
// resource servers live on the same origin.
func (n *Network) AddWallet(walletURL, assetCode string, assetScale int) *openpayments.WalletAddress {
	n.mu.Lock()
	defer n.mu.Unlock()

	origin := walletURL
	if u, err := url.Parse(walletURL); err == nil && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}
	wa := &openpayments.WalletAddress{
		ID:             walletURL,
		AssetCode:      assetCode,
		AssetScale:     assetScale,
		AuthServer:     origin + "/auth",
		ResourceServer: origin + "/rs",
	}
	n.wallets[walletURL] = wa
	return wa
}

// Approve marks the interactive grant behind redirectURL as approved.
func (n *Network) Approve(redirectURL string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	token, ok := n.pending[redirectURL]
	if ok {
		n.approved[token] = true
	}
	return ok
}

// Fail makes every call to operation return err until Clear is called.
func (n *Network) Fail(operation string, err error) {
	n.mu.Lock()
	n.failures[operation] = err
	n.mu.Unlock()
}

// Clear removes an injected failure.
func (n *Network) Clear(operation string) {
	n.mu.Lock()
	delete(n.failures, operation)
	n.mu.Unlock()
}

// Calls returns how many times operation was invoked.
func (n *Network) Calls(operation string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[operation]
}

// IncomingPayments returns created incoming payments.
func (n *Network) IncomingPayments() []*openpayments.IncomingPayment {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]*openpayments.IncomingPayment, 0, len(n.incoming))
	for _, ip := range n.incoming {
		cp := *ip
		out = append(out, &cp)
	}
	return out
}

// OutgoingPayments returns created outgoing payments in creation order.
func (n *Network) OutgoingPayments() []*openpayments.OutgoingPayment {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]*openpayments.OutgoingPayment, len(n.outgoing))
	for i, op := range n.outgoing {
		cp := *op
		out[i] = &cp
	}
	return out
}

func (n *Network) enter(op string) error {
	n.calls[op]++
	n.seq++
	return n.failures[op]
}

func (n *Network) ResolveWallet(ctx context.Context, walletURL string) (*openpayments.WalletAddress, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.enter(openpayments.OpResolveWallet); err != nil {
		return nil, err
	}
	wa, ok := n.wallets[walletURL]
	if !ok {
		return nil, &openpayments.ClientError{
			Operation:   openpayments.OpResolveWallet,
			Status:      http.StatusNotFound,
			Description: "wallet address not found",
		}
	}
	cp := *wa
	return &cp, nil
}

func (n *Network) RequestGrant(ctx context.Context, authServer string, req openpayments.GrantRequest) (*openpayments.Grant, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.enter(openpayments.OpRequestGrant); err != nil {
		return nil, err
	}
	if req.Interact == nil {
		return &openpayments.Grant{
			AccessToken: &openpayments.AccessToken{
				Value:  fmt.Sprintf("tok-%d", n.seq),
				Access: req.AccessToken.Access,
			},
		}, nil
	}

	token := fmt.Sprintf("cont-%d", n.seq)
	redirect := fmt.Sprintf("%s/interact/%d", authServer, n.seq)
	n.pending[redirect] = token
	return &openpayments.Grant{
		Continue: &openpayments.Continue{
			AccessToken: openpayments.ContinueToken{Value: token},
			URI:         fmt.Sprintf("%s/continue/%d", authServer, n.seq),
		},
		Interact: &openpayments.Interact{Redirect: redirect},
	}, nil
}

func (n *Network) CreateIncomingPayment(ctx context.Context, resourceServer, token string, req openpayments.IncomingPaymentRequest) (*openpayments.IncomingPayment, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.enter(openpayments.OpCreateIncomingPayment); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, unauthorized(openpayments.OpCreateIncomingPayment)
	}
	ip := &openpayments.IncomingPayment{
		ID:             fmt.Sprintf("%s/incoming-payments/%d", resourceServer, n.seq),
		WalletAddress:  req.WalletAddress,
		IncomingAmount: req.IncomingAmount,
		Metadata:       req.Metadata,
		CreatedAt:      time.Now(),
	}
	n.incoming[ip.ID] = ip
	cp := *ip
	return &cp, nil
}

func (n *Network) CreateQuote(ctx context.Context, resourceServer, token string, req openpayments.QuoteRequest) (*openpayments.Quote, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.enter(openpayments.OpCreateQuote); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, unauthorized(openpayments.OpCreateQuote)
	}
	ip, ok := n.incoming[req.Receiver]
	if !ok || ip.IncomingAmount == nil {
		return nil, &openpayments.ClientError{
			Operation:   openpayments.OpCreateQuote,
			Status:      http.StatusBadRequest,
			Description: "invalid receiver",
		}
	}
	q := &openpayments.Quote{
		ID:            fmt.Sprintf("%s/quotes/%d", resourceServer, n.seq),
		WalletAddress: req.WalletAddress,
		Receiver:      req.Receiver,
		Method:        req.Method,
		DebitAmount:   *ip.IncomingAmount,
		ReceiveAmount: *ip.IncomingAmount,
		CreatedAt:     time.Now(),
	}
	n.quotes[q.ID] = q
	cp := *q
	return &cp, nil
}

func (n *Network) ContinueGrant(ctx context.Context, continueURI, continueToken string) (*openpayments.Grant, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.enter(openpayments.OpContinueGrant); err != nil {
		return nil, err
	}
	if !n.approved[continueToken] {
		return &openpayments.Grant{
			Continue: &openpayments.Continue{
				AccessToken: openpayments.ContinueToken{Value: continueToken},
				URI:         continueURI,
			},
		}, nil
	}
	return &openpayments.Grant{
		AccessToken: &openpayments.AccessToken{Value: "out-" + continueToken},
	}, nil
}

func (n *Network) CreateOutgoingPayment(ctx context.Context, resourceServer, token string, req openpayments.OutgoingPaymentRequest) (*openpayments.OutgoingPayment, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.enter(openpayments.OpCreateOutgoingPayment); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, unauthorized(openpayments.OpCreateOutgoingPayment)
	}
	q, ok := n.quotes[req.QuoteID]
	if !ok {
		return nil, &openpayments.ClientError{
			Operation:   openpayments.OpCreateOutgoingPayment,
			Status:      http.StatusBadRequest,
			Description: "unknown quote",
		}
	}
	op := &openpayments.OutgoingPayment{
		ID:            fmt.Sprintf("%s/outgoing-payments/%d", resourceServer, n.seq),
		WalletAddress: req.WalletAddress,
		QuoteID:       q.ID,
		Receiver:      q.Receiver,
		DebitAmount:   q.DebitAmount,
		ReceiveAmount: q.ReceiveAmount,
		SentAmount:    openpayments.Amount{Value: "0", AssetCode: q.DebitAmount.AssetCode, AssetScale: q.DebitAmount.AssetScale},
		Metadata:      req.Metadata,
		CreatedAt:     time.Now(),
	}
	n.outgoing = append(n.outgoing, op)
	cp := *op
	return &cp, nil
}

func unauthorized(op string) error {
	return &openpayments.ClientError{Operation: op, Status: http.StatusUnauthorized, Description: "missing access token"}
}
