package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/interpay/internal/openpayments"
	"github.com/mbd888/interpay/internal/openpayments/openpaymentstest"
)

const (
	senderURL    = "https://wallet.test/sender"
	recipientURL = "https://ilp.test/bob"
	causeURL     = "https://ilp.test/cruz_roja"
)

// --- Test Setup ---

type fakeCauses struct {
	mu     sync.Mutex
	causes map[string]*Cause
	raised map[string]decimal.Decimal
	addErr error
}

func newFakeCauses() *fakeCauses {
	return &fakeCauses{
		causes: map[string]*Cause{
			"cruz-roja": {ID: "cruz-roja", Name: "Cruz Roja Mexicana", WalletURL: causeURL},
		},
		raised: make(map[string]decimal.Decimal),
	}
}

func (f *fakeCauses) Lookup(_ context.Context, id string) (*Cause, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.causes[id]
	if !ok {
		return nil, ErrCauseNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCauses) AddRaised(_ context.Context, id string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.raised[id] = f.raised[id].Add(amount)
	return nil
}

type recordedEvents struct {
	mu        sync.Mutex
	initiated []string
	completed []string
}

func (r *recordedEvents) PaymentInitiated(_ context.Context, s *Session) {
	r.mu.Lock()
	r.initiated = append(r.initiated, s.Key)
	r.mu.Unlock()
}

func (r *recordedEvents) PaymentCompleted(_ context.Context, s *Session, _ *openpayments.OutgoingPayment) {
	r.mu.Lock()
	r.completed = append(r.completed, s.Key)
	r.mu.Unlock()
}

func setupTestService(t *testing.T) (*Service, *openpaymentstest.Network, *MemorySessionStore) {
	t.Helper()
	network := openpaymentstest.New()
	network.AddWallet(senderURL, "MXN", 2)
	network.AddWallet(recipientURL, "MXN", 2)
	network.AddWallet(causeURL, "MXN", 2)

	store := NewMemorySessionStore()
	return NewService(network, store, senderURL), network, store
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// --- Pure helpers ---

func TestNormalizeWalletAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"$ilp.interledger-test.dev/alice", "https://ilp.interledger-test.dev/alice"},
		{"ilp.interledger-test.dev/alice", "https://ilp.interledger-test.dev/alice"},
		{"https://ilp.interledger-test.dev/alice", "https://ilp.interledger-test.dev/alice"},
		{"http://localhost:3000/bob", "http://localhost:3000/bob"},
		{"  $wallet.example/carol  ", "https://wallet.example/carol"},
		{"", ""},
	}

	for _, tc := range tests {
		got := NormalizeWalletAddress(tc.in)
		assert.Equal(t, tc.want, got, "NormalizeWalletAddress(%q)", tc.in)
		assert.Equal(t, got, NormalizeWalletAddress(got), "normalizing %q twice changed it", tc.in)
	}
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount  string
		scale   int
		want    string
		wantErr bool
	}{
		{"10.50", 2, "1050", false},
		{"1", 2, "100", false},
		{"0.01", 2, "1", false},
		{"100", 0, "100", false},
		{"1.5", 9, "1500000000", false},
		{"1.005", 2, "", true},
		{"1.5", 0, "", true},
		{"1", -1, "", true},
		{"1", 19, "", true},
	}

	for _, tc := range tests {
		got, err := MinorUnits(amount(tc.amount), tc.scale)
		if tc.wantErr {
			require.Error(t, err, "MinorUnits(%s, %d)", tc.amount, tc.scale)
			assert.True(t, IsValidation(err))
			continue
		}
		require.NoError(t, err, "MinorUnits(%s, %d)", tc.amount, tc.scale)
		assert.Equal(t, tc.want, got.String())
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err    error
		kind   string
		status int
	}{
		{&ValidationError{Field: "amount", Message: "bad"}, KindValidation, 400},
		{ErrSessionNotFound, KindSessionNotFound, 404},
		{ErrGrantNotFinalized, KindGrantNotFinalized, 409},
		{ErrCauseNotFound, KindNotFound, 404},
		{&PhaseError{Phase: PhaseQuote, Err: &openpayments.ClientError{Status: 403}}, KindUpstreamClient, 400},
		{&PhaseError{Phase: PhaseResolveWallets, Err: &openpayments.TransportError{Err: errors.New("dial")}}, KindUpstreamTransport, 502},
		{context.DeadlineExceeded, KindUpstreamTransport, 502},
		{errors.New("boom"), KindInternal, 500},
	}

	for _, tc := range tests {
		kind := ErrorKind(tc.err)
		assert.Equal(t, tc.kind, kind, "ErrorKind(%v)", tc.err)
		assert.Equal(t, tc.status, HTTPStatus(kind), "HTTPStatus(%s)", kind)
	}
}

// --- Initiate ---

func TestInitiate_CreatesPendingSession(t *testing.T) {
	svc, network, store := setupTestService(t)
	ctx := context.Background()

	init, err := svc.Initiate(ctx, InitiateRequest{
		Amount:    amount("10.50"),
		Recipient: "$ilp.test/bob",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, init.SessionKey)
	assert.NotEmpty(t, init.AuthorizationURL)
	assert.Equal(t, "1050", init.DebitAmount.Value)
	assert.Equal(t, "MXN", init.DebitAmount.AssetCode)

	incoming := network.IncomingPayments()
	require.Len(t, incoming, 1)
	assert.Equal(t, recipientURL, incoming[0].WalletAddress)
	assert.Equal(t, "1050", incoming[0].IncomingAmount.Value)
	assert.Equal(t, "Pago", incoming[0].Metadata["description"])

	sess, err := store.Get(ctx, init.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, recipientURL, sess.Intent.RecipientWalletURL)
	assert.Equal(t, KindTransfer, sess.Intent.Kind)
	assert.Equal(t, "MXN", sess.Intent.AssetCode)
	assert.Equal(t, init.QuoteID, sess.Quote.ID)
	assert.Equal(t, senderURL, sess.SendingWallet.ID)
	assert.NotEmpty(t, sess.ContinueToken)
	assert.NotEmpty(t, sess.ContinueURI)

	assert.Empty(t, network.OutgoingPayments(), "no money moves before approval")
}

func TestInitiate_KindConcepts(t *testing.T) {
	svc, network, _ := setupTestService(t)

	_, err := svc.Initiate(context.Background(), InitiateRequest{
		Amount:    amount("5"),
		Recipient: recipientURL,
		Kind:      KindVoice,
	})
	require.NoError(t, err)
	_, err = svc.Initiate(context.Background(), InitiateRequest{
		Amount:    amount("5"),
		Recipient: recipientURL,
		Concept:   "Renta de octubre",
	})
	require.NoError(t, err)

	var concepts []string
	for _, ip := range network.IncomingPayments() {
		concepts = append(concepts, ip.Metadata["description"])
	}
	assert.ElementsMatch(t, []string{"Pago por voz", "Renta de octubre"}, concepts)
}

func TestInitiate_ValidationFailsBeforeNetwork(t *testing.T) {
	svc, network, _ := setupTestService(t)

	tests := []struct {
		name string
		req  InitiateRequest
	}{
		{"zero amount", InitiateRequest{Amount: decimal.Zero, Recipient: recipientURL}},
		{"negative amount", InitiateRequest{Amount: amount("-1"), Recipient: recipientURL}},
		{"missing recipient", InitiateRequest{Amount: amount("1")}},
		{"unknown kind", InitiateRequest{Amount: amount("1"), Recipient: recipientURL, Kind: "gift"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Initiate(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, KindValidation, ErrorKind(err))
		})
	}
	assert.Zero(t, network.Calls(openpayments.OpResolveWallet))
}

func TestInitiate_AmountFinerThanAssetScale(t *testing.T) {
	svc, network, store := setupTestService(t)

	_, err := svc.Initiate(context.Background(), InitiateRequest{
		Amount:    amount("1.005"),
		Recipient: recipientURL,
	})
	require.Error(t, err)
	assert.Equal(t, KindValidation, ErrorKind(err))
	assert.Zero(t, network.Calls(openpayments.OpCreateIncomingPayment))

	sessions, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestInitiate_UnknownRecipient(t *testing.T) {
	svc, _, store := setupTestService(t)

	_, err := svc.Initiate(context.Background(), InitiateRequest{
		Amount:    amount("1"),
		Recipient: "https://ilp.test/nobody",
	})
	require.Error(t, err)
	assert.Equal(t, KindUpstreamClient, ErrorKind(err))
	assert.Equal(t, PhaseResolveWallets, phaseOf(err))

	sessions, _ := store.List(context.Background())
	assert.Empty(t, sessions)
}

func TestInitiate_PhaseErrors(t *testing.T) {
	transport := &openpayments.TransportError{Operation: "x", Err: errors.New("connection reset")}
	rejected := &openpayments.ClientError{Operation: "x", Status: 403, Description: "forbidden"}

	tests := []struct {
		op    string
		err   error
		phase string
		kind  string
	}{
		{openpayments.OpResolveWallet, transport, PhaseResolveWallets, KindUpstreamTransport},
		{openpayments.OpRequestGrant, rejected, PhaseIncomingPayment, KindUpstreamClient},
		{openpayments.OpCreateIncomingPayment, rejected, PhaseIncomingPayment, KindUpstreamClient},
		{openpayments.OpCreateQuote, transport, PhaseQuote, KindUpstreamTransport},
		{openpayments.OpCreateQuote, rejected, PhaseQuote, KindUpstreamClient},
	}

	for _, tc := range tests {
		t.Run(tc.op+"/"+tc.kind, func(t *testing.T) {
			svc, network, store := setupTestService(t)
			network.Fail(tc.op, tc.err)

			_, err := svc.Initiate(context.Background(), InitiateRequest{
				Amount:    amount("2"),
				Recipient: recipientURL,
			})
			require.Error(t, err)
			assert.Equal(t, tc.phase, phaseOf(err))
			assert.Equal(t, tc.kind, ErrorKind(err))

			sessions, _ := store.List(context.Background())
			assert.Empty(t, sessions, "failed initiation must not leave a session")
		})
	}
}

func TestInitiate_OutgoingGrantNotInteractive(t *testing.T) {
	svc, _, _ := setupTestService(t)
	svc.client = &nonInteractiveGrants{Client: svc.client}

	_, err := svc.Initiate(context.Background(), InitiateRequest{
		Amount:    amount("2"),
		Recipient: recipientURL,
	})
	require.Error(t, err)
	assert.Equal(t, PhaseOutgoingGrant, phaseOf(err))
	assert.Equal(t, KindUpstreamClient, ErrorKind(err))
}

// nonInteractiveGrants answers every grant request with a finalized grant.
type nonInteractiveGrants struct {
	openpayments.Client
}

func (n *nonInteractiveGrants) RequestGrant(ctx context.Context, authServer string, req openpayments.GrantRequest) (*openpayments.Grant, error) {
	req.Interact = nil
	return n.Client.RequestGrant(ctx, authServer, req)
}

// --- Finalize ---

func TestFinalize_FullFlow(t *testing.T) {
	svc, network, store := setupTestService(t)
	events := &recordedEvents{}
	svc.WithEvents(events)
	ctx := context.Background()

	init, err := svc.Initiate(ctx, InitiateRequest{Amount: amount("10.50"), Recipient: recipientURL})
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, init.SessionKey)
	require.ErrorIs(t, err, ErrGrantNotFinalized)
	_, err = store.Get(ctx, init.SessionKey)
	require.NoError(t, err, "session must survive an unapproved finalize")

	require.True(t, network.Approve(init.AuthorizationURL))

	out, err := svc.Finalize(ctx, init.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, init.QuoteID, out.QuoteID)
	assert.Equal(t, senderURL, out.WalletAddress)
	assert.Equal(t, "1050", out.DebitAmount.Value)

	_, err = store.Get(ctx, init.SessionKey)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.Finalize(ctx, init.SessionKey)
	assert.ErrorIs(t, err, ErrSessionNotFound, "a session finalizes at most once")
	assert.Len(t, network.OutgoingPayments(), 1)

	assert.Equal(t, []string{init.SessionKey}, events.initiated)
	assert.Equal(t, []string{init.SessionKey}, events.completed)
}

func TestFinalize_UnknownOrEmptyKey(t *testing.T) {
	svc, network, _ := setupTestService(t)

	_, err := svc.Finalize(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.Finalize(context.Background(), "")
	assert.Equal(t, KindValidation, ErrorKind(err))

	assert.Zero(t, network.Calls(openpayments.OpContinueGrant))
}

func TestFinalize_OutgoingPaymentFailureKeepsSession(t *testing.T) {
	svc, network, store := setupTestService(t)
	ctx := context.Background()

	init, err := svc.Initiate(ctx, InitiateRequest{Amount: amount("3"), Recipient: recipientURL})
	require.NoError(t, err)
	network.Approve(init.AuthorizationURL)
	network.Fail(openpayments.OpCreateOutgoingPayment, &openpayments.TransportError{Err: errors.New("timeout")})

	_, err = svc.Finalize(ctx, init.SessionKey)
	require.Error(t, err)
	assert.Equal(t, PhaseOutgoingPayment, phaseOf(err))
	assert.Equal(t, KindUpstreamTransport, ErrorKind(err))

	_, err = store.Get(ctx, init.SessionKey)
	require.NoError(t, err)

	network.Clear(openpayments.OpCreateOutgoingPayment)
	_, err = svc.Finalize(ctx, init.SessionKey)
	require.NoError(t, err)
}

func TestFinalize_ConcurrentSessionsAreIndependent(t *testing.T) {
	svc, network, _ := setupTestService(t)
	ctx := context.Background()

	first, err := svc.Initiate(ctx, InitiateRequest{Amount: amount("1"), Recipient: recipientURL})
	require.NoError(t, err)
	second, err := svc.Initiate(ctx, InitiateRequest{Amount: amount("2"), Recipient: recipientURL})
	require.NoError(t, err)
	require.NotEqual(t, first.SessionKey, second.SessionKey)

	network.Approve(second.AuthorizationURL)

	out, err := svc.Finalize(ctx, second.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, "200", out.DebitAmount.Value)

	_, err = svc.Finalize(ctx, first.SessionKey)
	assert.ErrorIs(t, err, ErrGrantNotFinalized)

	network.Approve(first.AuthorizationURL)
	out, err = svc.Finalize(ctx, first.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, "100", out.DebitAmount.Value)
}

func TestInitiate_ReusedKeyReplacesSession(t *testing.T) {
	svc, network, store := setupTestService(t)
	ctx := context.Background()

	first, err := svc.Initiate(ctx, InitiateRequest{Amount: amount("1"), Recipient: recipientURL, SessionKey: "voice-1"})
	require.NoError(t, err)
	second, err := svc.Initiate(ctx, InitiateRequest{Amount: amount("4"), Recipient: recipientURL, SessionKey: "voice-1"})
	require.NoError(t, err)
	assert.Equal(t, "voice-1", first.SessionKey)
	assert.Equal(t, "voice-1", second.SessionKey)

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, second.QuoteID, sessions[0].Quote.ID)

	network.Approve(second.AuthorizationURL)
	out, err := svc.Finalize(ctx, "voice-1")
	require.NoError(t, err)
	assert.Equal(t, second.QuoteID, out.QuoteID)
}

func TestFinalize_ParallelCallsPayOnce(t *testing.T) {
	svc, network, _ := setupTestService(t)
	ctx := context.Background()

	init, err := svc.Initiate(ctx, InitiateRequest{Amount: amount("7"), Recipient: recipientURL})
	require.NoError(t, err)
	network.Approve(init.AuthorizationURL)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Finalize(ctx, init.SessionKey)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, missing int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSessionNotFound):
			missing++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, missing)
	assert.Len(t, network.OutgoingPayments(), 1)
}

// --- Cancel / Pending ---

func TestCancelAndPending(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	tick := base
	svc.WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})

	a, err := svc.Initiate(ctx, InitiateRequest{Amount: amount("1"), Recipient: recipientURL, SessionKey: "a"})
	require.NoError(t, err)
	_, err = svc.Initiate(ctx, InitiateRequest{Amount: amount("2"), Recipient: recipientURL, SessionKey: "b"})
	require.NoError(t, err)

	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].SessionKey)
	assert.Equal(t, "b", pending[1].SessionKey)
	assert.True(t, pending[0].Amount.Equal(amount("1")))

	view, err := svc.Session(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, a.AuthorizationURL, view.AuthorizationURL)

	require.NoError(t, svc.Cancel(ctx, "a"))
	assert.ErrorIs(t, svc.Cancel(ctx, "a"), ErrSessionNotFound)

	pending, err = svc.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].SessionKey)
}

// --- Donations ---

func TestDonate_CompletesAndRaisesCause(t *testing.T) {
	svc, network, _ := setupTestService(t)
	causes := newFakeCauses()
	svc.WithCauses(causes)
	ctx := context.Background()

	init, cause, err := svc.Donate(ctx, DonateRequest{CauseID: "cruz-roja", Amount: amount("150")})
	require.NoError(t, err)
	assert.Equal(t, "Cruz Roja Mexicana", cause.Name)

	incoming := network.IncomingPayments()
	require.Len(t, incoming, 1)
	assert.Equal(t, causeURL, incoming[0].WalletAddress)
	assert.Equal(t, "Donación a Cruz Roja Mexicana", incoming[0].Metadata["description"])

	network.Approve(init.AuthorizationURL)
	_, err = svc.Finalize(ctx, init.SessionKey)
	require.NoError(t, err)

	assert.True(t, causes.raised["cruz-roja"].Equal(amount("150")))
}

func TestDonate_RaisedOnlyAfterFinalize(t *testing.T) {
	svc, _, _ := setupTestService(t)
	causes := newFakeCauses()
	svc.WithCauses(causes)
	ctx := context.Background()

	init, _, err := svc.Donate(ctx, DonateRequest{CauseID: "cruz-roja", Amount: amount("20")})
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, init.SessionKey)
	require.ErrorIs(t, err, ErrGrantNotFinalized)
	assert.True(t, causes.raised["cruz-roja"].IsZero())
}

func TestDonate_UnknownCause(t *testing.T) {
	svc, network, _ := setupTestService(t)

	_, _, err := svc.Donate(context.Background(), DonateRequest{CauseID: "cruz-roja", Amount: amount("1")})
	assert.ErrorIs(t, err, ErrCauseNotFound, "no registry configured")

	svc.WithCauses(newFakeCauses())
	_, _, err = svc.Donate(context.Background(), DonateRequest{CauseID: "nope", Amount: amount("1")})
	assert.ErrorIs(t, err, ErrCauseNotFound)
	assert.Equal(t, KindNotFound, ErrorKind(err))

	assert.Zero(t, network.Calls(openpayments.OpResolveWallet))
}

func TestDonate_CauseBookkeepingFailureDoesNotFailPayment(t *testing.T) {
	svc, network, _ := setupTestService(t)
	causes := newFakeCauses()
	causes.addErr = errors.New("database unavailable")
	svc.WithCauses(causes)
	ctx := context.Background()

	init, _, err := svc.Donate(ctx, DonateRequest{CauseID: "cruz-roja", Amount: amount("5")})
	require.NoError(t, err)
	network.Approve(init.AuthorizationURL)

	out, err := svc.Finalize(ctx, init.SessionKey)
	require.NoError(t, err)
	assert.NotEmpty(t, out.ID)
}

// --- Caller and task session separation ---

func TestInitiate_RejectsReservedFields(t *testing.T) {
	svc, network, _ := setupTestService(t)
	svc.WithCauses(newFakeCauses())

	tests := []struct {
		name  string
		req   InitiateRequest
		field string
	}{
		{"cause outside donations", InitiateRequest{Amount: amount("5000"), Recipient: recipientURL, CauseID: "cruz-roja"}, "causeId"},
		{"donation kind", InitiateRequest{Amount: amount("1"), Recipient: causeURL, Kind: KindDonation}, "kind"},
		{"scheduled kind", InitiateRequest{Amount: amount("1"), Recipient: recipientURL, Kind: KindScheduled}, "kind"},
		{"task session key", InitiateRequest{Amount: amount("1"), Recipient: recipientURL, SessionKey: TaskSessionKey("1760713260-ab12")}, "sessionKey"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Initiate(context.Background(), tc.req)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
	assert.Zero(t, network.Calls(openpayments.OpResolveWallet))

	_, _, err := svc.Donate(context.Background(), DonateRequest{CauseID: "cruz-roja", Amount: amount("1"), SessionKey: TaskSessionKey("x")})
	assert.Equal(t, KindValidation, ErrorKind(err))
}

func TestTaskSessions_HiddenFromCallerOperations(t *testing.T) {
	svc, network, _ := setupTestService(t)
	ctx := context.Background()
	const taskID = "1760713260-ab12"

	init, err := svc.InitiateTask(ctx, taskID, InitiateRequest{Amount: amount("15"), Recipient: recipientURL, Concept: "Renta"})
	require.NoError(t, err)
	key := TaskSessionKey(taskID)
	assert.Equal(t, key, init.SessionKey)
	require.True(t, network.Approve(init.AuthorizationURL))

	_, err = svc.Finalize(ctx, key)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Finalize(ctx, taskID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, svc.Cancel(ctx, key), ErrSessionNotFound)
	_, err = svc.Session(ctx, key)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	pending, err := svc.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Empty(t, network.OutgoingPayments())

	// A caller payment under the bare task id is a separate session.
	other, err := svc.Initiate(ctx, InitiateRequest{Amount: amount("999"), Recipient: causeURL, SessionKey: taskID})
	require.NoError(t, err)
	assert.NotEqual(t, init.QuoteID, other.QuoteID)

	sess, err := svc.TaskSession(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, KindScheduled, sess.Kind)
	assert.True(t, sess.Amount.Equal(amount("15")))

	out, err := svc.FinalizeTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, init.QuoteID, out.QuoteID)
	assert.Equal(t, "1500", out.DebitAmount.Value)

	_, err = svc.TaskSession(ctx, taskID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
