package client_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"paybook/internal/auth/events"
	authmodels "paybook/internal/auth/models"
	"paybook/internal/auth/password"
	authservice "paybook/internal/auth/service"
	"paybook/internal/auth/store/revocation"
	sessionstore "paybook/internal/auth/store/session"
	"paybook/internal/auth/store/user"
	"paybook/internal/auth/token"
	bankservice "paybook/internal/banking/service"
	bankstore "paybook/internal/banking/store"
	"paybook/internal/client"
	"paybook/internal/platform/config"
	"paybook/internal/platform/logger"
	"paybook/internal/platform/metrics"
	"paybook/internal/session"
	httptransport "paybook/internal/transport/http"
	dErrors "paybook/pkg/domain-errors"
	"paybook/pkg/platform/audit/publishers/compliance"
	auditmemory "paybook/pkg/platform/audit/store/memory"
)

// ClientSuite drives the real router over HTTP with in-memory stores.
type ClientSuite struct {
	suite.Suite
	server *httptest.Server
	client *client.Client
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	log := logger.Discard()
	reg := prometheus.NewRegistry()
	auditStore := auditmemory.NewInMemoryStore()
	publisher := compliance.New(auditStore, compliance.WithLogger(log))

	db := bankstore.NewMemoryDB()
	banking := bankservice.New(db.Accounts(), db.Contacts(), db.Transactions(), db,
		bankservice.WithLogger(log),
		bankservice.WithAuditPublisher(publisher),
	)
	auth := authservice.New(
		user.New(), sessionstore.New(), revocation.NewInMemoryTRL(),
		token.NewJWTService("client-test-secret", "paybook", "paybook-api"),
		password.NewHasher(bcrypt.MinCost),
		events.NewMemoryBroker(log), banking,
		authservice.Config{TokenTTL: 15 * time.Minute, SessionTTL: time.Hour},
		authservice.WithLogger(log),
		authservice.WithComplianceAuditor(publisher),
	)
	s.server = httptest.NewServer(httptransport.NewRouter(httptransport.RouterConfig{
		Auth:     auth,
		Banking:  banking,
		Logger:   log,
		Metrics:  metrics.New(reg),
		Gatherer: reg,
	}))
	s.client = client.New(config.Client{APIURL: s.server.URL + "/", Timeout: 5 * time.Second},
		client.WithLogger(log))
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientSuite) signUp(address string) *session.Credentials {
	creds, err := s.client.SignUp(context.Background(), session.SignUpInput{
		Email: address, Password: "hunter22", FullName: "Jane Doe",
	})
	s.Require().NoError(err)
	return creds
}

func (s *ClientSuite) TestSessionContextOverHTTP() {
	ctx := context.Background()
	sc := session.New(s.client, session.NewMemoryTokenStore(session.Token{}), logger.Discard())
	s.Require().NoError(sc.Restore(ctx))
	s.False(sc.State().SignedIn())

	s.Require().NoError(sc.SignUp(ctx, session.SignUpInput{Email: "Jane@Example.com", Password: "hunter22"}))

	state := sc.State()
	s.Require().True(state.SignedIn())
	s.Equal("jane@example.com", state.User.Email)
	s.Require().NotNil(state.Profile)
	s.Equal("Jane", state.Profile.FullName)
	s.True(decimal.NewFromInt(50000).Equal(state.Profile.Balance))

	s.Require().NoError(sc.SignOut(ctx))
	s.False(sc.State().SignedIn())
	s.Empty(sc.Token())
}

func (s *ClientSuite) TestTransferRoundTrip() {
	ctx := context.Background()
	creds := s.signUp("payer@example.com")

	contacts, err := s.client.Contacts(ctx, creds.AccessToken)
	s.Require().NoError(err)
	s.Require().Len(contacts, 5)

	in := client.TransferInput{
		ContactID:      contacts[0].ID.String(),
		Amount:         "250.50",
		Description:    "Rent share",
		IdempotencyKey: uuid.NewString(),
	}
	first, err := s.client.Transfer(ctx, creds.AccessToken, in)
	s.Require().NoError(err)
	s.False(first.Replayed)
	s.Equal("49749.5", first.Balance.String())

	again, err := s.client.Transfer(ctx, creds.AccessToken, in)
	s.Require().NoError(err)
	s.True(again.Replayed)
	s.Equal(first.Transaction.ID, again.Transaction.ID)

	balance, err := s.client.Balance(ctx, creds.AccessToken)
	s.Require().NoError(err)
	s.Equal("49749.5", balance.String())

	history, err := s.client.History(ctx, creds.AccessToken)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal("Rent share", *history[0].Description)

	recent, err := s.client.RecentContacts(ctx, creds.AccessToken)
	s.Require().NoError(err)
	s.Equal(contacts[0].ID, recent[0].ID, "paid contact moves to the top")

	_, err = s.client.Transfer(ctx, creds.AccessToken, client.TransferInput{
		ContactID: contacts[1].ID.String(), Amount: "1000000",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ClientSuite) TestErrorsKeepTheirCode() {
	ctx := context.Background()
	s.signUp("dup@example.com")

	_, err := s.client.SignUp(ctx, session.SignUpInput{Email: "dup@example.com", Password: "hunter22"})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.client.SignIn(ctx, "dup@example.com", "wrong-password")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = s.client.Profile(ctx, "not-a-token")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ClientSuite) TestSignOutRevokesToken() {
	ctx := context.Background()
	creds := s.signUp("leaver@example.com")

	_, err := s.client.CurrentUser(ctx, creds.AccessToken)
	s.Require().NoError(err)
	s.Require().NoError(s.client.SignOut(ctx, creds.AccessToken))

	_, err = s.client.CurrentUser(ctx, creds.AccessToken)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ClientSuite) TestEventStream() {
	ctx := context.Background()
	creds := s.signUp("watcher@example.com")

	stream, cancel, err := s.client.Events(ctx, creds.AccessToken)
	s.Require().NoError(err)
	defer cancel()

	_, err = s.client.SignIn(ctx, "watcher@example.com", "hunter22")
	s.Require().NoError(err)

	select {
	case ev := <-stream:
		s.Equal(authmodels.EventSignedIn, ev.Type)
		s.Equal(creds.User.ID, ev.UserID)
	case <-time.After(5 * time.Second):
		s.FailNow("no signed_in event received")
	}

	s.Require().NoError(s.client.SignOut(ctx, creds.AccessToken))
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, open := <-stream:
			if !open {
				return
			}
			s.Equal(authmodels.EventSignedOut, ev.Type)
		case <-deadline:
			s.FailNow("stream did not close after sign-out")
		}
	}
}

func (s *ClientSuite) TestMalformedAmountIsAValidationError() {
	ctx := context.Background()
	creds := s.signUp("typo@example.com")
	contacts, err := s.client.Contacts(ctx, creds.AccessToken)
	s.Require().NoError(err)

	_, err = s.client.Transfer(ctx, creds.AccessToken, client.TransferInput{
		ContactID: contacts[0].ID.String(), Amount: "abc", IdempotencyKey: uuid.NewString(),
	})
	de, ok := dErrors.As(err)
	s.Require().True(ok, "got %v", err)
	s.Equal(dErrors.CodeValidation, de.Code)
	s.Equal("invalid amount", de.Message)

	_, err = s.client.Transfer(ctx, creds.AccessToken, client.TransferInput{
		Amount: "abc", IdempotencyKey: uuid.NewString(),
	})
	de, ok = dErrors.As(err)
	s.Require().True(ok, "got %v", err)
	s.Equal(dErrors.CodeValidation, de.Code)
	s.Equal("no recipient", de.Message)
}

func (s *ClientSuite) TestRefreshRotatesToken() {
	ctx := context.Background()
	creds := s.signUp("rotator@example.com")

	fresh, err := s.client.Refresh(ctx, creds.AccessToken)
	s.Require().NoError(err)
	s.NotEqual(creds.AccessToken, fresh.AccessToken)
	s.Equal(creds.User.ID, fresh.User.ID)
	s.False(fresh.ExpiresAt.IsZero())

	_, err = s.client.CurrentUser(ctx, fresh.AccessToken)
	s.Require().NoError(err)
	_, err = s.client.CurrentUser(ctx, creds.AccessToken)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized), "the old token is revoked")

	_, err = s.client.Refresh(ctx, creds.AccessToken)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	_, err = s.client.CurrentUser(ctx, fresh.AccessToken)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized), "replaying a rotated token ends the session")
}

func (s *ClientSuite) TestSessionContextRenewsNearExpiry() {
	ctx := context.Background()
	creds := s.signUp("renew@example.com")
	store := session.NewMemoryTokenStore(session.Token{AccessToken: creds.AccessToken, ExpiresAt: time.Now().Add(10 * time.Second)})

	sc := session.New(s.client, store, logger.Discard())
	s.Require().NoError(sc.Restore(ctx))
	s.Require().True(sc.State().SignedIn())
	s.NotEqual(creds.AccessToken, sc.Token())

	saved, err := store.Load(ctx)
	s.Require().NoError(err)
	s.Equal(sc.Token(), saved.AccessToken)
	s.True(saved.ExpiresAt.After(time.Now().Add(10*time.Minute)))

	_, err = s.client.CurrentUser(ctx, creds.AccessToken)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
