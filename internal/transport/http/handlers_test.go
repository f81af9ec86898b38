package httptransport

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	authmodels "paybook/internal/auth/models"
	authservice "paybook/internal/auth/service"
	bankmodels "paybook/internal/banking/models"
	"paybook/internal/platform/logger"
	"paybook/internal/platform/metrics"
	"paybook/internal/transport/http/mocks"
	id "paybook/pkg/domain"
	dErrors "paybook/pkg/domain-errors"
	"paybook/pkg/testutil"
)

const validToken = "valid-token"

type HandlerSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	auth      *mocks.MockAuthService
	banking   *mocks.MockBankingService
	router    http.Handler
	principal *authmodels.Principal
	healthErr error
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.auth = mocks.NewMockAuthService(s.ctrl)
	s.banking = mocks.NewMockBankingService(s.ctrl)
	s.principal = &authmodels.Principal{
		UserID:    id.NewUserID(),
		SessionID: id.NewSessionID(),
		Email:     "jane@example.com",
		JTI:       "jti-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	s.healthErr = nil
	reg := prometheus.NewRegistry()
	s.router = NewRouter(RouterConfig{
		Auth:     s.auth,
		Banking:  s.banking,
		Logger:   logger.Discard(),
		Metrics:  metrics.New(reg),
		Gatherer: reg,
		HealthChecks: []HealthCheck{{
			Name:  "store",
			Check: func(context.Context) error { return s.healthErr },
		}},
	})
}

func (s *HandlerSuite) expectAuthenticated() {
	s.auth.EXPECT().Authenticate(gomock.Any(), validToken).Return(s.principal, nil)
}

func (s *HandlerSuite) authResult() *authmodels.AuthResult {
	now := time.Now()
	return &authmodels.AuthResult{
		AccessToken: "new-token",
		ExpiresAt:   now.Add(15 * time.Minute),
		User:        &authmodels.User{ID: s.principal.UserID, Email: s.principal.Email, PasswordHash: []byte("$2a$secret")},
		Session: &authmodels.Session{
			ID:                s.principal.SessionID,
			Status:            authmodels.SessionStatusActive,
			DeviceDisplayName: "Chrome on macOS",
			CreatedAt:         now,
			LastSeenAt:        now,
			ExpiresAt:         now.Add(time.Hour),
		},
	}
}

func (s *HandlerSuite) TestSignUp() {
	s.Run("creates the identity and returns a token", func() {
		phone := "+919800000000"
		req := authservice.SignUpRequest{Email: "jane@example.com", Password: "hunter22", FullName: "Jane Doe", Phone: &phone}
		s.auth.EXPECT().SignUp(gomock.Any(), req).Return(s.authResult(), nil)

		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/signup", req))

		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		got := testutil.UnmarshalResponse[AuthResponse](s.T(), rr)
		s.Equal("new-token", got.AccessToken)
		s.Equal("Bearer", got.TokenType)
		s.Equal(s.principal.UserID.String(), got.User.ID)
		s.Require().NotNil(got.Session)
		s.Equal("Chrome on macOS", got.Session.Device)
		s.NotContains(rr.Body.String(), "secret")
	})

	s.Run("rejects malformed bodies before calling the service", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/signup", nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})

	s.Run("rejects unknown fields", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/signup", map[string]string{
			"email": "jane@example.com", "password": "hunter22", "role": "admin",
		}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})

	s.Run("duplicate email is a conflict", func() {
		s.auth.EXPECT().SignUp(gomock.Any(), gomock.Any()).Return(nil, dErrors.New(dErrors.CodeConflict, "email already registered"))
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/signup", map[string]string{
			"email": "jane@example.com", "password": "hunter22",
		}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, string(dErrors.CodeConflict))
	})
}

func (s *HandlerSuite) TestSignIn() {
	s.Run("returns a token", func() {
		s.auth.EXPECT().SignIn(gomock.Any(), "jane@example.com", "hunter22").Return(s.authResult(), nil)
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/signin", signInRequest{
			Email: "jane@example.com", Password: "hunter22",
		}))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.Equal("new-token", testutil.UnmarshalResponse[AuthResponse](s.T(), rr).AccessToken)
	})

	s.Run("bad credentials are unauthorized", func() {
		s.auth.EXPECT().SignIn(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, dErrors.New(dErrors.CodeUnauthorized, "invalid email or password"))
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/signin", signInRequest{
			Email: "jane@example.com", Password: "wrong",
		}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
	})

	s.Run("non-JSON bodies are refused", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/signin", signInRequest{Email: "a@b.co"})
		req.Header.Set("Content-Type", "text/plain")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusUnsupportedMediaType)
	})
}

func (s *HandlerSuite) TestAuthenticatedRoutes() {
	s.Run("missing token never reaches the service", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/me", nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
	})

	s.Run("revoked token is unauthorized", func() {
		s.auth.EXPECT().Authenticate(gomock.Any(), "stale").Return(nil, dErrors.New(dErrors.CodeUnauthorized, "token has been revoked"))
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodGet, "/me", "stale", nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
	})

	s.Run("sign out", func() {
		s.expectAuthenticated()
		s.auth.EXPECT().SignOut(gomock.Any(), s.principal).Return(nil)
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodPost, "/auth/signout", validToken, nil))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
	})

	s.Run("refresh", func() {
		s.auth.EXPECT().RefreshToken(gomock.Any(), validToken).Return(s.authResult(), nil)
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodPost, "/auth/refresh", validToken, nil))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
	})

	s.Run("refresh does not authenticate first so expired tokens get through", func() {
		s.auth.EXPECT().RefreshToken(gomock.Any(), "expired").Return(s.authResult(), nil)
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodPost, "/auth/refresh", "expired", nil))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
	})

	s.Run("refresh without a token", func() {
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodPost, "/auth/refresh", "", nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
	})

	s.Run("refresh of an ended session", func() {
		s.auth.EXPECT().RefreshToken(gomock.Any(), validToken).Return(nil, dErrors.New(dErrors.CodeUnauthorized, "session is no longer active"))
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodPost, "/auth/refresh", validToken, nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
	})

	s.Run("current session", func() {
		s.expectAuthenticated()
		s.auth.EXPECT().CurrentSession(gomock.Any(), s.principal).Return(s.authResult().Session, nil)
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodGet, "/auth/session", validToken, nil))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.Contains(rr.Body.String(), `"email":"jane@example.com"`)
		s.Contains(rr.Body.String(), `"status":"active"`)
	})
}

func (s *HandlerSuite) TestReadViews() {
	s.Run("profile", func() {
		s.expectAuthenticated()
		s.banking.EXPECT().Profile(gomock.Any(), s.principal.UserID).Return(&bankmodels.Account{
			ID: s.principal.UserID, FullName: "Jane Doe", AccountNumber: "GB12345678", Balance: decimal.NewFromInt(50000),
		}, nil)
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodGet, "/me", validToken, nil))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		got := testutil.UnmarshalResponse[bankmodels.Account](s.T(), rr)
		s.Equal("Jane Doe", got.FullName)
		s.True(decimal.NewFromInt(50000).Equal(got.Balance))
	})

	s.Run("missing profile is not found", func() {
		s.expectAuthenticated()
		s.banking.EXPECT().Profile(gomock.Any(), s.principal.UserID).Return(nil, dErrors.New(dErrors.CodeNotFound, "account not found"))
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodGet, "/me", validToken, nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})

	s.Run("balance", func() {
		s.expectAuthenticated()
		s.banking.EXPECT().Balance(gomock.Any(), s.principal.UserID).Return(decimal.RequireFromString("49899.50"), nil)
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodGet, "/me/balance", validToken, nil))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.Equal("49899.5", testutil.UnmarshalResponse[BalanceResponse](s.T(), rr).Balance.String())
	})

	s.Run("empty lists render as arrays", func() {
		s.expectAuthenticated()
		s.banking.EXPECT().History(gomock.Any(), s.principal.UserID).Return(nil)
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodGet, "/transactions", validToken, nil))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.JSONEq(`{"transactions":[]}`, rr.Body.String())
	})

	s.Run("recent contacts", func() {
		s.expectAuthenticated()
		s.banking.EXPECT().RecentContacts(gomock.Any(), s.principal.UserID).Return([]*bankmodels.Contact{
			{ID: id.NewContactID(), Name: "Taarak Mehta", AccountNumber: "GB10234568"},
		})
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodGet, "/contacts/recent", validToken, nil))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		got := testutil.UnmarshalResponse[ContactsResponse](s.T(), rr)
		s.Require().Len(got.Contacts, 1)
		s.Equal("Taarak Mehta", got.Contacts[0].Name)
	})
}

func (s *HandlerSuite) TestTransfer() {
	contactID := id.NewContactID()
	txn := &bankmodels.Transaction{
		ID:        id.NewTransactionID(),
		AccountID: s.principal.UserID,
		Type:      bankmodels.DirectionDebit,
		Amount:    decimal.NewFromInt(100),
		Status:    bankmodels.TransactionStatusCompleted,
	}

	s.Run("new transfer is created", func() {
		s.expectAuthenticated()
		s.banking.EXPECT().Transfer(gomock.Any(), bankmodels.TransferRequest{
			AccountID:      s.principal.UserID,
			ContactID:      contactID,
			Amount:         "100",
			Description:    "Lunch",
			IdempotencyKey: "key-1",
		}).Return(&bankmodels.TransferResult{Transaction: txn, Balance: decimal.NewFromInt(49900)}, nil)

		req := testutil.NewBearerRequest(s.T(), http.MethodPost, "/transfers", validToken, map[string]any{
			"contact_id": contactID.String(), "amount": 100, "description": "Lunch",
		})
		req.Header.Set(IdempotencyKeyHeader, "key-1")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		got := testutil.UnmarshalResponse[bankmodels.TransferResult](s.T(), rr)
		s.False(got.Replayed)
		s.True(decimal.NewFromInt(49900).Equal(got.Balance))
	})

	s.Run("replayed key answers 200", func() {
		s.expectAuthenticated()
		s.banking.EXPECT().Transfer(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req bankmodels.TransferRequest) (*bankmodels.TransferResult, error) {
				s.Equal("100.50", req.Amount)
				return &bankmodels.TransferResult{Transaction: txn, Balance: decimal.NewFromInt(49900), Replayed: true}, nil
			})
		req := testutil.NewBearerRequest(s.T(), http.MethodPost, "/transfers", validToken, map[string]any{
			"contact_id": contactID.String(), "amount": "100.50",
		})
		req.Header.Set(IdempotencyKeyHeader, "key-1")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.True(testutil.UnmarshalResponse[bankmodels.TransferResult](s.T(), rr).Replayed)
	})

	s.Run("malformed contact id", func() {
		s.expectAuthenticated()
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodPost, "/transfers", validToken, map[string]any{
			"contact_id": "not-a-uuid", "amount": 10,
		}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
	})

	s.Run("non-numeric amount reaches transfer validation", func() {
		s.expectAuthenticated()
		s.banking.EXPECT().Transfer(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req bankmodels.TransferRequest) (*bankmodels.TransferResult, error) {
				s.Equal(contactID, req.ContactID)
				s.Equal("abc", req.Amount)
				return nil, dErrors.New(dErrors.CodeValidation, "invalid amount")
			})
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodPost, "/transfers", validToken, map[string]any{
			"contact_id": contactID.String(), "amount": "abc",
		}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, string(dErrors.CodeValidation))
		s.Contains(rr.Body.String(), "invalid amount")
	})

	s.Run("missing recipient is reported before the amount", func() {
		s.expectAuthenticated()
		s.banking.EXPECT().Transfer(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req bankmodels.TransferRequest) (*bankmodels.TransferResult, error) {
				s.True(req.ContactID.IsNil())
				s.Equal("abc", req.Amount)
				return nil, dErrors.New(dErrors.CodeValidation, "no recipient")
			})
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodPost, "/transfers", validToken, map[string]any{
			"contact_id": "", "amount": "abc",
		}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, string(dErrors.CodeValidation))
		s.Contains(rr.Body.String(), "no recipient")
	})

	s.Run("insufficient balance is a validation error", func() {
		s.expectAuthenticated()
		s.banking.EXPECT().Transfer(gomock.Any(), gomock.Any()).Return(nil, dErrors.New(dErrors.CodeValidation, "insufficient balance"))
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodPost, "/transfers", validToken, map[string]any{
			"contact_id": contactID.String(), "amount": 1000000,
		}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, string(dErrors.CodeValidation))
		s.Contains(rr.Body.String(), "insufficient balance")
	})

	s.Run("backend failure hides the cause", func() {
		s.expectAuthenticated()
		s.banking.EXPECT().Transfer(gomock.Any(), gomock.Any()).Return(nil, dErrors.Wrap(errors.New("pq: connection reset"), dErrors.CodeInternal, "transfer failed"))
		rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodPost, "/transfers", validToken, map[string]any{
			"contact_id": contactID.String(), "amount": 5,
		}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, string(dErrors.CodeInternal))
		s.NotContains(rr.Body.String(), "pq:")
	})
}

func (s *HandlerSuite) TestSessionEvents() {
	s.expectAuthenticated()
	events := make(chan authmodels.SessionEvent, 3)
	otherSession := id.NewSessionID()
	events <- authmodels.SessionEvent{Type: authmodels.EventSignedIn, UserID: s.principal.UserID, SessionID: otherSession, At: time.Now()}
	events <- authmodels.SessionEvent{Type: authmodels.EventSignedOut, UserID: s.principal.UserID, SessionID: otherSession, At: time.Now()}
	events <- authmodels.SessionEvent{Type: authmodels.EventSignedOut, UserID: s.principal.UserID, SessionID: s.principal.SessionID, At: time.Now()}
	cancelled := false
	s.auth.EXPECT().Subscribe(gomock.Any(), s.principal.UserID).Return((<-chan authmodels.SessionEvent)(events), func() { cancelled = true }, nil)

	rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodGet, "/auth/session/events", validToken, nil))

	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	s.Equal("text/event-stream", rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	s.Equal(1, strings.Count(body, "event: signed_in\n"))
	s.Equal(2, strings.Count(body, "event: signed_out\n"), "stream ends after the caller's own sign-out")
	s.Contains(body, `"session_id":"`+s.principal.SessionID.String()+`"`)
	s.True(cancelled)
}

func (s *HandlerSuite) TestSessionEventsUnavailable() {
	s.expectAuthenticated()
	s.auth.EXPECT().Subscribe(gomock.Any(), s.principal.UserID).Return(nil, nil, dErrors.New(dErrors.CodeUnavailable, "session events are not enabled"))
	rr := testutil.DoRequest(s.router, testutil.NewBearerRequest(s.T(), http.MethodGet, "/auth/session/events", validToken, nil))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, string(dErrors.CodeUnavailable))
}

func (s *HandlerSuite) TestOperationalEndpoints() {
	s.Run("healthz reports dependencies", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/healthz", nil))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.JSONEq(`{"status":"ok","dependencies":{"store":"ok"}}`, rr.Body.String())
	})

	s.Run("healthz fails when a dependency is down", func() {
		s.healthErr = errors.New("connection refused")
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/healthz", nil))
		testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
		s.healthErr = nil
	})

	s.Run("metrics exposes request latency", func() {
		testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/healthz", nil))
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/metrics", nil))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		s.Contains(rr.Body.String(), `paybook_http_request_duration_seconds_count{method="GET",route="/healthz",status="200"}`)
	})
}
