package httptransport

import (
	"context"

	"github.com/shopspring/decimal"

	authmodels "paybook/internal/auth/models"
	authservice "paybook/internal/auth/service"
	bankmodels "paybook/internal/banking/models"
	id "paybook/pkg/domain"
)

//go:generate mockgen -source=services.go -destination=mocks/mocks.go -package=mocks

// AuthService is the identity half of the API. Authenticate also backs the
// RequireAuth middleware.
type AuthService interface {
	Authenticate(ctx context.Context, token string) (*authmodels.Principal, error)
	SignUp(ctx context.Context, req authservice.SignUpRequest) (*authmodels.AuthResult, error)
	SignIn(ctx context.Context, email, password string) (*authmodels.AuthResult, error)
	SignOut(ctx context.Context, p *authmodels.Principal) error
	RefreshToken(ctx context.Context, token string) (*authmodels.AuthResult, error)
	CurrentSession(ctx context.Context, p *authmodels.Principal) (*authmodels.Session, error)
	Subscribe(ctx context.Context, userID id.UserID) (<-chan authmodels.SessionEvent, func(), error)
}

// BankingService serves the signed-in account. List views never fail; they
// degrade to empty results.
type BankingService interface {
	Profile(ctx context.Context, accountID id.UserID) (*bankmodels.Account, error)
	Balance(ctx context.Context, accountID id.UserID) (decimal.Decimal, error)
	Overview(ctx context.Context, accountID id.UserID) (*bankmodels.Overview, error)
	Contacts(ctx context.Context, accountID id.UserID) []*bankmodels.Contact
	RecentContacts(ctx context.Context, accountID id.UserID) []*bankmodels.Contact
	History(ctx context.Context, accountID id.UserID) []*bankmodels.Transaction
	Transfer(ctx context.Context, req bankmodels.TransferRequest) (*bankmodels.TransferResult, error)
}
