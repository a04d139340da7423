package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/transfa/corebank/internal/domain"
	"github.com/transfa/corebank/internal/logging"
	"github.com/transfa/corebank/internal/services/store"
)

// ErrInvalidCredentials is returned for an unknown username and for a wrong password alike.
var ErrInvalidCredentials = domain.NewError(domain.KindUnauthorized, "invalid username or password")

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// RegisterInput is a customer's registration form.
type RegisterInput struct {
	FullName   string `json:"full_name" validate:"required,min=3,max=100"`
	BirthDate  string `json:"birth_date" validate:"required,datetime=2006-01-02"`
	Address    string `json:"address" validate:"required,min=5"`
	NationalID string `json:"nik" validate:"required,len=16,numeric"`
	Phone      string `json:"phone_number" validate:"required,min=8"`
	Email      string `json:"email" validate:"required,email"`
	Username   string `json:"username" validate:"required,alphanum,min=5,max=20"`
	Password   string `json:"password" validate:"required,min=8"`
}

// LoginInput is a login form.
type LoginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Registration is what a successful registration returns.
type Registration struct {
	CustomerID      int64       `json:"customer_id"`
	Username        string      `json:"username"`
	AccountNumber   string      `json:"account_number"`
	CoreReferenceID string      `json:"core_reference_id"`
	OpenDate        domain.Date `json:"open_date"`
}

// Session is an issued bearer token and the account it unlocks.
type Session struct {
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expires_at"`
	CustomerID    int64     `json:"customer_id"`
	FullName      string    `json:"full_name"`
	AccountNumber string    `json:"account_number"`
	Status        string    `json:"status"`
}

// AuthService registers customers and issues their tokens.
type AuthService struct {
	store      store.Store
	tx         store.TxManager
	relay      RelayClient
	secret     []byte
	ttl        time.Duration
	bcryptCost int
	now        func() time.Time
}

func NewAuthService(s store.Store, tx store.TxManager, relay RelayClient, jwtSecret string, ttl time.Duration) *AuthService {
	return &AuthService{
		store:      s,
		tx:         tx,
		relay:      relay,
		secret:     []byte(jwtSecret),
		ttl:        ttl,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

// Register creates the customer, its login and its portfolio account, then opens the
// matching ledger account through the relay. Everything runs in one local transaction, so a
// ledger failure leaves no local rows behind.
func (a *AuthService) Register(ctx context.Context, in RegisterInput) (*Registration, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateInput(in); err != nil {
		return nil, err
	}
	birthDate, err := domain.ParseDate(in.BirthDate)
	if err != nil {
		return nil, domain.Wrap(domain.KindInvalidInput, "birth_date must be YYYY-MM-DD", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), a.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	customer := domain.Customer{
		FullName:   strings.TrimSpace(in.FullName),
		BirthDate:  birthDate,
		NationalID: in.NationalID,
		Address:    strings.TrimSpace(in.Address),
		Phone:      strings.TrimSpace(in.Phone),
		Email:      in.Email,
	}

	var reg Registration
	err = a.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		customerID, err := a.store.InsertCustomer(txCtx, customer)
		if err != nil {
			return err
		}
		if err := a.store.InsertLogin(txCtx, customerID, in.Username, string(hash)); err != nil {
			return err
		}

		accountNumber := AccountNumberFor(customerID)
		if err := a.store.InsertPortfolioAccount(txCtx, customerID, accountNumber, domain.DefaultCurrency); err != nil {
			return err
		}

		opened, err := a.relay.RegisterAccount(txCtx, domain.OpenAccountRequest{
			CustomerRef:    strconv.FormatInt(customerID, 10),
			AccountNumber:  accountNumber,
			Customer:       customer,
			OpeningBalance: decimal.Zero,
			CurrencyCode:   domain.DefaultCurrency,
			Status:         domain.AccountStatusActive,
		})
		if err != nil {
			return err
		}
		if err := a.store.SetCoreReference(txCtx, accountNumber, opened.CoreReferenceID, opened.OpenDate); err != nil {
			return err
		}

		reg = Registration{
			CustomerID:      customerID,
			Username:        in.Username,
			AccountNumber:   accountNumber,
			CoreReferenceID: opened.CoreReferenceID,
			OpenDate:        opened.OpenDate,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Info().Str("component", "auth").Int64("customer_id", reg.CustomerID).
		Str("account_number", reg.AccountNumber).Msg("customer registered")
	return &reg, nil
}

// Login checks the credentials and issues a signed token for the customer.
func (a *AuthService) Login(ctx context.Context, in LoginInput) (*Session, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	login, err := a.store.GetLoginByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, store.ErrLoginNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(login.PasswordHash), []byte(in.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	account, err := a.store.GetPortfolioAccount(ctx, login.CustomerID, "")
	if err != nil {
		return nil, err
	}

	now := a.now()
	expiresAt := now.Add(a.ttl)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(login.CustomerID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	if err := a.store.TouchLastLogin(ctx, login.ID); err != nil {
		logging.Ctx(ctx).Warn().Str("component", "auth").Err(err).Msg("failed to record last login")
	}

	return &Session{
		Token:         token,
		ExpiresAt:     expiresAt.UTC(),
		CustomerID:    login.CustomerID,
		FullName:      account.FullName,
		AccountNumber: account.AccountNumber,
		Status:        account.Status,
	}, nil
}

// ParseToken validates a bearer token and returns the customer id it was issued for.
func (a *AuthService) ParseToken(tokenString string) (int64, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	var claims jwt.RegisteredClaims
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return 0, domain.Wrap(domain.KindUnauthorized, "invalid or expired token", err)
	}
	customerID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || customerID <= 0 {
		return 0, domain.NewError(domain.KindUnauthorized, "invalid token subject")
	}
	return customerID, nil
}

// AccountNumberFor derives the eleven-digit account number of a customer: a leading 1,
// the customer id zero-padded to nine digits, and a trailing 1.
func AccountNumberFor(customerID int64) string {
	padded := strconv.FormatInt(1_000_000_000+customerID, 10)
	return "1" + padded[len(padded)-9:] + "1"
}

func validateInput(in interface{}) error {
	err := getValidator().Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.Wrap(domain.KindInvalidInput, "invalid request", err)
	}
	fe := fieldErrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = fe.Field() + " is required"
	case "min":
		msg = fe.Field() + " must be at least " + fe.Param() + " characters"
	case "max":
		msg = fe.Field() + " must be at most " + fe.Param() + " characters"
	case "len":
		msg = fe.Field() + " must be exactly " + fe.Param() + " characters"
	case "numeric":
		msg = fe.Field() + " must contain only digits"
	case "alphanum":
		msg = fe.Field() + " must contain only letters and digits"
	case "email":
		msg = fe.Field() + " must be a valid email address"
	case "datetime":
		msg = fe.Field() + " must be a date in YYYY-MM-DD format"
	default:
		msg = fe.Field() + " is invalid"
	}
	return domain.Wrap(domain.KindInvalidInput, msg, err)
}
