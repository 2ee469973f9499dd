package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/taskforge/apiserver/internal/images"
	"github.com/taskforge/apiserver/internal/mq"
	"github.com/taskforge/apiserver/internal/store"
	"github.com/taskforge/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when a login attempt fails. It is the
// same error whether the email is unknown or the password is wrong.
var ErrInvalidCredentials = errors.New("unable to login")

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id int) error
}

// AvatarStore is the slice of object storage the user service needs.
type AvatarStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// SignupInput is the payload for creating an account.
type SignupInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Age      int    `json:"age"`
}

// AccountEvent is the payload published on account lifecycle changes.
// A mailer consumes these out of process to send welcome and cancellation
// messages.
type AccountEvent struct {
	Type   string `json:"type"`
	UserID int    `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// UserPatch carries profile updates. A nil field was not supplied and is
// left untouched; in particular the password is rehashed exactly when
// Password is non-nil, never on unrelated updates.
type UserPatch struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Age      *int    `json:"age"`
}

// UserService encapsulates account use-cases: signup, login, profile
// updates, avatars, and deletion.
type UserService struct {
	repo    UserRepository
	avatars AvatarStore
	events  *mq.Publisher
}

func NewUserService(repo UserRepository, avatars AvatarStore, events *mq.Publisher) *UserService {
	return &UserService{
		repo:    repo,
		avatars: avatars,
		events:  events,
	}
}

// Signup validates the input, hashes the password, and persists the account.
func (s *UserService) Signup(ctx context.Context, input SignupInput) (types.User, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = normalizeEmail(input.Email)
	input.Password = strings.TrimSpace(input.Password)

	if err := validateAccountFields(input.Name, input.Email, input.Password, input.Age); err != nil {
		return types.User{}, err
	}

	hash, err := hashPassword(input.Password)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.repo.Create(ctx, types.User{
		Name:         input.Name,
		Email:        input.Email,
		Age:          input.Age,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return types.User{}, validation.Errors{"email": errors.New("already in use")}
		}
		return types.User{}, err
	}

	s.publishEvent(ctx, "user.signup", user)
	return user, nil
}

// Authenticate resolves an email/password pair to the account it belongs to.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	user, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return types.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateProfile applies a patch to the user, re-validates the result, and
// persists it. The password is rehashed only when the patch carries one.
func (s *UserService) UpdateProfile(ctx context.Context, user types.User, patch UserPatch) (types.User, error) {
	if patch.Name != nil {
		user.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Email != nil {
		user.Email = normalizeEmail(*patch.Email)
	}
	if patch.Age != nil {
		user.Age = *patch.Age
	}

	password := ""
	if patch.Password != nil {
		password = strings.TrimSpace(*patch.Password)
	}

	if err := validateUpdatedAccount(user, patch.Password != nil, password); err != nil {
		return types.User{}, err
	}

	if patch.Password != nil {
		hash, err := hashPassword(password)
		if err != nil {
			return types.User{}, err
		}
		user.PasswordHash = hash
	}

	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return types.User{}, validation.Errors{"email": errors.New("already in use")}
		}
		return types.User{}, err
	}
	return updated, nil
}

// Delete removes the account. Owned tasks and session tokens go with it via
// the store's cascade; the avatar object is removed best-effort first.
func (s *UserService) Delete(ctx context.Context, user types.User) error {
	if user.AvatarKey != "" && s.avatars != nil {
		if err := s.avatars.Delete(ctx, user.AvatarKey); err != nil {
			log.Printf("delete avatar %s: %v", user.AvatarKey, err)
		}
	}
	if err := s.repo.Delete(ctx, user.ID); err != nil {
		return err
	}
	s.publishEvent(ctx, "user.deleted", user)
	return nil
}

// SetAvatar normalizes the uploaded image to a 250x250 PNG and stores it
// under a fresh object key, replacing any previous avatar.
func (s *UserService) SetAvatar(ctx context.Context, user types.User, data []byte) (types.User, error) {
	normalized, err := images.Normalize(data)
	if err != nil {
		return types.User{}, err
	}

	key := fmt.Sprintf("avatars/%s.png", uuid.NewString())
	if err := s.avatars.Put(ctx, key, bytes.NewReader(normalized), int64(len(normalized)), "image/png"); err != nil {
		return types.User{}, err
	}

	oldKey := user.AvatarKey
	user.AvatarKey = key
	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.User{}, err
	}

	if oldKey != "" {
		if err := s.avatars.Delete(ctx, oldKey); err != nil {
			log.Printf("delete avatar %s: %v", oldKey, err)
		}
	}
	return updated, nil
}

// ClearAvatar removes the user's avatar, if any.
func (s *UserService) ClearAvatar(ctx context.Context, user types.User) (types.User, error) {
	if user.AvatarKey == "" {
		return user, nil
	}

	oldKey := user.AvatarKey
	user.AvatarKey = ""
	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.User{}, err
	}

	if err := s.avatars.Delete(ctx, oldKey); err != nil {
		log.Printf("delete avatar %s: %v", oldKey, err)
	}
	return updated, nil
}

// Avatar returns the stored avatar PNG for any user. It reports
// store.ErrNotFound when the user does not exist or has no avatar.
func (s *UserService) Avatar(ctx context.Context, userID int) ([]byte, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.AvatarKey == "" || s.avatars == nil {
		return nil, store.ErrNotFound
	}

	reader, err := s.avatars.Get(ctx, user.AvatarKey)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// publishEvent emits an account lifecycle event. Delivery is best-effort;
// a broker failure never fails the request that triggered it.
func (s *UserService) publishEvent(ctx context.Context, eventType string, user types.User) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(AccountEvent{
		Type:   eventType,
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	})
	if err != nil {
		return
	}
	if _, err := s.events.Publish(ctx, payload, map[string]string{"type": eventType}); err != nil {
		log.Printf("publish %s event: %v", eventType, err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func validateAccountFields(name, email, password string, age int) error {
	return validation.Errors{
		"name":     validation.Validate(name, validation.Required),
		"email":    validation.Validate(email, validation.Required, is.Email),
		"password": validation.Validate(password, validation.Required, validation.Length(7, 0), validation.By(passwordNotLiteral)),
		"age":      validation.Validate(age, validation.Min(0)),
	}.Filter()
}

func validateUpdatedAccount(user types.User, passwordChanged bool, password string) error {
	errs := validation.Errors{
		"name":  validation.Validate(user.Name, validation.Required),
		"email": validation.Validate(user.Email, validation.Required, is.Email),
		"age":   validation.Validate(user.Age, validation.Min(0)),
	}
	if passwordChanged {
		errs["password"] = validation.Validate(password,
			validation.Required, validation.Length(7, 0), validation.By(passwordNotLiteral))
	}
	return errs.Filter()
}

// passwordNotLiteral rejects passwords containing the word "password",
// regardless of case.
func passwordNotLiteral(value interface{}) error {
	s, _ := value.(string)
	if strings.Contains(strings.ToLower(s), "password") {
		return errors.New(`cannot contain "password"`)
	}
	return nil
}
