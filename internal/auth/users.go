package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fidelis-church/fidelis-backend/internal/access"
	"github.com/fidelis-church/fidelis-backend/internal/utils"
)

var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUser        = errors.New("invalid user")
	ErrForbidden          = errors.New("forbidden")
)

// NewUser is the input for creating a staff account.
type NewUser struct {
	Username      string `json:"username" validate:"required,min=3,max=64"`
	Password      string `json:"password" validate:"required,min=8,max=72"`
	Role          string `json:"role" validate:"required"`
	City          string `json:"city" validate:"max=80"`
	AssignedMonth string `json:"assigned_month" validate:"omitempty,month"`
}

// Assignment is the part of a user that decides its data scope.
type Assignment struct {
	Role          string `json:"role" validate:"required"`
	City          string `json:"city" validate:"max=80"`
	AssignedMonth string `json:"assigned_month" validate:"omitempty,month"`
}

// Check enforces the per-role requirements: a role without the all-cities
// capability needs a city, one without all-months needs an assigned month.
func (a Assignment) Check() (access.Role, error) {
	role, err := access.ParseRole(a.Role)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	if !role.Can(access.CapAllCities) && strings.TrimSpace(a.City) == "" {
		return "", fmt.Errorf("%w: role %s requires a city", ErrInvalidUser, role)
	}
	if !role.Can(access.CapAllMonths) && a.AssignedMonth == "" {
		return "", fmt.Errorf("%w: role %s requires an assigned month", ErrInvalidUser, role)
	}
	return role, nil
}

func (n NewUser) assignment() Assignment {
	return Assignment{Role: n.Role, City: n.City, AssignedMonth: n.AssignedMonth}
}

// CanAssign reports whether actor may hand out role. Only a super admin can
// create another super admin.
func CanAssign(actor access.Principal, role access.Role) bool {
	if !actor.Can(access.CapManageUsers) {
		return false
	}
	return role != access.RoleSuperAdmin || actor.Role == access.RoleSuperAdmin
}

// CanReassign reports whether actor may move a user holding current to next.
// Super admin accounts can only be changed by another super admin.
func CanReassign(actor access.Principal, current, next access.Role) bool {
	if !CanAssign(actor, next) {
		return false
	}
	return current != access.RoleSuperAdmin || actor.Role == access.RoleSuperAdmin
}

// CreateUser validates n, hashes the password and inserts the user.
func CreateUser(ctx context.Context, d *gorm.DB, n NewUser) (User, error) {
	if fields := utils.ValidateStruct(n); fields != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidUser, fields)
	}
	role, err := n.assignment().Check()
	if err != nil {
		return User{}, err
	}

	var count int64
	if err := d.WithContext(ctx).Model(&User{}).Where("username = ?", n.Username).Count(&count).Error; err != nil {
		return User{}, fmt.Errorf("lookup username: %w", err)
	}
	if count > 0 {
		return User{}, ErrUsernameTaken
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(n.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	user := User{
		UserID:         uuid.NewString(),
		Username:       n.Username,
		HashedPassword: string(hashed),
		Role:           role.String(),
		City:           strings.TrimSpace(n.City),
		AssignedMonth:  n.AssignedMonth,
	}
	if err := d.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// CheckCredentials returns the user whose password matches.
func CheckCredentials(ctx context.Context, d *gorm.DB, username, password string) (User, error) {
	var user User
	if err := d.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// SetPassword replaces the stored hash and revokes the user's session.
func SetPassword(ctx context.Context, d *gorm.DB, userID, password string) error {
	if len(password) < 8 || len(password) > 72 {
		return fmt.Errorf("%w: password must be 8 to 72 characters", ErrInvalidUser)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return d.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&User{}).Where("user_id = ?", userID).Update("hashed_password", string(hashed))
		if res.Error != nil {
			return fmt.Errorf("update password: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return tx.Where("user_id = ?", userID).Delete(&Session{}).Error
	})
}

// ResetPassword sets a new password for username. Used by the admin CLI.
func ResetPassword(ctx context.Context, d *gorm.DB, username, password string) error {
	var user User
	if err := d.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	return SetPassword(ctx, d, user.UserID, password)
}

// Reassign changes a user's role, city and month on behalf of actor. The
// session is deleted so tokens minted with the old scope stop working.
func Reassign(ctx context.Context, d *gorm.DB, actor access.Principal, userID string, a Assignment) (User, error) {
	if fields := utils.ValidateStruct(a); fields != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidUser, fields)
	}
	role, err := a.Check()
	if err != nil {
		return User{}, err
	}

	var user User
	err = d.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "user_id = ?", userID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if !CanReassign(actor, access.Role(user.Role), role) {
			return fmt.Errorf("%w: %s cannot reassign a %s account", ErrForbidden, actor.Role, user.Role)
		}
		user.Role = role.String()
		user.City = strings.TrimSpace(a.City)
		user.AssignedMonth = a.AssignedMonth
		if err := tx.Model(&user).Select("role", "city", "assigned_month").Updates(&user).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&Session{}).Error
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ListUsers returns users ordered by username, optionally restricted to one city.
func ListUsers(ctx context.Context, d *gorm.DB, city string) ([]User, error) {
	q := d.WithContext(ctx).Order("username")
	if city != "" {
		q = q.Where("LOWER(city) = LOWER(?)", city)
	}
	users := []User{}
	if err := q.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}
