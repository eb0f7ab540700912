package configdb

import (
	"errors"
	"fmt"

	"github.com/safehalls/safehalls/pkg/pwdhash"
	"gorm.io/gorm"
)

var ErrInvalidCredentials = errors.New("Invalid username or password")

func (c *ConfigDB) GetUserFromID(id int64) (*User, error) {
	user := User{}
	if err := c.DB.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (c *ConfigDB) GetUserByUsername(username string) (*User, error) {
	user := User{}
	err := c.DB.Where("username_normalized = ?", NormalizeUsername(username)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (c *ConfigDB) CreateUser(user *User, password string) error {
	if user.Username == "" {
		return fmt.Errorf("Username may not be empty")
	}
	for _, p := range user.Permissions {
		if !IsValidPermission(string(p)) {
			return fmt.Errorf("Invalid permission '%v'", string(p))
		}
	}
	user.UsernameNormalized = NormalizeUsername(user.Username)
	if password != "" {
		user.Password = pwdhash.HashPassword(password)
	}
	return c.DB.Create(user).Error
}

func (c *ConfigDB) SetPassword(userID int64, password string) error {
	return c.DB.Model(&User{}).Where("id = ?", userID).Update("password", pwdhash.HashPassword(password)).Error
}

// VerifyLogin checks a username/password pair, and returns the user on success.
func (c *ConfigDB) VerifyLogin(username, password string) (*User, error) {
	user, err := c.GetUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if user == nil || !pwdhash.VerifyHash(password, user.Password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (c *ConfigDB) NumAdminUsers() (int, error) {
	n := int64(0)
	if err := c.DB.Model(&User{}).Where("permissions LIKE ?", "%"+string(UserPermissionAdmin)+"%").Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}
