package app

import (
	"errors"
	"os"
	"strings"

	"github.com/creatorsuite/creditguard/internal/config"
	"github.com/creatorsuite/creditguard/internal/models"
	"github.com/creatorsuite/creditguard/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultAdminUsername is used when seeding the first operator account.
const DefaultAdminUsername = "admin"

// ErrWeakAdminPassword rejects seed passwords that are too short.
var ErrWeakAdminPassword = errors.New("admin password must be at least 12 characters")

// HasAdminInitialized reports whether any operator account exists.
func HasAdminInitialized(conn *gorm.DB) (bool, error) {
	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		return false, errCount
	}
	return count > 0, nil
}

// SeedAdminFromEnv creates the first operator account from ADMIN_PASSWORD.
// A missing variable is not an error; an existing admin is left untouched.
func SeedAdminFromEnv(conn *gorm.DB) error {
	password := strings.TrimSpace(os.Getenv(config.EnvAdminPassword))
	if password == "" {
		return nil
	}
	initialized, errInit := HasAdminInitialized(conn)
	if errInit != nil {
		return errInit
	}
	if initialized {
		return nil
	}
	if errCreate := CreateAdminWithConn(conn, DefaultAdminUsername, password); errCreate != nil {
		return errCreate
	}
	log.WithField("username", DefaultAdminUsername).Info("seeded initial admin account")
	return nil
}

// CreateAdminWithConn creates an operator account on an open connection.
func CreateAdminWithConn(conn *gorm.DB, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		username = DefaultAdminUsername
	}
	if len(password) < 12 {
		return ErrWeakAdminPassword
	}
	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		return errHash
	}
	return conn.Create(&models.Admin{Username: username, Password: hash}).Error
}
