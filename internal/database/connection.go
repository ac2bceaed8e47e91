/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package database owns the single Postgres connection pool the disk-backed
// receipt log and snapshot store share, plus the goose migration runner
// that brings a fresh database up to the schema both expect.
package database

import (
	"context"
	"embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config describes how to reach the kernel's Postgres instance.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns sane defaults for a local development database.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "knhk",
		Database:        "knhk_kernel",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// LoadFromEnv overlays KNHK_DB_* environment variables onto c, leaving any
// variable that is unset or fails to parse at its current value.
func (c *Config) LoadFromEnv() {
	overlayString(&c.Host, "KNHK_DB_HOST")
	overlayInt(&c.Port, "KNHK_DB_PORT")
	overlayString(&c.User, "KNHK_DB_USER")
	overlayString(&c.Password, "KNHK_DB_PASSWORD")
	overlayString(&c.Database, "KNHK_DB_NAME")
	overlayString(&c.SSLMode, "KNHK_DB_SSL_MODE")
}

func overlayString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overlayInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

// Validate checks that c describes a usable connection target.
func (c *Config) Validate() error {
	if c.Host == "" {
		return kherrors.New(kherrors.ErrorTypeValidation, "database host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return kherrors.New(kherrors.ErrorTypeValidation, "database port must be between 1 and 65535")
	}
	if c.User == "" {
		return kherrors.New(kherrors.ErrorTypeValidation, "database user is required")
	}
	if c.Database == "" {
		return kherrors.New(kherrors.ErrorTypeValidation, "database name is required")
	}
	if c.MaxOpenConns <= 0 {
		return kherrors.New(kherrors.ErrorTypeValidation, "max open connections must be greater than 0")
	}
	if c.MaxIdleConns < 0 {
		return kherrors.New(kherrors.ErrorTypeValidation, "max idle connections must be non-negative")
	}
	return nil
}

// ConnectionString renders c as a libpq key-value connection string,
// omitting the password parameter entirely when none is set.
func (c *Config) ConnectionString() string {
	s := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s", c.Host, c.Port, c.User, c.Database, c.SSLMode)
	if c.Password != "" {
		s += " password=" + c.Password
	}
	return s
}

// Connect validates cfg, opens a pgx-backed sqlx pool, and applies the
// configured pool limits. It does not run migrations; call Migrate
// separately once the pool is open.
func Connect(cfg *Config, log logr.Logger) (*sqlx.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, kherrors.Wrap(err, kherrors.ErrorTypeValidation, "invalid database configuration")
	}

	db, err := sqlx.Connect("pgx", cfg.ConnectionString())
	if err != nil {
		return nil, kherrors.Wrap(err, kherrors.ErrorTypeFatal, "database: connect failed")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	log.Info("database: connected", "host", cfg.Host, "database", cfg.Database)
	return db, nil
}

// Migrate applies every pending embedded goose migration to db.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return kherrors.Wrap(err, kherrors.ErrorTypeFatal, "database: setting goose dialect failed")
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		return kherrors.Wrap(err, kherrors.ErrorTypeFatal, "database: migration failed")
	}
	return nil
}
