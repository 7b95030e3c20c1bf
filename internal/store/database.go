package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("store.sqlite.empty_path")
	errUnsupportedNoScheme = errors.New("store.unsupported_no_scheme")
)

// DatabaseStore persists users and delivery addresses using GORM over a
// sqlite:// or postgres:// database_url.
type DatabaseStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (database *DatabaseStore) Driver() string {
	return database.driverLabel
}

// NewDatabaseStore opens the database and migrates the schema.
func NewDatabaseStore(ctx context.Context, databaseURL string) (*DatabaseStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, resolveErr := resolveDialector(databaseURL)
	if resolveErr != nil {
		return nil, resolveErr
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&User{}, &DeliveryAddress{}); migrateErr != nil {
		return nil, fmt.Errorf("store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStore{db: gormDB, driverLabel: driverLabel}, nil
}

// Upsert inserts the user or overwrites the profile fields of the existing row.
// ON CONFLICT makes concurrent upserts to one id last-write-wins.
func (database *DatabaseStore) Upsert(ctx context.Context, user User) error {
	if user.ID == "" {
		return fmt.Errorf("store.upsert.%s: id must be non-empty", database.driverLabel)
	}
	user.UpdatedAtUnix = time.Now().UTC().Unix()
	err := database.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&user).Error
	if err != nil {
		return fmt.Errorf("store.upsert.%s: %w", database.driverLabel, err)
	}
	return nil
}

// Get returns the record for id or ErrUserNotFound.
func (database *DatabaseStore) Get(ctx context.Context, id string) (User, error) {
	var user User
	err := database.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("store.get.%s: %w", database.driverLabel, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("store.get.%s: %w", database.driverLabel, err)
	}
	return user, nil
}

// Save inserts a delivery address row.
func (database *DatabaseStore) Save(ctx context.Context, address DeliveryAddress) error {
	address.CreatedAtUnix = time.Now().UTC().Unix()
	if err := database.db.WithContext(ctx).Create(&address).Error; err != nil {
		return fmt.Errorf("store.save_address.%s: %w", database.driverLabel, err)
	}
	return nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, parseErr := url.Parse(databaseURL)
	if parseErr != nil {
		return nil, "", fmt.Errorf("store.parse_url: %w", parseErr)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
