package storage

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver for the schema bootstrap connection
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// DatabaseConfig describes the persistent store backing.
//
// To connect to PostgreSQL fill out all the fields. To use SQLite, specify
// the "sqlite" driver; without a Name it runs fully in memory, which is also
// the fallback when no database is configured at all.
type DatabaseConfig struct {
	URL      string `env:"BRIDGE_DATABASE_URL" env-default:""`
	Name     string `env:"BRIDGE_DATABASE_NAME" env-default:""`
	Schema   string `env:"BRIDGE_DATABASE_SCHEMA" env-default:""`
	Driver   string `env:"BRIDGE_DATABASE_DRIVER" env-default:"sqlite"`
	Username string `env:"BRIDGE_DATABASE_USERNAME" env-default:"postgres"`
	Password string `env:"BRIDGE_DATABASE_PASSWORD" env-default:""`
	Host     string `env:"BRIDGE_DATABASE_HOST" env-default:"localhost"`
	Port     string `env:"BRIDGE_DATABASE_PORT" env-default:"5432"`
	Retries  int    `env:"BRIDGE_DATABASE_RETRIES" env-default:"5"`
}

// ParseConnectionString parses a database URI and returns a DatabaseConfig.
// SQLite URIs use the "file:" prefix; everything else must be a postgres URL.
func ParseConnectionString(connStr string) (DatabaseConfig, error) {
	if strings.HasPrefix(connStr, "file:") {
		parts := strings.SplitN(connStr[5:], "?", 2)
		return DatabaseConfig{
			Name:    parts[0],
			Driver:  "sqlite",
			Retries: 1,
		}, nil
	}

	parsedURL, err := url.Parse(connStr)
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid connection string: %w", err)
	}
	if parsedURL.Scheme != "postgres" && parsedURL.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}

	username := ""
	password := ""
	if user := parsedURL.User; user != nil {
		username = user.Username()
		password, _ = user.Password()
	}

	port := parsedURL.Port()
	if port == "" {
		port = "5432"
	}

	dbSchema := ""
	retries := 5
	query := parsedURL.Query()
	if s := query.Get("search_path"); s != "" {
		dbSchema = s
	}
	if r := query.Get("retries"); r != "" {
		if retryVal, err := strconv.Atoi(r); err == nil {
			retries = retryVal
		}
	}

	return DatabaseConfig{
		Name:     strings.TrimPrefix(parsedURL.Path, "/"),
		Schema:   dbSchema,
		Driver:   "postgres",
		Username: username,
		Password: password,
		Host:     parsedURL.Hostname(),
		Port:     port,
		Retries:  retries,
	}, nil
}

// ConnectToDB opens the configured database and returns a GORM handle
// suitable for NewGormStore.
func ConnectToDB(cnf DatabaseConfig) (*gorm.DB, error) {
	switch cnf.Driver {
	case "postgres":
		return connectToPostgresql(cnf)
	case "sqlite", "":
		return connectToSqlite(cnf)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cnf.Driver)
	}
}

func connectToPostgresql(cnf DatabaseConfig) (*gorm.DB, error) {
	if err := ensurePostgresqlSchema(cnf); err != nil {
		return nil, fmt.Errorf("failed to ensure postgresql schema: %w", err)
	}

	dsn, err := postgresqlDbUrl(cnf)
	if err != nil {
		return nil, err
	}

	prefix := ""
	if cnf.Schema != "" {
		prefix = cnf.Schema + "."
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: prefix,
		}})
	if err != nil {
		return nil, err
	}

	return db, nil
}

func connectToSqlite(cnf DatabaseConfig) (*gorm.DB, error) {
	var dsn string
	if cnf.Name != "" {
		dsn = fmt.Sprintf("file:%s?cache=shared", cnf.Name)
	} else {
		dsn = "file::memory:?cache=shared"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	return db, nil
}

func postgresqlDbUrl(cnf DatabaseConfig) (string, error) {
	if cnf.Driver != "postgres" {
		return "", fmt.Errorf("unsupported driver: %s", cnf.Driver)
	}

	dsn := fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		cnf.Username, cnf.Password, cnf.Host, cnf.Port, cnf.Name,
	)
	if cnf.Schema != "" {
		dsn = fmt.Sprintf("%s search_path=%s", dsn, cnf.Schema)
	}
	return dsn, nil
}

// ensurePostgresqlSchema creates the configured schema if it does not exist
// yet. It connects without a search path, retrying while the database is
// still coming up.
func ensurePostgresqlSchema(cnf DatabaseConfig) error {
	if cnf.Schema == "" {
		return nil
	}

	dbConf := cnf
	dbConf.Schema = ""
	dsn, err := postgresqlDbUrl(dbConf)
	if err != nil {
		return err
	}

	var db *sqlx.DB
	retries := cnf.Retries
	if retries < 1 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		return fmt.Errorf("failed to connect for schema bootstrap: %w", err)
	}
	defer db.Close()

	if _, err = db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", cnf.Schema)); err != nil {
		return fmt.Errorf("error while creating schema: %w", err)
	}
	return nil
}
