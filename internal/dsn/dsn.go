// Package dsn parses database connection URIs into structured connection
// parameters for a declared backend kind.
package dsn

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidConnectionString is returned for malformed URIs, scheme/backend
// mismatches, and URIs missing a required component.
var ErrInvalidConnectionString = errors.New("invalid connection string")

// Kind identifies a database backend.
type Kind string

const (
	Postgres Kind = "postgres"
	MySQL    Kind = "mysql"
	SQLite   Kind = "sqlite"
)

// DefaultPort returns the port used when a URI does not specify one.
func (k Kind) DefaultPort() int {
	switch k {
	case Postgres:
		return 5432
	case MySQL:
		return 3306
	default:
		return 0
	}
}

// DisplayName returns the human-facing backend name.
func (k Kind) DisplayName() string {
	switch k {
	case Postgres:
		return "PostgreSQL"
	case MySQL:
		return "MySQL"
	case SQLite:
		return "SQLite"
	default:
		return string(k)
	}
}

// schemes lists the URI schemes accepted for each kind.
var schemes = map[Kind][]string{
	Postgres: {"postgresql", "postgres"},
	MySQL:    {"mysql"},
	SQLite:   {"sqlite"},
}

// ParseKind maps a user-supplied backend name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgresql", "postgres":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("%w: unsupported database type %q (supported: postgresql, mysql, sqlite)",
			ErrInvalidConnectionString, name)
	}
}

// Params holds everything needed to open a connection. It carries the
// password, so callers hand it straight to the executor and drop it.
type Params struct {
	Kind     Kind
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// Options are the URI query parameters, passed through to the driver.
	Options map[string]string
}

// Parse validates uri against kind and extracts its connection parameters.
func Parse(kind Kind, uri string) (Params, error) {
	accepted, ok := schemes[kind]
	if !ok {
		return Params{}, fmt.Errorf("%w: unsupported database type %q", ErrInvalidConnectionString, kind)
	}

	uri = strings.TrimSpace(uri)
	scheme, _, found := strings.Cut(uri, "://")
	if !found {
		return Params{}, fmt.Errorf("%w: missing scheme", ErrInvalidConnectionString)
	}
	if !hasScheme(accepted, strings.ToLower(scheme)) {
		return Params{}, fmt.Errorf("%w: scheme %q does not match database type %s (expected %s://)",
			ErrInvalidConnectionString, scheme, kind, accepted[0])
	}

	if kind == SQLite {
		return parseSQLite(uri)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrInvalidConnectionString, err)
	}

	p := Params{
		Kind:     kind,
		Host:     u.Hostname(),
		Port:     kind.DefaultPort(),
		Database: strings.TrimPrefix(u.Path, "/"),
		Options:  options(u.Query()),
	}
	if p.Host == "" {
		p.Host = "localhost"
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return Params{}, fmt.Errorf("%w: invalid port %q", ErrInvalidConnectionString, port)
		}
		p.Port = n
	}
	if u.User != nil {
		p.User = u.User.Username()
		p.Password, _ = u.User.Password()
	}

	if p.User == "" {
		return Params{}, fmt.Errorf("%w: username is required", ErrInvalidConnectionString)
	}
	if p.Database == "" {
		return Params{}, fmt.Errorf("%w: database name is required", ErrInvalidConnectionString)
	}
	if strings.Contains(p.Database, "/") {
		return Params{}, fmt.Errorf("%w: invalid database name %q", ErrInvalidConnectionString, p.Database)
	}

	return p, nil
}

// parseSQLite handles sqlite://<path> and sqlite://:memory:. The remainder
// after the scheme is a file path, which url.Parse would mangle.
func parseSQLite(uri string) (Params, error) {
	_, rest, _ := strings.Cut(uri, "://")
	path, rawQuery, _ := strings.Cut(rest, "?")
	if path == "" {
		return Params{}, fmt.Errorf("%w: database path is required", ErrInvalidConnectionString)
	}

	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrInvalidConnectionString, err)
	}

	return Params{
		Kind:     SQLite,
		Database: path,
		Options:  options(query),
	}, nil
}

func hasScheme(accepted []string, scheme string) bool {
	for _, s := range accepted {
		if s == scheme {
			return true
		}
	}
	return false
}

func options(v url.Values) map[string]string {
	if len(v) == 0 {
		return nil
	}
	out := make(map[string]string, len(v))
	for k := range v {
		out[k] = v.Get(k)
	}
	return out
}
