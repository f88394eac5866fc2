package mongo

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

const (
	schemeMongoDB = "mongodb"
	schemeSRV     = "mongodb+srv"
)

var (
	// ErrInvalidScheme is returned when URI scheme is not mongodb or mongodb+srv.
	ErrInvalidScheme = errors.New("invalid mongo uri scheme")
	// ErrEmptyHost is returned when URI host is empty.
	ErrEmptyHost = errors.New("mongo uri host cannot be empty")
	// ErrInvalidPort is returned when URI port is outside the valid TCP range.
	ErrInvalidPort = errors.New("mongo uri port is invalid")
	// ErrPortNotAllowedForSRV is returned when a port is provided for mongodb+srv.
	ErrPortNotAllowedForSRV = errors.New("port cannot be set for mongodb+srv")
	// ErrPasswordWithoutUser is returned when password is set without username.
	ErrPasswordWithoutUser = errors.New("password requires username")
)

// URIConfig holds the parts of a MongoDB connection URI.
// An empty Scheme means mongodb.
type URIConfig struct {
	Scheme   string
	Username string
	Password string
	Host     string
	Port     string
	Database string
	Query    url.Values
}

// Build validates the parts and returns the connection URI.
func (cfg URIConfig) Build() (string, error) {
	scheme := strings.TrimSpace(cfg.Scheme)
	if scheme == "" {
		scheme = schemeMongoDB
	}

	host := strings.TrimSpace(cfg.Host)
	port := strings.TrimSpace(cfg.Port)

	switch {
	case scheme != schemeMongoDB && scheme != schemeSRV:
		return "", ErrInvalidScheme
	case host == "":
		return "", ErrEmptyHost
	case cfg.Username == "" && cfg.Password != "":
		return "", ErrPasswordWithoutUser
	case scheme == schemeSRV && port != "":
		return "", ErrPortNotAllowedForSRV
	}

	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return "", ErrInvalidPort
		}

		host += ":" + port
	}

	uri := &url.URL{Scheme: scheme, Host: host, Path: "/"}

	if cfg.Username != "" {
		// Username without password renders as "user:@", which the driver accepts.
		uri.User = url.UserPassword(cfg.Username, cfg.Password)
	}

	if database := strings.TrimSpace(cfg.Database); database != "" {
		uri.Path = "/" + database
	}

	if len(cfg.Query) > 0 {
		uri.RawQuery = cfg.Query.Encode()
	}

	return uri.String(), nil
}
