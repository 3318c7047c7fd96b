// Package redis implements a storage session on Redis. Each object is a hash holding its
// class and bytes, identifier sequences are counters and class extents are sets.
package redis

import (
	"crypto/tls"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Options configures the Redis connection.
type Options struct {
	// Redis server(cluster) address.
	Address string `json:"address" toml:"address"`
	// Password required when connecting to the Redis server.
	Password string `json:"password" toml:"password"`
	// DB to connect to.
	DB int `json:"db" toml:"db"`
	// TLS config.
	TLSConfig *tls.Config `json:"-" toml:"-"`
}

// Connection contains Redis client connection object and the Options used to connect.
type Connection struct {
	Client  *redis.Client
	Options Options
}

// DefaultOptions connects to a local server, default DB, no password.
func DefaultOptions() Options {
	return Options{
		Address: "localhost:6379",
	}
}

var connection *Connection
var mux sync.Mutex

// IsConnectionInstantiated reports whether the shared connection is open.
func IsConnectionInstantiated() bool {
	mux.Lock()
	defer mux.Unlock()
	return connection != nil
}

// OpenConnection creates the shared connection on first call and returns it on every call.
func OpenConnection(options Options) *Connection {
	mux.Lock()
	defer mux.Unlock()
	if connection == nil {
		connection = openConnection(options)
	}
	return connection
}

// CloseConnection closes the shared connection if open.
func CloseConnection() error {
	mux.Lock()
	defer mux.Unlock()
	if connection == nil {
		return nil
	}
	err := closeConnection(connection)
	connection = nil
	return err
}

func openConnection(options Options) *Connection {
	client := redis.NewClient(&redis.Options{
		TLSConfig: options.TLSConfig,
		Addr:      options.Address,
		Password:  options.Password,
		DB:        options.DB})

	return &Connection{
		Client:  client,
		Options: options,
	}
}

func closeConnection(c *Connection) error {
	if c == nil || c.Client == nil {
		return nil
	}
	err := c.Client.Close()
	c.Client = nil
	return err
}
