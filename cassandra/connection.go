package cassandra

import (
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
)

// Config contains configuration for connecting to a Cassandra cluster and the object keyspace.
type Config struct {
	// ClusterHosts lists contact points for the Cassandra cluster.
	ClusterHosts []string `json:"cluster_hosts" toml:"cluster_hosts"`
	// Keyspace holds the objects, oid_seq and extents tables.
	Keyspace string `json:"keyspace" toml:"keyspace"`
	// Consistency is the default consistency level for queries.
	Consistency gocql.Consistency `json:"-" toml:"-"`
	// WriteConsistency overrides Consistency for the logged batch that stores objects.
	WriteConsistency gocql.Consistency `json:"-" toml:"-"`
	// ConnectionTimeout is the session connection timeout.
	ConnectionTimeout time.Duration `json:"connection_timeout" toml:"connection_timeout"`
	// Authenticator is used when the cluster requires authentication.
	Authenticator gocql.Authenticator `json:"-" toml:"-"`
	// ReplicationClause defines the keyspace replication (e.g., SimpleStrategy).
	ReplicationClause string `json:"replication_clause" toml:"replication_clause"`
}

func (c Config) withDefaults() Config {
	if c.Keyspace == "" {
		c.Keyspace = "odb"
	}
	if c.Consistency == gocql.Any {
		// Defaults to LocalQuorum consistency. You should set it to an appropriate level.
		c.Consistency = gocql.LocalQuorum
	}
	if c.ReplicationClause == "" {
		c.ReplicationClause = "{'class':'SimpleStrategy', 'replication_factor':1}"
	}
	return c
}

// schema returns the statements that create the keyspace and its tables.
func (c Config) schema() []string {
	return []string{
		fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s;", c.Keyspace, c.ReplicationClause),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.objects (oid bigint PRIMARY KEY, cid bigint, cname text, data blob);", c.Keyspace),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.oid_seq (class_index int PRIMARY KEY, last bigint);", c.Keyspace),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.extents (cid bigint, oid bigint, PRIMARY KEY(cid, oid));", c.Keyspace),
	}
}

// Connection wraps a Cassandra session and its configuration.
type Connection struct {
	Session *gocql.Session
	Config
}

var connection *Connection
var mux sync.Mutex

// IsConnectionInstantiated reports whether a global Connection has been created.
func IsConnectionInstantiated() bool {
	mux.Lock()
	defer mux.Unlock()
	return connection != nil
}

// OpenConnection returns the existing global Connection or opens a new one using the provided config.
// The keyspace and tables are created if missing.
func OpenConnection(config Config) (*Connection, error) {
	mux.Lock()
	defer mux.Unlock()
	if connection != nil {
		return connection, nil
	}
	config = config.withDefaults()
	cluster := gocql.NewCluster(config.ClusterHosts...)
	cluster.Consistency = config.Consistency
	if config.ConnectionTimeout > 0 {
		cluster.ConnectTimeout = config.ConnectionTimeout
	}
	if config.Authenticator != nil {
		cluster.Authenticator = config.Authenticator
		config.Authenticator = nil
	}
	s, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}
	for _, stmt := range config.schema() {
		if err := s.Query(stmt).Exec(); err != nil {
			s.Close()
			return nil, err
		}
	}
	connection = &Connection{
		Session: s,
		Config:  config,
	}
	return connection, nil
}

// CloseConnection closes and clears the global connection, if it exists.
func CloseConnection() {
	mux.Lock()
	defer mux.Unlock()
	if connection == nil {
		return
	}
	connection.Session.Close()
	connection = nil
}

// current returns the global connection, or nil when closed.
func current() *Connection {
	mux.Lock()
	defer mux.Unlock()
	return connection
}
