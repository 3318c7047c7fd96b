// Package cassandra stores persistent objects in Cassandra tables: objects holds the
// serialized records, oid_seq the per class identifier sequences and extents the
// identifiers of each class.
package cassandra

import (
	"context"
	"fmt"
	log "log/slog"
	"slices"
	"strings"

	"github.com/gocql/gocql"

	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/encoding"
)

// casAttempts bounds the compare-and-set loop of identifier allocation.
const casAttempts = 16

// Session stores objects in a Cassandra keyspace.
type Session struct {
	session     *gocql.Session
	config      Config
	compression encoding.Compression
}

// NewSession returns a session over the global connection.
func NewSession(compression encoding.Compression) (*Session, error) {
	conn := current()
	if conn == nil {
		return nil, fmt.Errorf("cassandra connection is closed; call OpenConnection(config) to open it")
	}
	return &Session{
		session:     conn.Session,
		config:      conn.Config,
		compression: compression,
	}, nil
}

func (s *Session) table(name string) string {
	return s.config.Keyspace + "." + name
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func oidArgs(oids []odb.OID) []any {
	args := make([]any, len(oids))
	for i, oid := range oids {
		args[i] = int64(oid)
	}
	return args
}

// AllocateIdentifierBlock advances the class sequence with a lightweight transaction.
func (s *Session) AllocateIdentifierBlock(ctx context.Context, cid odb.CID, count int) ([]odb.OID, error) {
	if count < 1 {
		return nil, fmt.Errorf("identifier block size must be positive, got %d", count)
	}
	ci := odb.ClassIndexOf(cid)
	for range casAttempts {
		var last int64
		err := s.session.Query(fmt.Sprintf("SELECT last FROM %s WHERE class_index = ?;", s.table("oid_seq")), int(ci)).
			WithContext(ctx).Consistency(gocql.Consistency(gocql.Serial)).Scan(&last)
		if err != nil && err != gocql.ErrNotFound {
			return nil, err
		}
		var applied bool
		next := last + int64(count)
		if uint64(next) > odb.MaxSequence {
			return nil, fmt.Errorf("class %d ran out of identifiers", cid)
		}
		if err == gocql.ErrNotFound {
			applied, err = s.session.Query(fmt.Sprintf("INSERT INTO %s (class_index, last) VALUES (?, ?) IF NOT EXISTS;", s.table("oid_seq")),
				int(ci), next).WithContext(ctx).MapScanCAS(map[string]any{})
		} else {
			applied, err = s.session.Query(fmt.Sprintf("UPDATE %s SET last = ? WHERE class_index = ? IF last = ?;", s.table("oid_seq")),
				next, int(ci), last).WithContext(ctx).MapScanCAS(map[string]any{})
		}
		if err != nil {
			return nil, err
		}
		if applied {
			return odb.OIDBlock(ci, uint64(next), count), nil
		}
		log.Debug("identifier sequence contended, retrying", "class", cid)
	}
	return nil, fmt.Errorf("identifier sequence of class %d is too contended", cid)
}

func (s *Session) LoadObjectBytes(ctx context.Context, oids []odb.OID) ([][]byte, error) {
	if len(oids) == 0 {
		return nil, nil
	}
	stmt := fmt.Sprintf("SELECT oid, data FROM %s WHERE oid in (%s);", s.table("objects"), placeholders(len(oids)))
	iter := s.session.Query(stmt, oidArgs(oids)...).WithContext(ctx).Iter()
	found := make(map[odb.OID][]byte, len(oids))
	var oid int64
	var ba []byte
	for iter.Scan(&oid, &ba) {
		found[odb.OID(oid)] = ba
		ba = nil
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	r := make([][]byte, len(oids))
	for i, id := range oids {
		payload, ok := found[id]
		if !ok {
			continue
		}
		var err error
		if r[i], err = encoding.Decompress(payload); err != nil {
			return nil, fmt.Errorf("object %s payload is corrupt, details: %w", id, err)
		}
	}
	return r, nil
}

// StoreObjectBytes writes the records and their extent entries in one logged batch.
func (s *Session) StoreObjectBytes(ctx context.Context, records []odb.ObjectRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	if s.config.WriteConsistency > gocql.Any {
		batch.SetConsistency(s.config.WriteConsistency)
	}
	insertObject := fmt.Sprintf("INSERT INTO %s (oid, cid, cname, data) VALUES (?, ?, ?, ?);", s.table("objects"))
	insertExtent := fmt.Sprintf("INSERT INTO %s (cid, oid) VALUES (?, ?);", s.table("extents"))
	for _, rec := range records {
		payload, err := encoding.Compress(rec.Data, s.compression)
		if err != nil {
			return err
		}
		batch.Query(insertObject, int64(rec.OID), int64(rec.CID), rec.ClassName, payload)
		if rec.IsNew {
			batch.Query(insertExtent, int64(rec.CID), int64(rec.OID))
		}
	}
	return s.session.ExecuteBatch(batch)
}

func (s *Session) ClassInfoFor(ctx context.Context, oids []odb.OID) ([]odb.ClassDescriptor, error) {
	if len(oids) == 0 {
		return nil, nil
	}
	stmt := fmt.Sprintf("SELECT oid, cid, cname FROM %s WHERE oid in (%s);", s.table("objects"), placeholders(len(oids)))
	iter := s.session.Query(stmt, oidArgs(oids)...).WithContext(ctx).Iter()
	found := make(map[odb.OID]odb.ClassDescriptor, len(oids))
	var oid, cid int64
	var name string
	for iter.Scan(&oid, &cid, &name) {
		found[odb.OID(oid)] = odb.ClassDescriptor{CID: odb.CID(cid), Name: name}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	r := make([]odb.ClassDescriptor, len(oids))
	for i, id := range oids {
		r[i] = found[id]
	}
	return r, nil
}

// RemoveFromExtent deletes the extent entry of the object. The object row stays.
func (s *Session) RemoveFromExtent(ctx context.Context, oid odb.OID) error {
	var cid int64
	err := s.session.Query(fmt.Sprintf("SELECT cid FROM %s WHERE oid = ?;", s.table("objects")), int64(oid)).
		WithContext(ctx).Scan(&cid)
	if err == gocql.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	return s.session.Query(fmt.Sprintf("DELETE FROM %s WHERE cid = ? AND oid = ?;", s.table("extents")), cid, int64(oid)).
		WithContext(ctx).Exec()
}

// Extent lists the class extent in ascending order.
func (s *Session) Extent(ctx context.Context, cid odb.CID) ([]odb.OID, error) {
	iter := s.session.Query(fmt.Sprintf("SELECT oid FROM %s WHERE cid = ?;", s.table("extents")), int64(cid)).
		WithContext(ctx).Iter()
	var r []odb.OID
	var oid int64
	for iter.Scan(&oid) {
		r = append(r, odb.OID(oid))
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	// Identifiers with the top bit set sort negative as bigint.
	slices.Sort(r)
	return r, nil
}
