package redis

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/encoding"
)

const (
	fieldCID       = "cid"
	fieldClassName = "cname"
	fieldData      = "data"
)

// Session stores objects in Redis.
type Session struct {
	client      redis.Cmdable
	prefix      string
	compression encoding.Compression
}

// NewSession returns a session over client. Keys are namespaced with prefix so several
// databases can share a server.
func NewSession(client redis.Cmdable, prefix string, compression encoding.Compression) *Session {
	return &Session{
		client:      client,
		prefix:      prefix,
		compression: compression,
	}
}

// NewSessionFromConnection uses the shared connection, opening it if needed.
func NewSessionFromConnection(options Options, prefix string, compression encoding.Compression) *Session {
	return NewSession(OpenConnection(options).Client, prefix, compression)
}

func (s *Session) objectKey(oid odb.OID) string {
	return s.prefix + "obj:" + strconv.FormatUint(uint64(oid), 10)
}

func (s *Session) sequenceKey(classIndex uint16) string {
	return s.prefix + "seq:" + strconv.FormatUint(uint64(classIndex), 10)
}

func (s *Session) extentKey(cid odb.CID) string {
	return s.prefix + "ext:" + strconv.FormatUint(uint64(cid), 10)
}

// keyNotFound will detect whether error signifies key not found by Redis.
func keyNotFound(err error) bool {
	return err == redis.Nil
}

// AllocateIdentifierBlock reserves count sequence numbers with one INCRBY.
func (s *Session) AllocateIdentifierBlock(ctx context.Context, cid odb.CID, count int) ([]odb.OID, error) {
	if count < 1 {
		return nil, fmt.Errorf("identifier block size must be positive, got %d", count)
	}
	ci := odb.ClassIndexOf(cid)
	last, err := s.client.IncrBy(ctx, s.sequenceKey(ci), int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis incrby failed, details: %w", err)
	}
	if uint64(last) > odb.MaxSequence {
		return nil, fmt.Errorf("class %d ran out of identifiers", cid)
	}
	return odb.OIDBlock(ci, uint64(last), count), nil
}

func (s *Session) LoadObjectBytes(ctx context.Context, oids []odb.OID) ([][]byte, error) {
	cmds := make([]*redis.StringCmd, len(oids))
	if _, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, oid := range oids {
			cmds[i] = pipe.HGet(ctx, s.objectKey(oid), fieldData)
		}
		return nil
	}); err != nil && !keyNotFound(err) {
		return nil, fmt.Errorf("redis load of %d objects failed, details: %w", len(oids), err)
	}
	r := make([][]byte, len(oids))
	for i, cmd := range cmds {
		ba, err := cmd.Bytes()
		if keyNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if r[i], err = encoding.Decompress(ba); err != nil {
			return nil, fmt.Errorf("object %s payload is corrupt, details: %w", oids[i], err)
		}
	}
	return r, nil
}

// StoreObjectBytes writes all records in one MULTI/EXEC. New records join their class extent.
func (s *Session) StoreObjectBytes(ctx context.Context, records []odb.ObjectRecord) error {
	payloads := make([][]byte, len(records))
	for i := range records {
		var err error
		if payloads[i], err = encoding.Compress(records[i].Data, s.compression); err != nil {
			return err
		}
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, rec := range records {
			pipe.HSet(ctx, s.objectKey(rec.OID),
				fieldCID, strconv.FormatUint(uint64(rec.CID), 10),
				fieldClassName, rec.ClassName,
				fieldData, payloads[i])
			if !rec.IsNew {
				continue
			}
			pipe.SAdd(ctx, s.extentKey(rec.CID), strconv.FormatUint(uint64(rec.OID), 10))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store of %d objects failed, details: %w", len(records), err)
	}
	return nil
}

func (s *Session) ClassInfoFor(ctx context.Context, oids []odb.OID) ([]odb.ClassDescriptor, error) {
	cmds := make([]*redis.SliceCmd, len(oids))
	if _, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, oid := range oids {
			cmds[i] = pipe.HMGet(ctx, s.objectKey(oid), fieldCID, fieldClassName)
		}
		return nil
	}); err != nil && !keyNotFound(err) {
		return nil, fmt.Errorf("redis class info of %d objects failed, details: %w", len(oids), err)
	}
	r := make([]odb.ClassDescriptor, len(oids))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) != 2 {
			continue
		}
		cidStr, _ := vals[0].(string)
		if cidStr == "" {
			continue
		}
		cid, err := strconv.ParseUint(cidStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("object %s has bad class id %q", oids[i], cidStr)
		}
		name, _ := vals[1].(string)
		r[i] = odb.ClassDescriptor{CID: odb.CID(cid), Name: name}
	}
	return r, nil
}

// RemoveFromExtent drops the object from its class extent set. Its hash stays.
func (s *Session) RemoveFromExtent(ctx context.Context, oid odb.OID) error {
	cidStr, err := s.client.HGet(ctx, s.objectKey(oid), fieldCID).Result()
	if keyNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	cid, err := strconv.ParseUint(cidStr, 10, 32)
	if err != nil {
		return fmt.Errorf("object %s has bad class id %q", oid, cidStr)
	}
	return s.client.SRem(ctx, s.extentKey(odb.CID(cid)), strconv.FormatUint(uint64(oid), 10)).Err()
}

// Extent lists the class extent in ascending order.
func (s *Session) Extent(ctx context.Context, cid odb.CID) ([]odb.OID, error) {
	members, err := s.client.SMembers(ctx, s.extentKey(cid)).Result()
	if err != nil {
		return nil, err
	}
	r := make([]odb.OID, 0, len(members))
	for _, m := range members {
		v, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("extent of class %d has bad member %q", cid, m)
		}
		r = append(r, odb.OID(v))
	}
	slices.Sort(r)
	return r, nil
}
