package common

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sharedcode/odb"
	"github.com/sharedcode/odb/inmemory"
	"github.com/sharedcode/odb/persistent"
)

const personCID odb.CID = 10

type person struct {
	persistent.State
	name   string
	age    int
	friend *person
}

func newPerson(name string, age int) *person {
	return &person{name: name, age: age}
}

func (p *person) ClassID() odb.CID { return personCID }

func (p *person) Name(ctx context.Context) (string, error) {
	if err := persistent.Read(ctx, p); err != nil {
		return "", err
	}
	return p.name, nil
}

func (p *person) SetName(ctx context.Context, name string) error {
	if err := persistent.Write(ctx, p); err != nil {
		return err
	}
	p.name = name
	return nil
}

func (p *person) Friend(ctx context.Context) (*person, error) {
	if err := persistent.Read(ctx, p); err != nil {
		return nil, err
	}
	return p.friend, nil
}

func (p *person) SetFriend(ctx context.Context, f *person) error {
	if err := persistent.Write(ctx, p); err != nil {
		return err
	}
	p.friend = f
	return nil
}

type personData struct {
	Name   string  `json:"name"`
	Age    int     `json:"age"`
	Friend odb.OID `json:"friend"`
}

func (p *person) MarshalPersistent(enc *persistent.Encoder) ([]byte, error) {
	friend, err := enc.Ref(p.friend)
	if err != nil {
		return nil, err
	}
	return json.Marshal(personData{Name: p.name, Age: p.age, Friend: friend})
}

func (p *person) UnmarshalPersistent(data []byte, dec *persistent.Decoder) error {
	var d personData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	friend, err := persistent.DerefAs[*person](dec, d.Friend)
	if err != nil {
		return err
	}
	p.name, p.age, p.friend = d.Name, d.Age, friend
	return nil
}

func (p *person) Hollow() {
	p.name, p.age, p.friend = "", 0, nil
}

// recordingSession remembers the identifiers of every store call and can be told to fail.
type recordingSession struct {
	*inmemory.Session
	stored    [][]odb.OID
	failStore error
	failLoad  error
}

func newRecordingSession() *recordingSession {
	return &recordingSession{Session: inmemory.NewSession()}
}

func (s *recordingSession) StoreObjectBytes(ctx context.Context, records []odb.ObjectRecord) error {
	if s.failStore != nil {
		return s.failStore
	}
	ids := make([]odb.OID, len(records))
	for i := range records {
		ids[i] = records[i].OID
	}
	s.stored = append(s.stored, ids)
	return s.Session.StoreObjectBytes(ctx, records)
}

func (s *recordingSession) LoadObjectBytes(ctx context.Context, oids []odb.OID) ([][]byte, error) {
	if s.failLoad != nil {
		return nil, s.failLoad
	}
	return s.Session.LoadObjectBytes(ctx, oids)
}

// storedOIDs flattens the identifiers of all store calls.
func (s *recordingSession) storedOIDs() []odb.OID {
	var r []odb.OID
	for _, ids := range s.stored {
		r = append(r, ids...)
	}
	return r
}

func newRegistry(t *testing.T) *persistent.Registry {
	t.Helper()
	r := persistent.NewRegistry()
	require.NoError(t, r.Register(personCID, "person", func() persistent.Object { return &person{} }))
	return r
}

func testOptions() odb.Options {
	opts := odb.DefaultOptions()
	opts.RetryCount = 0
	opts.RetryBaseDelay = time.Millisecond
	return opts
}

func newTestCoordinator(t *testing.T, session odb.StorageSession, modify func(*odb.Options)) *Coordinator {
	t.Helper()
	opts := testOptions()
	if modify != nil {
		modify(&opts)
	}
	c, err := NewCoordinator(session, newRegistry(t), opts)
	require.NoError(t, err)
	return c
}

// commitPeople stores the people in their own transaction and returns their identifiers.
func commitPeople(t *testing.T, c *Coordinator, people ...*person) []odb.OID {
	t.Helper()
	ctx, err := c.Begin(context.Background())
	require.NoError(t, err)
	r := make([]odb.OID, len(people))
	for i, p := range people {
		r[i], err = c.MakePersistent(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, c.Commit(ctx))
	return r
}
