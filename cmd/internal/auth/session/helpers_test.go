package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"qck/cmd/security/token"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testKeys() Keys {
	k := DefaultKeys()
	k.Access.Secret = []byte("access-secret-for-tests-0123456789abcdef")
	k.Refresh.Secret = []byte("refresh-secret-for-tests-0123456789abcdef")
	return k
}

func testHasher(t *testing.T) token.Hasher {
	t.Helper()
	h, err := token.NewHasher([]byte("jti-hash-salt-for-tests-0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

type fakeDirectory struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

func newFakeDirectory(profiles ...Profile) *fakeDirectory {
	d := &fakeDirectory{profiles: make(map[string]Profile)}
	for _, p := range profiles {
		d.profiles[p.ID] = p
	}
	return d
}

func (d *fakeDirectory) Set(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
}

func (d *fakeDirectory) Delete(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.profiles, id)
}

func (d *fakeDirectory) FindProfile(_ context.Context, id string) (Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[id]
	if !ok {
		return Profile{}, errors.New("user not found")
	}
	return p, nil
}

var alice = Profile{
	ID:    "01HZX3Q6T0ALICE00000000000",
	Email: "alice@example.com",
	Tier:  "premium",
	Scope: []string{"premium", "basic", "links:1000"},
}

type engineFixture struct {
	svc    *Service
	ledger *MemoryLedger
	cache  *MemoryRevocationCache
	clock  *testClock
	users  *fakeDirectory
	hasher token.Hasher
}

func newEngine(t *testing.T, cfg Config, opts ...Option) engineFixture {
	t.Helper()

	f := engineFixture{
		ledger: NewMemoryLedger(),
		clock:  newTestClock(),
		users:  newFakeDirectory(alice),
		hasher: testHasher(t),
	}
	f.cache = NewMemoryRevocationCache(f.clock.Now)

	opts = append([]Option{
		WithClock(f.clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)

	svc, err := NewService(cfg, testKeys(), f.hasher, f.ledger, f.cache, f.users, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

func device(fp, ip string) DeviceContext {
	return DeviceContext{Fingerprint: fp, IP: net.ParseIP(ip), UserAgent: "qck-test/1.0"}
}

// rowFor returns the ledger row of a refresh credential.
func (f engineFixture) rowFor(t *testing.T, refreshToken string) Record {
	t.Helper()

	claims, err := f.svc.codec.DecodeRefresh(refreshToken, f.svc.keys.Refresh)
	if err != nil {
		// Expired credentials still have rows; parse without the clock.
		claims, err = NewCodec(func() time.Time { return time.Unix(0, 0) }).DecodeRefresh(refreshToken, f.svc.keys.Refresh)
		if err != nil {
			t.Fatalf("decode refresh: %v", err)
		}
	}
	rec, ok := f.ledger.Get(f.hasher.Hash(claims.ID))
	if !ok {
		t.Fatalf("no ledger row for jti %s", claims.ID)
	}
	return rec
}
