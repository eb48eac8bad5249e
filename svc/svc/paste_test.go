package svc

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pasties/pkg/domain"
	"pasties/svc/auth"
	"pasties/svc/cache"
	"pasties/svc/db"
)

type memStore struct {
	mu        sync.Mutex
	pastes    map[string]domain.Paste
	retrieves int32
	fail      map[string]error
}

func newMemStore() *memStore {
	return &memStore{pastes: map[string]domain.Paste{}, fail: map[string]error{}}
}

func (m *memStore) failing(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fail[op]
}

func (m *memStore) Insert(_ context.Context, p *domain.Paste) error {
	if err := m.failing("insert"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pastes[p.URL]; ok {
		return db.ErrConflict
	}
	m.pastes[p.URL] = *p
	return nil
}

func (m *memStore) Retrieve(_ context.Context, url string) (*domain.Paste, error) {
	atomic.AddInt32(&m.retrieves, 1)
	if err := m.failing("retrieve"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pastes[url]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) Update(_ context.Context, url string, f domain.PasteFields) error {
	if err := m.failing("update"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pastes[url]
	if !ok {
		return nil
	}
	if f.URL != url {
		if _, taken := m.pastes[f.URL]; taken {
			return db.ErrConflict
		}
		delete(m.pastes, url)
	}
	p.URL, p.Content, p.PasswordHash, p.DateEdited = f.URL, f.Content, f.PasswordHash, f.DateEdited
	m.pastes[p.URL] = p
	return nil
}

func (m *memStore) Delete(_ context.Context, url string) error {
	if err := m.failing("delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pastes, url)
	return nil
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

func (m *memStore) get(url string) (domain.Paste, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pastes[url]
	return p, ok
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, opts ...Option) (*Paste, *memStore, *testClock) {
	t.Helper()
	h, err := auth.NewHasher(auth.AlgSHA256, nil)
	require.NoError(t, err)
	store := newMemStore()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewPaste(store, h, opts...), store, clock
}

var ctx = context.Background()

func TestCreateThenRetrieve(t *testing.T) {
	svc, _, _ := newTestService(t)
	created, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "hello", Password: "right"})
	require.NoError(t, err)
	assert.Equal(t, &domain.Created{URL: "abc", Password: "right"}, created)

	v, err := svc.Retrieve(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Content)
	assert.Equal(t, "abc", v.URL)
	assert.Equal(t, v.DatePublished, v.DateEdited)
	assert.Equal(t, int64(1_700_000_000), v.DatePublished)
}

func TestCreateGeneratesDefaults(t *testing.T) {
	svc, store, _ := newTestService(t)
	created, err := svc.Create(ctx, domain.NewPaste{Content: "hello"})
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{10}$`, created.URL)
	assert.Regexp(t, `^[0-9a-f]{10}$`, created.Password)
	assert.True(t, ValidURL(created.URL))

	rec, ok := store.get(created.URL)
	require.True(t, ok)
	assert.NotEqual(t, created.Password, rec.PasswordHash)
	assert.GreaterOrEqual(t, rec.ID, int64(0))

	v, err := svc.Retrieve(ctx, created.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Content)
}

func TestCreateStoresOnlyDigest(t *testing.T) {
	svc, store, _ := newTestService(t)
	_, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "x", Password: "plaintext"})
	require.NoError(t, err)
	rec, _ := store.get("abc")
	assert.Len(t, rec.PasswordHash, 64)
	assert.NotContains(t, rec.PasswordHash, "plaintext")
	ok, err := svc.hasher.Verify("plaintext", rec.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateExistingURL(t *testing.T) {
	svc, store, _ := newTestService(t)
	_, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "first", Password: "p"})
	require.NoError(t, err)
	before, _ := store.get("abc")

	_, err = svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "second", Password: "q"})
	assert.Equal(t, domain.ErrAlreadyExists, err)
	after, _ := store.get("abc")
	assert.Equal(t, before, after)
}

func TestCreateInsertConflictIsAlreadyExists(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.fail["insert"] = errors.Wrap(db.ErrConflict, "raced")
	_, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "x"})
	assert.Equal(t, domain.ErrAlreadyExists, err)
}

func TestCreateContentBounds(t *testing.T) {
	svc, _, _ := newTestService(t)
	tests := []struct {
		name    string
		content string
		err     error
	}{
		{"empty", "", domain.ErrInvalidContent},
		{"one byte", "x", nil},
		{"max", strings.Repeat("x", domain.MaxContentLength), nil},
		{"over max", strings.Repeat("x", domain.MaxContentLength+1), domain.ErrInvalidContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, domain.NewPaste{Content: tt.content})
			assert.Equal(t, tt.err, err)
		})
	}
}

func TestCreateInvalidURL(t *testing.T) {
	svc, store, _ := newTestService(t)
	for _, url := range []string{"abc def", "a/b", "ümlaut", "a.b", strings.Repeat("a", domain.MaxURLLength+1)} {
		_, err := svc.Create(ctx, domain.NewPaste{URL: url, Content: "x", Password: "p"})
		assert.Equal(t, domain.ErrInvalidURL, err, url)
	}
	_, err := svc.Create(ctx, domain.NewPaste{URL: strings.Repeat("a", domain.MaxURLLength), Content: "x"})
	assert.NoError(t, err)
	_, err = svc.Create(ctx, domain.NewPaste{URL: "A-z_09", Content: "x"})
	assert.NoError(t, err)
	assert.Len(t, store.pastes, 2)
}

func TestCreatePasswordTooLong(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "x", Password: strings.Repeat("p", domain.MaxPasswordLength+1)})
	assert.Equal(t, domain.ErrInvalidPassword, err)
	_, err = svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "x", Password: strings.Repeat("p", domain.MaxPasswordLength)})
	assert.NoError(t, err)
}

func TestCreateValidationOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Create(ctx, domain.NewPaste{URL: "bad url", Content: ""})
	assert.Equal(t, domain.ErrInvalidURL, err)
	_, err = svc.Create(ctx, domain.NewPaste{URL: "ok", Content: "", Password: strings.Repeat("p", 300)})
	assert.Equal(t, domain.ErrInvalidContent, err)
}

func TestCreateStorageFault(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.fail["insert"] = errors.New("disk full")
	_, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "x"})
	require.Error(t, err)
	assert.True(t, domain.IsStorage(err))
	assert.Equal(t, 500, domain.Status(err))

	store.fail = map[string]error{"retrieve": db.ErrRead}
	_, err = svc.Create(ctx, domain.NewPaste{Content: "x"})
	assert.True(t, domain.IsStorage(err))
}

func TestRetrieveNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Retrieve(ctx, "nope")
	assert.Equal(t, domain.ErrNotFound, err)
}

func TestRetrieveIdempotent(t *testing.T) {
	l, err := cache.NewLRU(10)
	require.NoError(t, err)
	svc, _, _ := newTestService(t, WithLRU(l))
	_, err = svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "hello"})
	require.NoError(t, err)
	a, err := svc.Retrieve(ctx, "abc")
	require.NoError(t, err)
	b, err := svc.Retrieve(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRetrieveUsesLRU(t *testing.T) {
	l, err := cache.NewLRU(10)
	require.NoError(t, err)
	svc, store, _ := newTestService(t, WithLRU(l))
	_, err = svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "hello"})
	require.NoError(t, err)
	before := atomic.LoadInt32(&store.retrieves)
	_, err = svc.Retrieve(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, before, atomic.LoadInt32(&store.retrieves))
}

func TestRetrieveStorageFault(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.fail["retrieve"] = errors.Wrap(db.ErrRead, "boom")
	_, err := svc.Retrieve(ctx, "abc")
	assert.True(t, domain.IsStorage(err))
	assert.True(t, errors.Is(err, db.ErrRead))
}

type memViews struct {
	mu    sync.Mutex
	views map[string]domain.PasteView
	fail  error
}

func (m *memViews) CacheView(_ context.Context, v *domain.PasteView, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[v.URL] = *v
	return m.fail
}

func (m *memViews) GetView(_ context.Context, url string) (*domain.PasteView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	v, ok := m.views[url]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *memViews) Delete(_ context.Context, urls ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range urls {
		delete(m.views, u)
	}
	return m.fail
}

func TestSharedViewCache(t *testing.T) {
	views := &memViews{views: map[string]domain.PasteView{}}
	svc, store, _ := newTestService(t, WithViewCache(views))
	_, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "hello", Password: "p"})
	require.NoError(t, err)

	_, err = svc.Retrieve(ctx, "abc")
	require.NoError(t, err)
	assert.Contains(t, views.views, "abc")

	before := atomic.LoadInt32(&store.retrieves)
	_, err = svc.Retrieve(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, before, atomic.LoadInt32(&store.retrieves))

	require.NoError(t, svc.Update(ctx, domain.Credentials{URL: "abc", Password: "p"}, domain.NewPaste{Content: "new"}))
	assert.NotContains(t, views.views, "abc")
	v, err := svc.Retrieve(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "new", v.Content)
}

func TestSharedViewCacheFailureFallsBack(t *testing.T) {
	views := &memViews{views: map[string]domain.PasteView{}, fail: errors.New("redis down")}
	svc, _, _ := newTestService(t, WithViewCache(views))
	_, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "hello", Password: "p"})
	require.NoError(t, err)
	v, err := svc.Retrieve(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Content)
	require.NoError(t, svc.Delete(ctx, domain.Credentials{URL: "abc", Password: "p"}))
}

func TestUpdateRoundTrip(t *testing.T) {
	svc, _, clock := newTestService(t)
	_, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "old", Password: "right"})
	require.NoError(t, err)
	orig, err := svc.Retrieve(ctx, "abc")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	err = svc.Update(ctx, domain.Credentials{URL: "abc", Password: "right"}, domain.NewPaste{Content: "new"})
	require.NoError(t, err)

	v, err := svc.Retrieve(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "new", v.Content)
	assert.Equal(t, orig.DatePublished, v.DatePublished)
	assert.Equal(t, orig.DatePublished+60, v.DateEdited)
}

func TestUpdateKeepsPassword(t *testing.T) {
	svc, store, _ := newTestService(t)
	_, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "old", Password: "right"})
	require.NoError(t, err)
	before, _ := store.get("abc")
	require.NoError(t, svc.Update(ctx, domain.Credentials{URL: "abc", Password: "right"}, domain.NewPaste{Content: "new"}))
	after, _ := store.get("abc")
	assert.Equal(t, before.PasswordHash, after.PasswordHash)
	assert.Equal(t, before.ID, after.ID)
}

func TestUpdateChangesPasswordAndURL(t *testing.T) {
	l, err := cache.NewLRU(10)
	require.NoError(t, err)
	svc, _, _ := newTestService(t, WithLRU(l))
	_, err = svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "old", Password: "right"})
	require.NoError(t, err)

	err = svc.Update(ctx, domain.Credentials{URL: "abc", Password: "right"},
		domain.NewPaste{URL: "xyz", Content: "moved", Password: "fresh"})
	require.NoError(t, err)

	_, err = svc.Retrieve(ctx, "abc")
	assert.Equal(t, domain.ErrNotFound, err)
	v, err := svc.Retrieve(ctx, "xyz")
	require.NoError(t, err)
	assert.Equal(t, "moved", v.Content)

	assert.Equal(t, domain.ErrIncorrectPassword,
		svc.Delete(ctx, domain.Credentials{URL: "xyz", Password: "right"}))
	assert.NoError(t, svc.Delete(ctx, domain.Credentials{URL: "xyz", Password: "fresh"}))
}

func TestUpdateWrongPassword(t *testing.T) {
	svc, store, _ := newTestService(t)
	_, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "old", Password: "right"})
	require.NoError(t, err)
	before, _ := store.get("abc")

	err = svc.Update(ctx, domain.Credentials{URL: "abc", Password: "wrong"}, domain.NewPaste{Content: "new"})
	assert.Equal(t, domain.ErrIncorrectPassword, err)
	after, _ := store.get("abc")
	assert.Equal(t, before, after)
}

func TestUpdateNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Update(ctx, domain.Credentials{URL: "nope", Password: "p"}, domain.NewPaste{Content: "x"})
	assert.Equal(t, domain.ErrNotFound, err)
}

func TestUpdateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "old", Password: "right"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.NewPaste{URL: "taken", Content: "x"})
	require.NoError(t, err)
	cred := domain.Credentials{URL: "abc", Password: "right"}

	assert.Equal(t, domain.ErrInvalidContent, svc.Update(ctx, cred, domain.NewPaste{Content: ""}))
	assert.Equal(t, domain.ErrInvalidPassword, svc.Update(ctx, cred, domain.NewPaste{Content: "x", Password: strings.Repeat("p", 251)}))
	assert.Equal(t, domain.ErrInvalidURL, svc.Update(ctx, cred, domain.NewPaste{URL: "no spaces", Content: "x"}))
	assert.Equal(t, domain.ErrAlreadyExists, svc.Update(ctx, cred, domain.NewPaste{URL: "taken", Content: "x"}))
	assert.NoError(t, svc.Update(ctx, cred, domain.NewPaste{URL: "abc", Content: "same url"}))
}

func TestUpdateEditedNeverBeforePublished(t *testing.T) {
	svc, store, clock := newTestService(t)
	_, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "old", Password: "right"})
	require.NoError(t, err)
	clock.Advance(-time.Hour)
	require.NoError(t, svc.Update(ctx, domain.Credentials{URL: "abc", Password: "right"}, domain.NewPaste{Content: "new"}))
	rec, _ := store.get("abc")
	assert.Equal(t, rec.DatePublished, rec.DateEdited)
}

func TestUpdateStorageFault(t *testing.T) {
	svc, store, _ := newTestService(t)
	_, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "old", Password: "right"})
	require.NoError(t, err)
	store.fail["update"] = db.ErrWrite
	err = svc.Update(ctx, domain.Credentials{URL: "abc", Password: "right"}, domain.NewPaste{Content: "new"})
	assert.True(t, domain.IsStorage(err))
}

func TestDeleteWrongPasswordKeepsPaste(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "x", Password: "right"})
	require.NoError(t, err)
	err = svc.Delete(ctx, domain.Credentials{URL: "abc", Password: "wrong"})
	assert.Equal(t, domain.ErrIncorrectPassword, err)
	_, err = svc.Retrieve(ctx, "abc")
	assert.NoError(t, err)
}

func TestDeleteThenRetrieve(t *testing.T) {
	l, err := cache.NewLRU(10)
	require.NoError(t, err)
	svc, _, _ := newTestService(t, WithLRU(l))
	_, err = svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "x", Password: "right"})
	require.NoError(t, err)
	_, err = svc.Retrieve(ctx, "abc")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, domain.Credentials{URL: "abc", Password: "right"}))
	_, err = svc.Retrieve(ctx, "abc")
	assert.Equal(t, domain.ErrNotFound, err)
	assert.Equal(t, domain.ErrNotFound, svc.Delete(ctx, domain.Credentials{URL: "abc", Password: "right"}))
}

func TestDeleteStorageFault(t *testing.T) {
	svc, store, _ := newTestService(t)
	_, err := svc.Create(ctx, domain.NewPaste{URL: "abc", Content: "x", Password: "right"})
	require.NoError(t, err)
	store.fail["delete"] = db.ErrWrite
	err = svc.Delete(ctx, domain.Credentials{URL: "abc", Password: "right"})
	assert.True(t, domain.IsStorage(err))
}

func TestConcurrentCreates(t *testing.T) {
	svc, store, _ := newTestService(t)
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, domain.NewPaste{Content: "hello"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, store.pastes, 50)
}

func TestNewPastePanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewPaste(nil, nil) })
}
