package svc

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"pasties/metrics"
	"pasties/pkg/domain"
	"pasties/svc/auth"
	"pasties/svc/cache"
	"pasties/svc/db"
	"pasties/svc/util"
)

const defaultCacheTTL = 10 * time.Minute

// ViewCache is a shared cache of paste views, implemented by *db.Redis.
type ViewCache interface {
	CacheView(ctx context.Context, v *domain.PasteView, ttl time.Duration) error
	GetView(ctx context.Context, url string) (*domain.PasteView, error)
	Delete(ctx context.Context, urls ...string) error
}

// Paste is the lifecycle manager. It holds no paste state of its own;
// all operations are safe for concurrent use.
type Paste struct {
	store  db.Store
	hasher *auth.Hasher
	lru    *cache.LRU
	views  ViewCache
	ttl    time.Duration
	clock  func() time.Time
	reads  singleflight.Group

	mu       sync.Mutex
	inflight map[*readTicket]struct{}
}

// readTicket marks one storage read in flight. invalidate flags it stale so
// a read that raced a write does not put the old view back into a cache.
type readTicket struct {
	url   string
	stale bool
}

type Option func(*Paste)

func WithLRU(l *cache.LRU) Option {
	return func(p *Paste) { p.lru = l }
}

func WithRedis(r *db.Redis) Option {
	return func(p *Paste) {
		if r != nil {
			p.views = r
		}
	}
}

func WithViewCache(v ViewCache) Option {
	return func(p *Paste) { p.views = v }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(p *Paste) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Paste) { p.clock = now }
}

func NewPaste(store db.Store, h *auth.Hasher, opts ...Option) *Paste {
	if store == nil || h == nil {
		panic("paste service: nil dependency (store or hasher)")
	}
	p := &Paste{
		store:    store,
		hasher:   h,
		ttl:      defaultCacheTTL,
		clock:    time.Now,
		inflight: map[*readTicket]struct{}{},
	}
	for _, o := range opts {
		o(p)
	}
	// Only the writing instance clears its own LRU, so a per-process cache
	// would serve stale views next to a shared one.
	if p.views != nil && p.lru != nil {
		util.Warn().Msg("shared view cache configured, local LRU disabled")
		p.lru = nil
	}
	return p
}

func (p *Paste) now() int64 {
	return p.clock().Unix()
}

func (p *Paste) Create(ctx context.Context, in domain.NewPaste) (_ *domain.Created, err error) {
	defer func() { p.observe("create", err) }()

	password := in.Password
	if password == "" {
		if password, err = p.hasher.Token(); err != nil {
			return nil, errors.Wrap(err, "generate password")
		}
	}
	url := in.URL
	if url == "" {
		url, err = util.GenUnique(p.hasher.Token, func(candidate string) (bool, error) {
			taken, err := p.exists(ctx, candidate)
			if taken {
				metrics.URLCollisions.Inc()
			}
			return taken, err
		})
		if err != nil {
			return nil, err
		}
	} else {
		if !ValidURL(url) {
			return nil, domain.ErrInvalidURL
		}
		taken, err := p.exists(ctx, url)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, domain.ErrAlreadyExists
		}
	}
	if !ValidContent(in.Content) {
		return nil, domain.ErrInvalidContent
	}
	if !ValidPassword(password) {
		return nil, domain.ErrInvalidPassword
	}

	hash, err := p.hasher.Digest(password)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	id, err := util.NewID()
	if err != nil {
		return nil, errors.Wrap(err, "generate id")
	}
	now := p.now()
	rec := &domain.Paste{
		ID:            id,
		URL:           url,
		Content:       in.Content,
		PasswordHash:  hash,
		DatePublished: now,
		DateEdited:    now,
	}
	t := p.track(url)
	defer p.untrack(t)
	if err := p.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, p.storageFault("insert", url, err)
	}
	p.fill(ctx, t, rec.View())
	util.Info().Str("url", url).Int("content_bytes", len(in.Content)).Msg("paste created")
	return &domain.Created{URL: url, Password: password}, nil
}

// Retrieve reads through the LRU, or the shared cache when one is set, then
// storage. Concurrent misses for one url share a single storage read.
func (p *Paste) Retrieve(ctx context.Context, url string) (_ *domain.PasteView, err error) {
	defer func() { p.observe("retrieve", err) }()

	if p.lru != nil {
		if v := p.lru.Get(ctx, url); v != nil {
			metrics.CacheHits.WithLabelValues("lru").Inc()
			return v, nil
		}
	}
	res, err, _ := p.reads.Do(url, func() (interface{}, error) {
		rctx := context.WithoutCancel(ctx)
		if p.views != nil {
			v, err := p.views.GetView(rctx, url)
			if err != nil {
				util.Warn().Err(err).Str("url", url).Msg("view cache read failed")
			} else if v != nil {
				metrics.CacheHits.WithLabelValues("redis").Inc()
				return v, nil
			}
		}
		metrics.CacheMisses.Inc()
		t := p.track(url)
		defer p.untrack(t)
		rec, err := p.store.Retrieve(rctx, url)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, domain.ErrNotFound
			}
			return nil, p.storageFault("retrieve", url, err)
		}
		v := rec.View()
		p.fill(rctx, t, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	v := *res.(*domain.PasteView)
	return &v, nil
}

func (p *Paste) Update(ctx context.Context, cred domain.Credentials, in domain.NewPaste) (err error) {
	defer func() { p.observe("update", err) }()

	rec, err := p.authenticate(ctx, cred)
	if err != nil {
		return err
	}
	url := rec.URL
	if in.URL != "" {
		if !ValidURL(in.URL) {
			return domain.ErrInvalidURL
		}
		if in.URL != rec.URL {
			taken, err := p.exists(ctx, in.URL)
			if err != nil {
				return err
			}
			if taken {
				return domain.ErrAlreadyExists
			}
		}
		url = in.URL
	}
	password := cred.Password
	if in.Password != "" {
		if !ValidPassword(in.Password) {
			return domain.ErrInvalidPassword
		}
		password = in.Password
	}
	if !ValidContent(in.Content) {
		return domain.ErrInvalidContent
	}

	hash, err := p.hasher.Digest(password)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	edited := p.now()
	if edited < rec.DatePublished {
		edited = rec.DatePublished
	}
	err = p.store.Update(ctx, cred.URL, domain.PasteFields{
		URL:          url,
		Content:      in.Content,
		PasswordHash: hash,
		DateEdited:   edited,
	})
	if err != nil {
		if errors.Is(err, db.ErrConflict) {
			return domain.ErrAlreadyExists
		}
		return p.storageFault("update", cred.URL, err)
	}
	p.invalidate(ctx, cred.URL, url)
	util.Info().Str("url", cred.URL).Str("new_url", url).Int("content_bytes", len(in.Content)).Msg("paste updated")
	return nil
}

func (p *Paste) Delete(ctx context.Context, cred domain.Credentials) (err error) {
	defer func() { p.observe("delete", err) }()

	if _, err := p.authenticate(ctx, cred); err != nil {
		return err
	}
	if err := p.store.Delete(ctx, cred.URL); err != nil {
		return p.storageFault("delete", cred.URL, err)
	}
	p.invalidate(ctx, cred.URL)
	util.Info().Str("url", cred.URL).Msg("paste deleted")
	return nil
}

// authenticate always reads storage; cached views carry no hash.
func (p *Paste) authenticate(ctx context.Context, cred domain.Credentials) (*domain.Paste, error) {
	rec, err := p.store.Retrieve(ctx, cred.URL)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, p.storageFault("retrieve", cred.URL, err)
	}
	ok, err := p.hasher.Verify(cred.Password, rec.PasswordHash)
	if err != nil {
		return nil, errors.Wrap(err, "verify password")
	}
	if !ok {
		return nil, domain.ErrIncorrectPassword
	}
	return rec, nil
}

func (p *Paste) exists(ctx context.Context, url string) (bool, error) {
	_, err := p.store.Retrieve(ctx, url)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, db.ErrNotFound):
		return false, nil
	default:
		return false, p.storageFault("retrieve", url, err)
	}
}

func (p *Paste) track(url string) *readTicket {
	t := &readTicket{url: url}
	p.mu.Lock()
	p.inflight[t] = struct{}{}
	p.mu.Unlock()
	return t
}

func (p *Paste) untrack(t *readTicket) {
	p.mu.Lock()
	delete(p.inflight, t)
	p.mu.Unlock()
}

func (p *Paste) isStale(t *readTicket) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return t.stale
}

// fill caches a view read from storage unless a write to its url landed
// while the read was in flight.
func (p *Paste) fill(ctx context.Context, t *readTicket, v *domain.PasteView) {
	p.mu.Lock()
	if t.stale {
		p.mu.Unlock()
		return
	}
	if p.lru != nil {
		p.lru.Set(v, p.ttl)
	}
	p.mu.Unlock()
	if p.views == nil {
		return
	}
	if err := p.views.CacheView(ctx, v, p.ttl); err != nil {
		util.Warn().Err(err).Str("url", v.URL).Msg("view cache write failed")
		return
	}
	// invalidate flags the ticket before deleting, so a write that slipped
	// in between is caught here.
	if p.isStale(t) {
		if err := p.views.Delete(ctx, v.URL); err != nil {
			util.Warn().Err(err).Str("url", v.URL).Msg("view cache invalidation failed")
		}
	}
}

func (p *Paste) invalidate(ctx context.Context, urls ...string) {
	if len(urls) == 2 && urls[0] == urls[1] {
		urls = urls[:1]
	}
	p.mu.Lock()
	for t := range p.inflight {
		for _, u := range urls {
			if t.url == u {
				t.stale = true
			}
		}
	}
	if p.lru != nil {
		p.lru.Delete(urls...)
	}
	p.mu.Unlock()
	for _, u := range urls {
		p.reads.Forget(u)
	}
	if p.views != nil {
		if err := p.views.Delete(ctx, urls...); err != nil {
			util.Warn().Err(err).Strs("urls", urls).Msg("view cache invalidation failed")
		}
	}
}

func (p *Paste) storageFault(op, url string, err error) error {
	util.Error().Err(err).Str("op", op).Str("url", url).Msg("storage fault")
	return domain.NewStorageErr(op, err)
}

func (p *Paste) observe(op string, err error) {
	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case domain.IsStorage(err):
		outcome = metrics.OutcomeStorage
	default:
		outcome = metrics.OutcomeRejected
	}
	metrics.PasteOps.WithLabelValues(op, outcome).Inc()
}
