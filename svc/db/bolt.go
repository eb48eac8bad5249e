package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"pasties/pkg/domain"
)

var pasteBucket = []byte("pastes")

var errBucketMissing = errors.New("pastes bucket missing")

// boltRecord is the stored JSON value; domain.Paste hides id and hash from JSON.
type boltRecord struct {
	ID            int64  `json:"id"`
	URL           string `json:"url"`
	PasswordHash  string `json:"password_hash"`
	Content       string `json:"content"`
	DatePublished int64  `json:"date_published"`
	DateEdited    int64  `json:"date_edited"`
}

func toRecord(p *domain.Paste) boltRecord {
	return boltRecord{
		ID:            p.ID,
		URL:           p.URL,
		PasswordHash:  p.PasswordHash,
		Content:       p.Content,
		DatePublished: p.DatePublished,
		DateEdited:    p.DateEdited,
	}
}

func (r boltRecord) paste() *domain.Paste {
	return &domain.Paste{
		ID:            r.ID,
		URL:           r.URL,
		PasswordHash:  r.PasswordHash,
		Content:       r.Content,
		DatePublished: r.DatePublished,
		DateEdited:    r.DateEdited,
	}
}

// Bolt keeps pastes in a single bucket keyed by url.
type Bolt struct {
	db *bolt.DB
}

func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt db")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pasteBucket)
		return errors.Wrap(err, "create paste bucket")
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Insert(ctx context.Context, p *domain.Paste) error {
	if err := ctx.Err(); err != nil {
		return writeErr("insert", err)
	}
	data, err := json.Marshal(toRecord(p))
	if err != nil {
		return writeErr("insert", errors.Wrap(err, "marshal paste"))
	}
	var exists bool
	err = b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errBucketMissing
		}
		if bucket.Get([]byte(p.URL)) != nil {
			exists = true
			return nil
		}
		return bucket.Put([]byte(p.URL), data)
	})
	if err != nil {
		return writeErr("insert", err)
	}
	if exists {
		return conflict("insert", nil)
	}
	return nil
}

func (b *Bolt) Retrieve(ctx context.Context, url string) (*domain.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, readErr("retrieve", err)
	}
	var rec *boltRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errBucketMissing
		}
		raw := bucket.Get([]byte(url))
		if raw == nil {
			return nil
		}
		rec = &boltRecord{}
		return errors.Wrap(json.Unmarshal(raw, rec), "unmarshal paste")
	})
	if err != nil {
		return nil, readErr("retrieve", err)
	}
	if rec == nil {
		return nil, notFound("retrieve")
	}
	return rec.paste(), nil
}

// Update rewrites the record under url, moving it when f.URL names a different key.
func (b *Bolt) Update(ctx context.Context, url string, f domain.PasteFields) error {
	if err := ctx.Err(); err != nil {
		return writeErr("update", err)
	}
	if f.URL == "" {
		f.URL = url
	}
	var taken bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errBucketMissing
		}
		raw := bucket.Get([]byte(url))
		if raw == nil {
			return nil
		}
		var rec boltRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return errors.Wrap(err, "unmarshal paste")
		}
		if f.URL != url {
			if bucket.Get([]byte(f.URL)) != nil {
				taken = true
				return nil
			}
			if err := bucket.Delete([]byte(url)); err != nil {
				return err
			}
		}
		rec.URL = f.URL
		rec.Content = f.Content
		rec.PasswordHash = f.PasswordHash
		rec.DateEdited = f.DateEdited
		data, err := json.Marshal(rec)
		if err != nil {
			return errors.Wrap(err, "marshal paste")
		}
		return bucket.Put([]byte(rec.URL), data)
	})
	if err != nil {
		return writeErr("update", err)
	}
	if taken {
		return conflict("update", nil)
	}
	return nil
}

func (b *Bolt) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return writeErr("delete", err)
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket == nil {
			return errBucketMissing
		}
		return bucket.Delete([]byte(url))
	})
	if err != nil {
		return writeErr("delete", err)
	}
	return nil
}

func (b *Bolt) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(pasteBucket) == nil {
			return errBucketMissing
		}
		return nil
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
