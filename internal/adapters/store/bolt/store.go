// Package boltstore реализует персистентное хранилище аккаунтов пула на bbolt.
// Запись аккаунта (учётные данные и артефакт сессии) лежит JSON-ом в бакете
// accounts под именем аккаунта; в том же файле contrib PeerStorage кэширует
// разрешённые username.
package boltstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	bboltdb "github.com/gotd/contrib/bbolt"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"

	"delivery-userbot/internal/domain/account"
	"delivery-userbot/internal/domain/transport"
	"delivery-userbot/internal/infra/storage"
)

const dbOpenTimeout = time.Second

var (
	accountsBucket = []byte("accounts")
	peersBucket    = []byte("peers")
)

// Store: файл bbolt с аккаунтами и кэшем пиров.
type Store struct {
	db    *bbolt.DB
	peers contribstorage.PeerStorage
}

// Open открывает (или создаёт) файл хранилища.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("boltstore: path is empty")
	}
	if err := storage.EnsureDir(path); err != nil {
		return nil, errors.Wrap(err, "boltstore: ensure dir")
	}
	db, err := bbolt.Open(path, storage.DefaultFilePerm, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "boltstore: open db")
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(accountsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(peersBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "boltstore: init buckets")
	}
	return &Store{db: db, peers: bboltdb.NewPeerStorage(db, peersBucket)}, nil
}

// Close закрывает файл базы.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load читает запись аккаунта. ok=false: записи нет.
func (s *Store) Load(_ context.Context, name string) (account.Record, bool, error) {
	var (
		rec   account.Record
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(accountsBucket).Get([]byte(name))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return account.Record{}, false, errors.Wrapf(err, "boltstore: load %q", name)
	}
	return rec, found, nil
}

// Save перезаписывает запись аккаунта целиком.
func (s *Store) Save(_ context.Context, name string, rec account.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "boltstore: encode record")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(accountsBucket).Put([]byte(name), raw)
	})
}

// Names возвращает имена сохранённых аккаунтов по алфавиту.
func (s *Store) Names(_ context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(accountsBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "boltstore: list accounts")
	}
	sort.Strings(names)
	return names, nil
}

// Account возвращает представление одного аккаунта для менеджера сессий.
func (s *Store) Account(name string) *AccountStore {
	return &AccountStore{store: s, name: name}
}

// AccountStore реализует session.CredentialStore для одного имени.
type AccountStore struct {
	store *Store
	name  string
}

func (a *AccountStore) Load(ctx context.Context) (account.Record, bool, error) {
	return a.store.Load(ctx, a.name)
}

func (a *AccountStore) Save(ctx context.Context, rec account.Record) error {
	return a.store.Save(ctx, a.name, rec)
}

func peerKey(owner, username string) string {
	return owner + ":" + strings.ToLower(strings.TrimPrefix(username, "@"))
}

// LookupUsername достаёт peer, ранее разрешённый аккаунтом owner.
func (s *Store) LookupUsername(ctx context.Context, owner, username string) (transport.Peer, bool, error) {
	p, err := s.peers.Resolve(ctx, peerKey(owner, username))
	if errors.Is(err, contribstorage.ErrPeerNotFound) {
		return transport.Peer{}, false, nil
	}
	if err != nil {
		return transport.Peer{}, false, errors.Wrap(err, "boltstore: resolve peer")
	}
	if p.User == nil {
		return transport.Peer{}, false, nil
	}
	return transport.Peer{ID: p.User.ID, AccessHash: p.User.AccessHash, Username: p.User.Username}, true, nil
}

// RememberUsername сохраняет peer под ключом owner:username. access hash
// привязан к аккаунту, поэтому ключ включает владельца.
func (s *Store) RememberUsername(ctx context.Context, owner string, peer transport.Peer) error {
	var p contribstorage.Peer
	if !p.FromUser(&tg.User{ID: peer.ID, AccessHash: peer.AccessHash, Username: peer.Username}) {
		return errors.Errorf("boltstore: cannot store peer %d", peer.ID)
	}
	if err := s.peers.Assign(ctx, peerKey(owner, peer.Username), p); err != nil {
		return errors.Wrap(err, "boltstore: assign peer")
	}
	return nil
}
