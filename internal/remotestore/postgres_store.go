package remotestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
)

const notifyChannel = "document_changes"

// PostgresStore keeps documents as JSONB rows and turns row changes into
// live snapshots through LISTEN/NOTIFY.
type PostgresStore struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error

	mu         sync.Mutex
	subs       map[string]map[*subscription]struct{}
	listening  bool
	stopListen context.CancelFunc
	listenDone chan struct{}
	ready      chan struct{}
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgresStore(db), nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:   db,
		subs: make(map[string]map[*subscription]struct{}),
	}
}

func (s *PostgresStore) ensureSchema() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db is nil")
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    data JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    PRIMARY KEY (collection, id)
);
CREATE OR REPLACE FUNCTION notify_document_change() RETURNS trigger AS $$
BEGIN
    IF TG_OP = 'DELETE' THEN
        PERFORM pg_notify('` + notifyChannel + `', OLD.collection || '/' || OLD.id);
        RETURN OLD;
    END IF;
    PERFORM pg_notify('` + notifyChannel + `', NEW.collection || '/' || NEW.id);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;
DROP TRIGGER IF EXISTS documents_notify ON documents;
CREATE TRIGGER documents_notify AFTER INSERT OR UPDATE OR DELETE ON documents
    FOR EACH ROW EXECUTE FUNCTION notify_document_change();
`)
	})
	return s.schemaErr
}

// Put upserts a document; the trigger fans the change out to subscribers.
func (s *PostgresStore) Put(ctx context.Context, collection, id string, data map[string]any) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO documents (collection, id, data, updated_at)
VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (collection, id)
DO UPDATE SET data=EXCLUDED.data, updated_at=EXCLUDED.updated_at
`, strings.TrimSpace(collection), strings.TrimSpace(id), string(raw), time.Now())
	return err
}

func (s *PostgresStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	collection = strings.TrimSpace(collection)
	id = strings.TrimSpace(id)
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE collection=$1 AND id=$2`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	data, err := decodeData(raw)
	if err != nil {
		return nil, err
	}
	return &Document{ID: id, Data: data}, nil
}

func (s *PostgresStore) QueryDocuments(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	query, args, err := buildQuery(strings.TrimSpace(collection), filters)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// buildQuery compares JSON values, so numbers and strings match the way they
// were written: data->'field' = '"abc"'::jsonb or '42'::jsonb.
func buildQuery(collection string, filters []Filter) (string, []any, error) {
	var b strings.Builder
	b.WriteString(`SELECT id, data FROM documents WHERE collection=$1`)
	args := []any{collection}
	for _, f := range filters {
		field := strings.TrimSpace(f.Field)
		if field == "" {
			return "", nil, fmt.Errorf("filter field is required")
		}
		raw, err := json.Marshal(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("encode filter %s: %w", field, err)
		}
		args = append(args, field, string(raw))
		fieldArg := len(args) - 1
		valueArg := len(args)
		switch f.Op {
		case OpEq:
			fmt.Fprintf(&b, ` AND data->($%d::text) = $%d::jsonb`, fieldArg, valueArg)
		case OpIn:
			if _, ok := f.Value.([]any); !ok {
				return "", nil, fmt.Errorf("filter %s in: value must be a list", field)
			}
			fmt.Fprintf(&b, ` AND data->($%d::text) IN (SELECT jsonb_array_elements($%d::jsonb))`, fieldArg, valueArg)
		default:
			return "", nil, fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}
	b.WriteString(` ORDER BY id`)
	return b.String(), args, nil
}

func decodeData(raw []byte) (map[string]any, error) {
	data := map[string]any{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return data, nil
}

func (s *PostgresStore) SubscribeDocument(ctx context.Context, collection, id string, onSnapshot SnapshotFunc, onError ErrorFunc) (Unsubscribe, error) {
	if onSnapshot == nil {
		return nil, fmt.Errorf("onSnapshot is required")
	}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	collection = strings.TrimSpace(collection)
	id = strings.TrimSpace(id)
	key := docKey(collection, id)
	sub := newSubscription(onSnapshot, onError)

	s.mu.Lock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[*subscription]struct{})
	}
	s.subs[key][sub] = struct{}{}
	ready := s.ensureListenerLocked()
	s.mu.Unlock()

	// The initial state is read only once LISTEN is active, so a change made in
	// between still produces a notification.
	select {
	case <-ready:
	case <-ctx.Done():
		s.remove(key, sub)
		return nil, ctx.Err()
	}
	s.deliver(ctx, collection, id, sub)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { s.remove(key, sub) })
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-sub.done:
		}
	}()
	return unsubscribe, nil
}

func (s *PostgresStore) remove(key string, sub *subscription) {
	s.mu.Lock()
	if set, ok := s.subs[key]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(s.subs, key)
		}
	}
	s.mu.Unlock()
	sub.close()
}

func (s *PostgresStore) deliver(ctx context.Context, collection, id string, sub *subscription) {
	doc, err := s.GetDocument(ctx, collection, id)
	switch {
	case errors.Is(err, ErrNotFound):
		sub.push(nil)
	case err != nil:
		sub.fail(err)
	default:
		sub.push(doc)
	}
}

func (s *PostgresStore) ensureListenerLocked() <-chan struct{} {
	if s.listening {
		return s.ready
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.listening = true
	s.stopListen = cancel
	s.listenDone = make(chan struct{})
	s.ready = make(chan struct{})
	go s.listen(ctx, s.listenDone, s.ready)
	return s.ready
}

// listen holds one dedicated connection in LISTEN mode and reconnects with
// backoff until the store is closed.
func (s *PostgresStore) listen(ctx context.Context, done, ready chan struct{}) {
	defer close(done)
	backoff := 250 * time.Millisecond
	var readyOnce sync.Once
	markReady := func() { readyOnce.Do(func() { close(ready) }) }
	reconnect := false
	for {
		err := s.listenOnce(ctx, reconnect, markReady)
		reconnect = true
		if ctx.Err() != nil {
			return
		}
		log.Printf("remotestore: postgres listener stopped: %v (retry in %s)", err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 10*time.Second {
			backoff *= 2
		}
	}
}

func (s *PostgresStore) listenOnce(ctx context.Context, reconnect bool, markReady func()) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		pc := sc.Conn()
		if _, err := pc.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
			return err
		}
		markReady()
		// Documents may have changed while the listener was down.
		if reconnect {
			s.resyncAll(ctx)
		}
		for {
			n, err := pc.WaitForNotification(ctx)
			if err != nil {
				return err
			}
			s.dispatch(ctx, n.Payload)
		}
	})
}

func (s *PostgresStore) dispatch(ctx context.Context, key string) {
	collection, id, ok := strings.Cut(key, "/")
	if !ok {
		return
	}
	s.mu.Lock()
	targets := make([]*subscription, 0, len(s.subs[key]))
	for sub := range s.subs[key] {
		targets = append(targets, sub)
	}
	s.mu.Unlock()
	if len(targets) == 0 {
		return
	}
	doc, err := s.GetDocument(ctx, collection, id)
	for _, sub := range targets {
		switch {
		case errors.Is(err, ErrNotFound):
			sub.push(nil)
		case err != nil:
			sub.fail(err)
		default:
			sub.push(&Document{ID: doc.ID, Data: copyData(doc.Data)})
		}
	}
}

func (s *PostgresStore) resyncAll(ctx context.Context) {
	s.mu.Lock()
	keys := make([]string, 0, len(s.subs))
	for key := range s.subs {
		keys = append(keys, key)
	}
	s.mu.Unlock()
	for _, key := range keys {
		s.dispatch(ctx, key)
	}
}

func (s *PostgresStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	stop, done := s.stopListen, s.listenDone
	s.listening = false
	s.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
	return s.db.Close()
}
