// Package audit persists the two append-only event streams, registry_api
// and mcp_access, in an embedded bbolt database and serves admin queries
// and NDJSON exports over them.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"mcpregistry-go/internal/apperrors"
	"mcpregistry-go/internal/contracts"
)

// eventVersion stamps every emitted event's schema version.
const eventVersion = "1.0"

// Store writes audit events to one bucket per stream. Keys are
// {timestamp_ns}_{ulid}, so a cursor walk is chronological and ties within
// the same nanosecond still order deterministically.
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
}

func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransientBackend, "opening audit database failed", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, stream := range []string{contracts.AuditStreamRegistryAPI, contracts.AuditStreamMCPAccess} {
			if _, err := tx.CreateBucketIfNotExists([]byte(stream)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.KindTransientBackend, "creating audit buckets failed", err)
	}

	return &Store{db: db, logger: logger.Named("audit")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func eventKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", ts.UnixNano(), id))
}

// Append writes one event to its stream's bucket. Missing timestamp and
// version fields are stamped here so emitters stay small.
func (s *Store) Append(ctx context.Context, event *contracts.AuditEvent) error {
	if event.LogType != contracts.AuditStreamRegistryAPI && event.LogType != contracts.AuditStreamMCPAccess {
		return apperrors.Newf(apperrors.KindBadRequest, "unknown audit stream %q", event.LogType)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Version == "" {
		event.Version = eventVersion
	}

	data, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(apperrors.KindBackendData, "encoding audit event failed", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(event.LogType))
		return bucket.Put(eventKey(event.Timestamp, ulid.Make().String()), data)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindTransientBackend, "writing audit event failed", err)
	}
	return nil
}

// EmitAsync appends without blocking the request path. Failures are logged
// and dropped; audit writes never fail a request.
func (s *Store) EmitAsync(event *contracts.AuditEvent) {
	go func() {
		if err := s.Append(context.Background(), event); err != nil {
			s.logger.Error("failed to append audit event",
				zap.String("stream", event.LogType),
				zap.String("request_id", event.RequestID),
				zap.Error(err))
		}
	}()
}

// streamCursor is one bucket's walk position during a merged query.
type streamCursor struct {
	k, v []byte
	next func() ([]byte, []byte)
}

// mergedWalk visits the streams' events in global key order. Keys are
// timestamp-prefixed, so byte order is chronological and pagination over a
// multi-stream query slices one time-ordered sequence. fn returns false to
// stop early.
func mergedWalk(tx *bbolt.Tx, streams []string, ascending bool, fn func(k, v []byte) (bool, error)) error {
	var cursors []*streamCursor
	for _, stream := range streams {
		bucket := tx.Bucket([]byte(stream))
		if bucket == nil {
			continue
		}
		cursor := bucket.Cursor()
		sc := &streamCursor{}
		if ascending {
			sc.k, sc.v = cursor.First()
			sc.next = cursor.Next
		} else {
			sc.k, sc.v = cursor.Last()
			sc.next = cursor.Prev
		}
		if sc.k != nil {
			cursors = append(cursors, sc)
		}
	}

	for len(cursors) > 0 {
		best := 0
		for i := 1; i < len(cursors); i++ {
			cmp := bytes.Compare(cursors[i].k, cursors[best].k)
			if (ascending && cmp < 0) || (!ascending && cmp > 0) {
				best = i
			}
		}
		sc := cursors[best]
		cont, err := fn(sc.k, sc.v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		sc.k, sc.v = sc.next()
		if sc.k == nil {
			cursors = append(cursors[:best], cursors[best+1:]...)
		}
	}
	return nil
}

// Query returns events matching the filter plus the total match count before
// pagination. Events come back in the filter's sort order.
func (s *Store) Query(ctx context.Context, filter *Filter) ([]*contracts.AuditEvent, int, error) {
	filter.normalize()

	var events []*contracts.AuditEvent
	total := 0

	err := s.db.View(func(tx *bbolt.Tx) error {
		return mergedWalk(tx, filter.streams(), filter.SortAscending, func(k, v []byte) (bool, error) {
			var event contracts.AuditEvent
			if err := json.Unmarshal(v, &event); err != nil {
				s.logger.Warn("skipping undecodable audit event", zap.String("key", string(k)))
				return true, nil
			}
			if !filter.matches(&event) {
				return true, nil
			}
			if total >= filter.Offset && len(events) < filter.Limit {
				events = append(events, &event)
			}
			total++
			return true, nil
		})
	})
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.KindTransientBackend, "querying audit events failed", err)
	}
	return events, total, nil
}

// ExportNDJSON streams every matching event to w, one JSON document per
// line, without loading the full result set into memory.
func (s *Store) ExportNDJSON(ctx context.Context, filter *Filter, w io.Writer) error {
	filter.normalize()
	enc := json.NewEncoder(w)

	return s.db.View(func(tx *bbolt.Tx) error {
		return mergedWalk(tx, filter.streams(), true, func(k, v []byte) (bool, error) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			var event contracts.AuditEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return true, nil
			}
			if !filter.matches(&event) {
				return true, nil
			}
			if err := enc.Encode(&event); err != nil {
				return false, err
			}
			return true, nil
		})
	})
}
