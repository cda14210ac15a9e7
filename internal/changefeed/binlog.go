package changefeed

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/go-mysql-org/go-mysql/schema"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BinlogConfig describes a MySQL row-based binlog source. Watched collections
// are tables of Schema whose key column is KeyField.
type BinlogConfig struct {
	Addr     string
	User     string
	Password string
	Flavor   string
	Schema   string
	KeyField string
	ServerID uint32
}

// Position is the resume token of a binlog feed.
type Position struct {
	Name string `json:"name"`
	Pos  uint32 `json:"pos"`
}

func (p Position) token() ResumeToken {
	b, _ := json.Marshal(p)
	return b
}

// ParsePosition decodes a binlog resume token.
func ParsePosition(t ResumeToken) (Position, error) {
	var p Position
	if err := json.Unmarshal(t, &p); err != nil {
		return Position{}, errors.Wrap(err, "malformed binlog position")
	}
	if p.Name == "" || p.Pos == 0 {
		return Position{}, errors.Errorf("incomplete binlog position %s", t)
	}
	return p, nil
}

// BinlogFeed replicates from MySQL as a fake replica.
type BinlogFeed struct {
	cfg    BinlogConfig
	logger *zap.Logger
}

func NewBinlogFeed(cfg BinlogConfig, logger *zap.Logger) *BinlogFeed {
	if cfg.KeyField == "" {
		cfg.KeyField = "id"
	}
	if cfg.ServerID == 0 {
		cfg.ServerID = autoServerID(cfg.Addr)
	}
	return &BinlogFeed{cfg: cfg, logger: logger.With(zap.String("component", "binlog-feed"))}
}

func (f *BinlogFeed) ValidateToken(t ResumeToken) error {
	_, err := ParsePosition(t)
	return err
}

func (f *BinlogFeed) Close(context.Context) error { return nil }

// IncludeRegex returns the table filter canal applies before rows are decoded.
func IncludeRegex(schemaName string, collections []string) []string {
	include := make([]string, 0, len(collections))
	for _, c := range collections {
		include = append(include, "^"+regexp.QuoteMeta(schemaName+"."+c)+"$")
	}
	return include
}

func (f *BinlogFeed) Open(ctx context.Context, collections []string, startAfter ResumeToken) (Cursor, error) {
	cc := canal.NewDefaultConfig()
	cc.Addr = f.cfg.Addr
	cc.User = f.cfg.User
	cc.Password = f.cfg.Password
	cc.Flavor = f.cfg.Flavor
	cc.ServerID = f.cfg.ServerID
	cc.IncludeTableRegex = IncludeRegex(f.cfg.Schema, collections)
	cc.Dump.ExecutionPath = ""

	c, err := canal.NewCanal(cc)
	if err != nil {
		return nil, errors.Wrap(err, "create binlog replica")
	}

	var start mysql.Position
	if startAfter != nil {
		p, err := ParsePosition(startAfter)
		if err != nil {
			c.Close()
			return nil, err
		}
		start = mysql.Position{Name: p.Name, Pos: p.Pos}
	} else {
		start, err = c.GetMasterPos()
		if err != nil {
			c.Close()
			return nil, errors.Wrap(err, "read master position")
		}
	}

	cur := &binlogCursor{
		c:        c,
		events:   make(chan Event),
		errc:     make(chan error, 1),
		done:     make(chan struct{}),
		keyField: f.cfg.KeyField,
		safe:     Position{Name: start.Name, Pos: start.Pos},
	}
	c.SetEventHandler(cur)
	go func() {
		if err := c.RunFrom(start); err != nil {
			cur.errc <- err
			return
		}
		cur.errc <- errors.New("binlog replication stopped")
	}()

	f.logger.Info("binlog replication started",
		zap.String("file", start.Name),
		zap.Uint32("pos", start.Pos),
		zap.Strings("collections", collections))
	return cur, nil
}

type binlogCursor struct {
	canal.DummyEventHandler

	c        *canal.Canal
	events   chan Event
	errc     chan error
	done     chan struct{}
	once     sync.Once
	keyField string
	// safe is the last transaction boundary canal reported and dirty is set
	// once rows were emitted past it. Both are only touched from the canal
	// goroutine.
	safe  Position
	dirty bool
}

func (b *binlogCursor) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case ev := <-b.events:
		return ev, nil
	case err := <-b.errc:
		return Event{}, errors.Wrap(err, "binlog replication failed")
	}
}

func (b *binlogCursor) Close(context.Context) error {
	b.once.Do(func() {
		close(b.done)
		b.c.Close()
	})
	return nil
}

func (b *binlogCursor) OnRow(e *canal.RowsEvent) error {
	var op Operation
	var rows [][]interface{}
	switch e.Action {
	case canal.InsertAction:
		op, rows = OpInsert, e.Rows
	case canal.DeleteAction:
		op, rows = OpDelete, e.Rows
	case canal.UpdateAction:
		// before/after pairs; only the after image matters
		op = OpUpdate
		for i := 1; i < len(e.Rows); i += 2 {
			rows = append(rows, e.Rows[i])
		}
	default:
		return nil
	}

	// Positions inside a transaction cannot be resumed from: the replica would
	// start past the TABLE_MAP event the rows refer to. Every row carries the
	// boundary before its transaction, so a restart replays the transaction.
	tok := b.safe.token()
	for _, row := range rows {
		b.dirty = true
		err := b.send(Event{
			Collection: e.Table.Name,
			Operation:  op,
			Key:        rowKey(e.Table, row, b.keyField),
			Token:      tok,
			Raw:        fmt.Sprintf("%s %s.%s %v", e.Action, e.Table.Schema, e.Table.Name, row),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// OnPosSynced is called by canal at transaction boundaries and rotations.
func (b *binlogCursor) OnPosSynced(_ *replication.EventHeader, pos mysql.Position, _ mysql.GTIDSet, _ bool) error {
	b.safe = Position{Name: pos.Name, Pos: pos.Pos}
	if !b.dirty {
		return nil
	}
	b.dirty = false
	return b.send(Event{
		Operation: OpProgress,
		Token:     b.safe.token(),
		Raw:       fmt.Sprintf("synced %s:%d", pos.Name, pos.Pos),
	})
}

func (b *binlogCursor) send(ev Event) error {
	select {
	case b.events <- ev:
		return nil
	case <-b.done:
		return errors.New("cursor closed")
	}
}

func (b *binlogCursor) String() string { return "configflow" }

func rowKey(t *schema.Table, row []interface{}, field string) DocumentKey {
	idx := t.FindColumn(field)
	if idx < 0 || idx >= len(row) || row[idx] == nil {
		return DocumentKey{Kind: KeyMissing}
	}
	switch v := row[idx].(type) {
	case []byte:
		return DocumentKey{Kind: KeyBinary, Subtype: SubtypeUUID, Data: v, Display: fmt.Sprintf("%x", v)}
	case string:
		if t.Columns[idx].Type == schema.TYPE_BINARY {
			return DocumentKey{Kind: KeyBinary, Subtype: SubtypeUUID, Data: []byte(v), Display: fmt.Sprintf("%x", v)}
		}
		return DocumentKey{Kind: KeyOther, Display: "string " + v}
	default:
		return DocumentKey{Kind: KeyOther, Display: fmt.Sprintf("%T %v", v, v)}
	}
}

func autoServerID(addr string) uint32 {
	if v := os.Getenv("CONFIGFLOW_SERVER_ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			return uint32(n)
		}
	}
	host, _ := os.Hostname()
	return 10000 + uint32(xxhash.Sum64String(host+"/"+addr)%(1<<31))
}
