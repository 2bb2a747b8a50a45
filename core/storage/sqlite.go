package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/artpar/restmod/adapters/idgen"
)

// SQLiteStore implements Store with SQLite, one JSON document per row.
type SQLiteStore struct {
	db  *sql.DB
	ids idgen.Generator
	mu  sync.RWMutex

	// entities maps entity names to collection names for lookups
	entities map[string]string

	// collections holds every ensured collection
	collections map[string]Collection
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithIDGenerator sets the generator for internal record ids.
func WithIDGenerator(g idgen.Generator) SQLiteOption {
	return func(s *SQLiteStore) { s.ids = g }
}

// NewSQLiteStore creates a new SQLite storage.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", path+sep+"_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if strings.HasPrefix(path, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	// Set pragmas for performance
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := NewSQLiteStoreFromDB(db, opts...)
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreFromDB creates a SQLite storage from an existing connection.
// The caller must ensure the sequences table exists, see NewSQLiteStore.
func NewSQLiteStoreFromDB(db *sql.DB, opts ...SQLiteOption) *SQLiteStore {
	s := &SQLiteStore{
		db:          db,
		ids:         idgen.UUID{},
		entities:    make(map[string]string),
		collections: make(map[string]Collection),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLiteStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS _sequences (name TEXT PRIMARY KEY, value INTEGER NOT NULL)`)
	if err != nil {
		return fmt.Errorf("create sequences table: %w", err)
	}
	return nil
}

// EnsureCollection creates the table and its unique expression indexes.
func (s *SQLiteStore) EnsureCollection(ctx context.Context, c Collection) error {
	if err := c.Validate(); err != nil {
		return err
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (_id TEXT PRIMARY KEY, doc TEXT NOT NULL)`, quote(c.Name)),
		uniqueIndexSQL(c.Name, "id"),
	}
	for _, f := range c.Unique {
		stmts = append(stmts, uniqueIndexSQL(c.Name, f))
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure collection %s: %w", c.Name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[c.Name] = c
	if c.Entity != "" {
		s.entities[c.Entity] = c.Name
	}

	return nil
}

func uniqueIndexSQL(table, field string) string {
	name := "ux_" + table + "_" + strings.ReplaceAll(field, ".", "_")
	return fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)`, quote(name), quote(table), jsonPath(field))
}

// NextSequence increments the named counter in one statement.
func (s *SQLiteStore) NextSequence(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO _sequences (name, value) VALUES (?, 1)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1
		 RETURNING value`, name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", name, err)
	}
	return value, nil
}

// Insert stores a new document.
func (s *SQLiteStore) Insert(ctx context.Context, collection string, doc map[string]any) (map[string]any, error) {
	if err := s.known(collection); err != nil {
		return nil, err
	}

	out := Project(doc, nil)
	internal, _ := out[InternalID].(string)
	if internal == "" {
		internal = s.ids.New()
	}
	delete(out, InternalID)

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (_id, doc) VALUES (?, ?)`, quote(collection)),
		internal, string(data))
	if err != nil {
		return nil, convertError("insert", err)
	}

	out[InternalID] = internal
	return out, nil
}

// Find returns matching documents, populated and shaped.
func (s *SQLiteStore) Find(ctx context.Context, collection string, q Query) ([]map[string]any, error) {
	if err := s.known(collection); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	where, args := buildWhere(q.Where)
	query := fmt.Sprintf(`SELECT _id, doc FROM %s%s%s`, quote(collection), where, buildOrder(q.Sort))
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	docs, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}

	return s.finish(ctx, docs, q)
}

// FindOne returns the first matching document, or nil.
func (s *SQLiteStore) FindOne(ctx context.Context, collection string, q Query) (map[string]any, error) {
	q.Limit = 1
	docs, err := s.Find(ctx, collection, q)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// FindOneAndUpdate updates the first matching document with one UPDATE ... RETURNING.
func (s *SQLiteStore) FindOneAndUpdate(ctx context.Context, collection string, q Query, set map[string]any) (map[string]any, error) {
	if len(set) == 0 {
		return s.FindOne(ctx, collection, q)
	}
	if err := s.known(collection); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		assigns []string
		args    []any
	)
	for _, field := range sortedKeys(set) {
		if field == InternalID || !validPath(field) {
			return nil, fmt.Errorf("update %s: invalid field %q", collection, field)
		}
		data, err := json.Marshal(set[field])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", field, err)
		}
		assigns = append(assigns, fmt.Sprintf("'$.%s', json(?)", field))
		args = append(args, string(data))
	}

	where, whereArgs := buildWhere(q.Where)
	args = append(args, whereArgs...)

	query := fmt.Sprintf(
		`UPDATE %[1]s SET doc = json_set(doc, %[2]s) WHERE _id = (SELECT _id FROM %[1]s%[3]s%[4]s LIMIT 1) RETURNING _id, doc`,
		quote(collection), strings.Join(assigns, ", "), where, buildOrder(q.Sort))

	docs, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, convertError("update "+collection, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	out, err := s.finish(ctx, docs, q)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) known(collection string) error {
	s.mu.RLock()
	_, ok := s.collections[collection]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return nil
}

// query reads every row before returning so the connection is free for lookups.
func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []map[string]any
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		doc, err := decodeDoc(data)
		if err != nil {
			return nil, err
		}
		doc[InternalID] = id
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// finish populates lookups with one batched query per lookup, then shapes.
func (s *SQLiteStore) finish(ctx context.Context, docs []map[string]any, q Query) ([]map[string]any, error) {
	for _, l := range q.Lookups {
		targets, err := s.lookupTargets(ctx, docs, l)
		if err != nil {
			return nil, err
		}
		Attach(docs, l, targets)
	}

	out := make([]map[string]any, len(docs))
	for i, doc := range docs {
		out[i] = Shape(doc, q)
	}
	return out, nil
}

func (s *SQLiteStore) lookupTargets(ctx context.Context, docs []map[string]any, l Lookup) ([]map[string]any, error) {
	s.mu.RLock()
	target, ok := s.entities[l.From]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w: entity %s", l.As, ErrUnknownCollection, l.From)
	}

	keys := LocalKeys(docs, l.LocalField)
	if len(keys) == 0 {
		return nil, nil
	}

	where, args := buildWhere(Cond{In(l.ForeignField, keys...)})
	targets, err := s.query(ctx, fmt.Sprintf(`SELECT _id, doc FROM %s%s`, quote(target), where), args...)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", l.As, err)
	}
	return targets, nil
}

func buildWhere(c Cond) (string, []any) {
	if len(c) == 0 {
		return "", nil
	}

	var (
		clauses []string
		args    []any
	)
	for _, p := range c {
		col := jsonPath(p.Field)
		if p.Field == InternalID {
			col = InternalID
		}

		switch p.Op {
		case OpIn:
			values, _ := p.Value.([]any)
			if len(values) == 0 {
				clauses = append(clauses, "0")
				continue
			}
			marks := make([]string, len(values))
			for i, v := range values {
				marks[i] = "?"
				args = append(args, sqlValue(v))
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")))
		case OpNe:
			clauses = append(clauses, col+" IS NOT ?")
			args = append(args, sqlValue(p.Value))
		default:
			clauses = append(clauses, fmt.Sprintf("%s %s ?", col, sqlOps[p.Op]))
			args = append(args, sqlValue(p.Value))
		}
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

var sqlOps = map[Op]string{
	OpEq:  "=",
	OpLt:  "<",
	OpLte: "<=",
	OpGt:  ">",
	OpGte: ">=",
}

func buildOrder(sorts []Sort) string {
	if len(sorts) == 0 {
		return ""
	}
	parts := make([]string, len(sorts))
	for i, s := range sorts {
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		parts[i] = jsonPath(s.Field) + " " + dir
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// jsonPath renders a validated field path as a json_extract expression.
func jsonPath(field string) string {
	return fmt.Sprintf("json_extract(doc, '$.%s')", field)
}

func validPath(field string) bool {
	return Collection{Name: field}.Validate() == nil
}

// sqlValue maps values to what json_extract yields for them.
func sqlValue(v any) any {
	switch b := v.(type) {
	case bool:
		if b {
			return 1
		}
		return 0
	case nil:
		return nil
	case string, int, int32, int64, float32, float64:
		return v
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

func quote(name string) string {
	return `"` + name + `"`
}

// convertError maps SQLite constraint violations onto sentinel errors.
func convertError(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w: %s", op, ErrDuplicateKey, sqliteErr.Error())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ Store = (*SQLiteStore)(nil)
