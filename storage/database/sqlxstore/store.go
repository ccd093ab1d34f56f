package sqlxstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
)

// Store persists the document tree in a single path-addressed jsonb table.
// Leaf documents are rows; interior nodes are materialized on read from their
// descendants' paths.
type Store struct {
	db *sqlx.DB
}

var _ core.DocumentStore = (*Store)(nil) // interface compliance check

func New(db *sql.DB, engine string) *Store {
	return &Store{db: sqlx.NewDb(db, engine)}
}

func (s *Store) Get(ctx context.Context, path string, out interface{}) error {
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT doc FROM documents WHERE path = $1`, path)
	switch err {
	case nil:
		return errors.Wrap(json.Unmarshal(raw, out), "decoding document")
	case sql.ErrNoRows:
		subtree, serr := s.subtree(ctx, path)
		if serr != nil {
			return serr
		}
		if subtree == nil {
			return core.ErrDocNotFound
		}
		return decode(subtree, out)
	default:
		return errors.Wrap(err, "getting document")
	}
}

func (s *Store) List(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	rows, err := s.descendants(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		// a leaf row has no children; a missing path has no document at all
		var exists bool
		err := s.db.GetContext(ctx, &exists, `SELECT true FROM documents WHERE path = $1`, path)
		if err == sql.ErrNoRows {
			return nil, core.ErrDocNotFound
		}
		if err != nil {
			return nil, errors.Wrap(err, "checking document")
		}
		return map[string]json.RawMessage{}, nil
	}

	direct := make(map[string]json.RawMessage)
	nested := make(map[string]map[string]interface{})
	for rel, raw := range rows {
		if i := strings.Index(rel, "/"); i >= 0 {
			child := rel[:i]
			if nested[child] == nil {
				nested[child] = make(map[string]interface{})
			}
			insertNested(nested[child], strings.Split(rel[i+1:], "/"), raw)
		} else {
			direct[rel] = raw
		}
	}
	for child, tree := range nested {
		raw, err := json.Marshal(tree)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %s/%s", path, child)
		}
		direct[child] = raw
	}
	return direct, nil
}

func (s *Store) Set(ctx context.Context, path string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (path, doc) VALUES ($1, $2)
		 ON CONFLICT (path) DO UPDATE SET doc = EXCLUDED.doc`,
		path, raw,
	)
	return errors.Wrap(err, "setting document")
}

func (s *Store) Create(ctx context.Context, path string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (path, doc) VALUES ($1, $2) ON CONFLICT (path) DO NOTHING`,
		path, raw,
	)
	if err != nil {
		return errors.Wrap(err, "creating document")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "creating document")
	}
	if n == 0 {
		return core.ErrDocExists
	}
	return nil
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (path, doc) VALUES ($1, $2)
		 ON CONFLICT (path) DO UPDATE SET doc = documents.doc || EXCLUDED.doc`,
		path, raw,
	)
	return errors.Wrap(err, "updating document")
}

func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE path = $1 OR path LIKE $1 || '/%'`, path)
	return errors.Wrap(err, "deleting document")
}

// internals

// descendants returns all rows strictly below path, keyed by relative path.
func (s *Store) descendants(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, doc FROM documents WHERE path LIKE $1 || '/%'`, path)
	if err != nil {
		return nil, errors.Wrap(err, "listing documents")
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var p string
		var raw []byte
		if err := rows.Scan(&p, &raw); err != nil {
			return nil, errors.Wrap(err, "listing documents")
		}
		out[strings.TrimPrefix(p, path+"/")] = raw
	}
	return out, errors.Wrap(rows.Err(), "listing documents")
}

// subtree reconstructs the nested object below an interior path, or nil when
// nothing lives there.
func (s *Store) subtree(ctx context.Context, path string) (map[string]interface{}, error) {
	rows, err := s.descendants(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	tree := make(map[string]interface{})
	for rel, raw := range rows {
		insertNested(tree, strings.Split(rel, "/"), raw)
	}
	return tree, nil
}

func insertNested(tree map[string]interface{}, segs []string, raw json.RawMessage) {
	for _, seg := range segs[:len(segs)-1] {
		child, ok := tree[seg].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			tree[seg] = child
		}
		tree = child
	}
	var doc interface{}
	_ = json.Unmarshal(raw, &doc)
	tree[segs[len(segs)-1]] = doc
}

func decode(node interface{}, out interface{}) error {
	raw, err := json.Marshal(node)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}
	return errors.Wrap(json.Unmarshal(raw, out), "decoding document")
}
