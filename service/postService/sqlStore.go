package postService

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/service/schemaService"
)

// storage names of the fixed post columns
const (
	columnID            = "id"
	columnTitle         = "title"
	columnAuthor        = "author"
	columnContentBlocks = "content_blocks"
	columnComments      = "comments"
	columnCreatedAt     = "created_at"
	columnUpdatedAt     = "updated_at"
)

// bumpUpdatedAt - keeps updated_at strictly increasing within a transaction and across fast successive writes
const bumpUpdatedAt = "updated_at = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')"

// SQLStore - PostgreSQL backed post store with schema evolution
type SQLStore struct {
	db      *sqlx.DB
	evolver *schemaService.Evolver
	logger  *log.Entry
}

func NewSQLStore(db *sqlx.DB, evolver *schemaService.Evolver, logger *log.Entry) *SQLStore {
	return &SQLStore{
		db:      db,
		evolver: evolver,
		logger:  logger,
	}
}

// List - all posts ordered by id descending
func (s *SQLStore) List(ctx context.Context) ([]models.Post, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM posts ORDER BY id DESC")
	if err != nil {
		return nil, errors.Wrap(err, "error querying posts")
	}
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// Get - retrieves post with the given ID
func (s *SQLStore) Get(ctx context.Context, id int64) (*models.Post, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM posts WHERE id = $1", id)
	if err != nil {
		return nil, errors.Wrapf(err, "error querying post %d", id)
	}
	return scanSinglePost(rows)
}

// Create - inserts a new post. New dynamic columns, the row and the evolution audit share one transaction
func (s *SQLStore) Create(ctx context.Context, request *SaveRequest) (*models.Post, error) {
	if err := validateSaveRequest(request); err != nil {
		return nil, err
	}

	encodedBlocks, err := json.Marshal(request.ContentBlocks)
	if err != nil {
		return nil, errors.Wrap(err, "error encoding content blocks")
	}

	var createdPost *models.Post
	var plan *schemaService.Plan
	err = WithTx(ctx, s.db, "create post", func(tx *sqlx.Tx) error {
		var err error
		if plan, err = s.planExtra(ctx, tx, request.Extra); err != nil {
			return err
		}
		if err = s.evolver.Apply(ctx, tx, plan); err != nil {
			return err
		}

		columns := []string{columnTitle, columnAuthor, columnContentBlocks, columnComments}
		args := []interface{}{request.Title, request.Author, string(encodedBlocks), "[]"}
		for _, name := range plan.Names() {
			columns = append(columns, pq.QuoteIdentifier(name))
			args = append(args, sqlValue(plan.Values[name]))
		}

		placeholders := make([]string, len(args))
		for i := range args {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}

		query := "INSERT INTO posts (" + strings.Join(columns, ", ") + ") VALUES (" +
			strings.Join(placeholders, ", ") + ") RETURNING *"
		rows, err := tx.QueryxContext(ctx, query, args...)
		if err != nil {
			return asValidationError(err)
		}
		if createdPost, err = scanSinglePost(rows); err != nil {
			return asValidationError(err)
		}

		return s.evolver.Audit(ctx, tx, createdPost.ID, plan)
	})
	if err != nil {
		return nil, err
	}

	s.evolver.Report(createdPost.ID, plan)
	return createdPost, nil
}

// Update - changes present fields of a post, evolving the schema for new dynamic fields
func (s *SQLStore) Update(ctx context.Context, request *UpdateRequest) (*models.Post, error) {
	if err := validateUpdateRequest(request); err != nil {
		return nil, err
	}

	var updatedPost *models.Post
	var plan *schemaService.Plan
	err := WithTx(ctx, s.db, "update post", func(tx *sqlx.Tx) error {
		// ALTER TABLE must come before any read of posts in this tx, otherwise two evolving
		// updates deadlock on the lock upgrade. A missing post rolls the new columns back
		var err error
		if plan, err = s.planExtra(ctx, tx, request.Extra); err != nil {
			return err
		}
		if !request.hasFixedFields() && len(plan.Values) == 0 {
			return NewValidationError(NoFields, "no updatable fields in request")
		}
		if err = s.evolver.Apply(ctx, tx, plan); err != nil {
			return err
		}

		var assignments []string
		var args []interface{}
		set := func(column string, value interface{}) {
			args = append(args, value)
			assignments = append(assignments, fmt.Sprintf("%s = $%d", column, len(args)))
		}

		if request.Title != nil {
			set(columnTitle, *request.Title)
		}
		if request.Author != nil {
			set(columnAuthor, *request.Author)
		}
		if request.ContentBlocks != nil {
			encoded, err := json.Marshal(*request.ContentBlocks)
			if err != nil {
				return errors.Wrap(err, "error encoding content blocks")
			}
			set(columnContentBlocks, string(encoded))
		} else if len(request.AppendBlocks) > 0 {
			encoded, err := json.Marshal(request.AppendBlocks)
			if err != nil {
				return errors.Wrap(err, "error encoding content blocks")
			}
			args = append(args, string(encoded))
			assignments = append(assignments,
				fmt.Sprintf("%s = %s || $%d::jsonb", columnContentBlocks, columnContentBlocks, len(args)))
		}
		if request.Comments != nil {
			encoded, err := json.Marshal(*request.Comments)
			if err != nil {
				return errors.Wrap(err, "error encoding comments")
			}
			set(columnComments, string(encoded))
		}
		for _, name := range plan.Names() {
			set(pq.QuoteIdentifier(name), sqlValue(plan.Values[name]))
		}
		assignments = append(assignments, bumpUpdatedAt)

		args = append(args, request.ID)
		query := fmt.Sprintf("UPDATE posts SET %s WHERE id = $%d RETURNING *",
			strings.Join(assignments, ", "), len(args))
		rows, err := tx.QueryxContext(ctx, query, args...)
		if err != nil {
			return asValidationError(err)
		}
		if updatedPost, err = scanSinglePost(rows); err != nil {
			return asValidationError(err)
		}

		return s.evolver.Audit(ctx, tx, updatedPost.ID, plan)
	})
	if err != nil {
		return nil, err
	}

	s.evolver.Report(updatedPost.ID, plan)
	return updatedPost, nil
}

// Delete - removes post and returns media blocks it referenced
func (s *SQLStore) Delete(ctx context.Context, id int64) ([]models.Block, error) {
	var encodedBlocks []byte
	err := s.db.QueryRowxContext(ctx, "DELETE FROM posts WHERE id = $1 RETURNING content_blocks", id).
		Scan(&encodedBlocks)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoSuchPost
		}
		return nil, errors.Wrapf(err, "error deleting post %d", id)
	}

	blocks, err := models.ParseBlocks(encodedBlocks)
	if err != nil {
		// row is gone already, files just leak
		s.logger.Errorf("Can't decode content blocks of deleted post. Post ID: %d. Error: %s", id, err)
		return []models.Block{}, nil
	}
	return mediaBlocks(blocks), nil
}

// AppendComment - appends comment to the comments array of a post
func (s *SQLStore) AppendComment(ctx context.Context, id int64, comment models.Comment) (*models.Post, error) {
	encoded, err := json.Marshal([]models.Comment{comment})
	if err != nil {
		return nil, errors.Wrap(err, "error encoding comment")
	}

	rows, err := s.db.QueryxContext(ctx,
		"UPDATE posts SET comments = comments || $1::jsonb, "+bumpUpdatedAt+" WHERE id = $2 RETURNING *",
		string(encoded), id)
	if err != nil {
		return nil, errors.Wrapf(err, "error appending comment to post %d", id)
	}
	return scanSinglePost(rows)
}

// Ping - checks database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// planExtra - plans dynamic fields against the columns currently present in the table
func (s *SQLStore) planExtra(ctx context.Context, tx *sqlx.Tx, extra map[string]interface{}) (*schemaService.Plan, error) {
	if len(extra) == 0 {
		return &schemaService.Plan{Values: map[string]interface{}{}}, nil
	}

	known, err := schemaService.KnownColumns(ctx, tx)
	if err != nil {
		return nil, err
	}
	plan, err := s.evolver.Plan(extra, known)
	if err != nil {
		return nil, asValidationError(err)
	}
	return plan, nil
}

// sqlValue - lib/pq sends []byte as bytea, so JSON and numeric values travel as text
func sqlValue(value interface{}) interface{} {
	switch v := value.(type) {
	case json.RawMessage:
		return string(v)
	case json.Number:
		return v.String()
	default:
		return v
	}
}

func scanSinglePost(rows *sqlx.Rows) (*models.Post, error) {
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, ErrNoSuchPost
	}
	return &posts[0], nil
}

// scanPosts - maps "SELECT *" rows onto posts. Columns outside the fixed schema go into Extra by their database type
func scanPosts(rows *sqlx.Rows) ([]models.Post, error) {
	defer rows.Close()

	columns, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, "error reading post columns")
	}

	posts := make([]models.Post, 0)
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, errors.Wrap(err, "error scanning post")
		}

		post, err := postFromRow(columns, values)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating posts")
	}
	return posts, nil
}

func postFromRow(columns []*sql.ColumnType, values []interface{}) (models.Post, error) {
	var post models.Post
	for i, column := range columns {
		value := values[i]
		switch column.Name() {
		case columnID:
			id, ok := value.(int64)
			if !ok {
				return post, errors.Errorf("unexpected post id %v", value)
			}
			post.ID = id
		case columnTitle:
			post.Title = textValue(value)
		case columnAuthor:
			post.Author = textValue(value)
		case columnContentBlocks:
			blocks, err := models.ParseBlocks(bytesValue(value))
			if err != nil {
				return post, errors.Wrapf(err, "error decoding content blocks of post %d", post.ID)
			}
			post.ContentBlocks = blocks
		case columnComments:
			comments, err := models.ParseComments(bytesValue(value))
			if err != nil {
				return post, errors.Wrapf(err, "error decoding comments of post %d", post.ID)
			}
			post.Comments = comments
		case columnCreatedAt:
			post.CreatedAt = timeValue(value)
		case columnUpdatedAt:
			post.UpdatedAt = timeValue(value)
		default:
			if value == nil {
				continue
			}
			if post.Extra == nil {
				post.Extra = make(map[string]interface{})
			}
			post.Extra[column.Name()] = dynamicValue(column.DatabaseTypeName(), value)
		}
	}
	post.Normalize()
	return post, nil
}

func dynamicValue(databaseType string, value interface{}) interface{} {
	switch schemaService.ColumnTypeFromDataType(databaseType) {
	case schemaService.TypeJSON:
		return json.RawMessage(bytesValue(value))
	case schemaService.TypeNumeric:
		return json.Number(textValue(value))
	}
	if raw, ok := value.([]byte); ok {
		return string(raw)
	}
	return value
}

func textValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func bytesValue(value interface{}) []byte {
	switch v := value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

func timeValue(value interface{}) time.Time {
	if t, ok := value.(time.Time); ok {
		return t.UTC()
	}
	return time.Time{}
}
