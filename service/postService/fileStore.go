package postService

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/service/schemaService"
)

// fileData - on-disk layout of the file store
type fileData struct {
	NextID  int64                                `json:"nextId"`
	Columns map[string]schemaService.ColumnType `json:"columns"`
	Posts   []models.Post                        `json:"posts"`
}

// clone - copy whose slices and maps can be changed without touching the original
func (d fileData) clone() fileData {
	columns := make(map[string]schemaService.ColumnType, len(d.Columns))
	for name, columnType := range d.Columns {
		columns[name] = columnType
	}
	posts := make([]models.Post, len(d.Posts))
	copy(posts, d.Posts)
	return fileData{NextID: d.NextID, Columns: columns, Posts: posts}
}

// FileStore - post store keeping every post in a single JSON file
// The file is rewritten as a whole on each change and replaced atomically
type FileStore struct {
	path    string
	evolver *schemaService.Evolver
	logger  *log.Entry
	now     func() time.Time

	mu   sync.RWMutex
	data fileData
}

// NewFileStore - loads posts from path. A missing file starts an empty board
func NewFileStore(path string, evolver *schemaService.Evolver, logger *log.Entry) (*FileStore, error) {
	store := &FileStore{
		path:    path,
		evolver: evolver,
		logger:  logger,
		now:     time.Now,
		data: fileData{
			NextID:  1,
			Columns: map[string]schemaService.ColumnType{},
			Posts:   []models.Post{},
		},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Infof("Data file does not exist yet, starting with empty board. Path: %s", path)
			return store, nil
		}
		return nil, errors.Wrapf(err, "error reading data file %s", path)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return store, nil
	}

	if err = store.load(raw); err != nil {
		return nil, errors.Wrapf(err, "error decoding data file %s", path)
	}
	logger.Infof("Loaded %d posts from data file. Path: %s", len(store.data.Posts), path)
	return store, nil
}

// load - accepts the store layout and a bare array of posts
func (s *FileStore) load(raw []byte) error {
	var data fileData
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		if err := json.Unmarshal(raw, &data.Posts); err != nil {
			return err
		}
	} else if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	if data.Columns == nil {
		data.Columns = map[string]schemaService.ColumnType{}
	}
	if data.Posts == nil {
		data.Posts = []models.Post{}
	}

	var maxID int64
	for i := range data.Posts {
		data.Posts[i].Normalize()
		if data.Posts[i].ID > maxID {
			maxID = data.Posts[i].ID
		}
		// posts written before the column set was tracked
		for name, value := range data.Posts[i].Extra {
			if _, known := data.Columns[name]; !known && schemaService.IsValidColumnName(name) {
				data.Columns[name] = schemaService.InferColumnType(value)
			}
		}
	}
	if data.NextID <= maxID {
		data.NextID = maxID + 1
	}

	sort.Slice(data.Posts, func(i, j int) bool { return data.Posts[i].ID < data.Posts[j].ID })
	s.data = data
	return nil
}

// persist - writes data to a temp file next to the data file and renames it over
func (s *FileStore) persist(data fileData) error {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "error encoding posts")
	}

	dir := filepath.Dir(s.path)
	if err = os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "error creating data directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return errors.Wrap(err, "error creating temp data file")
	}
	tmpName := tmp.Name()

	if _, err = tmp.Write(encoded); err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, s.path)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "error writing data file %s", s.path)
	}
	return nil
}

func (s *FileStore) indexOf(id int64) int {
	i := sort.Search(len(s.data.Posts), func(i int) bool { return s.data.Posts[i].ID >= id })
	if i < len(s.data.Posts) && s.data.Posts[i].ID == id {
		return i
	}
	return -1
}

// List - all posts ordered by id descending
func (s *FileStore) List(ctx context.Context) ([]models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	posts := make([]models.Post, 0, len(s.data.Posts))
	for i := len(s.data.Posts) - 1; i >= 0; i-- {
		posts = append(posts, clonePost(s.data.Posts[i]))
	}
	return posts, nil
}

// Get - retrieves post with the given ID
func (s *FileStore) Get(ctx context.Context, id int64) (*models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil, ErrNoSuchPost
	}
	post := clonePost(s.data.Posts[i])
	return &post, nil
}

// Create - appends a new post and persists the file
func (s *FileStore) Create(ctx context.Context, request *SaveRequest) (*models.Post, error) {
	if err := validateSaveRequest(request); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.evolver.Plan(request.Extra, s.data.Columns)
	if err != nil {
		return nil, asValidationError(err)
	}

	next := s.data.clone()
	applyPlan(&next, plan)

	now := s.now().UTC()
	post := models.Post{
		ID:            next.NextID,
		Title:         request.Title,
		Author:        request.Author,
		ContentBlocks: append([]models.Block{}, request.ContentBlocks...),
		Comments:      []models.Comment{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	setExtra(&post, plan)

	next.NextID++
	next.Posts = append(next.Posts, post)

	if err = s.persist(next); err != nil {
		return nil, err
	}
	s.data = next

	s.evolver.Report(post.ID, plan)
	created := clonePost(post)
	return &created, nil
}

// Update - changes present fields of a post and persists the file
func (s *FileStore) Update(ctx context.Context, request *UpdateRequest) (*models.Post, error) {
	if err := validateUpdateRequest(request); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(request.ID)
	if i < 0 {
		return nil, ErrNoSuchPost
	}

	plan, err := s.evolver.Plan(request.Extra, s.data.Columns)
	if err != nil {
		return nil, asValidationError(err)
	}
	if !request.hasFixedFields() && len(plan.Values) == 0 {
		return nil, NewValidationError(NoFields, "no updatable fields in request")
	}

	next := s.data.clone()
	applyPlan(&next, plan)

	post := clonePost(next.Posts[i])
	if request.Title != nil {
		post.Title = *request.Title
	}
	if request.Author != nil {
		post.Author = *request.Author
	}
	if request.ContentBlocks != nil {
		post.ContentBlocks = append([]models.Block{}, *request.ContentBlocks...)
	} else if len(request.AppendBlocks) > 0 {
		post.ContentBlocks = append(post.ContentBlocks, request.AppendBlocks...)
	}
	if request.Comments != nil {
		post.Comments = append([]models.Comment{}, *request.Comments...)
	}
	setExtra(&post, plan)
	post.UpdatedAt = nextUpdatedAt(post.UpdatedAt, s.now().UTC())
	next.Posts[i] = post

	if err = s.persist(next); err != nil {
		return nil, err
	}
	s.data = next

	s.evolver.Report(post.ID, plan)
	updated := clonePost(post)
	return &updated, nil
}

// Delete - removes post and returns media blocks it referenced
func (s *FileStore) Delete(ctx context.Context, id int64) ([]models.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil, ErrNoSuchPost
	}

	next := s.data.clone()
	removed := next.Posts[i]
	next.Posts = append(next.Posts[:i], next.Posts[i+1:]...)

	if err := s.persist(next); err != nil {
		return nil, err
	}
	s.data = next
	return mediaBlocks(removed.ContentBlocks), nil
}

// AppendComment - appends comment to a post and persists the file
func (s *FileStore) AppendComment(ctx context.Context, id int64, comment models.Comment) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil, ErrNoSuchPost
	}

	next := s.data.clone()
	post := clonePost(next.Posts[i])
	post.Comments = append(post.Comments, comment)
	post.UpdatedAt = nextUpdatedAt(post.UpdatedAt, s.now().UTC())
	next.Posts[i] = post

	if err := s.persist(next); err != nil {
		return nil, err
	}
	s.data = next

	updated := clonePost(post)
	return &updated, nil
}

// Ping - file store has no connection to check
func (s *FileStore) Ping(ctx context.Context) error {
	return nil
}

// applyPlan - registers new columns in the column set
func applyPlan(data *fileData, plan *schemaService.Plan) {
	for _, column := range plan.Columns {
		data.Columns[column.Name] = column.Type
	}
}

// setExtra - writes planned values, a nil value clears the field
func setExtra(post *models.Post, plan *schemaService.Plan) {
	for name, value := range plan.Values {
		if value == nil {
			delete(post.Extra, name)
			continue
		}
		if post.Extra == nil {
			post.Extra = make(map[string]interface{})
		}
		post.Extra[name] = value
	}
}

// clonePost - copy sharing no slices or maps with post
func clonePost(post models.Post) models.Post {
	cloned := post
	cloned.ContentBlocks = append([]models.Block{}, post.ContentBlocks...)
	cloned.Comments = append([]models.Comment{}, post.Comments...)
	if post.Extra != nil {
		cloned.Extra = make(map[string]interface{}, len(post.Extra))
		for name, value := range post.Extra {
			cloned.Extra[name] = value
		}
	}
	return cloned
}
