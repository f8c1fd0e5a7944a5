package uploadService

import (
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/monitoring"
)

// DefaultURLPrefix - path uploaded files are served under
const DefaultURLPrefix = "/uploads/"

// limits of stored file names
const (
	MaxStemLen      = 64
	MaxExtensionLen = 10
)

var (
	// ErrTooManyFiles - request carries more files than allowed
	ErrTooManyFiles = errors.New("too many files")
	// ErrFileTooLarge - one of the files exceeds the size limit
	ErrFileTooLarge = errors.New("file too large")
)

var (
	unsafeNameChars      = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	unsafeExtensionChars = regexp.MustCompile(`[^a-z0-9.]`)
)

// StoredFile - uploaded file written to the upload directory
type StoredFile struct {
	// Name - generated name inside the upload directory
	Name string
	// OriginalName - name the client sent
	OriginalName string
	URL          string
	ContentType  string
	Size         int64
}

// Uploader - stores uploaded media on local disk
type Uploader struct {
	Dir         string
	URLPrefix   string
	MaxFileSize int64
	MaxFiles    int
	logger      *log.Entry
}

func NewUploader(dir, urlPrefix string, maxFileSize int64, maxFiles int, logger *log.Entry) (*Uploader, error) {
	if urlPrefix == "" {
		urlPrefix = DefaultURLPrefix
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "error creating upload directory %s", dir)
	}
	return &Uploader{
		Dir:         dir,
		URLPrefix:   urlPrefix,
		MaxFileSize: maxFileSize,
		MaxFiles:    maxFiles,
		logger:      logger,
	}, nil
}

// SanitizeFileName - safe stem and lowercase extension of a client file name
func SanitizeFileName(original string) (stem, extension string) {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	extension = strings.ToLower(filepath.Ext(base))
	stem = strings.TrimSuffix(base, filepath.Ext(base))

	extension = unsafeExtensionChars.ReplaceAllString(extension, "")
	if len(extension) > MaxExtensionLen || extension == "." {
		extension = ""
	}

	stem = strings.Trim(unsafeNameChars.ReplaceAllString(stem, "_"), ".")
	if len(stem) > MaxStemLen {
		stem = stem[:MaxStemLen]
	}
	if stem == "" {
		stem = "file"
	}
	return stem, extension
}

// uniqueName - sanitized name plus timestamp and random suffix
func uniqueName(original string) string {
	stem, extension := SanitizeFileName(original)
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return stem + "_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + suffix + extension
}

// SaveAll - writes files in order. On failure files already written by this call are removed
func (u *Uploader) SaveAll(files []*multipart.FileHeader) ([]StoredFile, error) {
	if u.MaxFiles > 0 && len(files) > u.MaxFiles {
		monitoring.UploadedFiles.WithLabelValues("rejected").Add(float64(len(files)))
		return nil, errors.Wrapf(ErrTooManyFiles, "%d files sent, at most %d allowed", len(files), u.MaxFiles)
	}

	stored := make([]StoredFile, 0, len(files))
	for _, header := range files {
		file, err := u.save(header)
		if err != nil {
			monitoring.UploadedFiles.WithLabelValues("rejected").Inc()
			u.Discard(stored)
			return nil, err
		}
		stored = append(stored, file)
		monitoring.UploadedFiles.WithLabelValues("stored").Inc()
	}
	return stored, nil
}

func (u *Uploader) save(header *multipart.FileHeader) (StoredFile, error) {
	if u.MaxFileSize > 0 && header.Size > u.MaxFileSize {
		return StoredFile{}, errors.Wrapf(ErrFileTooLarge, "%s has %d bytes, at most %d allowed",
			header.Filename, header.Size, u.MaxFileSize)
	}

	src, err := header.Open()
	if err != nil {
		return StoredFile{}, errors.Wrapf(err, "error opening uploaded file %s", header.Filename)
	}
	defer src.Close()

	name := uniqueName(header.Filename)
	filePath := filepath.Join(u.Dir, name)
	dst, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return StoredFile{}, errors.Wrapf(err, "error creating file %s", filePath)
	}

	var reader io.Reader = src
	if u.MaxFileSize > 0 {
		reader = io.LimitReader(src, u.MaxFileSize+1)
	}
	size, err := io.Copy(dst, reader)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err == nil && u.MaxFileSize > 0 && size > u.MaxFileSize {
		err = errors.Wrapf(ErrFileTooLarge, "%s exceeds %d bytes", header.Filename, u.MaxFileSize)
	}
	if err != nil {
		_ = os.Remove(filePath)
		if errors.Is(err, ErrFileTooLarge) {
			return StoredFile{}, err
		}
		return StoredFile{}, errors.Wrapf(err, "error writing file %s", filePath)
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExtension := mime.TypeByExtension(filepath.Ext(name)); byExtension != "" {
			contentType = byExtension
		}
	}

	u.logger.Debugf("Stored uploaded file. Original name: %s, stored as: %s, size: %d", header.Filename, name, size)
	return StoredFile{
		Name:         name,
		OriginalName: header.Filename,
		URL:          u.URLPrefix + name,
		ContentType:  contentType,
		Size:         size,
	}, nil
}

// Discard - removes stored files that ended up unused
func (u *Uploader) Discard(files []StoredFile) {
	for _, file := range files {
		if err := u.Remove(file.URL); err != nil {
			u.logger.Warnf("Can't remove unused upload. File: %s. Error: %s", file.Name, err)
		}
	}
}

// FileName - name inside the upload directory an upload URL resolves to.
// Only the base name is used, so the resolved path never leaves the upload directory
func (u *Uploader) FileName(url string) (string, bool) {
	if !strings.HasPrefix(url, u.URLPrefix) {
		return "", false
	}
	name := path.Base(strings.TrimPrefix(url, u.URLPrefix))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "", false
	}
	return name, true
}

// ForeignUploads - upload URLs of media blocks resolving to files that no block of owned references.
// A post may only point at files uploaded for it, otherwise its cleanup would remove media of other posts
func (u *Uploader) ForeignUploads(blocks, owned []models.Block) []string {
	ownedNames := make(map[string]bool, len(owned))
	for _, block := range owned {
		if name, ok := u.FileName(block.URL); ok && block.IsMedia() {
			ownedNames[name] = true
		}
	}

	var foreign []string
	for _, block := range blocks {
		if !block.IsMedia() {
			continue
		}
		if name, ok := u.FileName(block.URL); ok && !ownedNames[name] {
			foreign = append(foreign, block.URL)
		}
	}
	return foreign
}

// Remove - deletes the file behind an upload URL
// URLs outside the upload prefix are not ours and are left alone
func (u *Uploader) Remove(url string) error {
	name, ok := u.FileName(url)
	if !ok {
		return nil
	}

	if err := os.Remove(filepath.Join(u.Dir, name)); err != nil {
		return err
	}
	monitoring.UploadedFiles.WithLabelValues("removed").Inc()
	return nil
}

// RemoveBlocks - best effort cleanup of files referenced by blocks. Failures are only logged
func (u *Uploader) RemoveBlocks(blocks []models.Block) {
	for _, block := range blocks {
		if !block.IsMedia() || block.URL == "" {
			continue
		}
		if err := u.Remove(block.URL); err != nil {
			if os.IsNotExist(err) {
				u.logger.Infof("Media file already gone. URL: %s", block.URL)
				continue
			}
			u.logger.Warnf("Can't remove media file. URL: %s. Error: %s", block.URL, err)
		}
	}
}
