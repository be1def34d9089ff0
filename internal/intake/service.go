// Package intake runs the upload lifecycle: stage, fingerprint, dedup,
// create a processing record, then extract and complete in the background.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pdf-intake/backend/internal/docstore"
	"github.com/pdf-intake/backend/internal/extract"
	"github.com/pdf-intake/backend/internal/fingerprint"
	"github.com/pdf-intake/backend/internal/logger"
	"github.com/pdf-intake/backend/internal/queue"
	"github.com/pdf-intake/backend/internal/staging"
)

// DuplicateStatus is reported for content that already has a record.
const DuplicateStatus = "file has already been processed"

var (
	ErrInvalidDirectory = errors.New("invalid directory path")
	ErrInvalidFilename  = errors.New("invalid filename")
)

// storeWriteTimeout bounds the final store write after extraction, which
// runs detached from the (possibly expired) task context.
const storeWriteTimeout = 10 * time.Second

// Submitter accepts deferred units of work.
type Submitter interface {
	Submit(ctx context.Context, task queue.Task) error
}

type Config struct {
	// BatchDedup applies fingerprint dedup to multi-upload and directory
	// admissions. When false those files get random ids and no fingerprint.
	BatchDedup bool
	// MarkFailed records extraction failures as status failed. When false
	// the record is left in processing.
	MarkFailed bool
	// Parallelism bounds concurrent admissions within one batch.
	Parallelism int
}

// Outcome describes one admitted file.
type Outcome struct {
	ID        string `json:"id,omitempty"`
	Filename  string `json:"filename"`
	Duplicate bool   `json:"duplicate"`
}

// Batch collects the outcomes of a multi-file admission in input order.
type Batch struct {
	Outcomes []Outcome
}

// IDs returns the ids of newly admitted files. Outcomes left empty by an
// aborted batch are skipped.
func (b *Batch) IDs() []string {
	ids := make([]string, 0, len(b.Outcomes))
	for _, o := range b.Outcomes {
		if !o.Duplicate && o.ID != "" {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// Duplicates returns the filenames that were skipped as already processed.
func (b *Batch) Duplicates() []string {
	dups := make([]string, 0)
	for _, o := range b.Outcomes {
		if o.Duplicate {
			dups = append(dups, o.Filename)
		}
	}
	return dups
}

// Source is one file of a multi-file upload.
type Source struct {
	Name string
	Open func() (io.ReadCloser, error)
}

type Service struct {
	store     docstore.Store
	area      *staging.Area
	extractor extract.Extractor
	queue     Submitter
	cfg       Config
	logger    *logger.Logger
}

func NewService(store docstore.Store, area *staging.Area, extractor extract.Extractor, q Submitter, cfg Config, log *logger.Logger) *Service {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:     store,
		area:      area,
		extractor: extractor,
		queue:     q,
		cfg:       cfg,
		logger:    log.With("component", "intake"),
	}
}

// Upload stages a single file and admits it with fingerprint dedup.
func (s *Service) Upload(ctx context.Context, name string, r io.Reader) (*Outcome, error) {
	sf, err := s.stage(name, r)
	if err != nil {
		return nil, err
	}
	return s.admit(ctx, sf, true)
}

// UploadMany stages and admits each source. Admission of the batch stops
// at the first store or staging error. Files admitted before it stay
// queued and are reported in the Batch returned alongside the error.
func (s *Service) UploadMany(ctx context.Context, sources []Source) (*Batch, error) {
	return s.admitAll(ctx, len(sources), func(i int) (*staging.File, error) {
		src := sources[i]
		rc, err := src.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", src.Name, err)
		}
		defer rc.Close()
		return s.stage(src.Name, rc)
	})
}

// ProcessDirectory admits every regular file in dir whose name ends in
// .pdf, ignoring case. Sources are copied into staging so cleanup never
// touches the caller's files.
func (s *Service) ProcessDirectory(ctx context.Context, dir string) (*Batch, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidDirectory)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDirectory, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
	}

	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".pdf") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	s.logger.Info("scanning directory", "directory", dir, "pdfs", len(paths))

	return s.admitAll(ctx, len(paths), func(i int) (*staging.File, error) {
		return s.area.Copy(paths[i])
	})
}

func (s *Service) stage(name string, r io.Reader) (*staging.File, error) {
	sf, err := s.area.Save(name, r)
	if errors.Is(err, staging.ErrInvalidName) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	if err != nil {
		return nil, fmt.Errorf("staging %s: %w", name, err)
	}
	return sf, nil
}

func (s *Service) admitAll(ctx context.Context, n int, stageFn func(i int) (*staging.File, error)) (*Batch, error) {
	outcomes := make([]Outcome, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sf, err := stageFn(i)
			if err != nil {
				return err
			}
			out, err := s.admit(gctx, sf, s.cfg.BatchDedup)
			if err != nil {
				return err
			}
			outcomes[i] = *out
			return nil
		})
	}
	err := g.Wait()
	return &Batch{Outcomes: outcomes}, err
}

// admit runs the synchronous half of the lifecycle for a staged file. On
// every path that does not hand the file to the queue, the staged copy is
// removed before returning.
func (s *Service) admit(ctx context.Context, sf *staging.File, dedup bool) (*Outcome, error) {
	handedOff := false
	defer func() {
		if !handedOff {
			s.discard(sf)
		}
	}()

	id := uuid.New().String()
	fp := ""
	if dedup {
		var err error
		fp, err = fingerprint.File(sf.Path)
		if err != nil {
			return nil, fmt.Errorf("fingerprinting %s: %w", sf.Name, err)
		}
		id = fp

		exists, err := s.store.ExistsByFingerprint(ctx, fp)
		if err != nil {
			return nil, err
		}
		if exists {
			s.logger.Info("duplicate upload skipped", "filename", sf.Name, "file_hash", fp)
			return &Outcome{Filename: sf.Name, Duplicate: true}, nil
		}
	}

	if err := s.store.PutInitial(ctx, id, fp); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			s.logger.Info("duplicate upload lost insert race", "filename", sf.Name, "file_hash", fp)
			return &Outcome{Filename: sf.Name, Duplicate: true}, nil
		}
		return nil, err
	}

	task := queue.Task{
		ID:  id,
		Run: func(ctx context.Context) error { return s.process(ctx, id, sf) },
	}
	if err := s.queue.Submit(ctx, task); err != nil {
		s.logger.Error("could not schedule extraction", "id", id, "filename", sf.Name, "error", err)
		s.recordFailure(id, fmt.Sprintf("not scheduled: %v", err))
		return nil, fmt.Errorf("scheduling %s: %w", sf.Name, err)
	}
	handedOff = true

	s.logger.Info("upload admitted", "id", id, "filename", sf.Name, "size", sf.Size)
	return &Outcome{ID: id, Filename: sf.Name}, nil
}

// process is the deferred unit: extract, then record the result. The
// staged file is removed however it ends.
func (s *Service) process(ctx context.Context, id string, sf *staging.File) error {
	defer s.discard(sf)

	payload, err := s.extractor.Extract(ctx, sf.Path)
	if err != nil {
		s.logger.Warn("extraction failed", "id", id, "filename", sf.Name, "error", err)
		s.recordFailure(id, err.Error())
		return err
	}
	if payload.Filename() == "" {
		payload["filename"] = sf.Name
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()
	if err := s.store.MarkComplete(wctx, id, payload); err != nil {
		s.logger.Error("could not mark document complete", "id", id, "error", err)
		return err
	}
	s.logger.Info("document complete", "id", id, "filename", sf.Name)
	return nil
}

func (s *Service) recordFailure(id, reason string) {
	if !s.cfg.MarkFailed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := s.store.MarkFailed(ctx, id, reason); err != nil {
		s.logger.Error("could not mark document failed", "id", id, "error", err)
	}
}

func (s *Service) discard(sf *staging.File) {
	if err := s.area.Remove(sf); err != nil {
		s.logger.Warn("could not remove staged file", "path", sf.Path, "error", err)
	}
}
