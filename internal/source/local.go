// Package source loads site specific steps written as plain SQL files.
package source

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/denismitr/heron/internal/logger"
	"github.com/denismitr/heron/step"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const sqlExtension = ".sql"

var (
	ErrNotAStepFile     = errors.New("not a step file")
	ErrStepFileExists   = errors.New("step file already exists")
	ErrEmptyStepFile    = errors.New("step file is empty")
	ErrFolderIsNotValid = errors.New("steps folder is not valid")
)

// sale_stock@9.0.1.0-10.0.1.0_fix_lines.post.sql
var fileNameRegexp = regexp.MustCompile(
	`^(?P<module>[a-z0-9_]+)@(?P<from>\d+(?:\.\d+)*)-(?P<to>\d+(?:\.\d+)*)(?:_(?P<name>[\w-]+))?\.(?P<phase>pre|post|end)\.sql$`,
)

type Filter struct {
	Modules []string
}

// File describes one step file of the folder
type File struct {
	Path string
	Key  step.Key
	Name string
}

type LocalFileSource struct {
	folder string
	lg     logger.Logger
}

func NewLocalFSSource(folder string, lg logger.Logger) *LocalFileSource {
	if lg == nil {
		lg = logger.NullLogger{}
	}

	return &LocalFileSource{folder: folder, lg: lg}
}

func (lfs *LocalFileSource) IsValid() bool {
	info, err := os.Stat(lfs.folder)
	if os.IsNotExist(err) {
		return false
	}

	return err == nil && info.IsDir()
}

// FileName builds the name of a step file, name may be empty
func FileName(k step.Key, name string) string {
	var b strings.Builder
	b.WriteString(k.Module)
	b.WriteString("@")
	b.WriteString(k.From)
	b.WriteString("-")
	b.WriteString(k.To)
	if name != "" {
		b.WriteString("_")
		b.WriteString(name)
	}
	b.WriteString(".")
	b.WriteString(string(k.Phase))
	b.WriteString(sqlExtension)
	return b.String()
}

// Create writes an empty step file and returns its path
func (lfs *LocalFileSource) Create(k step.Key, name string) (string, error) {
	if !lfs.IsValid() {
		return "", errors.Wrapf(ErrFolderIsNotValid, "[%s]", lfs.folder)
	}

	path := filepath.Join(lfs.folder, FileName(k, name))
	if _, err := ParseFileName(path); err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return "", errors.Wrapf(ErrStepFileExists, "[%s]", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "could not create file [%s]", path)
	}

	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "could not close file [%s]", path)
	}

	return path, nil
}

// ParseFileName extracts the step identity from a step file path
func ParseFileName(path string) (File, error) {
	matches := fileNameRegexp.FindStringSubmatch(filepath.Base(path))
	if matches == nil {
		return File{}, errors.Wrapf(ErrNotAStepFile, "[%s]", filepath.Base(path))
	}

	group := func(name string) string {
		return matches[fileNameRegexp.SubexpIndex(name)]
	}

	return File{
		Path: path,
		Key: step.Key{
			Module: group("module"),
			From:   group("from"),
			To:     group("to"),
			Phase:  step.Phase(group("phase")),
		},
		Name: group("name"),
	}, nil
}

// List returns the step files of the folder matching the filter. Files with
// another extension are ignored, a misnamed sql file is an error.
func (lfs *LocalFileSource) List(f Filter) ([]File, error) {
	entries, err := ioutil.ReadDir(lfs.folder)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read steps folder [%s]", lfs.folder)
	}

	var result []File
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != sqlExtension {
			continue
		}

		file, err := ParseFileName(filepath.Join(lfs.folder, e.Name()))
		if err != nil {
			return nil, err
		}

		if len(f.Modules) > 0 && !contains(f.Modules, file.Key.Module) {
			continue
		}

		result = append(result, file)
	}

	sort.Slice(result, func(i, j int) bool {
		return filepath.Base(result[i].Path) < filepath.Base(result[j].Path)
	})

	return result, nil
}

// Select reads the step files matching the filter, concurrently, and turns
// every file into a step executing its contents
func (lfs *LocalFileSource) Select(ctx context.Context, f Filter) (step.Steps, error) {
	files, err := lfs.List(f)
	if err != nil {
		return nil, err
	}

	result := make(step.Steps, len(files))
	g, ctx := errgroup.WithContext(ctx)

	for i := range files {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			s, err := lfs.readOne(files[i])
			if err != nil {
				lfs.lg.Error(err)
				return err
			}

			result[i] = s
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}

func (lfs *LocalFileSource) readOne(file File) (*step.Step, error) {
	contents, err := ioutil.ReadFile(file.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read step file [%s]", file.Path)
	}

	query := strings.TrimSpace(string(contents))
	if query == "" {
		return nil, errors.Wrapf(ErrEmptyStepFile, "[%s]", file.Path)
	}

	var opts []step.OptionFunc
	if file.Name != "" {
		opts = append(opts, step.WithName(file.Name))
	}

	return step.New(file.Key.Module, file.Key.From, file.Key.To, file.Key.Phase, execFile(query), opts...)
}

// execFile runs the file contents as a single statement batch
func execFile(query string) step.Func {
	return func(ctx context.Context, s step.Session) error {
		_, err := s.Exec(ctx, query)
		return err
	}
}

func contains(haystack []string, needle string) bool {
	for i := range haystack {
		if haystack[i] == needle {
			return true
		}
	}
	return false
}
