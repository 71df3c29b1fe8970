package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lox/bingohall/internal/fileutil"
)

// DirStore writes one <round>.json per round under a directory.
type DirStore struct {
	dir string
}

var _ SummaryStore = (*DirStore)(nil)

func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

func (s *DirStore) SaveRound(ctx context.Context, sum Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(sum.RoundID)
	if err != nil {
		return err
	}
	sum.CalledNumbers = nonNil(sum.CalledNumbers)
	sum.Winners = nonNil(sum.Winners)
	return fileutil.WriteJSON(path, sum)
}

// LoadRound reads a summary back.
func (s *DirStore) LoadRound(_ context.Context, roundID string) (Summary, error) {
	path, err := s.path(roundID)
	if err != nil {
		return Summary{}, err
	}
	var sum Summary
	if err := fileutil.ReadJSON(path, &sum); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Summary{}, fmt.Errorf("%w: %s", ErrNotFound, roundID)
		}
		return Summary{}, err
	}
	return sum, nil
}

func (s *DirStore) path(roundID string) (string, error) {
	if roundID == "" || strings.ContainsAny(roundID, `/\.`) {
		return "", fmt.Errorf("invalid round id %q", roundID)
	}
	return filepath.Join(s.dir, roundID+".json"), nil
}
