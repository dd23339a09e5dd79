package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/rs/zerolog"
	"github.com/tarstars/recommendation_tree/golang/rectree/features"
	"github.com/tarstars/recommendation_tree/golang/rectree/journal"
	"github.com/tarstars/recommendation_tree/golang/rectree/logging"
	"github.com/tarstars/recommendation_tree/golang/rectree/metrics"
	"github.com/tarstars/recommendation_tree/golang/rectree/playlists"
	"github.com/tarstars/recommendation_tree/golang/rectree/rtl"
	"gonum.org/v1/gonum/mat"
)

// Catalog resolves catalog playlists to tracks and tracks to audio features.
type Catalog interface {
	PlaylistTrackIDs(ctx context.Context, playlistID string) ([]string, error)
	TrackFeatures(ctx context.Context, ids []string) ([]*features.AudioFeatures, error)
}

// Reducer maps scaled feature rows to the columns the tree is trained on.
type Reducer interface {
	Transform(m *mat.Dense) (*mat.Dense, error)
}

// Journal records handled requests.
type Journal interface {
	Record(ctx context.Context, entry journal.Entry) (int64, error)
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Stage names the step of request handling that failed.
type Stage int

const (
	StageTrackIDs Stage = iota
	StageFeatures
	StageTree
)

func (s Stage) String() string {
	switch s {
	case StageTrackIDs:
		return "track ids"
	case StageFeatures:
		return "track features"
	default:
		return "tree"
	}
}

// StageError wraps a failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ErrMissingPlaylist is returned for an empty playlist id.
var ErrMissingPlaylist = errors.New("playlist id is required")

// Deps are the collaborators of a Service. Reducer and Journal are optional.
type Deps struct {
	Tree    *rtl.SafeTree
	Catalog Catalog
	Dump    playlists.Dump
	Reducer Reducer
	Journal Journal
	// RecommendMutates makes Recommend push the playlist into the tree
	RecommendMutates bool
	Logger           zerolog.Logger
}

// Service owns the tree and every collaborator needed to turn a playlist id into tree input.
type Service struct {
	tree             *rtl.SafeTree
	catalog          Catalog
	dump             playlists.Dump
	reducer          Reducer
	journal          Journal
	recommendMutates bool
	logger           zerolog.Logger
}

func NewService(deps Deps) *Service {
	return &Service{
		tree:             deps.Tree,
		catalog:          deps.Catalog,
		dump:             deps.Dump,
		reducer:          deps.Reducer,
		journal:          deps.Journal,
		recommendMutates: deps.RecommendMutates,
		logger:           deps.Logger,
	}
}

// Push inserts the playlist into the tree.
func (s *Service) Push(ctx context.Context, playlistID string) error {
	start := time.Now()
	rows, _, err := s.handle(ctx, playlistID, false)
	metrics.RecordTreeOperation("push", time.Since(start), err)
	s.record(ctx, journal.KindPush, playlistID, rows, nil, err)
	return err
}

// Recommend returns the label of the leaf the playlist routes to, or nil when the tree
// had nothing to recommend yet. Depending on configuration the playlist is pushed as well.
func (s *Service) Recommend(ctx context.Context, playlistID string) (*string, error) {
	start := time.Now()
	rows, recommended, err := s.handle(ctx, playlistID, true)
	operation := "recommend"
	if !s.recommendMutates {
		operation = "query"
	}
	metrics.RecordTreeOperation(operation, time.Since(start), err)
	s.record(ctx, journal.KindRecommend, playlistID, rows, recommended, err)
	return recommended, err
}

func (s *Service) handle(ctx context.Context, playlistID string, recommend bool) (int, *string, error) {
	if playlistID == "" {
		return 0, nil, ErrMissingPlaylist
	}
	data, err := s.Prepare(ctx, playlistID)
	if err != nil {
		return 0, nil, err
	}
	rows := rtl.Height(data)

	if recommend && !s.recommendMutates {
		label, err := s.tree.Query(data)
		if err != nil {
			return rows, nil, &StageError{Stage: StageTree, Err: err}
		}
		return rows, &label, nil
	}

	label, found, err := s.tree.Push(data, playlistID, recommend)
	if err != nil {
		return rows, nil, &StageError{Stage: StageTree, Err: err}
	}
	stats := s.tree.Stats()
	metrics.UpdateTreeShape(stats.Leaves, stats.Splits, stats.Depth)
	if !found {
		return rows, nil, nil
	}
	return rows, &label, nil
}

// Prepare resolves the tracks of a playlist and turns their features into tree input:
// one row per track, standardised and reduced.
func (s *Service) Prepare(ctx context.Context, playlistID string) (*mat.Dense, error) {
	ids, err := s.trackIDs(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	found, err := s.catalog.TrackFeatures(ctx, ids)
	if err != nil {
		return nil, &StageError{Stage: StageFeatures, Err: err}
	}
	table, err := features.Table(found)
	if err != nil {
		return nil, &StageError{Stage: StageFeatures, Err: err}
	}
	scaled, err := features.Scale(table)
	if err != nil {
		return nil, &StageError{Stage: StageFeatures, Err: err}
	}
	if s.reducer == nil {
		return scaled, nil
	}
	reduced, err := s.reducer.Transform(scaled)
	if err != nil {
		return nil, &StageError{Stage: StageFeatures, Err: err}
	}
	return reduced, nil
}

func (s *Service) trackIDs(ctx context.Context, playlistID string) ([]string, error) {
	if playlists.IsDumpID(playlistID) {
		ids, err := s.dump.TrackIDs(playlistID)
		if err != nil {
			return nil, err
		}
		return ids, nil
	}
	ids, err := s.catalog.PlaylistTrackIDs(ctx, playlistID)
	if err != nil {
		return nil, &StageError{Stage: StageTrackIDs, Err: err}
	}
	return ids, nil
}

func (s *Service) record(ctx context.Context, kind journal.Kind, playlistID string, rows int, recommended *string, err error) {
	event := logging.Ctx(ctx).Info()
	if err != nil {
		event = logging.Ctx(ctx).Warn().Err(err)
	}
	event.Str("kind", string(kind)).Str("playlist", playlistID).Int("rows", rows).Msg("request handled")

	if s.journal == nil {
		return
	}
	entry := journal.Entry{
		RequestID:   logging.RequestIDFromContext(ctx),
		Playlist:    playlistID,
		Kind:        kind,
		Recommended: recommended,
		Rows:        rows,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	// journal failures are logged, never returned
	if _, recordErr := s.journal.Record(context.WithoutCancel(ctx), entry); recordErr != nil {
		s.logger.Error().Err(recordErr).Str("playlist", playlistID).Msg("journal write failed")
	}
}

func (s *Service) Stats() rtl.Stats {
	return s.tree.Stats()
}

func (s *Service) Render(w io.Writer, format graphviz.Format) error {
	return s.tree.Render(w, format)
}

// History returns the most recent journal entries; without a journal it is empty.
func (s *Service) History(ctx context.Context, limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return []journal.Entry{}, nil
	}
	return s.journal.Recent(ctx, limit)
}
