package truth

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"boardbrain/internal/boardview"
	"boardbrain/internal/kbtext"
	"boardbrain/internal/netname"
)

// BoardInput is the raw material for one board's ingest: an optional
// boardview file and any KB text documents.
type BoardInput struct {
	BoardviewData []byte
	KBTexts       []string
}

// Report summarizes one board's ingest outcome.
type Report struct {
	BoardID        string
	Source         Source
	Format         boardview.Format
	NetCount       int
	ComponentCount int
	Err            error
}

// Ingestor resolves each board's truth source once per ingest and commits
// the result through the store.
type Ingestor struct {
	store *Store
	log   *zap.Logger
}

func NewIngestor(store *Store, log *zap.Logger) *Ingestor {
	return &Ingestor{store: store, log: log}
}

// IngestBoard resolves the truth source for one board. A boardview file
// that parses wins; a file that fails to parse retains whatever cache the
// board already has and reports the parse error. Without a boardview file,
// non-empty KB extraction yields kb_fallback, and an empty extraction
// records source none.
func (in *Ingestor) IngestBoard(ctx context.Context, boardID string, input BoardInput) Report {
	rep := Report{BoardID: boardID, Source: SourceNone}
	if err := ctx.Err(); err != nil {
		rep.Err = err
		return rep
	}

	if len(input.BoardviewData) > 0 {
		board, err := boardview.Parse(input.BoardviewData)
		if err != nil {
			// Parse failure never clears an existing cache.
			prev, serr := in.store.Source(boardID)
			if serr == nil && prev != SourceNone {
				in.log.Warn("stale cache retained after parse failure",
					zap.String("board_id", boardID),
					zap.String("prior_source", string(prev)),
					zap.Error(err))
			}
			rep.Source = prevOrNone(prev, serr)
			rep.Err = err
			return rep
		}
		if err := in.store.CommitBoardview(boardID, board); err != nil {
			rep.Err = err
			return rep
		}
		rep.Source = SourceBoardview
		rep.Format = board.Format
		rep.NetCount = len(board.Nets)
		rep.ComponentCount = len(board.Components)
		return rep
	}

	nets := kbtext.ExtractNets(input.KBTexts)
	if len(nets) > 0 {
		knownNets := make(map[string]bool, len(nets))
		for n := range nets {
			knownNets[n] = true
		}
		components := mineComponents(input.KBTexts)
		knownRefdes := make(map[string]bool, len(components))
		for _, r := range components {
			knownRefdes[r] = true
		}
		refs, meta := kbtext.BuildNetRefs(input.KBTexts, knownNets, knownRefdes)
		if err := in.store.CommitKBFallback(boardID, nets, components, refs); err != nil {
			rep.Err = err
			return rep
		}
		in.log.Info("kb fallback ingested",
			zap.String("board_id", boardID),
			zap.Int("nets", len(nets)),
			zap.Int("pairs", meta.PairCount))
		rep.Source = SourceKBFallback
		rep.NetCount = len(nets)
		rep.ComponentCount = len(components)
		return rep
	}

	if err := in.store.CommitNone(boardID); err != nil {
		rep.Err = err
	}
	return rep
}

// IngestBatch runs per-board ingests concurrently. One board's failure is
// recorded in its report and never cancels or mutates the others.
func (in *Ingestor) IngestBatch(ctx context.Context, inputs map[string]BoardInput) []Report {
	ids := make([]string, 0, len(inputs))
	for id := range inputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	reports := make([]Report, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			reports[i] = in.IngestBoard(gctx, id, inputs[id])
			return nil
		})
	}
	g.Wait()
	return reports
}

func prevOrNone(prev Source, err error) Source {
	if err != nil {
		return SourceNone
	}
	return prev
}

// mineComponents extracts the refdes vocabulary from KB texts. In fallback
// mode there is no authoritative component index, so any well-formed
// refdes token seen at least twice counts.
func mineComponents(texts []string) []string {
	counts := make(map[string]int)
	for _, text := range texts {
		for _, raw := range netname.RefdesPattern.FindAllString(text, -1) {
			counts[strings.ToUpper(raw)]++
		}
	}
	var out []string
	for refdes, n := range counts {
		if n >= 2 {
			out = append(out, refdes)
		}
	}
	sort.Strings(out)
	return out
}
