// Package pipeline drives the five resumable phases spec §2's component
// table lays out end to end: entity ingest + reference resolution (phase
// 1, C3+C4), intersection splitting (phase 2, C5), country sorting plus
// turn restriction resolution (phase 3, C6+C7), tile assembly (phase 4,
// C8), and zip packaging (phase 5, C9). Phases execute strictly
// sequentially (spec §5): nothing in this package runs two phases
// concurrently.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/grailbio/base/log"

	"github.com/navit-project/maptool/internal/archivezip"
	"github.com/navit-project/maptool/internal/config"
	"github.com/navit-project/maptool/internal/coordbuf"
	"github.com/navit-project/maptool/internal/country"
	"github.com/navit-project/maptool/internal/decode"
	"github.com/navit-project/maptool/internal/ingest"
	"github.com/navit-project/maptool/internal/perr"
	"github.com/navit-project/maptool/internal/resolve"
	"github.com/navit-project/maptool/internal/rulemap"
	"github.com/navit-project/maptool/internal/splitter"
	"github.com/navit-project/maptool/internal/tile"
	"github.com/navit-project/maptool/internal/tmpfile"
	"github.com/navit-project/maptool/internal/turnrestriction"
)

// coordsPath is coords.tmp's fixed name (spec §6 temp file layout);
// unlike every other spool it isn't registered as a tmpfile.Base since C1
// owns its own positioned-write format rather than the registry's recordio
// framing (see coordbuf package doc).
func coordsPath(reg *tmpfile.Registry) string {
	return filepath.Join(reg.Dir(), "coords.tmp")
}

const (
	PhaseIngest  = 1 // C3 + C4
	PhaseSplit   = 2 // C5
	PhaseCountry = 3 // C6 + C7
	PhaseTile    = 4 // C8
	PhaseArchive = 5 // C9
)

// Params bundles every external collaborator a Run needs beyond cc/reg,
// since decode.Stream, rulemap.Table and the rule file hash are supplied
// by the caller rather than constructed here (spec §1 "out of scope").
type Params struct {
	Stream       decode.Stream
	Rules        rulemap.Table
	RuleFileHash string
	ArchivePath  string
	Country      country.Options
	Tile         tile.Options
	Package      archivezip.PackageOptions
}

// Run executes cc.Opts.StartPhase..cc.Opts.EndPhase in order, validating
// and writing the resume manifest at each boundary (spec §9 "formalize as
// an explicit manifest written at each phase boundary").
func Run(ctx context.Context, cc *config.Context, reg *tmpfile.Registry, p Params) error {
	suffix := tmpfile.DefaultSuffix
	start, end := cc.Opts.StartPhase, cc.Opts.EndPhase
	if end > PhaseArchive {
		end = PhaseArchive
	}

	var coords *coordbuf.Buffer
	if start > PhaseIngest {
		m, err := reg.ReadManifest(ctx)
		if err != nil {
			return err
		}
		if err := m.ValidateResume(start, p.RuleFileHash); err != nil {
			return err
		}
		buf, err := coordbuf.New(coordsPath(reg), cc.Opts.SliceSize)
		if err != nil {
			return err
		}
		buf.SetSlices(m.Slices)
		coords = buf
	} else {
		buf, err := coordbuf.New(coordsPath(reg), cc.Opts.SliceSize)
		if err != nil {
			return err
		}
		coords = buf
	}
	defer coords.Close()

	stopTicker := startProgressTicker(cc)
	defer stopTicker()

	if start <= PhaseIngest && PhaseIngest <= end {
		cc.Counters.SetPhase(PhaseIngest)
		if p.Stream == nil {
			return perr.New(perr.UsageError, "phase 1 requires an input stream", nil)
		}
		if _, err := ingest.Ingest(ctx, cc, reg, coords, p.Rules, p.Stream, ingest.Options{
			ProcessNodes:     cc.Opts.ProcessNodes,
			ProcessWays:      cc.Opts.ProcessWays,
			ProcessRelations: cc.Opts.ProcessRelations,
			IgnoreUnknown:    cc.Opts.IgnoreUnknown,
			DedupeWays:       cc.Opts.DedupeWays,
		}); err != nil {
			return err
		}
		if err := resolve.Resolve(ctx, reg, coords, suffix, cc.Opts.KeepTmpfiles); err != nil {
			return err
		}
		if err := checkpoint(ctx, reg, cc, PhaseIngest, coords.Slices(), p.RuleFileHash); err != nil {
			return err
		}
	}

	if start <= PhaseSplit && PhaseSplit <= end {
		cc.Counters.SetPhase(PhaseSplit)
		if _, err := splitter.Split(ctx, reg, suffix); err != nil {
			return err
		}
		if err := checkpoint(ctx, reg, cc, PhaseSplit, coords.Slices(), p.RuleFileHash); err != nil {
			return err
		}
	}

	if start <= PhaseCountry && PhaseCountry <= end {
		cc.Counters.SetPhase(PhaseCountry)
		if _, err := country.Sort(ctx, reg, suffix, p.Country); err != nil {
			return err
		}
		if _, err := turnrestriction.Resolve(ctx, reg, suffix); err != nil {
			return err
		}
		if err := checkpoint(ctx, reg, cc, PhaseCountry, coords.Slices(), p.RuleFileHash); err != nil {
			return err
		}
	}

	if start <= PhaseTile && PhaseTile <= end {
		cc.Counters.SetPhase(PhaseTile)
		res, err := tile.Assemble(ctx, reg, suffix, p.Tile)
		if err != nil {
			return err
		}
		cc.Counters.AddTiles(int64(res.Tiles))
		if err := checkpoint(ctx, reg, cc, PhaseTile, coords.Slices(), p.RuleFileHash); err != nil {
			return err
		}
	}

	if start <= PhaseArchive && PhaseArchive <= end {
		cc.Counters.SetPhase(PhaseArchive)
		if p.ArchivePath == "" {
			return perr.New(perr.UsageError, "phase 5 requires an output archive path", nil)
		}
		if _, err := archivezip.Package(ctx, reg, suffix, p.ArchivePath, p.Package); err != nil {
			return err
		}
		if err := checkpoint(ctx, reg, cc, PhaseArchive, coords.Slices(), p.RuleFileHash); err != nil {
			return err
		}
	}

	if !cc.Opts.KeepTmpfiles && end >= PhaseArchive {
		cleanup(reg, suffix)
		coords.Remove()
	}
	return nil
}

func checkpoint(ctx context.Context, reg *tmpfile.Registry, cc *config.Context, phase int, slices int, ruleFileHash string) error {
	return reg.WriteManifest(ctx, tmpfile.Manifest{
		Phase:        phase,
		Slices:       slices,
		Suffixes:     []string{string(tmpfile.DefaultSuffix)},
		RuleFileHash: ruleFileHash,
	})
}

// cleanup removes every intermediate spool once the archive has been
// written (spec §7 "otherwise failure is terminal and temp files are
// cleaned"; the same policy applies to a clean run that didn't ask to keep
// them).
func cleanup(reg *tmpfile.Registry, suffix tmpfile.Suffix) {
	reg.UnlinkAll(suffix,
		tmpfile.BaseWays, tmpfile.BaseWaysToResolve, tmpfile.BaseWaysSplit,
		tmpfile.BaseWaysSplitIndex, tmpfile.BaseWaysSplitRef, tmpfile.BaseNodes,
		tmpfile.BaseRelations, tmpfile.BaseTurnRestrictions, tmpfile.BaseBoundaries,
		tmpfile.BaseCoastline, tmpfile.BaseWay2POI, tmpfile.BaseWay2POIResolved,
		tmpfile.BaseGraph, tmpfile.BaseTilesDir, tmpfile.BaseZipDir, tmpfile.BaseIndex,
	)
	tilesDir := filepath.Join(reg.Dir(), "tilesdir")
	if err := os.RemoveAll(tilesDir); err != nil {
		log.Error.Printf("cleanup %s: %v", tilesDir, err)
	}
}

// startProgressTicker prints a PROGRESS<phase> line on a fixed interval
// from a snapshot of cc.Counters, matching spec §5's timer-callback model
// ("the timer handler must not touch file state") and spec §6's protocol
// line shape.
func startProgressTicker(cc *config.Context) func() {
	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(2 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s := cc.Counters.Snapshot()
				log.Error.Printf("PROGRESS%d: Processed %d nodes (%d out) %d ways %d relations %d tiles",
					s.Phase, s.ProcessedNodes, s.ProcessedNodesOut, s.ProcessedWays, s.ProcessedRelations, s.ProcessedTiles)
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}
