// Command maptool converts a planetary-scale OpenStreetMap extract into a
// compact, tiled, zip-packaged binary map archive, driving the five
// resumable phases internal/pipeline wires together.
package main

import (
	"context"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"

	"github.com/navit-project/maptool/internal/archivezip"
	"github.com/navit-project/maptool/internal/config"
	"github.com/navit-project/maptool/internal/country"
	"github.com/navit-project/maptool/internal/decode"
	"github.com/navit-project/maptool/internal/pipeline"
	"github.com/navit-project/maptool/internal/rulemap"
	"github.com/navit-project/maptool/internal/tile"
	"github.com/navit-project/maptool/internal/tmpfile"
)

func main() {
	f, archivePath, err := parseFlags(os.Args[1:])
	if err != nil {
		usage()
		os.Exit(1)
	}

	// TODO(-R): maptool.c accepts an undocumented -R flag alongside -r;
	// its effect was never recovered from the available sources. Left
	// unimplemented rather than guessed (see SPEC_FULL.md Supplemented Features).

	opts := resolveOptions(f)
	opts.OutputPath = archivePath

	cleanup := grail.Init()
	defer cleanup()
	ctx := vcontext.Background()

	if f.o5m || f.protobuf {
		log.Error.Printf("fatal: o5m/PBF decoding is not bundled with this build (spec leaves real OSM parsers external)")
		os.Exit(1)
	}

	input := os.Stdin
	if opts.InputFile != "" {
		in, err := os.Open(opts.InputFile)
		if err != nil {
			log.Error.Printf("fatal: %v", err)
			os.Exit(255) // spec §6 "-1" input file missing
		}
		defer in.Close()
		input = in
	}
	stream := decode.NewLineProtocol(input)

	hash, err := ruleFileHash(opts.RuleFile)
	if err != nil {
		log.Error.Printf("fatal: reading rule file: %v", err)
		os.Exit(1)
	}
	var rules rulemap.Table = rulemap.Neutral
	if opts.RuleFile != "" {
		log.Printf("rule file %s recognized but no rule-table loader is bundled; falling back to the neutral table (spec §1 out of scope)", opts.RuleFile)
	}
	if opts.Plugin != "" {
		log.Printf("plugin %s recognized but plugin loading is not bundled with this build (spec §1 out of scope)", opts.Plugin)
	}

	cc := config.New(opts)
	reg := tmpfile.NewRegistry(".")

	params := pipeline.Params{
		Stream:       stream,
		Rules:        rules,
		RuleFileHash: hash,
		ArchivePath:  opts.OutputPath,
		Country:      country.Options{UnknownCountry: opts.UnknownCountry},
		Tile:         tile.DefaultOptions(),
		Package: archivezip.PackageOptions{
			Archive: archivezip.Options{
				Level:         opts.CompressionLevel,
				Zip64:         opts.Zip64,
				MaxNameLen:    255,
				MD5Sidecar:    opts.MD5File != "",
				MD5Path:       opts.MD5File,
				KeepOnFailure: opts.KeepTmpfiles,
			},
			Info: archivezip.MapInfo{URL: opts.URL},
		},
	}

	if err := run(ctx, cc, reg, params); err != nil {
		log.Error.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cc *config.Context, reg *tmpfile.Registry, params pipeline.Params) error {
	return pipeline.Run(ctx, cc, reg, params)
}
