package main

import (
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/navit-project/maptool/internal/config"
)

// cliFlags mirrors spec §6's CLI surface table one field per flag, kept
// separate from config.Options so flag registration stays in one place
// and translation to Options happens explicitly in resolveOptions.
type cliFlags struct {
	md5            string
	zip64          bool
	attrDebugLevel int
	dumpCoords     bool
	endPhase       int
	startPhase     int
	inputFile      string
	ruleFile       string
	sliceSize      int64
	o5m            bool
	protobuf       bool
	dedupeWays     bool
	nodesOnly      bool
	waysOnly       bool
	unknownCountry bool
	compression    int
	keepTmpfiles   bool
	plugin         string
	ignoreUnknown  bool
	url            string
}

func usage() {
	fmt.Fprintf(os.Stderr, `maptool converts an OpenStreetMap extract into a tiled binary map archive.

Usage: maptool [flags] <output.zip>

  -5, --md5 path              write final archive MD5 to path
  -6, --64bit                 enable Zip64
  -a, --attr-debug-level int  accepted but ignored; no debug attributes are emitted
  -c, --dump-coordinates      accepted but ignored; no coordinate dump is written
  -e, --end 1..5              stop after this phase
  -s, --start 1..5            resume from this phase (requires prior temp files)
  -i, --input-file path       input; default stdin
  -r, --rule-file path        tag->item mapping rules
  -S, --slice-size bytes      coord buffer size; default 1 GiB
  -M, --o5m                   input is o5m
  -P, --protobuf              input is OSM PBF
  -w, --dedupe-ways           enable dedupe set
  -N, --nodes-only            process nodes only
  -W, --ways-only             process ways only
  -U, --unknown-country       retain items with no country match
  -z, --compression-level 0..9  deflate level
  -k, --keep-tmpfiles         retain temp files for resume
  -p, --plugin path           load external plugin
  -u, --url string            URL recorded in the map_information entry
  -n, --ignore-unknown        drop entities with no rule match instead of a neutral type
`)
}

// parseFlags registers every flag spec §6 names, plus the two this repo's
// expansion adds (-u/--url, -n/--ignore-unknown; see SPEC_FULL.md), on both
// their short and long spellings bound to the same variable.
func parseFlags(args []string) (cliFlags, string, error) {
	var f cliFlags
	fs := flag.NewFlagSet("maptool", flag.ContinueOnError)
	fs.Usage = usage

	str := func(short, long, def, desc string) *string {
		v := new(string)
		fs.StringVar(v, short, def, desc)
		fs.StringVar(v, long, def, desc)
		return v
	}
	boolean := func(short, long string, desc string) *bool {
		v := new(bool)
		fs.BoolVar(v, short, false, desc)
		fs.BoolVar(v, long, false, desc)
		return v
	}
	intv := func(short, long string, def int, desc string) *int {
		v := new(int)
		fs.IntVar(v, short, def, desc)
		fs.IntVar(v, long, def, desc)
		return v
	}

	md5 := str("5", "md5", "", "write final archive MD5 to path")
	zip64 := boolean("6", "64bit", "enable Zip64")
	attrDebug := intv("a", "attr-debug-level", 0, "accepted but ignored; no debug attributes are emitted")
	dump := boolean("c", "dump-coordinates", "accepted but ignored; no coordinate dump is written")
	end := intv("e", "end", 5, "stop after this phase (1-5)")
	start := intv("s", "start", 1, "resume from this phase (1-5)")
	input := str("i", "input-file", "", "input file; default stdin")
	ruleFile := str("r", "rule-file", "", "tag->item mapping rules")
	slice := fs.Int64("S", 0, "coord buffer size in bytes; default 1 GiB")
	fs.Int64Var(slice, "slice-size", 0, "coord buffer size in bytes; default 1 GiB")
	o5m := boolean("M", "o5m", "input is o5m")
	pbf := boolean("P", "protobuf", "input is OSM PBF")
	dedupe := boolean("w", "dedupe-ways", "enable dedupe set")
	nodesOnly := boolean("N", "nodes-only", "process nodes only")
	waysOnly := boolean("W", "ways-only", "process ways only")
	unknownCountry := boolean("U", "unknown-country", "retain items with no country match")
	compression := intv("z", "compression-level", 9, "deflate level 0-9")
	keep := boolean("k", "keep-tmpfiles", "retain temp files for resume")
	plugin := str("p", "plugin", "", "load external plugin")
	url := str("u", "url", "", "URL recorded in the map_information entry")
	ignoreUnknown := boolean("n", "ignore-unknown", "drop entities with no rule match")

	if err := fs.Parse(args); err != nil {
		return f, "", err
	}

	f = cliFlags{
		md5:            *md5,
		zip64:          *zip64,
		attrDebugLevel: *attrDebug,
		dumpCoords:     *dump,
		endPhase:       *end,
		startPhase:     *start,
		inputFile:      *input,
		ruleFile:       *ruleFile,
		sliceSize:      *slice,
		o5m:            *o5m,
		protobuf:       *pbf,
		dedupeWays:     *dedupe,
		nodesOnly:      *nodesOnly,
		waysOnly:       *waysOnly,
		unknownCountry: *unknownCountry,
		compression:    *compression,
		keepTmpfiles:   *keep,
		plugin:         *plugin,
		ignoreUnknown:  *ignoreUnknown,
		url:            *url,
	}

	var archivePath string
	if fs.NArg() > 0 {
		archivePath = fs.Arg(0)
	} else if !f.dumpCoords {
		return f, "", fmt.Errorf("missing output archive path")
	}
	return f, archivePath, nil
}

// resolveOptions translates cliFlags into config.Options, applying the
// same defaults maptool.c hardcodes (spec §9 "Ambient globals").
func resolveOptions(f cliFlags) config.Options {
	opts := config.DefaultOptions()
	opts.MD5File = f.md5
	opts.Zip64 = f.zip64
	opts.AttrDebugLevel = f.attrDebugLevel
	opts.DumpCoordinates = f.dumpCoords
	if f.startPhase > 0 {
		opts.StartPhase = f.startPhase
	}
	if f.endPhase > 0 {
		opts.EndPhase = f.endPhase
	}
	opts.InputFile = f.inputFile
	opts.RuleFile = f.ruleFile
	if f.sliceSize > 0 {
		opts.SliceSize = f.sliceSize
	}
	opts.O5M = f.o5m
	opts.Protobuf = f.protobuf
	opts.DedupeWays = f.dedupeWays
	opts.UnknownCountry = f.unknownCountry
	opts.CompressionLevel = f.compression
	opts.KeepTmpfiles = f.keepTmpfiles
	opts.Plugin = f.plugin
	opts.IgnoreUnknown = f.ignoreUnknown
	opts.URL = f.url

	opts.ProcessNodes = true
	opts.ProcessWays = true
	if f.nodesOnly {
		opts.ProcessWays = false
	}
	if f.waysOnly {
		opts.ProcessNodes = false
	}
	return opts
}

// ruleFileHash is folded into the resume manifest so a `--start` resume
// against a changed rule file is refused (spec §9 "requires the manifest
// to show ... matching hash").
func ruleFileHash(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
