// xmaxdata loads a waveform data directory and inspects, exports, or
// dumps its channels from the command line.
//
// Usage:
//
//	xmaxdata [flags] list               list channels with ranges and gaps
//	xmaxdata [flags] sources            list registered data sources
//	xmaxdata [flags] stations           list stations from the station file
//	xmaxdata [flags] span               print the aggregate data range
//	xmaxdata [flags] export             export one channel slice (see -channel, -format)
//	xmaxdata [flags] dump               serialize all channels to temp storage
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/agonzales-usgs/xmax-1.07/internal/config"
	"github.com/agonzales-usgs/xmax-1.07/internal/event"
	"github.com/agonzales-usgs/xmax-1.07/internal/export"
	"github.com/agonzales-usgs/xmax-1.07/internal/logging"
	"github.com/agonzales-usgs/xmax-1.07/internal/registry"
	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dataDir := flag.String("data", "", "data directory (overrides config)")
	tempDir := flag.String("temp", "", "temp storage directory (overrides config)")
	useTemp := flag.Bool("use-temp", false, "restore channels from temp storage first")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	logJSON := flag.Bool("log-json", false, "JSON log output")

	channel := flag.String("channel", "", "channel for export: NET.STA.LOC.CHA")
	format := flag.String("format", "ascii", "export format: mseed, ascii, xml, sac, parquet")
	from := flag.String("from", "", "slice start (RFC3339 or Unix ms; default: all data)")
	to := flag.String("to", "", "slice end (RFC3339 or Unix ms; default: all data)")
	out := flag.String("out", "", "export output file (default: stdout)")
	flag.Parse()

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			fatal("load config: %v", err)
		}
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *tempDir != "" {
		cfg.TempDir = *tempDir
	}
	if *useTemp {
		cfg.UseTempData = true
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logJSON {
		cfg.Logging.JSON = true
	}
	if err := cfg.Validate(); err != nil {
		fatal("config: %v", err)
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)
	log := logging.Component("main")
	log.Info("xmaxdata starting", "version", Version, "data_dir", cfg.DataDir)

	if err := cfg.EnsureDirectories(); err != nil {
		fatal("%v", err)
	}

	bus := event.NewBus()
	defer bus.Close()
	reg := registry.New(cfg, bus)

	ctx := context.Background()
	if err := reg.LoadData(ctx); err != nil {
		fatal("load data: %v", err)
	}

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "list"
	}

	switch cmd {
	case "list":
		listChannels(ctx, reg)
	case "sources":
		listSources(reg)
	case "stations":
		listStations(reg)
	case "span":
		printSpan(reg)
	case "export":
		runExport(ctx, reg, *channel, *format, *from, *to, *out)
	case "dump":
		if err := reg.DumpData(ctx, nil); err != nil {
			fatal("dump: %v", err)
		}
		fmt.Printf("dumped to %s\n", cfg.TempDir)
	default:
		fatal("unknown command %q", cmd)
	}
}

func listChannels(ctx context.Context, reg *registry.Registry) {
	for _, ch := range reg.AllChannels() {
		iv, ok := ch.TimeRange()
		if !ok {
			fmt.Printf("%-20s (no data)\n", ch.Name())
			continue
		}
		n, err := ch.DataLength(ctx, iv)
		if err != nil {
			fmt.Printf("%-20s %s rate=%g (length unavailable: %v)\n", ch.Name(), iv, ch.SampleRate(), err)
			continue
		}
		fmt.Printf("%-20s %s rate=%g segments=%d samples=%d\n",
			ch.Name(), iv, ch.SampleRate(), ch.SegmentCount(), n)
	}
}

func listSources(reg *registry.Registry) {
	for _, src := range reg.AllSources() {
		fmt.Printf("%s\t%s\n", src.Name(), src.Key())
	}
}

func listStations(reg *registry.Registry) {
	for _, s := range reg.AllStations() {
		fmt.Printf("%-8s %-8s lat=%g lon=%g elev=%g %s\n",
			s.Name, s.Network, s.Latitude, s.Longitude, s.Elevation, s.LongName)
	}
}

func printSpan(reg *registry.Registry) {
	if iv, ok := reg.AllDataTimeInterval(); ok {
		fmt.Println(iv)
		return
	}
	fmt.Println("(no data)")
}

func runExport(ctx context.Context, reg *registry.Registry, channelName, format, from, to, out string) {
	if channelName == "" {
		fatal("export requires -channel NET.STA.LOC.CHA")
	}

	var target *waveform.Channel
	for _, ch := range reg.AllChannels() {
		if ch.Name() == channelName {
			target = ch
			break
		}
	}
	if target == nil {
		fatal("channel %s not found", channelName)
	}

	iv := waveform.TimeInterval{Start: math.MinInt64, End: math.MaxInt64}
	if full, ok := target.TimeRange(); ok {
		iv = full
	}
	if from != "" {
		iv.Start = parseTimeMs(from)
	}
	if to != "" {
		iv.End = parseTimeMs(to)
	}

	w := os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			fatal("create %s: %v", out, err)
		}
		defer f.Close()
		w = f
	}

	var err error
	switch format {
	case "mseed":
		err = export.DumpMseed(ctx, w, target, iv, nil)
	case "ascii":
		err = export.DumpASCII(ctx, w, target, iv, nil)
	case "xml":
		err = export.DumpXML(ctx, w, target, iv, nil)
	case "sac":
		err = export.DumpSacAscii(ctx, w, target, iv, nil)
	case "parquet":
		err = export.DumpParquet(ctx, w, target, iv, nil)
	default:
		fatal("unknown format %q", format)
	}
	if err != nil {
		fatal("export: %v", err)
	}
}

// parseTimeMs accepts RFC3339 timestamps or raw Unix milliseconds.
func parseTimeMs(s string) int64 {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli()
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fatal("cannot parse time %q (want RFC3339 or Unix ms)", s)
	}
	return ms
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "xmaxdata: "+format+"\n", args...)
	os.Exit(1)
}
