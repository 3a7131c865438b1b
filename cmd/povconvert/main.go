// Command povconvert turns an ordinary GIF into the polar ".rgif" layout the
// wheel plays.
//
//	povconvert [flags] input.gif output.rgif
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/coreman2200/arcaluminis-pov/internal/convert"
)

func main() {
	def := convert.DefaultOptions()
	var (
		rows       = flag.Int("rows", def.Rows, "LEDs per arm")
		offset     = flag.Int("center-offset", def.CenterOffset, "LED positions missing at the hub")
		oversample = flag.Int("oversample", def.Oversample, "rays averaged per degree")
		size       = flag.Int("size", 0, "crop to a centred square of this size first (0 = off)")
		dither     = flag.Bool("dither", false, "Floyd-Steinberg dither the output")
		verbose    = flag.BoolP("verbose", "v", false, "log every frame")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] input.gif output.rgif\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	in, out := flag.Arg(0), flag.Arg(1)

	src, err := os.Open(in)
	if err != nil {
		log.Fatal().Err(err).Msg("open input")
	}
	defer src.Close()

	dst, err := os.Create(out)
	if err != nil {
		log.Fatal().Err(err).Msg("create output")
	}

	n, err := convert.Convert(src, dst, convert.Options{
		Rows:         *rows,
		CenterOffset: *offset,
		Oversample:   *oversample,
		Size:         *size,
		Dither:       *dither,
	}, log.Logger)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out)
		log.Fatal().Err(err).Str("input", in).Msg("convert failed")
	}
	log.Info().Int("frames", n).Str("output", out).Msg("converted")
}
