// Command segmentlookup prints the segment a vehicle is travelling, given its
// route and the next two stops, from a feed's generated segments.json.
package main

import (
	"encoding/json"
	"flag"
	"os"

	"go.uber.org/zap"

	"gtfs-segments/internal/export"
)

func main() {
	outputDir := flag.String("output", "data", "directory holding the generated feeds")
	feed := flag.String("feed", "", "feed name")
	route := flag.String("route", "", "route id")
	next := flag.String("next", "", "canonical id of the stop being approached")
	afterNext := flag.String("after", "", "canonical id of the stop after next, empty at the end of a trip")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *feed == "" || *route == "" || *next == "" {
		logger.Error("missing required flag")
		flag.Usage()
		os.Exit(2)
	}

	doc, err := export.ReadDocument(*outputDir, *feed)
	if err != nil {
		logger.Fatal("unable to read segments", zap.String("feed", *feed), zap.Error(err))
	}

	key, seg, ok := doc.Lookup(*route, *next, *afterNext)
	if !ok {
		logger.Warn("no segment for route and stops",
			zap.String("route", *route),
			zap.String("next", *next),
			zap.String("after", *afterNext),
		)
		os.Exit(1)
	}

	logger.Info("found segment",
		zap.String("key", key),
		zap.Int("seconds", seg.Seconds),
		zap.Float64("meters", seg.Meters),
		zap.Int("points", len(seg.Shape)),
	)
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(seg); err != nil {
		logger.Fatal("unable to write segment", zap.Error(err))
	}
}
