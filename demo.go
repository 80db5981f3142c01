package main

import (
	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/geom"
	"github.com/banshee-data/presence.report/internal/region"
	"github.com/banshee-data/presence.report/internal/vision"
)

// Demo scene: a 640x480 storefront with an entry line across the middle
// and one end-cap zone on the right. Crossing the line downward counts
// as an entry.
const (
	demoW      = 640
	demoH      = 480
	demoFrames = 900
)

func demoLines() []geom.Line {
	return []geom.Line{{
		P1: geom.Point{X: 40, Y: 240},
		P2: geom.Point{X: 600, Y: 240},
	}}
}

func demoZones() []region.Zone {
	z, err := region.NewZone("end_cap", []geom.Point{
		{X: 400, Y: 300},
		{X: 560, Y: 300},
		{X: 560, Y: 440},
		{X: 400, Y: 440},
	})
	if err != nil {
		panic(err)
	}
	return []region.Zone{z}
}

// demoScenario scripts two shoppers: one walks in, browses the end cap
// and leaves; the other walks in later and lingers until the scenario
// runs out, which exercises the inactivity auto-close.
func demoScenario(tuning *config.TuningConfig) *vision.Scenario {
	browse := concatPaths(
		vision.WalkPath(geom.Point{X: 200, Y: 80}, geom.Point{X: 200, Y: 360}, 120),
		vision.WalkPath(geom.Point{X: 200, Y: 360}, geom.Point{X: 480, Y: 370}, 90),
		vision.WalkPath(geom.Point{X: 480, Y: 370}, geom.Point{X: 480, Y: 370}, 120),
		vision.WalkPath(geom.Point{X: 480, Y: 370}, geom.Point{X: 220, Y: 360}, 90),
		vision.WalkPath(geom.Point{X: 220, Y: 360}, geom.Point{X: 220, Y: 80}, 120),
	)
	linger := vision.WalkPath(geom.Point{X: 420, Y: 80}, geom.Point{X: 420, Y: 430}, 200)

	return &vision.Scenario{
		W:          demoW,
		H:          demoH,
		Frames:     demoFrames,
		FrameDelay: tuning.GetFrameDelay(),
		Actors: []*vision.ScriptedActor{
			{
				Positions: browse,
				BoxW:      60,
				BoxH:      140,
				Embedding: vision.UnitEmbedding(1),
			},
			{
				Positions:  linger,
				BoxW:       60,
				BoxH:       140,
				Embedding:  vision.UnitEmbedding(2),
				FirstFrame: 150,
			},
		},
	}
}

func concatPaths(paths ...[]geom.Point) []geom.Point {
	var out []geom.Point
	for _, p := range paths {
		out = append(out, p...)
	}
	return out
}
