// Command lap-report renders an HTML pace report from a recorded session:
// lap time trends, sector splits and top speeds per vehicle.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/racecraft/internal/race"
)

func main() {
	dbFile := flag.String("db", "race_data.db", "session database path")
	sessionID := flag.String("session", "", "session id (defaults to the newest)")
	output := flag.String("o", "lap-report.html", "output HTML path")
	flag.Parse()

	store, err := race.NewStore(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	id := *sessionID
	if id == "" {
		sessions, err := store.ListSessions()
		if err != nil {
			log.Fatalf("failed to list sessions: %v", err)
		}
		if len(sessions) == 0 {
			log.Fatal("no sessions recorded")
		}
		id = sessions[0].ID
		log.Printf("using newest session %s on %s", id, sessions[0].TrackID)
	}

	vehicles, err := store.Vehicles(id)
	if err != nil {
		log.Fatalf("failed to list vehicles: %v", err)
	}
	if len(vehicles) == 0 {
		log.Fatalf("session %s has no laps", id)
	}

	byVehicle := make(map[int][]race.StoredLap, len(vehicles))
	maxLaps := 0
	for _, v := range vehicles {
		rows, err := store.LoadLaps(id, v)
		if err != nil {
			log.Fatalf("failed to load laps for vehicle %d: %v", v, err)
		}
		byVehicle[v] = rows
		if len(rows) > maxLaps {
			maxLaps = len(rows)
		}
	}

	page := components.NewPage()
	page.SetPageTitle("Lap Report " + id)
	page.AddCharts(
		lapTimeChart(vehicles, byVehicle, maxLaps),
		sectorChart(vehicles, byVehicle),
		topSpeedChart(vehicles, byVehicle, maxLaps),
	)

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create output: %v", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}
	log.Printf("✓ Created: %s", *output)
}

func lapAxis(maxLaps int) []string {
	axis := make([]string, maxLaps)
	for i := range axis {
		axis[i] = fmt.Sprintf("L%d", i)
	}
	return axis
}

// lapTimeChart plots completed lap times per vehicle; incomplete laps leave
// gaps rather than misleading points.
func lapTimeChart(vehicles []int, byVehicle map[int][]race.StoredLap, maxLaps int) components.Charter {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Lap Times", Subtitle: "seconds per lap"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "s", Scale: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(lapAxis(maxLaps))
	for _, v := range vehicles {
		data := make([]opts.LineData, maxLaps)
		for i := range data {
			data[i] = opts.LineData{Value: nil}
		}
		for _, row := range byVehicle[v] {
			if row.Incomplete || row.LapIndex >= maxLaps {
				continue
			}
			data[row.LapIndex] = opts.LineData{Value: row.LapTime}
		}
		line.AddSeries(fmt.Sprintf("vehicle %d", v), data)
	}
	return line
}

// sectorChart compares each vehicle's best-lap sector splits.
func sectorChart(vehicles []int, byVehicle map[int][]race.StoredLap) components.Charter {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Best Lap Sector Splits"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "s"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	sectors := 0
	best := make(map[int]race.StoredLap, len(vehicles))
	for _, v := range vehicles {
		for _, row := range byVehicle[v] {
			if row.Incomplete || row.Features == nil {
				continue
			}
			if b, ok := best[v]; !ok || row.LapTime < b.LapTime {
				best[v] = row
			}
		}
		if b, ok := best[v]; ok && len(b.Features.SectorTimes) > sectors {
			sectors = len(b.Features.SectorTimes)
		}
	}

	axis := make([]string, sectors)
	for i := range axis {
		axis[i] = fmt.Sprintf("S%d", i+1)
	}
	bar.SetXAxis(axis)
	for _, v := range vehicles {
		b, ok := best[v]
		if !ok {
			continue
		}
		data := make([]opts.BarData, sectors)
		for i := range data {
			if i < len(b.Features.SectorTimes) {
				data[i] = opts.BarData{Value: b.Features.SectorTimes[i]}
			}
		}
		bar.AddSeries(fmt.Sprintf("vehicle %d", v), data)
	}
	return bar
}

func topSpeedChart(vehicles []int, byVehicle map[int][]race.StoredLap, maxLaps int) components.Charter {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Top Speed", Subtitle: "km/h per lap"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "km/h", Scale: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(lapAxis(maxLaps))
	for _, v := range vehicles {
		data := make([]opts.LineData, maxLaps)
		for i := range data {
			data[i] = opts.LineData{Value: nil}
		}
		for _, row := range byVehicle[v] {
			if row.Features == nil || row.LapIndex >= maxLaps {
				continue
			}
			data[row.LapIndex] = opts.LineData{Value: row.Features.TopSpeedKPH}
		}
		line.AddSeries(fmt.Sprintf("vehicle %d", v), data)
	}
	return line
}
