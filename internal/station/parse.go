package station

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/agonzales-usgs/xmax-1.07/internal/logging"
)

// Station file column layout (byte offsets within a line):
//
//	[0,7)    name
//	[7,11)   network
//	[11,61)  long name
//	[61,71)  start date
//	[71,83)  end date
//	[83,93)  latitude
//	[93,105) longitude
//	[105,116) elevation
//	[116,..) depth
const (
	colName      = 7
	colNetwork   = 11
	colLongName  = 61
	colStartDate = 71
	colEndDate   = 83
	colLatitude  = 93
	colLongitude = 105
	colElevation = 116
)

// headerToken marks the station file header line.
const headerToken = "STAT"

// LoadFile fills the book from a fixed-width station file. Only stations
// already present in the book are updated; unknown lines are ignored.
// A malformed line is logged and skipped without aborting the file.
func (b *Book) LoadFile(path string) error {
	log := logging.Component("station")

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open station file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		name := strings.TrimSpace(column(line, 0, colName))
		if name == "" || name == headerToken {
			continue
		}

		s := b.Get(name)
		if s == nil {
			continue
		}

		if err := parseInto(s, line); err != nil {
			log.Error("bad station line", "file", path, "line", lineNo, "station", name, "error", err)
			continue
		}
		log.Debug("station loaded", "name", s.Name, "network", s.Network, "long_name", s.LongName)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read station file: %w", err)
	}
	return nil
}

// parseInto updates s from a station file line. The station is updated
// field by field; a numeric parse failure leaves later fields untouched.
func parseInto(s *Station, line string) error {
	s.Network = strings.TrimSpace(column(line, colName, colNetwork))
	s.LongName = strings.TrimSpace(column(line, colNetwork, colLongName))
	s.StartDate = strings.TrimSpace(column(line, colLongName, colStartDate))
	s.EndDate = strings.TrimSpace(column(line, colStartDate, colEndDate))

	var err error
	if s.Latitude, err = parseFloat(column(line, colEndDate, colLatitude)); err != nil {
		return fmt.Errorf("latitude: %w", err)
	}
	if s.Longitude, err = parseFloat(column(line, colLatitude, colLongitude)); err != nil {
		return fmt.Errorf("longitude: %w", err)
	}
	if s.Elevation, err = parseFloat(column(line, colLongitude, colElevation)); err != nil {
		return fmt.Errorf("elevation: %w", err)
	}
	if s.Depth, err = parseFloat(column(line, colElevation, len(line))); err != nil {
		return fmt.Errorf("depth: %w", err)
	}
	return nil
}

// column returns line[from:to], tolerating short lines.
func column(line string, from, to int) string {
	if from >= len(line) {
		return ""
	}
	if to > len(line) {
		to = len(line)
	}
	return line[from:to]
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
