package trajectory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"
)

// ReadCSV reads rows of trajectory_id,x,y. Points are appended to their
// trajectory in row order and trajectories are returned in order of first
// appearance. A header row whose x column is not numeric is skipped.
func ReadCSV(r io.Reader) ([]*Trajectory, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var order []string
	pts := make(map[string][]r2.Vec)
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read trajectory csv: %w", err)
		}
		x, errX := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if errX != nil || errY != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid coordinates %q,%q", line, rec[1], rec[2])
		}
		id := strings.TrimSpace(rec[0])
		if _, seen := pts[id]; !seen {
			order = append(order, id)
		}
		pts[id] = append(pts[id], r2.Vec{X: x, Y: y})
	}

	out := make([]*Trajectory, 0, len(order))
	for _, id := range order {
		out = append(out, New(id, pts[id]))
	}
	return out, nil
}
