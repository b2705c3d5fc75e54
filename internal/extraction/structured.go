package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/scanline-io/timetablex/internal/pipeline"
	"github.com/scanline-io/timetablex/internal/preprocessor"
	"github.com/scanline-io/timetablex/internal/timetable"
	"github.com/scanline-io/timetablex/internal/types"
)

const structuredConfidence = 0.85

var timeRangePattern = regexp.MustCompile(`(\d{1,2}):(\d{2})\s*[-–]\s*(\d{1,2}):(\d{2})`)

var cellSplitPattern = regexp.MustCompile(`\s{2,}|\t+`)

// Structured is the Structured backend (spec §4.4): it converts the first
// detected table in the preprocessed text into TimeBlocks by recognizing day
// names and `HH:MM-HH:MM` time ranges.
type Structured struct{}

// NewStructured returns a Structured backend.
func NewStructured() *Structured { return &Structured{} }

// Extract implements Backend.
func (s *Structured) Extract(_ context.Context, artifact preprocessor.ProcessedArtifact, hint Hint) (timetable.Timetable, error) {
	lines := nonEmptyLines(artifact.Text)
	if len(lines) == 0 {
		return timetable.Timetable{}, pipeline.Newf(types.ErrorKindStructuredBackend, "no text to parse a table from")
	}

	if days, ok := headerDayColumns(lines[0]); ok {
		blocks, err := parseColumnOriented(lines[1:], days)
		if err != nil {
			return timetable.Timetable{}, pipeline.Wrap(types.ErrorKindStructuredBackend, err)
		}
		return applyHint(timetable.Timetable{Blocks: blocks}, hint), nil
	}

	blocks, err := parseRowOriented(lines)
	if err != nil {
		return timetable.Timetable{}, pipeline.Wrap(types.ErrorKindStructuredBackend, err)
	}
	if len(blocks) == 0 {
		return timetable.Timetable{}, pipeline.Newf(types.ErrorKindStructuredBackend, "no day/time-range pairs found in table")
	}
	return applyHint(timetable.Timetable{Blocks: blocks}, hint), nil
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// headerDayColumns reports whether line is a header row naming at least two
// weekdays, and returns the day (or "" for a non-day leading column) aligned
// to each cell.
func headerDayColumns(line string) ([]types.Weekday, bool) {
	cells := cellSplitPattern.Split(strings.TrimSpace(line), -1)
	days := make([]types.Weekday, len(cells))
	found := 0
	for i, c := range cells {
		if d, ok := types.ParseWeekday(strings.TrimSpace(c)); ok {
			days[i] = d
			found++
		}
	}
	return days, found >= 2
}

// parseColumnOriented handles a header naming days as columns: each data row
// begins with a time range, and each subsequent cell (aligned by index to
// the header's day columns, counting the header's leading non-day label when
// it has one) is the event for that day in that time slot.
func parseColumnOriented(rows []string, headerDays []types.Weekday) ([]timetable.TimeBlock, error) {
	var blocks []timetable.TimeBlock
	for _, row := range rows {
		cells := cellSplitPattern.Split(strings.TrimSpace(row), -1)
		if len(cells) == 0 {
			continue
		}
		start, end, ok := parseTimeRange(cells[0])
		if !ok {
			continue
		}
		// cells[0] is the time range. A header that names only days (no
		// leading time-column label) has its day cells one position left.
		shift := 0
		if len(headerDays) > 0 && headerDays[0] != "" {
			shift = 1
		}
		for i := 1; i < len(cells); i++ {
			hi := i - shift
			if hi >= len(headerDays) || headerDays[hi] == "" {
				continue
			}
			event := strings.TrimSpace(cells[i])
			if event == "" {
				continue
			}
			confidence := structuredConfidence
			blocks = append(blocks, timetable.TimeBlock{
				Day: headerDays[hi], StartTime: start, EndTime: end,
				EventName: event, Confidence: &confidence,
			})
		}
	}
	return blocks, nil
}

// parseRowOriented handles text where each line names its day up front,
// followed by one or more `HH:MM-HH:MM Event` segments.
func parseRowOriented(lines []string) ([]timetable.TimeBlock, error) {
	var blocks []timetable.TimeBlock
	for _, line := range lines {
		day, rest, ok := leadingDayToken(line)
		if !ok {
			continue
		}

		matches := timeRangePattern.FindAllStringSubmatchIndex(rest, -1)
		for i, m := range matches {
			start, end, err := parseTimeRangeSubmatch(rest, m)
			if err != nil {
				return nil, err
			}

			segmentEnd := len(rest)
			if i+1 < len(matches) {
				segmentEnd = matches[i+1][0]
			}
			event := strings.TrimSpace(rest[m[1]:segmentEnd])
			if event == "" {
				continue
			}
			confidence := structuredConfidence
			blocks = append(blocks, timetable.TimeBlock{
				Day: day, StartTime: start, EndTime: end, EventName: event, Confidence: &confidence,
			})
		}
	}
	return blocks, nil
}

func leadingDayToken(line string) (types.Weekday, string, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", "", false
	}
	day, ok := types.ParseWeekday(fields[0])
	if !ok {
		return "", "", false
	}
	idx := strings.Index(line, fields[0])
	return day, line[idx+len(fields[0]):], true
}

func parseTimeRange(s string) (int, int, bool) {
	m := timeRangePattern.FindStringSubmatchIndex(s)
	if m == nil {
		return 0, 0, false
	}
	start, end, err := parseTimeRangeSubmatch(s, m)
	if err != nil {
		return 0, 0, false
	}
	return start, end, true
}

func parseTimeRangeSubmatch(s string, m []int) (int, int, error) {
	group := func(i int) string { return s[m[2*i]:m[2*i+1]] }
	sh, err := strconv.Atoi(group(1))
	if err != nil {
		return 0, 0, fmt.Errorf("parse start hour: %w", err)
	}
	sm, err := strconv.Atoi(group(2))
	if err != nil {
		return 0, 0, fmt.Errorf("parse start minute: %w", err)
	}
	eh, err := strconv.Atoi(group(3))
	if err != nil {
		return 0, 0, fmt.Errorf("parse end hour: %w", err)
	}
	em, err := strconv.Atoi(group(4))
	if err != nil {
		return 0, 0, fmt.Errorf("parse end minute: %w", err)
	}
	return sh*60 + sm, eh*60 + em, nil
}
