package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"time"

	lib "github.com/theoremus-urban-solutions/sector-control"
	"github.com/theoremus-urban-solutions/sector-control/tracking"
)

// maxReplayGap caps the pause between replayed fixes so a recording with a
// long silence does not stall the run.
const maxReplayGap = 5 * time.Second

// feedFixes streams NDJSON fixes from a file or stdin into the monitor, one
// JSON object per line. Malformed lines are logged and skipped. With replay
// enabled, delivery is paced by the gaps between fix timestamps.
func feedFixes(ctx context.Context, source string, replay bool, m *lib.Monitor) error {
	var r io.Reader
	if source == "" || source == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(source)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var prevTs int64
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		var fix tracking.Fix
		if err := json.Unmarshal(line, &fix); err != nil {
			log.Printf("feed: skipping malformed fix: %v", err)
			continue
		}
		if replay && prevTs != 0 && fix.TimestampMs > prevTs {
			gap := time.Duration(fix.TimestampMs-prevTs) * time.Millisecond
			if gap > maxReplayGap {
				gap = maxReplayGap
			}
			select {
			case <-time.After(gap):
			case <-ctx.Done():
				return nil
			}
		}
		prevTs = fix.TimestampMs
		m.ProcessFix(fix)
	}
	return sc.Err()
}
