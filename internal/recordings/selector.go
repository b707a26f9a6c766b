package recordings

import (
	"context"
	"time"
)

// Outcome classifies what the selector decided.
type Outcome string

const (
	// OutcomeNoLong means no candidate long enough for auto-selection was
	// found; all scanned files are returned for a manual pick.
	OutcomeNoLong Outcome = "no_long"

	// OutcomeSingleLong means exactly one long candidate met the minimum
	// upload duration and was auto-selected.
	OutcomeSingleLong Outcome = "single_long"

	// OutcomeMultipleLong means several long candidates exist and the
	// caller must prompt the user.
	OutcomeMultipleLong Outcome = "multiple_long"
)

// SelectionResult carries the selector's decision. Selected is non-nil only
// for OutcomeSingleLong. Candidates always lists what the caller may offer
// for a manual pick: all long files when several exist, otherwise every
// scanned file.
type SelectionResult struct {
	Outcome    Outcome
	Selected   *File
	Candidates []File

	// Short lists the below-threshold files so the shell can offer a
	// whitelist override for deliberately short clips.
	Short []File
}

// Options tunes the selection decision. Zero values take the documented defaults.
type Options struct {
	// ScanMargin widens the session window on both ends. Default 5 minutes.
	ScanMargin time.Duration

	// ShortVideoThreshold partitions files into long and short. Default 10 minutes.
	ShortVideoThreshold time.Duration

	// MinUploadDuration is the floor a single long file must reach to be
	// auto-selected. Default 45 minutes.
	MinUploadDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.ScanMargin == 0 {
		o.ScanMargin = 5 * time.Minute
	}
	if o.ShortVideoThreshold == 0 {
		o.ShortVideoThreshold = 10 * time.Minute
	}
	if o.MinUploadDuration == 0 {
		o.MinUploadDuration = 45 * time.Minute
	}
	return o
}

// Selector decides which recording file, if any, to upload automatically.
type Selector struct {
	Scanner Scanner
}

// Select scans dir over the widened session window and applies the decision
// table. It is a pure function over its inputs and the filesystem snapshot;
// scan errors propagate wrapping ErrScanFailed.
//
//	long files | outcome
//	-----------+--------------------------------------------
//	0          | no_long, all files as candidates
//	1 >= min   | single_long, auto-selected
//	1 <  min   | no_long, the file stays a candidate
//	>= 2       | multiple_long, long files as candidates
func (s *Selector) Select(ctx context.Context, dir string, sessionStart, sessionEnd time.Time, opts Options) (*SelectionResult, error) {
	opts = opts.withDefaults()

	windowStart := sessionStart.Add(-opts.ScanMargin)
	windowEnd := sessionEnd.Add(opts.ScanMargin)

	files, err := s.Scanner.Scan(ctx, dir, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	return Decide(files, opts), nil
}

// Decide applies the decision table to an already-scanned file set.
// Split out from Select so manual re-evaluation does not need a rescan.
func Decide(files []File, opts Options) *SelectionResult {
	opts = opts.withDefaults()

	var long, short []File
	for _, f := range files {
		if f.Duration >= opts.ShortVideoThreshold {
			long = append(long, f)
		} else {
			short = append(short, f)
		}
	}

	switch {
	case len(long) == 0:
		return &SelectionResult{Outcome: OutcomeNoLong, Candidates: files, Short: short}
	case len(long) == 1:
		if long[0].Duration >= opts.MinUploadDuration {
			f := long[0]
			return &SelectionResult{Outcome: OutcomeSingleLong, Selected: &f, Candidates: long, Short: short}
		}
		// Long but too short for unattended upload.
		return &SelectionResult{Outcome: OutcomeNoLong, Candidates: files, Short: short}
	default:
		return &SelectionResult{Outcome: OutcomeMultipleLong, Candidates: long, Short: short}
	}
}
