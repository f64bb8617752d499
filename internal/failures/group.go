// Package failures groups failed jobs by the shape of their error message so
// an operator can see which causes dominate before retrying anything.
package failures

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// MaxContentIDs bounds the content ids sampled on each group.
const MaxContentIDs = 10

var (
	reDatetime   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`)
	reHexAddr    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	reUUID       = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	reBracketNum = regexp.MustCompile(`\[\d+\]`)
	reParenNum   = regexp.MustCompile(`\(\d+\)`)
	reNumber     = regexp.MustCompile(`\b\d+(\.\d+)?(ms|s|m|h)?\b`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// Group folds failed jobs into FailureGroups keyed by stage and normalized
// message. Jobs that are not failed are ignored. Groups are sorted by
// (Count DESC, severity DESC). Returns an empty slice, never nil.
func Group(jobs []models.Job) []models.FailureGroup {
	type groupState struct {
		group models.FailureGroup
		seen  map[int64]struct{}
	}

	groups := make(map[string]*groupState)
	for _, job := range jobs {
		if job.Status != models.JobStatusFailed {
			continue
		}
		msg := ""
		if job.ErrorMessage != nil {
			msg = *job.ErrorMessage
		}
		kind := models.ErrorKindTransient
		if job.ErrorKind != nil {
			kind = *job.ErrorKind
		}
		at := failedAt(job)

		fp := Fingerprint(job.Kind, msg)
		gs, ok := groups[fp]
		if !ok {
			gs = &groupState{
				group: models.FailureGroup{
					Fingerprint:   fp,
					Kind:          job.Kind,
					ErrorKind:     kind,
					FirstSeenAt:   at,
					LastSeenAt:    at,
					SampleMessage: truncateString(msg, 2000),
					ContentIDs:    []int64{},
				},
				seen: make(map[int64]struct{}),
			}
			groups[fp] = gs
		}

		g := &gs.group
		g.Count++
		if at.Before(g.FirstSeenAt) {
			g.FirstSeenAt = at
		}
		if at.After(g.LastSeenAt) {
			g.LastSeenAt = at
			g.SampleMessage = truncateString(msg, 2000)
		}
		if Severity(kind) > Severity(g.ErrorKind) {
			g.ErrorKind = kind
		}
		if _, dup := gs.seen[job.ContentID]; !dup && len(g.ContentIDs) < MaxContentIDs {
			gs.seen[job.ContentID] = struct{}{}
			g.ContentIDs = append(g.ContentIDs, job.ContentID)
		}
	}

	out := make([]models.FailureGroup, 0, len(groups))
	for _, gs := range groups {
		sort.Slice(gs.group.ContentIDs, func(i, j int) bool { return gs.group.ContentIDs[i] < gs.group.ContentIDs[j] })
		out = append(out, gs.group)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if si, sj := Severity(out[i].ErrorKind), Severity(out[j].ErrorKind); si != sj {
			return si > sj
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

// Fingerprint computes a stable SHA-256 fingerprint for a failure of the given
// stage. The same message on different stages yields different fingerprints.
func Fingerprint(kind models.JobKind, message string) string {
	hash := sha256.Sum256([]byte(string(kind) + "\x00" + NormalizeMessage(message)))
	return fmt.Sprintf("%x", hash)
}

// NormalizeMessage strips volatile tokens from an error message.
func NormalizeMessage(msg string) string {
	msg = reDatetime.ReplaceAllString(msg, "")
	msg = reHexAddr.ReplaceAllString(msg, "0xADDR")
	msg = reUUID.ReplaceAllString(msg, "UUID")
	msg = reBracketNum.ReplaceAllString(msg, "[N]")
	msg = reParenNum.ReplaceAllString(msg, "(N)")
	msg = reNumber.ReplaceAllString(msg, "N")
	msg = reWhitespace.ReplaceAllString(msg, " ")
	msg = strings.ToLower(msg)
	msg = strings.TrimSpace(msg)
	return truncateString(msg, 500)
}

// Severity ranks error kinds by how much operator attention they need.
func Severity(kind models.ErrorKind) int {
	switch kind {
	case models.ErrorKindRetriesExhausted:
		return 3
	case models.ErrorKindCostRejected:
		return 2
	case models.ErrorKindPrecondition:
		return 1
	default:
		return 0
	}
}

func failedAt(job models.Job) time.Time {
	if job.CompletedAt != nil {
		return job.CompletedAt.UTC()
	}
	return job.UpdatedAt.UTC()
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
