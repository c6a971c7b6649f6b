package manifest

import (
	"strings"

	"likegrab/pkg/models"
)

// Merge combines manifests from independent runs into a new in-memory
// manifest. Merging is idempotent: Merge(m, m) describes the same state as m.
// Conflicts pick the more advanced record; ties go to the later update.
func Merge(manifests ...*Manifest) *Manifest {
	out := New()
	for _, m := range manifests {
		if m == nil {
			continue
		}
		m.mu.RLock()
		for id, rec := range m.posts {
			if cur, ok := out.posts[id]; ok {
				out.posts[id] = mergePost(cur, rec)
			} else {
				out.posts[id] = rec.Clone()
			}
		}
		for k, d := range m.downloads {
			if cur, ok := out.downloads[k]; ok {
				out.downloads[k] = pickDownload(cur, d)
			} else {
				out.downloads[k] = d.Clone()
			}
		}
		m.mu.RUnlock()
	}

	// Rebuild the digest index from the winning records.
	for _, d := range out.Downloads() {
		out.putDownloadLocked(d)
	}
	return out
}

func statusRank(s models.ResolutionStatus) int {
	switch s {
	case models.StatusResolved:
		return 2
	case models.StatusPermanentlyFailed:
		return 1
	default:
		return 0
	}
}

func mergePost(a, b *models.PostRecord) *models.PostRecord {
	winner, other := a, b
	if better := comparePosts(b, a); better > 0 {
		winner, other = b, a
	}

	merged := winner.Clone()
	merged.AddAccounts(other.SourceAccounts...)
	if merged.AuthorHandle == "" {
		merged.AuthorHandle = other.AuthorHandle
	}
	if merged.PostedAt == nil && other.PostedAt != nil {
		t := *other.PostedAt
		merged.PostedAt = &t
	}
	if other.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = other.UpdatedAt
	}
	return merged
}

// comparePosts returns >0 when a should win over b
func comparePosts(a, b *models.PostRecord) int {
	if d := statusRank(a.ResolutionStatus) - statusRank(b.ResolutionStatus); d != 0 {
		return d
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		if a.UpdatedAt.After(b.UpdatedAt) {
			return 1
		}
		return -1
	}
	return strings.Compare(strings.Join(b.MediaURLs, "\n"), strings.Join(a.MediaURLs, "\n"))
}

func downloadRank(s models.DownloadStatus) int {
	switch s {
	case models.DownloadDownloaded:
		return 3
	case models.DownloadInvalidSource, models.DownloadInvalidPath:
		return 2
	case models.DownloadFailed:
		return 1
	default:
		return 0
	}
}

func pickDownload(a, b *models.DownloadRecord) *models.DownloadRecord {
	switch d := downloadRank(a.Status) - downloadRank(b.Status); {
	case d > 0:
		return a.Clone()
	case d < 0:
		return b.Clone()
	}
	if b.UpdatedAt.After(a.UpdatedAt) {
		return b.Clone()
	}
	if a.UpdatedAt.Equal(b.UpdatedAt) && b.ContentHash < a.ContentHash {
		return b.Clone()
	}
	return a.Clone()
}
