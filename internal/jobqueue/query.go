package jobqueue

import (
	"sort"
	"strings"
	"time"

	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

// matches reports whether job satisfies filter. When filter.Status is
// empty, Deleted jobs are excluded automatically: the recycle bin is a
// separate view, never part of an ordinary listing.
func matches(job *diffusion.Job, filter diffusion.JobFilter) bool {
	if filter.Status != "" {
		if job.Status != filter.Status {
			return false
		}
	} else if job.Status == diffusion.StatusDeleted {
		return false
	}

	if filter.Type != "" && job.Type != filter.Type {
		return false
	}

	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		prompt, _ := job.Params["prompt"].(string)
		negative, _ := job.Params["negative_prompt"].(string)
		if !strings.Contains(strings.ToLower(prompt), needle) &&
			!strings.Contains(strings.ToLower(negative), needle) &&
			!strings.Contains(strings.ToLower(job.JobID), needle) {
			return false
		}
	}

	if filter.Architecture != "" && !strings.Contains(strings.ToLower(job.ModelSettings.Architecture), strings.ToLower(filter.Architecture)) {
		return false
	}

	if filter.Model != "" && !strings.Contains(strings.ToLower(job.ModelSettings.ModelName), strings.ToLower(filter.Model)) {
		return false
	}

	if filter.BeforeTimestamp != nil && job.CreatedAt.Unix() >= *filter.BeforeTimestamp {
		return false
	}
	if filter.AfterTimestamp != nil && job.CreatedAt.Unix() <= *filter.AfterTimestamp {
		return false
	}

	return true
}

// filtered returns every job matching filter, sorted created_at
// descending.
func (s *Store) filtered(filter diffusion.JobFilter) []*diffusion.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*diffusion.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if matches(job, filter) {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// List returns an offset/limit paginated, filtered view.
func (s *Store) List(filter diffusion.JobFilter, offset, limit int) diffusion.Page {
	all := s.filtered(filter)
	total := s.totalCount()

	if limit <= 0 {
		limit = len(all)
	}
	if offset < 0 {
		offset = 0
	}
	end := offset + limit
	if offset > len(all) {
		offset = len(all)
	}
	if end > len(all) {
		end = len(all)
	}

	items := all[offset:end]
	return diffusion.Page{
		Items:         items,
		TotalCount:    total,
		FilteredCount: len(all),
		Offset:        offset,
		Limit:         limit,
		HasMore:       end < len(all),
	}
}

func (s *Store) totalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// ListGroupedByDate buckets the filtered, sorted job list into local-day
// groups, then paginates the groups themselves (page is 1-indexed).
func (s *Store) ListGroupedByDate(filter diffusion.JobFilter, page, limit int) diffusion.GroupedPage {
	all := s.filtered(filter)
	total := s.totalCount()

	groups := groupByLocalDay(all)

	if limit <= 0 {
		limit = len(groups)
	}
	if page < 1 {
		page = 1
	}
	totalPages := 0
	if limit > 0 {
		totalPages = (len(groups) + limit - 1) / limit
	}

	start := (page - 1) * limit
	end := start + limit
	if start > len(groups) {
		start = len(groups)
	}
	if end > len(groups) {
		end = len(groups)
	}

	return diffusion.GroupedPage{
		Groups:     groups[start:end],
		TotalCount: total,
		Page:       page,
		TotalPages: totalPages,
		Limit:      limit,
		HasMore:    end < len(groups),
		HasPrev:    page > 1,
	}
}

func groupByLocalDay(jobs []*diffusion.Job) []diffusion.DateGroup {
	order := make([]string, 0)
	byDate := make(map[string]*diffusion.DateGroup)

	for _, job := range jobs {
		local := job.CreatedAt.Local()
		dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
		key := dayStart.Format("2006-01-02")

		group, ok := byDate[key]
		if !ok {
			group = &diffusion.DateGroup{
				Date:      key,
				Label:     dayLabel(dayStart),
				Timestamp: dayStart.Unix(),
			}
			byDate[key] = group
			order = append(order, key)
		}
		group.Items = append(group.Items, job)
		group.Count++
	}

	out := make([]diffusion.DateGroup, 0, len(order))
	for _, key := range order {
		out = append(out, *byDate[key])
	}
	return out
}

func dayLabel(day time.Time) string {
	now := time.Now().Local()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch day.Sub(today) {
	case 0:
		return "Today"
	case -24 * time.Hour:
		return "Yesterday"
	default:
		return day.Format("Jan 2, 2006")
	}
}
