package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/services"
)

// parsePage reads the page query parameter. A missing page is 0, left for
// the service to default.
func parsePage(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int, bool) {
	p := r.URL.Query().Get("page")
	if p == "" {
		return 0, true
	}
	page, err := strconv.Atoi(p)
	if err != nil || page < 1 {
		writeBadRequest(w, "invalid_page", "Page must be a positive integer", logger)
		return 0, false
	}
	return page, true
}

// parseTags reads the repeated tags query parameter, dropping blanks and
// duplicates while keeping order. A toggle parameter applies one tag click to
// that selection; shift=true makes it a shift-click.
func parseTags(r *http.Request) []string {
	q := r.URL.Query()
	tags := cleanTags(q["tags"])
	if toggle := strings.TrimSpace(q.Get("toggle")); toggle != "" {
		shift, _ := strconv.ParseBool(q.Get("shift"))
		tags = services.ToggleTag(tags, toggle, shift)
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

func cleanTags(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(raw))
	tags := make([]string, 0, len(raw))
	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}
