package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"lti-booking/internal/domain/booking"
)

var ErrTemplateNotFound = errors.New("template not found")

// Placeholders are the only tokens Render replaces. Anything else in braces
// is left as written.
var Placeholders = []string{
	"course_name",
	"user_name",
	"group_name",
	"time_start",
	"time_end",
	"date",
	"location",
	"instructor_name",
	"instructor_email",
	"cancellation_policy_hours",
	"robot_name",
	"message",
}

// TemplateStore reads default message bodies from <dir>/<scenario>.txt.
type TemplateStore struct {
	dir string
}

func NewTemplateStore(dir string) *TemplateStore {
	return &TemplateStore{dir: dir}
}

func (t *TemplateStore) Load(scenario booking.Scenario) (string, error) {
	path := filepath.Join(t.dir, string(scenario)+".txt")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, path)
		}
		return "", fmt.Errorf("failed to read template %s: %w", path, err)
	}

	body := strings.TrimSpace(string(data))
	if body == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrTemplateNotFound, path)
	}
	return body, nil
}

// Render substitutes {name} tokens from values. Keys outside Placeholders are ignored.
func Render(body string, values map[string]string) string {
	pairs := make([]string, 0, len(Placeholders)*2)
	for _, name := range Placeholders {
		if v, ok := values[name]; ok {
			pairs = append(pairs, "{"+name+"}", v)
		}
	}
	if len(pairs) == 0 {
		return body
	}
	return strings.NewReplacer(pairs...).Replace(body)
}

var tokenPattern = regexp.MustCompile(`\{[a-z_]+\}`)

// UnknownPlaceholders lists {tokens} in body that Render will leave as written.
func UnknownPlaceholders(body string) []string {
	known := make(map[string]bool, len(Placeholders))
	for _, name := range Placeholders {
		known[name] = true
	}

	var unknown []string
	seen := make(map[string]bool)
	for _, tok := range tokenPattern.FindAllString(body, -1) {
		name := strings.Trim(tok, "{}")
		if !known[name] && !seen[name] {
			seen[name] = true
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}
