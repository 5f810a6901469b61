package service

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/noah-isme/pasi-sync-api/internal/models"
)

// CourseCodeMap translates registry course codes into internal course ids.
// It never guesses: a code that does not resolve to exactly one id is reported as not confident.
type CourseCodeMap struct {
	mappings     map[string][]models.CourseID
	descriptions map[string]string
	courses      map[models.CourseID]models.CourseInfo
}

type courseCodeMapFile struct {
	Courses  []models.CourseInfo        `yaml:"courses"`
	Mappings []models.CourseCodeMapping `yaml:"mappings"`
}

// NewCourseCodeMap validates and indexes the given table. Every mapped id must name a known course.
func NewCourseCodeMap(mappings []models.CourseCodeMapping, courses []models.CourseInfo) (*CourseCodeMap, error) {
	m := &CourseCodeMap{
		mappings:     make(map[string][]models.CourseID, len(mappings)),
		descriptions: make(map[string]string, len(mappings)),
		courses:      make(map[models.CourseID]models.CourseInfo, len(courses)),
	}
	for _, course := range courses {
		if course.ID <= 0 {
			return nil, fmt.Errorf("course %q has invalid id %d", course.Title, course.ID)
		}
		if _, exists := m.courses[course.ID]; exists {
			return nil, fmt.Errorf("duplicate course id %d", course.ID)
		}
		m.courses[course.ID] = course
	}
	for _, mapping := range mappings {
		code := models.NormalizeCourseCode(mapping.CourseCode)
		if code == "" {
			return nil, fmt.Errorf("course code mapping without code")
		}
		seen := make(map[models.CourseID]struct{}, len(mapping.CourseIDs))
		ids := m.mappings[code]
		for _, id := range mapping.CourseIDs {
			if _, ok := m.courses[id]; !ok {
				return nil, fmt.Errorf("course code %s maps to unknown course id %d", code, id)
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		m.mappings[code] = ids
		if mapping.Description != "" {
			m.descriptions[code] = mapping.Description
		}
	}
	return m, nil
}

// LoadCourseCodeMap reads a YAML table from path; an empty path yields the built-in table.
func LoadCourseCodeMap(path string) (*CourseCodeMap, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCourseCodeMap(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read course map %s: %w", path, err)
	}
	var file courseCodeMapFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse course map %s: %w", path, err)
	}
	return NewCourseCodeMap(file.Mappings, file.Courses)
}

// DefaultCourseCodeMap returns the built-in table.
func DefaultCourseCodeMap() *CourseCodeMap {
	m, err := NewCourseCodeMap(defaultCourseMappings, defaultCourses)
	if err != nil {
		panic(err)
	}
	return m
}

// Resolve looks up code. Confident means exactly one internal course id.
func (m *CourseCodeMap) Resolve(code string) models.CourseResolution {
	normalized := models.NormalizeCourseCode(code)
	ids := append([]models.CourseID(nil), m.mappings[normalized]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	resolution := models.CourseResolution{CourseCode: normalized, CourseIDs: ids, Confident: len(ids) == 1}
	for _, id := range ids {
		resolution.Courses = append(resolution.Courses, m.courses[id])
	}
	return resolution
}

// Description returns the registry description recorded for code.
func (m *CourseCodeMap) Description(code string) string {
	return m.descriptions[models.NormalizeCourseCode(code)]
}

// Course returns metadata for id. Unknown ids are rejected rather than defaulted.
func (m *CourseCodeMap) Course(id models.CourseID) (models.CourseInfo, bool) {
	course, ok := m.courses[id]
	return course, ok
}

// ParseCourseID converts raw into a known course id.
func (m *CourseCodeMap) ParseCourseID(raw string) (models.CourseID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid course id %q", raw)
	}
	id := models.CourseID(n)
	if _, ok := m.courses[id]; !ok {
		return 0, fmt.Errorf("unknown course id %d", id)
	}
	return id, nil
}

var defaultCourses = []models.CourseInfo{
	{ID: 2, Title: "Math 10C", Credits: 5, Grade: 10, CourseType: "Math"},
	{ID: 3, Title: "Math 20-1", Credits: 5, Grade: 11, CourseType: "Math"},
	{ID: 4, Title: "Math 20-2", Credits: 5, Grade: 11, CourseType: "Math"},
	{ID: 5, Title: "Math 30-1", Credits: 5, Grade: 12, CourseType: "Math"},
	{ID: 6, Title: "Math 30-2", Credits: 5, Grade: 12, CourseType: "Math"},
	{ID: 52, Title: "Math 31", Credits: 5, Grade: 12, CourseType: "Math"},
	{ID: 89, Title: "Math 10-3", Credits: 5, Grade: 10, CourseType: "Math"},
	{ID: 97, Title: "Physics 20", Credits: 5, Grade: 11, CourseType: "Science"},
	{ID: 98, Title: "Physics 30", Credits: 5, Grade: 12, CourseType: "Science"},
	{ID: 112, Title: "Career and Life Management", Credits: 3, Grade: 10, CourseType: "Option"},
	{ID: 139, Title: "Coding Fundamentals", Credits: 1, Grade: 10, CourseType: "Option"},
	{ID: 1111, Title: "Math 15", Credits: 5, Grade: 10, CourseType: "Math"},
}

var defaultCourseMappings = []models.CourseCodeMapping{
	{CourseCode: "MAT1791", Description: "Mathematics 10C", CourseIDs: []models.CourseID{2}},
	{CourseCode: "MAT2791", Description: "Mathematics 20-1", CourseIDs: []models.CourseID{3}},
	{CourseCode: "MAT2792", Description: "Mathematics 20-2", CourseIDs: []models.CourseID{4}},
	{CourseCode: "MAT3791", Description: "Mathematics 30-1", CourseIDs: []models.CourseID{5}},
	{CourseCode: "MAT3792", Description: "Mathematics 30-2", CourseIDs: []models.CourseID{6}},
	{CourseCode: "MAT3211", Description: "Mathematics 31", CourseIDs: []models.CourseID{52}},
	{CourseCode: "MAT1793", Description: "Mathematics 10-3", CourseIDs: []models.CourseID{89}},
	{CourseCode: "SCN2797", Description: "Physics 20", CourseIDs: []models.CourseID{97}},
	{CourseCode: "SCN3797", Description: "Physics 30", CourseIDs: []models.CourseID{98}},
	{CourseCode: "KAE1780", Description: "Career and Life Management", CourseIDs: []models.CourseID{112}},
	{CourseCode: "CSE1110", Description: "Structured Programming 1", CourseIDs: []models.CourseID{139}},
	{CourseCode: "LDC1515", Description: "Mathematics 15", CourseIDs: []models.CourseID{1111, 2}},
}
