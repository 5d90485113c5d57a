package classroom

import (
	"strings"
	"time"
)

// Course is a Classroom course.
type Course struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Section            string    `json:"section,omitempty"`
	DescriptionHeading string    `json:"descriptionHeading,omitempty"`
	Room               string    `json:"room,omitempty"`
	OwnerID            string    `json:"ownerId,omitempty"`
	CourseState        string    `json:"courseState,omitempty"`
	AlternateLink      string    `json:"alternateLink,omitempty"`
	CreationTime       time.Time `json:"creationTime,omitempty"`
	UpdateTime         time.Time `json:"updateTime,omitempty"`
}

// Date is a calendar date as Classroom reports due dates.
type Date struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// CourseWork is an assignment or question in a course.
type CourseWork struct {
	ID            string    `json:"id"`
	CourseID      string    `json:"courseId"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	State         string    `json:"state,omitempty"`
	WorkType      string    `json:"workType,omitempty"`
	AlternateLink string    `json:"alternateLink,omitempty"`
	MaxPoints     float64   `json:"maxPoints,omitempty"`
	DueDate       *Date     `json:"dueDate,omitempty"`
	CreationTime  time.Time `json:"creationTime,omitempty"`
}

// Announcement is a stream post in a course.
type Announcement struct {
	ID            string    `json:"id"`
	CourseID      string    `json:"courseId"`
	Text          string    `json:"text"`
	State         string    `json:"state,omitempty"`
	AlternateLink string    `json:"alternateLink,omitempty"`
	CreationTime  time.Time `json:"creationTime,omitempty"`
}

// Material is a course material such as a lecture or reading.
type Material struct {
	ID            string    `json:"id"`
	CourseID      string    `json:"courseId"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	State         string    `json:"state,omitempty"`
	AlternateLink string    `json:"alternateLink,omitempty"`
	CreationTime  time.Time `json:"creationTime,omitempty"`
}

// FilterCoursesByName returns the courses whose name or section contains
// query, ignoring case. An empty query returns courses unchanged.
func FilterCoursesByName(courses []Course, query string) []Course {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return courses
	}

	var out []Course
	for _, c := range courses {
		if strings.Contains(strings.ToLower(c.Name), q) ||
			strings.Contains(strings.ToLower(c.Section), q) {
			out = append(out, c)
		}
	}
	return out
}
