package models

import "time"

// Role is the authorization signal read from a profile row. It only drives
// client navigation; the data API does not gate on it.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleDatos Role = "datos"
	RoleUser  Role = "user"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDatos, RoleUser:
		return true
	}
	return false
}

// Section is a navigation area of the dashboard
type Section string

const (
	SectionDashboard Section = "dashboard"
	SectionTables    Section = "tables"
	SectionCharts    Section = "charts"
	SectionEntry     Section = "entry"
	SectionImport    Section = "import"
	SectionUsers     Section = "users"
	SectionMessages  Section = "messages"
)

// Sections lists the navigation areas offered to a role
func (r Role) Sections() []Section {
	views := []Section{SectionDashboard, SectionTables, SectionCharts}
	switch r {
	case RoleAdmin:
		return append(views, SectionEntry, SectionImport, SectionUsers, SectionMessages)
	case RoleDatos:
		return append(views, SectionEntry, SectionImport)
	default:
		return views
	}
}

// UserProfile is a row of the profiles table
type UserProfile struct {
	UserID      string `json:"user_id" db:"user_id"`
	Role        Role   `json:"role" db:"role"`
	DisplayName string `json:"display_name" db:"display_name"`
	Company     string `json:"company" db:"company"`
	CreatedAt   int64  `json:"created_at" db:"created_at"`
}

// ContactMessage is an inbound message from the public contact form
type ContactMessage struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	Email     string `json:"email" db:"email"`
	Body      string `json:"body" db:"body"`
	UserID    string `json:"user_id,omitempty" db:"user_id"`
	CreatedAt int64  `json:"created_at" db:"created_at"`
}

// PeriodRecord is the stored form of a created period
type PeriodRecord struct {
	Dataset   string `json:"dataset" db:"dataset"`
	PeriodKey string `json:"period" db:"period_key"`
	Catalog   string `json:"catalog" db:"catalog"`
	Kind      string `json:"kind" db:"kind"`
	Year      int    `json:"year" db:"year"`
	Week      int    `json:"week,omitempty" db:"week"`
	StartDate string `json:"start_date" db:"start_date"`
	EndDate   string `json:"end_date" db:"end_date"`
	CreatedBy string `json:"created_by,omitempty" db:"created_by"`
	CreatedAt int64  `json:"created_at" db:"created_at"`
}

// NewPeriodRecord converts a period into its stored row
func NewPeriodRecord(dataset, catalog string, p Period, createdBy string, now time.Time) *PeriodRecord {
	return &PeriodRecord{
		Dataset:   dataset,
		PeriodKey: p.Key(),
		Catalog:   catalog,
		Kind:      string(p.Kind),
		Year:      p.Year,
		Week:      p.Week,
		StartDate: p.StartDate(),
		EndDate:   p.EndDate(),
		CreatedBy: createdBy,
		CreatedAt: now.UnixMilli(),
	}
}
