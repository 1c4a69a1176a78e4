package database

import (
	"time"

	"github.com/TobiSchelling/parley/internal/models"
	"github.com/TobiSchelling/parley/internal/templates"
)

// Session is one interview session row.
type Session struct {
	ID                  string
	WorkspaceID         string
	ProjectID           string
	TemplateID          string
	CollectionID        string
	PersonaName         string
	Status              string
	Template            models.Template
	Persona             *templates.Persona
	AdditionalQuestions []string
	StartedAt           time.Time
	CompletedAt         *time.Time
	Error               string
}

// Attribution returns the usage attribution of the session.
func (s Session) Attribution() models.Attribution {
	return models.Attribution{
		WorkspaceID:  s.WorkspaceID,
		ProjectID:    s.ProjectID,
		TemplateID:   s.TemplateID,
		CollectionID: s.CollectionID,
		SessionID:    s.ID,
	}
}

// SessionFilter narrows ListSessions. Empty fields match everything.
type SessionFilter struct {
	CollectionID string
	TemplateID   string
	ProjectID    string
	Status       string
	Limit        int
}

// Project carries the per-project enrichment switches.
type Project struct {
	ID                  string
	Name                string
	CrossSessionEnabled bool
	HypothesesEnabled   bool
}

// UsageTotal is LLM usage grouped by use case.
type UsageTotal struct {
	UseCase         string
	Calls           int
	Errors          int
	EstimatedTokens int
	Duration        time.Duration
}

// Stats is a quick overview for the status command.
type Stats struct {
	Sessions        int
	ByStatus        map[string]int
	Turns           int
	GuidanceEvents  int
	ScoredSessions  int
	UsageCalls      int
	EstimatedTokens int
}
