package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadTemplate(t *testing.T) {
	path := writeFile(t, "onboarding.yaml", `
name: Onboarding study
objective: Understand first-week friction
tone: warm
questions:
  - text: Did you finish setup on day one?
    recommended_follow_ups: 2
  - text: What slowed you down?
    conditional_logic:
      depends_on: 0
      show_when: "no|not really"
`)
	tmpl, err := LoadTemplate(path)
	require.NoError(t, err)
	require.Equal(t, "onboarding", tmpl.ID)
	require.Len(t, tmpl.Questions, 2)
	require.Equal(t, 2, tmpl.Questions[0].RecommendedFollowUps)
	require.NotNil(t, tmpl.Questions[1].Logic)
	require.Equal(t, 0, *tmpl.Questions[1].Logic.DependsOn)
	require.Equal(t, "no|not really", tmpl.Questions[1].Logic.ShowWhen)
}

func TestLoadTemplateRejectsEmpty(t *testing.T) {
	path := writeFile(t, "empty.yaml", "name: nothing\n")
	_, err := LoadTemplate(path)
	require.Error(t, err)

	path = writeFile(t, "blank.yaml", "questions:\n  - text: \"  \"\n")
	_, err = LoadTemplate(path)
	require.Error(t, err)
}

func TestLoadPersona(t *testing.T) {
	path := writeFile(t, "dana.yaml", `
background: Staff engineer at a logistics company
traits: [terse, skeptical]
answers:
  - "Yeah, absolutely"
`)
	p, err := LoadPersona(path)
	require.NoError(t, err)
	require.Equal(t, "dana", p.Name)
	require.Equal(t, []string{"terse", "skeptical"}, p.Traits)
	require.Len(t, p.Answers, 1)
}
