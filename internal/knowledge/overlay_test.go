package knowledge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOverlay(t *testing.T) *Overlay {
	t.Helper()
	dir := t.TempDir()
	o := NewOverlay(filepath.Join(dir, "facts.json"), filepath.Join(dir, "context.md"), "tester")
	o.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return o
}

func TestAddFact_RendersUnderCategory(t *testing.T) {
	o := newTestOverlay(t)

	require.NoError(t, o.AddFact("infra", "VM1 runs the bot"))

	out, err := o.RenderContext()
	require.NoError(t, err)
	assert.Equal(t, "## Facts\n\n### infra\n- VM1 runs the bot\n", out)
}

func TestRenderContext_OrderIsDeterministic(t *testing.T) {
	o := newTestOverlay(t)

	require.NoError(t, o.AddFact("infra", "VM1 runs the bot"))
	require.NoError(t, o.AddFact("people", "Alex owns billing"))
	require.NoError(t, o.AddFact("infra", "VM2 runs postgres"))
	require.NoError(t, o.AddFact("infra", "VM2 runs postgres"))

	out, err := o.RenderContext()
	require.NoError(t, err)
	want := "## Facts\n" +
		"\n### infra\n- VM1 runs the bot\n- VM2 runs postgres\n- VM2 runs postgres\n" +
		"\n### people\n- Alex owns billing\n"
	assert.Equal(t, want, out)

	again, err := o.RenderContext()
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestAddFact_PersistsMetadata(t *testing.T) {
	o := newTestOverlay(t)
	require.NoError(t, o.AddFact("infra", "VM1 runs the bot"))

	data, err := os.ReadFile(o.factsPath)
	require.NoError(t, err)

	var cats []Category
	require.NoError(t, json.Unmarshal(data, &cats))
	require.Len(t, cats, 1)
	assert.Equal(t, "infra", cats[0].Name)
	assert.Equal(t, "tester", cats[0].Facts[0].By)
	assert.Equal(t, 2025, cats[0].Facts[0].Added.Year())
}

func TestAddFact_RejectsEmpty(t *testing.T) {
	o := newTestOverlay(t)
	assert.ErrorIs(t, o.AddFact("", "x"), ErrEmptyFact)
	assert.ErrorIs(t, o.AddFact("infra", "  "), ErrEmptyFact)
}

func TestRenderContext_Empty(t *testing.T) {
	o := newTestOverlay(t)
	out, err := o.RenderContext()
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestAddInstruction(t *testing.T) {
	o := newTestOverlay(t)
	require.NoError(t, o.AddInstruction("Answer in Russian"))

	cats, err := o.Facts()
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, InstructionsCategory, cats[0].Name)
}

func TestUpdateSection_CreatesMissingDocument(t *testing.T) {
	o := newTestOverlay(t)

	require.NoError(t, o.UpdateSection("infra", "VM1 runs the bot"))

	doc, err := o.Document()
	require.NoError(t, err)
	assert.Equal(t, "## infra\nVM1 runs the bot\n", doc)
}

func TestUpdateSection_ReplacesOnlyExactHeading(t *testing.T) {
	o := newTestOverlay(t)
	initial := "# Context\n\n## infrastructure\nold infra details\n\n## infra\nold\n### disks\nsda\n\n## people\nAlex\n"
	require.NoError(t, os.WriteFile(o.contextPath, []byte(initial), 0o644))

	require.NoError(t, o.UpdateSection("infra", "new"))

	doc, err := o.Document()
	require.NoError(t, err)
	want := "# Context\n\n## infrastructure\nold infra details\n\n## infra\nnew\n\n## people\nAlex\n"
	assert.Equal(t, want, doc)
}

func TestUpdateSection_AppendsWhenOnlyPrefixMatches(t *testing.T) {
	o := newTestOverlay(t)
	require.NoError(t, os.WriteFile(o.contextPath, []byte("## infrastructure\nA\n"), 0o644))

	require.NoError(t, o.UpdateSection("infra", "B"))

	doc, err := o.Document()
	require.NoError(t, err)
	assert.Equal(t, "## infrastructure\nA\n\n## infra\nB\n", doc)
}

func TestUpdateSection_IgnoresHeadingsInCodeFences(t *testing.T) {
	o := newTestOverlay(t)
	initial := "## notes\n```\n## infra\n```\n"
	require.NoError(t, os.WriteFile(o.contextPath, []byte(initial), 0o644))

	require.NoError(t, o.UpdateSection("infra", "real"))

	doc, err := o.Document()
	require.NoError(t, err)
	assert.Equal(t, initial+"\n## infra\nreal\n", doc)
}

func TestUpdateSection_EmptyHeadingEndsSection(t *testing.T) {
	tests := []struct {
		name    string
		initial string
	}{
		{"bare heading", "## infra\nold\n##\nkeep\n"},
		{"bare heading after fence", "## infra\n```\n##\n```\nold\n##\nkeep\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOverlay(t)
			require.NoError(t, os.WriteFile(o.contextPath, []byte(tt.initial), 0o644))

			require.NoError(t, o.UpdateSection("infra", "NEW"))

			doc, err := o.Document()
			require.NoError(t, err)
			assert.Equal(t, "## infra\nNEW\n\n##\nkeep\n", doc)
		})
	}
}

func TestUpdateSection_LastSection(t *testing.T) {
	o := newTestOverlay(t)
	require.NoError(t, os.WriteFile(o.contextPath, []byte("## a\n1\n\n## b\n2\n\n\n"), 0o644))

	require.NoError(t, o.UpdateSection("b", "3"))

	doc, err := o.Document()
	require.NoError(t, err)
	assert.Equal(t, "## a\n1\n\n## b\n3\n", doc)
}

func TestUpdateSection_RejectsBadName(t *testing.T) {
	o := newTestOverlay(t)
	assert.Error(t, o.UpdateSection("", "x"))
	assert.Error(t, o.UpdateSection("a\nb", "x"))
}

func TestPromptContext_JoinsDocumentAndFacts(t *testing.T) {
	o := newTestOverlay(t)
	require.NoError(t, o.UpdateSection("infra", "VM1"))
	require.NoError(t, o.AddFact("people", "Alex"))

	ctx, err := o.PromptContext()
	require.NoError(t, err)
	assert.Equal(t, "## infra\nVM1\n\n## Facts\n\n### people\n- Alex", ctx)
}

func TestStats(t *testing.T) {
	o := newTestOverlay(t)

	st, err := o.Stats()
	require.NoError(t, err)
	assert.False(t, st.DocumentPresent)
	assert.Zero(t, st.FactCount)

	require.NoError(t, o.UpdateSection("infra", "VM1"))
	require.NoError(t, o.AddFact("infra", "a"))
	require.NoError(t, o.AddFact("people", "b"))

	st, err = o.Stats()
	require.NoError(t, err)
	assert.True(t, st.DocumentPresent)
	assert.Equal(t, len("## infra\nVM1\n"), st.DocumentBytes)
	assert.Equal(t, 2, st.FactCount)
	assert.Equal(t, []string{"infra", "people"}, st.Categories)
}
