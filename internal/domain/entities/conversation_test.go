package entities

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTitleFromContent(t *testing.T) {
	assert.Equal(t, "short question", TitleFromContent("short question"))

	long := strings.Repeat("x", MaxTitleLength+20)
	title := TitleFromContent(long)
	assert.Len(t, []rune(title), MaxTitleLength)

	// Multi-byte runes count as one.
	accented := strings.Repeat("é", MaxTitleLength+5)
	assert.Len(t, []rune(TitleFromContent(accented)), MaxTitleLength)
}

func TestConversationOwnership(t *testing.T) {
	owner := NewAccountPrincipal("acct-1")
	conv := NewConversation(owner, "notes")

	assert.True(t, conv.OwnedBy(owner))
	assert.False(t, conv.OwnedBy(NewAccountPrincipal("acct-2")))

	// Same key under a different kind is a different principal.
	assert.False(t, conv.OwnedBy(NewAnonymousPrincipal("acct-1")))
}

func TestMessageVersioningHelpers(t *testing.T) {
	root := NewMessage("conv-1", RoleUser, "hello", nil)
	assert.True(t, root.IsRoot())
	assert.True(t, root.IsFromUser())
	assert.Equal(t, 1, root.CurrentVersion)
	assert.Equal(t, 1, root.TotalVersions)

	child := NewMessage("conv-1", RoleAssistant, "hi", &root.ID)
	assert.False(t, child.IsRoot())
	assert.True(t, child.IsFromAssistant())

	root.SetActiveChild(child.ID)
	require.NotNil(t, root.ActiveChildID)
	assert.Equal(t, child.ID, *root.ActiveChildID)

	root.ClearActiveChild()
	assert.Nil(t, root.ActiveChildID)
}
