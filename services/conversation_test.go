package services

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/cache"
	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/store"
)

func newConversationService(b Broadcaster) *ConversationService {
	return NewConversationService(store.New(nil), cache.New(nil), b, testLogger())
}

func conversationColumns() []string {
	return []string{"id", "type", "name", "avatar_url", "avatar_object_key", "created_by", "created_at", "updated_at"}
}

func memberColumns() []string {
	return []string{
		"conversation_id", "user_id", "role", "joined_at", "last_read_at", "is_muted", "mute_until",
		"id", "external_user_id", "email", "first_name", "last_name", "name", "image",
		"title", "division", "role", "is_active", "is_leader", "settings", "last_synced_at", "created_at",
	}
}

func addMemberRow(rows *pgxmock.Rows, conversationID, userID, name string) *pgxmock.Rows {
	now := time.Now().UTC()
	return rows.AddRow(
		conversationID, userID, domain.MemberRoleMember, now, nil, false, nil,
		userID, "ext-"+userID, userID+"@example.com", "", "", name, "",
		"", "", domain.UserRoleMember, true, false, map[string]any(nil), nil, now,
	)
}

func TestCreate_DMDedupReturnsExisting(t *testing.T) {
	mock, ctx := newMock(t)
	b := &recordingBroadcaster{}
	svc := newConversationService(b)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id FROM parley_users WHERE id = ANY`).
		WithArgs([]string{"usr_2"}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("usr_2"))
	mock.ExpectQuery(`FROM parley_conversations c JOIN`).
		WithArgs("usr_1", "usr_2", domain.ConversationTypeDM).
		WillReturnRows(pgxmock.NewRows(conversationColumns()).
			AddRow("conv_dm", domain.ConversationTypeDM, nil, nil, nil, nil, now, now))
	mock.ExpectQuery(`FROM parley_conversation_members cm JOIN parley_users u`).
		WithArgs("conv_dm").
		WillReturnRows(addMemberRow(addMemberRow(pgxmock.NewRows(memberColumns()),
			"conv_dm", "usr_1", "Ada"), "conv_dm", "usr_2", "Bo"))

	view, err := svc.Create(ctx, "usr_1", CreateConversationInput{
		Type:      domain.ConversationTypeDM,
		MemberIDs: []string{"usr_2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "conv_dm", view.ID)
	assert.Equal(t, "Bo", view.DisplayName)
	assert.Empty(t, b.user, "reusing an existing DM should not announce a new conversation")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_GroupRequiresName(t *testing.T) {
	_, ctx := newMock(t)
	svc := newConversationService(&recordingBroadcaster{})

	_, err := svc.Create(ctx, "usr_1", CreateConversationInput{
		Type:      domain.ConversationTypeGroup,
		MemberIDs: []string{"usr_2"},
	})
	assert.ErrorIs(t, err, domain.ErrEmptyGroupName)
}

func TestCreate_DMNeedsExactlyOneOther(t *testing.T) {
	_, ctx := newMock(t)
	svc := newConversationService(&recordingBroadcaster{})

	_, err := svc.Create(ctx, "usr_1", CreateConversationInput{
		Type:      domain.ConversationTypeDM,
		MemberIDs: []string{"usr_2", "usr_3"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDMMembers)

	// Self-DMs collapse to zero other members.
	_, err = svc.Create(ctx, "usr_1", CreateConversationInput{
		Type:      domain.ConversationTypeDM,
		MemberIDs: []string{"usr_1"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDMMembers)
}

func TestUpdate_DMImmutable(t *testing.T) {
	mock, ctx := newMock(t)
	svc := newConversationService(&recordingBroadcaster{})

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM parley_conversations WHERE id`).
		WithArgs("conv_dm").
		WillReturnRows(pgxmock.NewRows(conversationColumns()).
			AddRow("conv_dm", domain.ConversationTypeDM, nil, nil, nil, nil, now, now))

	name := "new name"
	_, err := svc.Update(ctx, "usr_1", "conv_dm", UpdateConversationInput{Name: &name})
	assert.ErrorIs(t, err, domain.ErrDMImmutable)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddMembers_AdminOnly(t *testing.T) {
	mock, ctx := newMock(t)
	svc := newConversationService(&recordingBroadcaster{})

	now := time.Now().UTC()
	groupName := "eng"
	mock.ExpectQuery(`FROM parley_conversations WHERE id`).
		WithArgs("conv_g").
		WillReturnRows(pgxmock.NewRows(conversationColumns()).
			AddRow("conv_g", domain.ConversationTypeGroup, &groupName, nil, nil, nil, now, now))
	mock.ExpectQuery(`FROM parley_conversation_members WHERE conversation_id`).
		WithArgs("conv_g", "usr_2").
		WillReturnRows(pgxmock.NewRows([]string{
			"conversation_id", "user_id", "role", "joined_at", "last_read_at", "is_muted", "mute_until",
		}).AddRow("conv_g", "usr_2", domain.MemberRoleMember, now, nil, false, nil))

	err := svc.AddMembers(ctx, "usr_2", "conv_g", []string{"usr_3"})
	assert.ErrorIs(t, err, domain.ErrNotAdmin)

	require.NoError(t, mock.ExpectationsWereMet())
}
