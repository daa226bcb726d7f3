package services

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/cache"
	"github.com/parleyhq/parley/domain"
	"github.com/parleyhq/parley/protocol"
	"github.com/parleyhq/parley/store"
)

func newEncryptionService(b Broadcaster) *EncryptionService {
	return NewEncryptionService(store.New(nil), cache.New(nil), b, testLogger(), time.Minute)
}

func TestGetBundle_ConsumesOnePreKey(t *testing.T) {
	mock, ctx := newMock(t)
	svc := newEncryptionService(&recordingBroadcaster{})

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM parley_key_bundles`).
		WithArgs("usr_2").
		WillReturnRows(pgxmock.NewRows([]string{
			"user_id", "identity_key", "signed_prekey", "signed_prekey_signature", "signed_prekey_id",
			"created_at", "updated_at",
		}).AddRow("usr_2", "idk", "spk", "sig", 4, now, now))
	mock.ExpectQuery(`DELETE FROM parley_one_time_prekeys`).
		WithArgs("usr_2").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "prekey_id", "public_key", "created_at"}).
			AddRow("opk_1", "usr_2", 1, "pk1", now))

	view, err := svc.GetBundle(ctx, "usr_2")
	require.NoError(t, err)
	assert.Equal(t, "idk", view.IdentityKey)
	assert.Equal(t, "spk", view.SignedPreKey)
	require.NotNil(t, view.OneTimePreKey)
	assert.Equal(t, 1, view.OneTimePreKey.PreKeyID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBundle_NoPreKeysLeft(t *testing.T) {
	mock, ctx := newMock(t)
	svc := newEncryptionService(&recordingBroadcaster{})

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM parley_key_bundles`).
		WithArgs("usr_2").
		WillReturnRows(pgxmock.NewRows([]string{
			"user_id", "identity_key", "signed_prekey", "signed_prekey_signature", "signed_prekey_id",
			"created_at", "updated_at",
		}).AddRow("usr_2", "idk", "spk", "sig", 4, now, now))
	mock.ExpectQuery(`DELETE FROM parley_one_time_prekeys`).
		WithArgs("usr_2").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "prekey_id", "public_key", "created_at"}))

	view, err := svc.GetBundle(ctx, "usr_2")
	require.NoError(t, err)
	assert.Nil(t, view.OneTimePreKey)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDistributeSenderKey_RelaysToRecipientsNotSender(t *testing.T) {
	mock, ctx := newMock(t)
	b := &recordingBroadcaster{}
	svc := newEncryptionService(b)

	expectIsMember(mock, "conv_1", "usr_1", true)
	mock.ExpectExec(`INSERT INTO parley_sender_keys`).
		WithArgs(pgxmock.AnyArg(), "conv_1", "usr_1", "skid-9", "pub", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := svc.DistributeSenderKey(ctx, "usr_1", DistributeSenderKeyInput{
		ConversationID: "conv_1",
		SenderKeyID:    "skid-9",
		PublicKey:      "pub",
		RecipientIDs:   []string{"usr_1", "usr_2", "usr_3"},
	})
	require.NoError(t, err)

	require.Len(t, b.user, 2)
	assert.Equal(t, "usr_2", b.user[0].Target)
	assert.Equal(t, "usr_3", b.user[1].Target)
	for _, ev := range b.user {
		assert.Equal(t, protocol.EventSenderKey, ev.Event)
		payload := ev.Data.(protocol.SenderKeyDistribution)
		assert.Equal(t, "usr_1", payload.SenderID)
		assert.Equal(t, "skid-9", payload.SenderKeyID)
	}

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadBundle_RequiresCompleteBundle(t *testing.T) {
	_, ctx := newMock(t)
	svc := newEncryptionService(&recordingBroadcaster{})

	err := svc.UploadBundle(ctx, "usr_1", UploadBundleInput{IdentityKey: "idk"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
