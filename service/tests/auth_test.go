package service_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	cachemocks "github.com/zlnvch/codeverse/cache/mocks"
	"github.com/zlnvch/codeverse/crypto"
	"github.com/zlnvch/codeverse/models"
	mqmocks "github.com/zlnvch/codeverse/mq/mocks"
	"github.com/zlnvch/codeverse/service"
	"github.com/zlnvch/codeverse/store"
	storemocks "github.com/zlnvch/codeverse/store/mocks"
	"github.com/zlnvch/codeverse/worker"
)

func setupService(t *testing.T) (*service.Service, *storemocks.MockStore, *cachemocks.MockCache, *mqmocks.MockMQ, *worker.DocSaver) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockMQ)

	// Real saver; tests verify items are pushed to its channel
	docSaver := worker.NewDocSaver(mockStore, zap.NewNop(), 1000)

	svc, err := service.NewService(
		mockStore,
		mockCache,
		mockMQ,
		docSaver,
		nil,
		[]byte("secret"),
		30*time.Minute,
		168*time.Hour,
		zap.NewNop(),
	)
	assert.NoError(t, err)

	return svc, mockStore, mockCache, mockMQ, docSaver
}

// Helper that creates a channel and wraps a mock call to signal when it's called
func wrapMockWithSignal(call *mock.Call) chan struct{} {
	done := make(chan struct{})
	call.Run(func(args mock.Arguments) {
		close(done)
	})
	return done
}

func TestIssueAndValidateAccessToken(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	user := models.User{Id: "user1", Username: "alice"}

	token, err := svc.IssueAccessToken(user, 0)
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	username, err := svc.ValidateAccessToken(token)
	assert.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestValidateAccessToken_Expired(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	issuedAt := time.Now()
	svc.Now = func() time.Time { return issuedAt }

	token, err := svc.IssueAccessToken(models.User{Id: "user1", Username: "alice"}, 0)
	assert.NoError(t, err)

	// Still valid just before expiry
	svc.Now = func() time.Time { return issuedAt.Add(29 * time.Minute) }
	username, err := svc.ValidateAccessToken(token)
	assert.NoError(t, err)
	assert.Equal(t, "alice", username)

	// Expired after the TTL
	svc.Now = func() time.Time { return issuedAt.Add(31 * time.Minute) }
	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, service.ErrUnauthenticated)
}

func TestIssueAccessToken_CustomTTL(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	issuedAt := time.Now()
	svc.Now = func() time.Time { return issuedAt }

	// A caller-supplied lifetime overrides the configured 30m default
	token, err := svc.IssueAccessToken(models.User{Id: "user1", Username: "alice"}, 5*time.Minute)
	assert.NoError(t, err)

	svc.Now = func() time.Time { return issuedAt.Add(4 * time.Minute) }
	username, err := svc.ValidateAccessToken(token)
	assert.NoError(t, err)
	assert.Equal(t, "alice", username)

	svc.Now = func() time.Time { return issuedAt.Add(6 * time.Minute) }
	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, service.ErrUnauthenticated)
}

func TestValidateAccessToken_Invalid(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	_, err := svc.ValidateAccessToken("invalid.token.string")
	assert.ErrorIs(t, err, service.ErrUnauthenticated)

	_, err = svc.ValidateAccessToken("")
	assert.ErrorIs(t, err, service.ErrUnauthenticated)
}

func TestValidateAccessToken_NoneAlgorithmRejected(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	// Hand-built token with alg "none" and an empty signature must never
	// pass validation.
	header := map[string]string{"alg": "none", "typ": "JWT"}
	payload := map[string]any{
		"sub": "attacker",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}

	headerBytes, _ := json.Marshal(header)
	payloadBytes, _ := json.Marshal(payload)

	enc := base64.RawURLEncoding
	noneToken := enc.EncodeToString(headerBytes) + "." + enc.EncodeToString(payloadBytes) + "."

	_, err := svc.ValidateAccessToken(noneToken)
	assert.ErrorIs(t, err, service.ErrUnauthenticated)
}

func TestAuthenticate_Success(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	user := models.User{Id: "user1", Username: "alice"}
	token, err := svc.IssueAccessToken(user, 0)
	assert.NoError(t, err)

	mockStore.On("GetUserByUsername", ctx, "alice").Return(user, nil)

	gotUser, err := svc.Authenticate(ctx, token)
	assert.NoError(t, err)
	assert.Equal(t, user.Id, gotUser.Id)
	assert.Equal(t, user.Username, gotUser.Username)
}

func TestAuthenticate_UserGone(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	token, err := svc.IssueAccessToken(models.User{Id: "user1", Username: "ghost"}, 0)
	assert.NoError(t, err)

	mockStore.On("GetUserByUsername", ctx, "ghost").Return(models.User{}, store.ErrItemNotFound)

	_, err = svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, service.ErrUnauthenticated)
}

func TestAuthenticate_EmptyToken(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	_, err := svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, service.ErrUnauthenticated)
}

func TestRegister_Success(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("CreateUser", ctx, mock.MatchedBy(func(u models.User) bool {
		// Digest stored, never the plaintext
		return u.Username == "alice" &&
			u.PasswordHash != "" &&
			u.PasswordHash != "p@ssw0rd123" &&
			crypto.VerifyPassword("p@ssw0rd123", u.PasswordHash)
	})).Return(models.User{Id: "user1", Username: "alice"}, nil)

	user, err := svc.Register(ctx, "alice", "p@ssw0rd123")
	assert.NoError(t, err)
	assert.Equal(t, "user1", user.Id)
}

func TestRegister_UsernameTaken(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("CreateUser", ctx, mock.Anything).Return(models.User{}, store.ErrItemExists)

	_, err := svc.Register(ctx, "alice", "p@ssw0rd123")
	assert.ErrorIs(t, err, service.ErrUsernameTaken)
}

func TestRegister_InvalidInput(t *testing.T) {
	svc, _, _, _, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "al", "p@ssw0rd123")
	assert.ErrorIs(t, err, service.ErrInvalid)

	_, err = svc.Register(ctx, "alice", "short")
	assert.ErrorIs(t, err, service.ErrInvalid)

	_, err = svc.Register(ctx, "bad name!", "p@ssw0rd123")
	assert.ErrorIs(t, err, service.ErrInvalid)
}

func TestLogin_Success(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	hash, err := crypto.HashPassword("p@ssw0rd123")
	assert.NoError(t, err)
	user := models.User{Id: "user1", Username: "alice", PasswordHash: hash}

	mockStore.On("GetUserByUsername", ctx, "alice").Return(user, nil)
	mockStore.On("SaveRefreshToken", ctx, mock.MatchedBy(func(tok models.RefreshToken) bool {
		return tok.UserId == "user1" && tok.Token != "" && !tok.Revoked
	})).Return(nil)

	gotUser, accessToken, refreshToken, err := svc.Login(ctx, "alice", "p@ssw0rd123")
	assert.NoError(t, err)
	assert.Equal(t, "user1", gotUser.Id)
	assert.NotEmpty(t, accessToken)
	assert.NotEmpty(t, refreshToken.Token)

	// The issued access token round-trips to the username
	username, err := svc.ValidateAccessToken(accessToken)
	assert.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	hash, err := crypto.HashPassword("correct-password")
	assert.NoError(t, err)

	mockStore.On("GetUserByUsername", ctx, "alice").Return(models.User{Id: "user1", Username: "alice", PasswordHash: hash}, nil)

	_, _, _, err = svc.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, service.ErrUnauthenticated)
}

func TestLogin_UnknownUser(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetUserByUsername", ctx, "nobody").Return(models.User{}, store.ErrItemNotFound)

	_, _, _, err := svc.Login(ctx, "nobody", "p@ssw0rd123")
	// Unknown user and wrong password are indistinguishable
	assert.ErrorIs(t, err, service.ErrUnauthenticated)
}

func TestLogin_OauthAccountHasNoPassword(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetUserByUsername", ctx, "alice").Return(models.User{
		Id:       "user1",
		Username: "alice",
		Provider: "github",
	}, nil)

	_, _, _, err := svc.Login(ctx, "alice", "anything-at-all")
	assert.ErrorIs(t, err, service.ErrUnauthenticated)
}

func TestHandleOauth_UnsupportedProvider(t *testing.T) {
	svc, _, _, _, _ := setupService(t)

	_, err := svc.HandleOauth(context.Background(), "unsupported", "code")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}
