package dynamo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gofrs/uuid/v5"

	"github.com/zlnvch/codeverse/models"
	"github.com/zlnvch/codeverse/store"
)

// Single-table layout:
//
//	USER#<username> / PROFILE      user profile, GSI_UserById on Id
//	DOC#<docId>     / META         document metadata + content, GSI_OwnerDocs on OwnerId
//	DOC#<docId>     / GRANT#<uid>  sharing grant, GSI_GranteeDocs on GranteeId
//	RTOKEN#<token>  / TOKEN        refresh token record, GSI_UserTokens on TokenUserId
type DynamoCodeverseStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoCodeverseStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoCodeverseStore, error) {
	client, err := newDynamoDBClient(context.Background(), devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}

	foundTable := false
	for _, table := range tables {
		if table == tableName {
			foundTable = true
			break
		}
	}
	if !foundTable {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoCodeverseStore{client: client, tableName: tableName}, nil
}

func (dynamoStore *DynamoCodeverseStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	userId, err := uuid.NewV4()
	if err != nil {
		return models.User{}, err
	}
	user.Id = userId.String()
	user.Created = time.Now().Unix()

	du := userToDynamo(user)
	if err := putItemUnique(dynamoStore, ctx, du); err != nil {
		return models.User{}, err
	}

	return userFromDynamo(du), nil
}

func (dynamoStore *DynamoCodeverseStore) GetUser(ctx context.Context, userId string) (models.User, error) {
	pks, err := queryPKsByGSI(dynamoStore, ctx, "GSI_UserById", "Id", userId)
	if err != nil {
		return models.User{}, err
	}
	if len(pks) == 0 {
		return models.User{}, store.ErrItemNotFound
	}

	du, err := getItem[dynamoUser](dynamoStore, ctx, pks[0], "PROFILE", false)
	if err != nil {
		return models.User{}, err
	}

	return userFromDynamo(du), nil
}

func (dynamoStore *DynamoCodeverseStore) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	du, err := getItem[dynamoUser](dynamoStore, ctx, "USER#"+username, "PROFILE", false)
	if err != nil {
		return models.User{}, err
	}

	return userFromDynamo(du), nil
}

func (dynamoStore *DynamoCodeverseStore) DeleteUser(ctx context.Context, userId string) error {
	user, err := dynamoStore.GetUser(ctx, userId)
	if err != nil {
		return err
	}
	return deleteItem(dynamoStore, ctx, "USER#"+user.Username, "PROFILE")
}

func (dynamoStore *DynamoCodeverseStore) CreateDocument(ctx context.Context, doc models.Document) (models.Document, error) {
	docId, err := uuid.NewV4()
	if err != nil {
		return models.Document{}, err
	}
	doc.Id = docId.String()
	doc.Created = time.Now().Unix()
	doc.Updated = doc.Created

	dm := docMetaToDynamo(doc)
	if err := putItemUnique(dynamoStore, ctx, dm); err != nil {
		return models.Document{}, err
	}

	return docFromDynamo(dm, nil), nil
}

// GetDocument loads the metadata row and all grant rows for the document in
// a single partition query.
func (dynamoStore *DynamoCodeverseStore) GetDocument(ctx context.Context, docId string) (models.Document, error) {
	rows, err := queryAllByPK[dynamoDocRow](dynamoStore, ctx, "DOC#"+docId, true, 0)
	if err != nil {
		return models.Document{}, err
	}

	var meta *dynamoDocRow
	var grants []string
	for i, row := range rows {
		switch {
		case row.SK == "META":
			meta = &rows[i]
		case strings.HasPrefix(row.SK, "GRANT#"):
			grants = append(grants, row.GranteeId)
		}
	}
	if meta == nil {
		return models.Document{}, store.ErrItemNotFound
	}

	return docFromDynamoRow(*meta, grants), nil
}

func (dynamoStore *DynamoCodeverseStore) UpdateDocument(ctx context.Context, doc models.Document) (models.Document, error) {
	doc.Updated = time.Now().Unix()
	dm := docMetaToDynamo(doc)

	updated, err := updateItemFields(dynamoStore, ctx, dm, []string{"Title", "Content", "Language", "Updated"})
	if err != nil {
		return models.Document{}, err
	}

	return docFromDynamo(updated, doc.SharedWith), nil
}

func (dynamoStore *DynamoCodeverseStore) SaveDocumentContent(ctx context.Context, docId string, content string) error {
	dm := dynamoDocMeta{
		PK:      "DOC#" + docId,
		SK:      "META",
		Content: content,
		Updated: time.Now().Unix(),
	}
	_, err := updateItemFields(dynamoStore, ctx, dm, []string{"Content", "Updated"})
	return err
}

func (dynamoStore *DynamoCodeverseStore) DeleteDocument(ctx context.Context, docId string) error {
	return deleteAllByPK(dynamoStore, ctx, "DOC#"+docId)
}

func (dynamoStore *DynamoCodeverseStore) ListOwnedDocuments(ctx context.Context, userId string) ([]models.Document, error) {
	return dynamoStore.listDocumentsByGSI(ctx, "GSI_OwnerDocs", "OwnerId", userId)
}

func (dynamoStore *DynamoCodeverseStore) ListSharedDocuments(ctx context.Context, userId string) ([]models.Document, error) {
	return dynamoStore.listDocumentsByGSI(ctx, "GSI_GranteeDocs", "GranteeId", userId)
}

func (dynamoStore *DynamoCodeverseStore) listDocumentsByGSI(ctx context.Context, indexName string, pkField string, userId string) ([]models.Document, error) {
	pks, err := queryPKsByGSI(dynamoStore, ctx, indexName, pkField, userId)
	if err != nil {
		return nil, err
	}

	docs := make([]models.Document, 0, len(pks))
	for _, pk := range pks {
		// PK format is DOC#<docId>
		if !strings.HasPrefix(pk, "DOC#") {
			continue
		}
		doc, err := dynamoStore.GetDocument(ctx, pk[4:])
		if err != nil {
			if err == store.ErrItemNotFound {
				// Grant row outliving a deleted document; skip it.
				continue
			}
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// AddShare is idempotent: re-putting the same grant key overwrites the
// existing item with identical attributes.
func (dynamoStore *DynamoCodeverseStore) AddShare(ctx context.Context, docId string, userId string) error {
	return putItem(dynamoStore, ctx, dynamoGrant{
		PK:        "DOC#" + docId,
		SK:        "GRANT#" + userId,
		GranteeId: userId,
	})
}

func (dynamoStore *DynamoCodeverseStore) RemoveUserGrants(ctx context.Context, userId string) error {
	return batchDeleteByGSIThrottled(dynamoStore, ctx, "GSI_GranteeDocs", "GranteeId", userId, 50*time.Millisecond)
}

func (dynamoStore *DynamoCodeverseStore) SaveRefreshToken(ctx context.Context, token models.RefreshToken) error {
	return putItemUnique(dynamoStore, ctx, tokenToDynamo(token))
}

func (dynamoStore *DynamoCodeverseStore) GetRefreshToken(ctx context.Context, token string) (models.RefreshToken, error) {
	// Consistent read: a revoke followed by a redeem of the same token must
	// observe the revocation.
	dt, err := getItem[dynamoRefreshToken](dynamoStore, ctx, "RTOKEN#"+token, "TOKEN", true)
	if err != nil {
		return models.RefreshToken{}, err
	}

	return tokenFromDynamo(dt), nil
}

func (dynamoStore *DynamoCodeverseStore) RevokeRefreshToken(ctx context.Context, token string) (bool, error) {
	dt := dynamoRefreshToken{
		PK:      "RTOKEN#" + token,
		SK:      "TOKEN",
		Revoked: true,
	}
	if _, err := updateItemFields(dynamoStore, ctx, dt, []string{"Revoked"}); err != nil {
		if err == store.ErrItemNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (dynamoStore *DynamoCodeverseStore) RevokeUserRefreshTokens(ctx context.Context, userId string) error {
	pks, err := queryPKsByGSI(dynamoStore, ctx, "GSI_UserTokens", "TokenUserId", userId)
	if err != nil {
		return err
	}

	for _, pk := range pks {
		dt := dynamoRefreshToken{PK: pk, SK: "TOKEN", Revoked: true}
		if _, err := updateItemFields(dynamoStore, ctx, dt, []string{"Revoked"}); err != nil && err != store.ErrItemNotFound {
			return err
		}
	}

	return nil
}
